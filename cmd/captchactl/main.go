// Command captchactl renders puzzles locally and load-tests a running captcha service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/onnwee/slider-captcha/internal/logger"
)

var (
	logLevel string

	rootCmd = &cobra.Command{
		Use:           "captchactl",
		Short:         "Tools for the slider captcha service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logger.Init(logLevel, "development")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(newGenerateCmd(), newBenchCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
