package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/onnwee/slider-captcha/internal/puzzle"
)

const (
	puzzleFile = "generated_puzzle.png"
	pieceFile  = "generated_piece.png"

	maxSide = 10000
)

type generateOptions struct {
	width  int
	height int
	out    string
}

func newGenerateCmd() *cobra.Command {
	opts := generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render one puzzle and write its images to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd.OutOrStdout(), opts, puzzle.Default)
		},
	}
	cmd.Flags().IntVar(&opts.width, "width", 500, "puzzle width in pixels")
	cmd.Flags().IntVar(&opts.height, "height", 300, "puzzle height in pixels")
	cmd.Flags().StringVarP(&opts.out, "out", "o", ".", "output directory")
	return cmd
}

func runGenerate(w io.Writer, opts generateOptions, synth puzzle.Synthesizer) error {
	if opts.width <= 0 || opts.height <= 0 || opts.width > maxSide || opts.height > maxSide {
		return fmt.Errorf("width and height must be between 1 and %d", maxSide)
	}
	dims := puzzle.Dimensions{Width: uint32(opts.width), Height: uint32(opts.height)}

	start := time.Now()
	art, err := synth.Synthesize(dims)
	if err != nil {
		return fmt.Errorf("generate %s puzzle: %w", dims, err)
	}
	elapsed := time.Since(start)

	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	puzzlePath := filepath.Join(opts.out, puzzleFile)
	if err := os.WriteFile(puzzlePath, art.PuzzleImage, 0o644); err != nil {
		return fmt.Errorf("write puzzle image: %w", err)
	}
	piecePath := filepath.Join(opts.out, pieceFile)
	if err := os.WriteFile(piecePath, art.PieceImage, 0o644); err != nil {
		return fmt.Errorf("write piece image: %w", err)
	}

	fmt.Fprintf(w, "generated %s puzzle in %s\n", dims, elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "  %s (%s)\n", puzzlePath, humanize.Bytes(uint64(len(art.PuzzleImage))))
	fmt.Fprintf(w, "  %s (%s)\n", piecePath, humanize.Bytes(uint64(len(art.PieceImage))))
	fmt.Fprintf(w, "  x=%.4f y=%.4f\n", art.X, art.Y)
	return nil
}
