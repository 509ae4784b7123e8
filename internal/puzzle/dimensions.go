package puzzle

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Dimensions identifies a cache bucket: the pixel size of a puzzle.
type Dimensions struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// String renders dimensions as "WxH".
func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// MarshalText implements encoding.TextMarshaler so dimensions can be used as JSON map keys.
func (d Dimensions) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Dimensions) UnmarshalText(text []byte) error {
	parsed, err := ParseDimensions(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Hash returns a stable 64-bit hash used for shard selection.
func (d Dimensions) Hash() uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[:4], d.Width)
	binary.LittleEndian.PutUint32(b[4:], d.Height)
	return xxhash.Sum64(b[:])
}

// ParseDimensions parses a single "WxH" pair. Each side is clamped to at least 1.
func ParseDimensions(raw string) (Dimensions, error) {
	w, h, ok := strings.Cut(strings.TrimSpace(raw), "x")
	if !ok {
		return Dimensions{}, fmt.Errorf("dimensions %q: expected WxH", raw)
	}
	width, err := strconv.ParseUint(strings.TrimSpace(w), 10, 32)
	if err != nil {
		return Dimensions{}, fmt.Errorf("dimensions %q: width: %w", raw, err)
	}
	height, err := strconv.ParseUint(strings.TrimSpace(h), 10, 32)
	if err != nil {
		return Dimensions{}, fmt.Errorf("dimensions %q: height: %w", raw, err)
	}
	return Dimensions{Width: uint32(max(width, 1)), Height: uint32(max(height, 1))}, nil
}

// ParseDimensionList parses a comma separated list like "500x300, 320x200".
// Blank or malformed parts are skipped.
func ParseDimensionList(raw string) []Dimensions {
	var out []Dimensions
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, err := ParseDimensions(part)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// DimensionList is a comma separated list of dimensions, decodable from an environment variable.
type DimensionList []Dimensions

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *DimensionList) UnmarshalText(text []byte) error {
	*l = ParseDimensionList(string(text))
	return nil
}
