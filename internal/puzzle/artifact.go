package puzzle

import (
	"errors"
	"fmt"
)

// ErrInvalidDimensions is returned when a puzzle cannot be cut from the requested size.
var ErrInvalidDimensions = errors.New("puzzle: dimensions too small")

// minSide is the smallest side that still leaves room for a piece (side/5 >= 1).
const minSide = 5

// Artifact is a synthesized puzzle. It is never mutated after construction and is
// shared by pointer between the cache and whoever it is delivered to.
type Artifact struct {
	PuzzleImage []byte  // PNG of the background with the piece cut out
	PieceImage  []byte  // PNG of the piece
	X           float64 // normalized horizontal offset of the piece, the secret solution
	Y           float64 // normalized vertical offset of the piece
}

// Synthesizer builds puzzle artifacts for the given dimensions.
type Synthesizer interface {
	Synthesize(d Dimensions) (*Artifact, error)
}

// SynthesizerFunc adapts a plain function to the Synthesizer interface.
type SynthesizerFunc func(d Dimensions) (*Artifact, error)

// Synthesize calls f(d).
func (f SynthesizerFunc) Synthesize(d Dimensions) (*Artifact, error) {
	return f(d)
}

// Default renders a random puzzle and encodes both images as PNG.
var Default Synthesizer = SynthesizerFunc(Synthesize)

// Synthesize renders and encodes a puzzle of the given size.
func Synthesize(d Dimensions) (*Artifact, error) {
	rendered, err := Render(d, nil)
	if err != nil {
		return nil, err
	}
	puzzlePNG, err := EncodePNG(rendered.Background)
	if err != nil {
		return nil, fmt.Errorf("encode puzzle image: %w", err)
	}
	piecePNG, err := EncodePNG(rendered.Piece)
	if err != nil {
		return nil, fmt.Errorf("encode piece image: %w", err)
	}
	return &Artifact{
		PuzzleImage: puzzlePNG,
		PieceImage:  piecePNG,
		X:           rendered.X,
		Y:           rendered.Y,
	}, nil
}
