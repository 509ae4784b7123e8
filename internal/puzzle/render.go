package puzzle

import (
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
)

// Rendered holds the raw images of a puzzle before encoding.
type Rendered struct {
	Background *image.NRGBA // full image with a transparent hole where the piece was
	Piece      *image.NRGBA
	X, Y       float64
}

// Render draws a random gradient background with a few translucent circles and cuts a
// piece of a fifth of each side out of it. A nil rng uses a freshly seeded source.
func Render(d Dimensions, rng *rand.Rand) (*Rendered, error) {
	if d.Width < minSide || d.Height < minSide {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDimensions, d)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	width, height := int(d.Width), int(d.Height)
	src := drawBackground(width, height, rng)

	pieceW, pieceH := width/5, height/5
	minStartX := min(pieceW, width-pieceW)
	startX := minStartX + rng.IntN(width-pieceW-minStartX)
	startY := pieceH + rng.IntN(pieceH)

	piece := image.NewNRGBA(image.Rect(0, 0, pieceW, pieceH))
	for y := 0; y < pieceH; y++ {
		for x := 0; x < pieceW; x++ {
			piece.SetNRGBA(x, y, src.NRGBAAt(startX+x, startY+y))
		}
	}

	hole := image.Rect(startX, startY, startX+pieceW, startY+pieceH)
	for y := hole.Min.Y; y < hole.Max.Y; y++ {
		for x := hole.Min.X; x < hole.Max.X; x++ {
			c := src.NRGBAAt(x, y)
			c.A = 0
			src.SetNRGBA(x, y, c)
		}
	}

	return &Rendered{
		Background: src,
		Piece:      piece,
		X:          float64(startX) / float64(width),
		Y:          float64(startY) / float64(height),
	}, nil
}

func drawBackground(width, height int, rng *rand.Rand) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	from := [3]float64{float64(between(rng, 100, 255)), float64(between(rng, 100, 255)), float64(between(rng, 100, 255))}
	to := [3]float64{float64(between(rng, 50, 200)), float64(between(rng, 50, 200)), float64(between(rng, 50, 200))}
	direction := rng.IntN(3)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var ratio float64
			switch direction {
			case 0:
				ratio = float64(x) / float64(width)
			case 1:
				ratio = float64(y) / float64(height)
			default:
				ratio = (float64(x)/float64(width) + float64(y)/float64(height)) / 2
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(from[0]*(1-ratio) + to[0]*ratio),
				G: uint8(from[1]*(1-ratio) + to[1]*ratio),
				B: uint8(from[2]*(1-ratio) + to[2]*ratio),
				A: 255,
			})
		}
	}

	shapes := between(rng, 2, 4)
	for i := 0; i < shapes; i++ {
		fill := [3]float64{float64(rng.IntN(256)), float64(rng.IntN(256)), float64(rng.IntN(256))}
		blend := float64(between(rng, 100, 200)) / 255
		cx, cy := rng.IntN(width), rng.IntN(height)
		radius := between(rng, 20, 59)
		drawCircle(img, cx, cy, radius, fill, blend)
	}
	return img
}

// drawCircle alpha-blends a filled circle onto img, clipped to its bounds.
func drawCircle(img *image.NRGBA, cx, cy, radius int, fill [3]float64, blend float64) {
	bounds := image.Rect(cx-radius, cy-radius, cx+radius+1, cy+radius+1).Intersect(img.Bounds())
	r2 := radius * radius
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy > r2 {
				continue
			}
			old := img.NRGBAAt(x, y)
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(fill[0]*blend + float64(old.R)*(1-blend)),
				G: uint8(fill[1]*blend + float64(old.G)*(1-blend)),
				B: uint8(fill[2]*blend + float64(old.B)*(1-blend)),
				A: 255,
			})
		}
	}
}

// between returns a uniformly random int in [lo, hi].
func between(rng *rand.Rand, lo, hi int) int {
	return lo + rng.IntN(hi-lo+1)
}
