// Package boardimg draws a position as a PNG.
package boardimg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize  = 64
	margin      = 18
	DefaultSize = squareSize*8 + margin*2
	MinSize     = 128
	MaxSize     = 1024
)

// Options controls orientation, output size and the last-move overlay.
type Options struct {
	Flip     bool   // black at the bottom
	Size     int    // output edge in pixels; 0 keeps DefaultSize
	LastMove string // UCI, e.g. "e2e4"
}

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	frameColor      = color.RGBA{48, 46, 43, 255}
	highlightColor  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	coordinateColor = color.NRGBA{R: 220, G: 214, B: 200, A: 255}
)

// ClampSize keeps a requested edge length within bounds.
func ClampSize(n int) int {
	switch {
	case n <= 0:
		return DefaultSize
	case n < MinSize:
		return MinSize
	case n > MaxSize:
		return MaxSize
	}
	return n
}

// RenderPNG draws board and encodes it.
func RenderPNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	edge := squareSize*8 + margin*2
	img := image.NewRGBA(image.Rect(0, 0, edge, edge))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)
	origin := image.Point{X: margin, Y: margin}

	drawSquares(img, origin, opts.Flip)
	if from, to, ok := parseHighlight(opts.LastMove); ok {
		drawSquareOverlay(img, squareRect(from, origin, opts.Flip), highlightColor)
		drawSquareOverlay(img, squareRect(to, origin, opts.Flip), highlightColor)
	}
	if err := drawPieces(img, board, origin, opts.Flip); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin, opts.Flip)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out image.Image = img
	if size := ClampSize(opts.Size); size != edge {
		scaled := image.NewRGBA(image.Rect(0, 0, size, size))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func squareColor(sq nchess.Square) color.RGBA {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

// squareRect maps a square to pixels. Unflipped, a8 is top-left.
func squareRect(sq nchess.Square, origin image.Point, flip bool) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if flip {
		col = 7 - col
		row = 7 - row
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawSquares(dst imagedraw.Image, origin image.Point, flip bool) {
	for i := 0; i < 64; i++ {
		sq := nchess.Square(i)
		imagedraw.Draw(dst, squareRect(sq, origin, flip), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, origin image.Point, flip bool) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := renderPiece(piece, squareSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, squareRect(sq, origin, flip), img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawSquareOverlay(dst *image.RGBA, rect image.Rectangle, clr color.NRGBA) {
	rect = rect.Intersect(dst.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			blendPixel(dst, x, y, clr)
		}
	}
}

func blendPixel(dst *image.RGBA, x, y int, clr color.NRGBA) {
	idx := dst.PixOffset(x, y)
	alpha := float64(clr.A) / 255.0
	inv := 1 - alpha
	dst.Pix[idx+0] = uint8(float64(clr.R)*alpha + float64(dst.Pix[idx+0])*inv)
	dst.Pix[idx+1] = uint8(float64(clr.G)*alpha + float64(dst.Pix[idx+1])*inv)
	dst.Pix[idx+2] = uint8(float64(clr.B)*alpha + float64(dst.Pix[idx+2])*inv)
	dst.Pix[idx+3] = 255
}

// 좌표 라벨: 아래쪽 파일, 왼쪽 랭크
func drawCoordinates(dst *image.RGBA, origin image.Point, flip bool) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(coordinateColor), Face: face}
	for i := 0; i < 8; i++ {
		file, rank := i, 7-i
		if flip {
			file, rank = 7-i, i
		}
		x := origin.X + i*squareSize + squareSize/2 - 3
		d.Dot = fixed.P(x, origin.Y+8*squareSize+14)
		d.DrawString(string(rune('a' + file)))

		y := origin.Y + i*squareSize + squareSize/2 + 5
		d.Dot = fixed.P(origin.X-13, y)
		d.DrawString(string(rune('1' + rank)))
	}
}

func parseHighlight(uci string) (nchess.Square, nchess.Square, bool) {
	if len(uci) < 4 {
		return nchess.NoSquare, nchess.NoSquare, false
	}
	from, ok1 := squareOf(uci[0:2])
	to, ok2 := squareOf(uci[2:4])
	return from, to, ok1 && ok2
}

func squareOf(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}
