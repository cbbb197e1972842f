package boardimg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Silhouettes drawn on a 45x45 view box. {{F}} and {{S}} are replaced with fill and stroke.
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="15" r="5.5" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>` +
		`<path d="M 17 21 L 28 21 L 31 33 L 14 33 Z" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>` +
		`<rect x="11" y="33" width="23" height="5" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>`,
	nchess.Rook: `<path d="M 12 9 L 16 9 L 16 12 L 20 12 L 20 9 L 25 9 L 25 12 L 29 12 L 29 9 L 33 9 L 33 15 L 12 15 Z" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>` +
		`<rect x="15" y="15" width="15" height="17" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>` +
		`<rect x="10" y="32" width="25" height="6" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>`,
	nchess.Knight: `<path d="M 14 38 L 31 38 L 30 24 C 30 15 25 10 19 9 L 17 12 L 13 16 L 10 24 L 13 26 L 18 22 L 20 24 L 14 32 Z" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>` +
		`<circle cx="17" cy="16" r="1.2" fill="{{S}}"/>`,
	nchess.Bishop: `<circle cx="22.5" cy="8" r="2.5" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>` +
		`<path d="M 22.5 10.5 C 15 16 15 24 18 29 L 27 29 C 30 24 30 16 22.5 10.5 Z" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>` +
		`<rect x="12" y="31" width="21" height="6" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>`,
	nchess.Queen: `<path d="M 9 13 L 14 29 L 31 29 L 36 13 L 29 22 L 26.5 10 L 22.5 21 L 18.5 10 L 16 22 Z" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>` +
		`<rect x="12" y="30" width="21" height="7" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>`,
	nchess.King: `<path d="M 21 4 L 24 4 L 24 8 L 28 8 L 28 11 L 24 11 L 24 15 L 21 15 L 21 11 L 17 11 L 17 8 L 21 8 Z" fill="{{F}}" stroke="{{S}}" stroke-width="1.2"/>` +
		`<path d="M 11 19 C 11 14 20 14 22.5 18 C 25 14 34 14 34 19 C 34 25 29 28 29 30 L 16 30 C 16 28 11 25 11 19 Z" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>` +
		`<rect x="12" y="31" width="21" height="6" fill="{{F}}" stroke="{{S}}" stroke-width="1.5"/>`,
}

func pieceSVG(p nchess.Piece) ([]byte, error) {
	shape, ok := pieceShapes[p.Type()]
	if !ok {
		return nil, fmt.Errorf("no shape for piece %v", p)
	}
	fill, stroke := "#f7f4ec", "#202020"
	if p.Color() == nchess.Black {
		fill, stroke = "#2b2b2b", "#e8e8e8"
	}
	body := strings.NewReplacer("{{F}}", fill, "{{S}}", stroke).Replace(shape)
	return []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">` + body + `</svg>`), nil
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func renderPiece(p nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: p, size: size}
	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(p)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}
