// Package rules adapts corentings/chess to the narrow surface the game pipeline needs:
// parse, legality, apply, render.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-arena/internal/domain"
)

var (
	ErrMalformed = errors.New("malformed move")
	ErrIllegal   = errors.New("illegal move")
)

// Notation of a parsed move.
type Notation int

const (
	UCI Notation = iota + 1
	SAN
)

// Move is a syntactically valid move text, not yet checked against a position.
type Move struct {
	Text     string
	Notation Notation
}

func (m Move) String() string { return m.Text }

var (
	uciPattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)
	sanPattern = regexp.MustCompile(`^(O-O(-O)?|[KQRBN][a-h]?[1-8]?x?[a-h][1-8]|[a-h](x[a-h])?[1-8](=[QRBN])?)[+#]?$`)
	promoBare  = regexp.MustCompile(`^([a-h](?:x[a-h])?[18])([QRBN])([+#]?)$`)
)

// Parse classifies text as UCI ("e2e4", "e7e8q") or SAN ("Nf3", "exd5", "O-O").
func Parse(text string) (Move, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Move{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if lower := strings.ToLower(s); uciPattern.MatchString(lower) {
		return Move{Text: lower, Notation: UCI}, nil
	}
	s = strings.TrimRight(s, "!?")
	s = strings.ReplaceAll(s, "0-0", "O-O")
	if m := promoBare.FindStringSubmatch(s); m != nil {
		s = m[1] + "=" + m[2] + m[3]
	}
	if sanPattern.MatchString(s) {
		return Move{Text: s, Notation: SAN}, nil
	}
	return Move{}, fmt.Errorf("%w: %q", ErrMalformed, text)
}

// Position is an immutable game snapshot including the history needed for repetition rules.
type Position struct {
	g *nchess.Game
}

// Start returns the standard initial position.
func Start() Position { return Position{g: nchess.NewGame()} }

// fromFEN starts from an arbitrary position.
func fromFEN(fen string) (Position, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return Position{}, fmt.Errorf("parse fen: %w", err)
	}
	return Position{g: nchess.NewGame(opt)}, nil
}

// Replay rebuilds a position from the start by applying UCI moves in order.
func Replay(moves []string) (Position, error) {
	p := Start()
	for i, raw := range moves {
		m, err := Parse(raw)
		if err != nil {
			return Position{}, fmt.Errorf("replay ply %d: %w", i+1, err)
		}
		next, _, err := Apply(p, m)
		if err != nil {
			return Position{}, fmt.Errorf("replay ply %d (%s): %w", i+1, raw, err)
		}
		p = next
	}
	return p, nil
}

func (p Position) game() *nchess.Game {
	if p.g == nil {
		return nchess.NewGame()
	}
	return p.g
}

// Applied describes a committed move and the position it produced.
type Applied struct {
	UCI       string
	SAN       string
	Check     bool
	Checkmate bool
	Stalemate bool
	Draw      bool
}

// Terminal reports whether the move ended the game.
func (a Applied) Terminal() bool { return a.Checkmate || a.Stalemate || a.Draw }

// Legal returns nil when m can be played in p. Otherwise the error wraps
// ErrIllegal or ErrMalformed and says why.
func Legal(p Position, m Move) error {
	_, err := resolve(p, m)
	return err
}

// Apply plays m on a copy of p. p is never modified.
func Apply(p Position, m Move) (Position, Applied, error) {
	src := p.game()
	mv, err := resolve(p, m)
	if err != nil {
		return p, Applied{}, err
	}
	pos := src.Position()
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)

	next := src.Clone()
	if err := next.Move(mv, nil); err != nil {
		return p, Applied{}, fmt.Errorf("%w: %v", ErrIllegal, err)
	}

	out := Applied{
		UCI:   nchess.UCINotation{}.Encode(pos, mv),
		SAN:   san,
		Check: mv.HasTag(nchess.Check) || strings.HasSuffix(san, "+") || strings.HasSuffix(san, "#"),
	}
	switch next.Method() {
	case nchess.Checkmate:
		out.Checkmate = true
	case nchess.Stalemate:
		out.Stalemate = true
	default:
		// insufficient material, fivefold repetition, seventy-five move rule
		out.Draw = next.Outcome() == nchess.Draw
	}
	return Position{g: next}, out, nil
}

func resolve(p Position, m Move) (*nchess.Move, error) {
	pos := p.game().Position()
	switch m.Notation {
	case UCI:
		if len(m.Text) < 4 {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, m.Text)
		}
		from := squareOf(m.Text[0:2])
		piece := pos.Board().Piece(from)
		if piece == nchess.NoPiece {
			return nil, fmt.Errorf("%w: no piece on %s", ErrIllegal, m.Text[0:2])
		}
		if piece.Color() != pos.Turn() {
			return nil, fmt.Errorf("%w: piece on %s belongs to the opponent", ErrIllegal, m.Text[0:2])
		}
		decoded, err := nchess.UCINotation{}.Decode(pos, m.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		// round-trip through SAN so only generated legal moves get through
		san := nchess.AlgebraicNotation{}.Encode(pos, decoded)
		legal, err := nchess.AlgebraicNotation{}.Decode(pos, san)
		if err != nil || legal.S1() != decoded.S1() || legal.S2() != decoded.S2() || legal.Promo() != decoded.Promo() {
			return nil, fmt.Errorf("%w: %s is not legal here", ErrIllegal, m.Text)
		}
		return legal, nil
	case SAN:
		legal, err := nchess.AlgebraicNotation{}.Decode(pos, m.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not legal here", ErrIllegal, m.Text)
		}
		return legal, nil
	default:
		return nil, fmt.Errorf("%w: unknown notation", ErrMalformed)
	}
}

func squareOf(s string) nchess.Square {
	file := nchess.File(s[0] - 'a')
	rank := nchess.Rank(s[1] - '1')
	return nchess.NewSquare(file, rank)
}

// Render returns the FEN of p.
func Render(p Position) string { return p.game().FEN() }

// Turn returns the side to move.
func Turn(p Position) domain.Color {
	if p.game().Position().Turn() == nchess.Black {
		return domain.Black
	}
	return domain.White
}

// Board exposes the piece placement for image rendering.
func Board(p Position) *nchess.Board { return p.game().Position().Board() }

