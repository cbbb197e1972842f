package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

// PGNResult maps a finished game to the PGN result token.
func PGNResult(s *Snapshot) string {
	if s.Game.Status != domain.StatusCompleted {
		return "*"
	}
	switch s.Game.Result {
	case domain.ResultStalemate, domain.ResultDraw:
		return "1/2-1/2"
	}
	switch s.Game.WinnerID {
	case "":
		return "*"
	case s.PlayerFor(domain.White):
		return "1-0"
	default:
		return "0-1"
	}
}

// BuildPGN exports the game with player names resolved by the caller.
func BuildPGN(s *Snapshot, whiteName, blackName string) string {
	if s == nil {
		return ""
	}
	result := PGNResult(s)
	date := s.Game.CreatedAt
	if date.IsZero() {
		date = time.Now()
	}
	var b strings.Builder
	b.WriteString("[Event \"Casual game\"]\n")
	b.WriteString("[Site \"cheese-arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[GameId \"%s\"]\n", sanitizePGN(s.Game.ID)))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(orUnknown(whiteName))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(orUnknown(blackName))))
	if s.Game.Status == domain.StatusCompleted && s.Game.Result != domain.ResultNone {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(s.Game.Result))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	// SAN with move numbers
	for i := 0; i < len(s.SAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(s.SAN[i])))
		if i+1 < len(s.SAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(s.SAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	b.WriteString("\n")
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "?"
	}
	return s
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
