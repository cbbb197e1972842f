package game

import (
	"context"
	"errors"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

// Outcome is what Submit reports back to the mover.
type Outcome struct {
	Number int
	UCI    string
	SAN    string
	Check  bool
	Snap   *Snapshot
}

// Submit validates and commits one move. The store write happens before the
// in-memory state changes, and the broadcast happens before the game lock is
// released so subscribers observe moves in commit order. Rejected moves change
// nothing and are not broadcast.
func (r *Registry) Submit(ctx context.Context, gameID, moverID, text string) (*Outcome, error) {
	s, err := r.session(ctx, gameID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if cur.Game.Status != domain.StatusActive {
		return nil, ErrGameNotActive
	}
	color, ok := cur.ColorOf(moverID)
	if !ok {
		return nil, ErrNotParticipant
	}
	if color != cur.Turn {
		return nil, ErrNotYourTurn
	}

	mv, err := rules.Parse(text)
	if err != nil {
		return nil, ErrMalformedMove.wrap(err)
	}
	if err := rules.Legal(cur.pos, mv); err != nil {
		return nil, rejected(err)
	}
	pos, applied, err := rules.Apply(cur.pos, mv)
	if err != nil {
		return nil, rejected(err)
	}

	now := r.now()
	rec := domain.MoveRecord{
		GameID:      gameID,
		Number:      cur.Moves() + 1,
		MoverID:     moverID,
		UCI:         applied.UCI,
		SAN:         applied.SAN,
		FENAfter:    rules.Render(pos),
		IsCheck:     applied.Check,
		IsCheckmate: applied.Checkmate,
		IsStalemate: applied.Stalemate,
		IsDraw:      applied.Draw,
		CreatedAt:   now,
	}
	done := completionFor(applied, moverID, now)
	if err := r.store.AppendMove(ctx, rec, done); err != nil {
		r.log.Error("move_persist_failed",
			zap.String("game_id", gameID),
			zap.Int("move_number", rec.Number),
			zap.String("uci", rec.UCI),
			zap.Error(err),
		)
		return nil, ErrStoreUnavailable.wrap(err)
	}

	next := *cur
	next.pos = pos
	next.FEN = rec.FENAfter
	next.Turn = rules.Turn(pos)
	next.UCI = append(append(make([]string, 0, len(cur.UCI)+1), cur.UCI...), rec.UCI)
	next.SAN = append(append(make([]string, 0, len(cur.SAN)+1), cur.SAN...), rec.SAN)
	if done != nil {
		next.Game.Complete(*done)
	}
	s.state.Store(&next)

	fields := []zap.Field{
		zap.String("game_id", gameID),
		zap.String("user_id", moverID),
		zap.Int("move_number", rec.Number),
		zap.String("uci", rec.UCI),
		zap.String("san", rec.SAN),
	}
	if done != nil {
		fields = append(fields, zap.String("result", string(done.Result)), zap.String("winner_id", done.WinnerID))
		r.log.Info("game_complete", fields...)
	} else {
		r.log.Debug("move_commit", fields...)
	}

	r.pub.Publish(ctx, Topic(gameID), moveEvent(&next, moverID, rec.UCI, rec.SAN, rec.IsCheck))
	return &Outcome{Number: rec.Number, UCI: rec.UCI, SAN: rec.SAN, Check: rec.IsCheck, Snap: &next}, nil
}

// rejected maps a rule-engine refusal to the pipeline error a client sees.
func rejected(err error) *Error {
	if errors.Is(err, rules.ErrMalformed) {
		return ErrMalformedMove.wrap(err)
	}
	return ErrIllegalMove.WithMessage(err.Error())
}

// completionFor classifies a terminal move. Checkmate credits the mover.
func completionFor(a rules.Applied, moverID string, at time.Time) *domain.Completion {
	switch {
	case a.Checkmate:
		return &domain.Completion{Result: domain.ResultCheckmate, WinnerID: moverID, At: at}
	case a.Stalemate:
		return &domain.Completion{Result: domain.ResultStalemate, At: at}
	case a.Draw:
		return &domain.Completion{Result: domain.ResultDraw, At: at}
	}
	return nil
}

// Resign ends an active game in favour of the opponent.
func (r *Registry) Resign(ctx context.Context, gameID, userID string) (*Snapshot, error) {
	s, err := r.session(ctx, gameID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if cur.Game.Status != domain.StatusActive {
		return nil, ErrGameNotActive
	}
	color, ok := cur.ColorOf(userID)
	if !ok {
		return nil, ErrNotParticipant
	}
	done := domain.Completion{
		Result:   domain.ResultResignation,
		WinnerID: cur.PlayerFor(color.Opposite()),
		At:       r.now(),
	}
	if err := r.store.CompleteGame(ctx, gameID, done); err != nil {
		r.log.Error("resign_persist_failed", zap.String("game_id", gameID), zap.Error(err))
		return nil, ErrStoreUnavailable.wrap(err)
	}

	next := *cur
	next.Game.Complete(done)
	s.state.Store(&next)

	r.log.Info("game_resign",
		zap.String("game_id", gameID),
		zap.String("user_id", userID),
		zap.String("winner_id", done.WinnerID),
	)
	r.pub.Publish(ctx, Topic(gameID), chessdto.ResignedEvent{
		Type:       chessdto.TypeResigned,
		GameID:     gameID,
		UserID:     userID,
		WinnerID:   done.WinnerID,
		Result:     string(done.Result),
		GameStatus: next.StatusLabel(),
	})
	return &next, nil
}
