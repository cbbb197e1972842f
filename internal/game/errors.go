package game

import (
	"fmt"

	"github.com/park285/cheese-arena/pkg/chessdto"
)

// Kind groups errors by how a caller should react.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindInvalidState     Kind = "invalid_state"
	KindIllegal          Kind = "illegal"
	KindMalformed        Kind = "malformed"
	KindStoreUnavailable Kind = "store_unavailable"
)

// Error is the domain error returned by the registry and pipeline.
// errors.Is matches on Code, so wrapped or re-messaged copies still match the sentinels.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy carrying a more specific human-readable reason.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

func (e *Error) wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// DTO converts to the wire representation.
func (e *Error) DTO() chessdto.DomainError {
	return chessdto.DomainError{Code: e.Code, Message: e.Message, Retryable: e.Retryable}
}

var (
	ErrGameNotFound     = &Error{Kind: KindNotFound, Code: "game_not_found", Message: "game not found"}
	ErrGameFull         = &Error{Kind: KindConflict, Code: "game_full", Message: "game already has two players"}
	ErrGameNotActive    = &Error{Kind: KindInvalidState, Code: "game_not_active", Message: "game is not active"}
	ErrNotYourTurn      = &Error{Kind: KindInvalidState, Code: "not_your_turn", Message: "not your turn"}
	ErrNotParticipant   = &Error{Kind: KindInvalidState, Code: "not_a_player", Message: "you are not a player in this game"}
	ErrMalformedMove    = &Error{Kind: KindMalformed, Code: "malformed_move", Message: "move notation not recognized"}
	ErrIllegalMove      = &Error{Kind: KindIllegal, Code: "illegal_move", Message: "illegal move"}
	ErrInvalidColor     = &Error{Kind: KindMalformed, Code: "invalid_color", Message: "color must be white, black or random"}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable, Code: "store_unavailable", Message: "storage unavailable, try again", Retryable: true}
)
