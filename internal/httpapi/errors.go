package httpapi

import (
	"errors"
	"net/http"

	"github.com/park285/cheese-arena/internal/account"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// ApiError is the REST error body plus its status code.
type ApiError struct {
	StatusCode int `json:"-"`
	chessdto.DomainError
	Err error `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ApiError) Unwrap() error { return e.Err }

func newAPIError(status int, code, msg string) *ApiError {
	return &ApiError{StatusCode: status, DomainError: chessdto.DomainError{Code: code, Message: msg}}
}

func NewBadRequestError(msg string) *ApiError {
	return newAPIError(http.StatusBadRequest, "bad_request", msg)
}

func NewUnauthorizedError() *ApiError {
	return newAPIError(http.StatusUnauthorized, "unauthorized", "login required")
}

func NewInternalServerError(err error) *ApiError {
	e := newAPIError(http.StatusInternalServerError, "internal", "internal server error")
	e.Err = err
	return e
}

// msgData feeds the message catalog templates.
type msgData struct {
	GameID string
	Move   string
	Reason string
}

func statusForKind(k game.Kind) int {
	switch k {
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindConflict:
		return http.StatusConflict
	case game.KindInvalidState, game.KindIllegal:
		return http.StatusUnprocessableEntity
	case game.KindMalformed:
		return http.StatusBadRequest
	case game.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// toAPIError maps domain and account errors to a status and a catalog message.
func toAPIError(err error, cat *msgcat.Catalog, data msgData) *ApiError {
	var ae *ApiError
	if errors.As(err, &ae) {
		return ae
	}
	var ge *game.Error
	if errors.As(err, &ge) {
		if data.Reason == "" {
			data.Reason = ge.Message
		}
		return &ApiError{
			StatusCode: statusForKind(ge.Kind),
			DomainError: chessdto.DomainError{
				Code:      ge.Code,
				Message:   cat.Text("errors."+ge.Code, data, ge.Message),
				Retryable: ge.Retryable,
			},
			Err: err,
		}
	}

	var code string
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, account.ErrUsernameTaken):
		code, status = "username_taken", http.StatusConflict
	case errors.Is(err, account.ErrInvalidCredentials):
		code, status = "invalid_credentials", http.StatusUnauthorized
	case errors.Is(err, account.ErrInvalidUsername):
		code = "invalid_username"
	case errors.Is(err, account.ErrInvalidPassword):
		code = "invalid_password"
	default:
		e := NewInternalServerError(err)
		e.Message = cat.Text("errors.internal", data, e.Message)
		return e
	}
	return &ApiError{
		StatusCode:  status,
		DomainError: chessdto.DomainError{Code: code, Message: cat.Text("errors."+code, data, err.Error())},
		Err:         err,
	}
}

// errorEvent is the ws rendition of err.
func errorEvent(err error, cat *msgcat.Catalog, data msgData) chessdto.ErrorEvent {
	ae := toAPIError(err, cat, data)
	return chessdto.NewError(ae.Code, ae.Message)
}
