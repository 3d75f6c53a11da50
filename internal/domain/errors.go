package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound is returned when no active room matches the id.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomClosed is returned when a room's worker has already stopped.
	ErrRoomClosed = errors.New("room closed")
	// ErrQuestionsUnavailable indicates neither the store nor the fallback pool had questions.
	ErrQuestionsUnavailable = errors.New("questions unavailable")
	// ErrConfigNotFound is returned by config stores with no active row.
	ErrConfigNotFound = errors.New("game config not found")
)

// ValidationCode identifies why an intent was rejected.
type ValidationCode string

const (
	CodeInvalidChoice      ValidationCode = "invalid_choice"
	CodeNotWaiting         ValidationCode = "not_waiting"
	CodeNoPlayers          ValidationCode = "no_players"
	CodeNotInProgress      ValidationCode = "not_in_progress"
	CodeRoundSettled       ValidationCode = "round_settled"
	CodeAlreadyAnswered    ValidationCode = "already_answered"
	CodeUnknownPlayer      ValidationCode = "unknown_player"
	CodeRoomFull           ValidationCode = "room_full"
	CodeNotHost            ValidationCode = "not_host"
	CodeNotEnoughQuestions ValidationCode = "not_enough_questions"
	CodeChatInvalid        ValidationCode = "chat_invalid"
	CodeChatRateLimited    ValidationCode = "chat_rate_limited"
	CodeSoloRoom           ValidationCode = "solo_room"
	CodeBadRequest         ValidationCode = "bad_request"
)

// ValidationError is a rejected intent. It is reported to the originating
// participant only and never ends the match.
type ValidationError struct {
	Code    ValidationCode `json:"code"`
	Message string         `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Rejectf builds a ValidationError.
func Rejectf(code ValidationCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError, optionally with one of codes.
func IsValidation(err error, codes ...ValidationCode) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if ve.Code == c {
			return true
		}
	}
	return false
}
