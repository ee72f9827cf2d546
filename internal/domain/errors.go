package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that branch on failure type.
type Kind int

const (
	KindStorage Kind = iota
	KindValidation
	KindStateConflict
	KindInsufficientFunds
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindNotFound:
		return "not_found"
	default:
		return "storage"
	}
}

// Error is the typed error returned by every core operation.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind != KindStorage {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so a sentinel matches any error derived from it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	c := *e
	c.Msg = fmt.Sprintf(format, args...)
	return &c
}

var (
	ErrInvalidRequest      = &Error{Kind: KindValidation, Code: "invalid_request", Msg: "invalid request"}
	ErrInvalidSelection    = &Error{Kind: KindValidation, Code: "invalid_selection", Msg: "invalid selection"}
	ErrDuplicateGameInSlip = &Error{Kind: KindValidation, Code: "duplicate_game_in_slip", Msg: "the same game appears more than once in the slip"}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds, Code: "insufficient_funds", Msg: "insufficient funds"}
	ErrGameNotOpen         = &Error{Kind: KindStateConflict, Code: "game_not_open", Msg: "game is not open for betting"}
	ErrResultConflict      = &Error{Kind: KindStateConflict, Code: "result_conflict", Msg: "game result already decided"}
	ErrPhaseClosed         = &Error{Kind: KindStateConflict, Code: "phase_closed", Msg: "round is not accepting this action"}
	ErrBetAlreadyPlaced    = &Error{Kind: KindStateConflict, Code: "bet_already_placed", Msg: "a bet is already placed for this round"}
	ErrNoPendingBet        = &Error{Kind: KindStateConflict, Code: "no_pending_bet", Msg: "no pending bet in this round"}
	ErrBetResolved         = &Error{Kind: KindStateConflict, Code: "bet_resolved", Msg: "bet is already resolved"}
	ErrNotFound            = &Error{Kind: KindNotFound, Code: "not_found", Msg: "not found"}
	ErrStorage             = &Error{Kind: KindStorage, Code: "storage_failure", Msg: "storage failure, safe to retry"}
)

// Storage wraps an infrastructure error. The message stays generic; the
// cause is kept for logging through Unwrap.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindStorage, Code: ErrStorage.Code, Msg: ErrStorage.Msg, Err: err}
}

// KindOf reports the Kind of err. Errors outside the taxonomy count as storage failures.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorage
}
