package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a lot or sale does not exist
	// for the owner.
	ErrNotFound = errors.New("not found")

	// ErrInternalConsistency means the FIFO walk could not place every
	// share even though the availability check passed. The operation is
	// rolled back.
	ErrInternalConsistency = errors.New("internal consistency error")
)

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientSharesError rejects a sale larger than the shares held.
type InsufficientSharesError struct {
	Ticker    string
	Available float64
	Requested float64
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares of %s: available %.4f, requested %.4f",
		e.Ticker, e.Available, e.Requested)
}

// LotInUseError refuses to delete a lot that sales have drawn from.
type LotInUseError struct {
	LotID       uint
	Assignments int64
}

func (e *LotInUseError) Error() string {
	return fmt.Sprintf("lot %d has %d sale assignments; deleting it would rewrite realized gains",
		e.LotID, e.Assignments)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
