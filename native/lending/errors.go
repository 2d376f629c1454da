package lending

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by the engine. Callers match them with errors.Is; the
// concrete value is always an *OpError carrying the failing operation.
var (
	ErrValidation             = errors.New("lending: validation failed")
	ErrAuthorization          = errors.New("lending: unauthorized")
	ErrInsufficientBalance    = errors.New("lending: insufficient balance")
	ErrInsufficientLiquidity  = errors.New("lending: insufficient liquidity")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrInvalidCollateral      = errors.New("lending: invalid collateral")
	ErrNotOverdue             = errors.New("lending: loan not overdue")
	ErrAlreadyLiquidated      = errors.New("lending: loan already liquidated")
	ErrAlreadyInactive        = errors.New("lending: loan already inactive")
	ErrNotFound               = errors.New("lending: not found")
)

var (
	errNilState    = errors.New("lending engine: state not configured")
	errNilOracle   = errors.New("lending engine: collateral oracle not configured")
	errReplayOrder = errors.New("lending engine: event sequence out of order")
)

// OpError describes a rejected engine operation. Entity identifies the record
// the operation targeted (user address, circle or loan id) and Reason the
// violated condition.
type OpError struct {
	Op     string
	Entity string
	Reason string
	Err    error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString("lending ")
	b.WriteString(e.Op)
	if e.Entity != "" {
		b.WriteString(" ")
		b.WriteString(e.Entity)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(strings.TrimPrefix(e.Err.Error(), "lending: "))
	}
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	return b.String()
}

func (e *OpError) Unwrap() error { return e.Err }

func opError(op, entity string, kind error, format string, args ...any) error {
	reason := format
	if len(args) > 0 {
		reason = fmt.Sprintf(format, args...)
	}
	return &OpError{Op: op, Entity: entity, Reason: reason, Err: kind}
}

// wrapOp attaches operation context to errors bubbling out of the state layer.
// Errors that already carry an OpError are returned unchanged.
func wrapOp(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	return &OpError{Op: op, Entity: entity, Err: err}
}

// Kind returns the sentinel kind carried by err, or nil when err did not
// originate from the engine's taxonomy.
func Kind(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrAuthorization,
		ErrInsufficientBalance,
		ErrInsufficientLiquidity,
		ErrInsufficientCollateral,
		ErrInvalidCollateral,
		ErrNotOverdue,
		ErrAlreadyLiquidated,
		ErrAlreadyInactive,
		ErrNotFound,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
