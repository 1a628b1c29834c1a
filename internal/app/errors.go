package app

import (
	"errors"
	"fmt"
)

// Closed set of error variants surfaced by the orchestrator. Handlers match
// these explicitly; anything else is an internal error.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidPhone      = errors.New("invalid phone number")
	ErrMalformedCallback = errors.New("malformed callback payload")
)

// GatewayError represents a failure reported by (or while reaching) the
// mobile-money gateway. Initiation failures of this kind leave no partial
// state: no ledger row, no balance change.
type GatewayError struct {
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error: %s", e.Message)
}
