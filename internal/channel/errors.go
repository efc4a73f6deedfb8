package channel

import "errors"

// Admission and pipeline errors. Handlers map these to per-message error
// strings; the hub wraps them with context via fmt.Errorf and %w.
var (
	ErrDisabled         = errors.New("disabled")
	ErrRateLimited      = errors.New("rate_limited")
	ErrAccountNotFound  = errors.New("account_not_found")
	ErrAccountDisabled  = errors.New("account_disabled")
	ErrInvalidToken     = errors.New("invalid_token")
	ErrPeerBlocked      = errors.New("peer_blocked")
	ErrPeerNotAllowed   = errors.New("peer_not_allowed")
	ErrSenderBlocked    = errors.New("sender_blocked")
	ErrSenderNotAllowed = errors.New("sender_not_allowed")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrMissingChannel   = errors.New("missing_channel")
	ErrMissingAccountID = errors.New("missing_account_id")
	ErrOrchestrator     = errors.New("orchestrator_error")
	ErrDelivery         = errors.New("delivery_error")
	ErrStorage          = errors.New("storage_error")
)

// ErrNotFound is returned by Store lookups when no row matches. Callers
// distinguish it from infrastructure failures, which surface as
// ErrStorage-wrapped errors.
var ErrNotFound = errors.New("not found")
