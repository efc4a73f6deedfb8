package channel

import "context"

// OutboundContext bundles everything an adapter needs to deliver one
// outbox record.
type OutboundContext struct {
	Account *Account
	Message OutboundMessage
	Record  *OutboxRecord
}

// Adapter is a provider-specific sender. CanSend reports whether the
// account carries usable credentials for this provider; when it returns
// false the hub falls back to the generic webhook path.
type Adapter interface {
	Name() string
	CanSend(acc *Account) bool
	SendOutbound(ctx context.Context, out OutboundContext) error
}
