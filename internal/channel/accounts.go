package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relaydesk/channelhub/internal/config"
)

// AccountResolver loads and validates the tenant account for an inbound
// message: existence (or auto-provision), status, shared-secret token, and
// peer/sender allow/deny lists.
type AccountResolver struct {
	store Store
	cfg   config.ChannelsConfig
}

func NewAccountResolver(store Store, cfg config.ChannelsConfig) *AccountResolver {
	return &AccountResolver{store: store, cfg: cfg}
}

// Resolve returns the active account for the message, provisioning a
// blank one when unknown accounts are allowed. token is the value of the
// X-Channel-Token header (or bearer token) presented by the caller; it is
// checked only when the account has an inbound token configured.
func (r *AccountResolver) Resolve(ctx context.Context, msg Message, token string) (*Account, error) {
	acc, err := r.store.GetAccount(ctx, msg.Channel, msg.AccountID)
	if errors.Is(err, ErrNotFound) {
		if !r.cfg.AllowUnknownAccounts {
			return nil, fmt.Errorf("%w: %s/%s", ErrAccountNotFound, msg.Channel, msg.AccountID)
		}
		acc = &Account{
			Channel:        msg.Channel,
			AccountID:      msg.AccountID,
			Status:         AccountStatusActive,
			DefaultAgentID: r.cfg.DefaultAgentID,
		}
		if err := r.store.UpsertAccount(ctx, acc); err != nil {
			return nil, fmt.Errorf("%w: provision account: %v", ErrStorage, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("%w: load account: %v", ErrStorage, err)
	}

	if acc.Status != AccountStatusActive {
		return nil, fmt.Errorf("%w: status %s", ErrAccountDisabled, acc.Status)
	}
	if acc.InboundToken != "" && token != acc.InboundToken {
		return nil, ErrInvalidToken
	}
	if err := checkAccess(acc, msg); err != nil {
		return nil, err
	}
	return acc, nil
}

// checkAccess applies the account's peer and sender lists. Deny always
// wins over allow; an empty allow list admits everyone.
func checkAccess(acc *Account, msg Message) error {
	if listContains(acc.BlockedPeers, msg.Peer.ID) {
		return fmt.Errorf("%w: peer %s", ErrPeerBlocked, msg.Peer.ID)
	}
	if len(acc.AllowedPeers) > 0 && !listContains(acc.AllowedPeers, msg.Peer.ID) {
		return fmt.Errorf("%w: peer %s", ErrPeerNotAllowed, msg.Peer.ID)
	}
	if msg.Sender.ID != "" {
		if listContains(acc.BlockedSenders, msg.Sender.ID) {
			return fmt.Errorf("%w: sender %s", ErrSenderBlocked, msg.Sender.ID)
		}
		if len(acc.AllowedSenders) > 0 && !listContains(acc.AllowedSenders, msg.Sender.ID) {
			return fmt.Errorf("%w: sender %s", ErrSenderNotAllowed, msg.Sender.ID)
		}
	}
	return nil
}

func listContains(list []string, id string) bool {
	for _, entry := range list {
		if strings.EqualFold(strings.TrimSpace(entry), id) {
			return true
		}
	}
	return false
}
