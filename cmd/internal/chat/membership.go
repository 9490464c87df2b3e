package chat

import (
	"context"
	"strings"
	"time"
)

// Authority answers "is this user an active member of this group".
type Authority struct {
	store   Store
	timeout time.Duration
}

// NewAuthority constructs an Authority. A zero timeout disables the per-call bound.
func NewAuthority(store Store, timeout time.Duration) *Authority {
	return &Authority{store: store, timeout: timeout}
}

// IsActiveMember is true only for a membership record with active status.
func (a *Authority) IsActiveMember(ctx context.Context, userID, groupID string) (bool, error) {
	const op = "chat.Authority.IsActiveMember"

	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return false, nil
	}

	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	ok, err := a.store.IsActiveMember(cctx, userID, groupID)
	if err != nil {
		return false, unavailable(op, err)
	}
	return ok, nil
}

// Require returns an ErrNotMember OpError unless userID is an active member of groupID.
func (a *Authority) Require(ctx context.Context, userID, groupID string) error {
	ok, err := a.IsActiveMember(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return OpError{Op: "chat.Authority.Require", Kind: ErrNotMember, Msg: "user " + userID + " in group " + groupID}
	}
	return nil
}

// ActiveMembers lists the user ids with an active membership in groupID.
func (a *Authority) ActiveMembers(ctx context.Context, groupID string) ([]string, error) {
	const op = "chat.Authority.ActiveMembers"

	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, invalid(op, "group id is required")
	}

	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.store.ActiveMembers(cctx, groupID)
	if err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}
