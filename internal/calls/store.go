package calls

import (
	"context"
	"time"
)

// Store persists calls and the inCall flag of both parties.
//
// Every method that changes inCall does so in the same storage transaction as
// the call row, so a call and its parties' flags never disagree after commit.
type Store interface {
	// CreateRinging inserts c and sets inCall on both parties, failing with
	// ErrBusy if either party is already in a call.
	CreateRinging(ctx context.Context, c Call) (Call, error)
	Get(ctx context.Context, id string) (Call, error)

	// Update locks the call, runs apply and persists the result. An error from
	// apply aborts without writing.
	Update(ctx context.Context, id string, apply func(c *Call) error) (Call, error)

	// Finish is Update for terminal transitions and also clears inCall on both
	// parties. When the call is already terminal apply is not run and changed
	// is false.
	Finish(ctx context.Context, id string, apply func(c *Call) error) (c Call, changed bool, err error)

	// ListStale returns calls in status whose reference time is before the
	// cutoff: created_at for RINGING, accepted_at for CONNECTING and
	// last_tick_at for ACTIVE.
	ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]Call, error)

	// ListOrphans returns non-terminal calls whose user or responder account
	// is missing or deleted.
	ListOrphans(ctx context.Context, limit int) ([]Call, error)

	// DeleteOrphan removes the call and clears inCall on whichever party survives.
	DeleteOrphan(ctx context.Context, id string) error

	// ReleaseStaleInCall clears inCall on accounts with no non-terminal call
	// and returns their ids.
	ReleaseStaleInCall(ctx context.Context) ([]string, error)

	ListForAccount(ctx context.Context, accountID string, from, to time.Time, limit int) ([]Call, error)
}

// partyNotFound names which side of c is missing when a party cannot be claimed.
func partyNotFound(c Call, id string) error {
	if id == c.UserID {
		return ErrCallerNotFound
	}
	return ErrResponderNotFound
}
