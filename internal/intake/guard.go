package intake

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultDuplicateLookback is how far back an open claim suppresses a new one.
const DefaultDuplicateLookback = 24 * time.Hour

// ClaimCounter counts a homeowner's open claims created since a point in time.
type ClaimCounter interface {
	CountOpenClaimsSince(ctx context.Context, homeownerID string, since time.Time) (int, error)
}

// Guard suppresses claim creation when the homeowner already has a recent
// open claim, so repeated calls about one issue do not pile up claims.
type Guard struct {
	claims ClaimCounter
	now    func() time.Time
}

// NewGuard creates a Guard over the given claim counter.
func NewGuard(claims ClaimCounter) *Guard {
	return &Guard{claims: claims, now: time.Now}
}

// HasRecentOpenClaim reports whether an open claim for the homeowner was
// created at or after now - lookback. A non-positive lookback uses the default.
func (g *Guard) HasRecentOpenClaim(ctx context.Context, homeownerID string, lookback time.Duration) (bool, error) {
	if lookback <= 0 {
		lookback = DefaultDuplicateLookback
	}
	n, err := g.claims.CountOpenClaimsSince(ctx, homeownerID, g.now().Add(-lookback))
	if err != nil {
		return false, eris.Wrapf(err, "intake: duplicate check for %s", homeownerID)
	}
	return n > 0, nil
}
