// Package store persists homeowners, warranty claims, and call records.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/warranty-intake/internal/model"
)

// ErrNotFound is returned (wrapped) when a lookup by id matches nothing.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for call intake.
type Store interface {
	// Homeowners
	ListHomeowners(ctx context.Context) ([]model.Homeowner, error)
	GetHomeowner(ctx context.Context, id string) (*model.Homeowner, error)
	UpsertHomeowners(ctx context.Context, homeowners []model.Homeowner) (int64, error)

	// Claims
	NextClaimNumber(ctx context.Context, homeownerID string) (int, error)
	CreateClaim(ctx context.Context, claim model.Claim) (*model.Claim, error)
	GetClaim(ctx context.Context, id string) (*model.Claim, error)
	CountOpenClaimsSince(ctx context.Context, homeownerID string, since time.Time) (int, error)

	// Call records
	UpsertCallRecord(ctx context.Context, rec model.CallRecord) (*model.CallRecord, error)
	GetCallRecord(ctx context.Context, callID string) (*model.CallRecord, error)
	LinkClaim(ctx context.Context, callID, claimID string) error
	MarkNotified(ctx context.Context, callID string, at time.Time) (bool, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by driver. For sqlite the dsn is a file
// path and defaults to warranty.db.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "warranty.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
}

func openStatuses() []string {
	out := make([]string, len(model.OpenClaimStatuses))
	for i, s := range model.OpenClaimStatuses {
		out[i] = string(s)
	}
	return out
}
