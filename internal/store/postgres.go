package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/warranty-intake/internal/db"
	"github.com/sells-group/warranty-intake/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	ping    func(ctx context.Context) error
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgListHomeowners = `SELECT id, name, email, phone, address, builder_name, created_at FROM homeowners ORDER BY created_at, id`

	pgGetHomeowner = `SELECT id, name, email, phone, address, builder_name, created_at FROM homeowners WHERE id = $1`

	pgNextClaimNumber = `SELECT COALESCE(MAX(claim_number), 0) + 1 FROM claims WHERE homeowner_id = $1`

	pgInsertClaim = `INSERT INTO claims (id, homeowner_id, claim_number, status, description, homeowner_name, homeowner_email,
	homeowner_address, builder_name, source, call_id, urgent, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	pgGetClaim = `SELECT id, homeowner_id, claim_number, status, description, homeowner_name, homeowner_email,
	homeowner_address, builder_name, source, call_id, urgent, created_at, updated_at FROM claims WHERE id = $1`

	pgCountOpenClaims = `SELECT COUNT(*) FROM claims WHERE homeowner_id = $1 AND status = ANY($2) AND created_at >= $3`

	pgUpsertCallRecord = `INSERT INTO call_records (id, call_id, homeowner_id, caller_name, phone, address, issue, summary,
	intent, urgent, verified, match_confidence, transcript, recording_url, event_type, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	ON CONFLICT (call_id) DO UPDATE SET
		homeowner_id     = COALESCE(EXCLUDED.homeowner_id, call_records.homeowner_id),
		caller_name      = COALESCE(NULLIF(EXCLUDED.caller_name, ''), call_records.caller_name),
		phone            = COALESCE(NULLIF(EXCLUDED.phone, ''), call_records.phone),
		address          = COALESCE(NULLIF(EXCLUDED.address, ''), call_records.address),
		issue            = COALESCE(NULLIF(EXCLUDED.issue, ''), call_records.issue),
		summary          = COALESCE(NULLIF(EXCLUDED.summary, ''), call_records.summary),
		intent           = COALESCE(NULLIF(EXCLUDED.intent, ''), call_records.intent),
		urgent           = call_records.urgent OR EXCLUDED.urgent,
		verified         = call_records.verified OR EXCLUDED.verified,
		match_confidence = COALESCE(EXCLUDED.match_confidence, call_records.match_confidence),
		transcript       = COALESCE(NULLIF(EXCLUDED.transcript, ''), call_records.transcript),
		recording_url    = COALESCE(NULLIF(EXCLUDED.recording_url, ''), call_records.recording_url),
		event_type       = COALESCE(NULLIF(EXCLUDED.event_type, ''), call_records.event_type),
		updated_at       = EXCLUDED.updated_at
	RETURNING ` + callRecordColumns

	pgGetCallRecord = `SELECT ` + callRecordColumns + ` FROM call_records WHERE call_id = $1`

	pgLinkClaim = `UPDATE call_records SET claim_id = COALESCE(claim_id, $1), updated_at = $2 WHERE call_id = $3`

	pgMarkNotified = `UPDATE call_records SET notified_at = $1, updated_at = $1 WHERE call_id = $2 AND notified_at IS NULL`
)

const callRecordColumns = `id, call_id, homeowner_id, caller_name, phone, address, issue, summary, intent, urgent, verified,
	match_confidence, transcript, recording_url, event_type, claim_id, notified_at, created_at, updated_at`

// preparedStatements are prepared on each new connection under their own SQL
// text, so pgx executes them without a parse round trip.
var preparedStatements = []string{
	pgListHomeowners,
	pgNextClaimNumber,
	pgInsertClaim,
	pgCountOpenClaims,
	pgUpsertCallRecord,
	pgGetCallRecord,
	pgLinkClaim,
	pgMarkNotified,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// Tables may not exist before the first migrate; skip preparing then.
		var ready bool
		if err := conn.QueryRow(ctx, `SELECT to_regclass('call_records') IS NOT NULL`).Scan(&ready); err != nil || !ready {
			return nil
		}
		for _, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, sql, sql); err != nil {
				return eris.Wrap(err, "postgres: prepare statement")
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, ping: pool.Ping}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS homeowners (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	builder_name TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS claims (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	homeowner_id      TEXT NOT NULL REFERENCES homeowners(id),
	claim_number      INTEGER NOT NULL,
	status            TEXT NOT NULL DEFAULT 'submitted',
	description       TEXT NOT NULL DEFAULT '',
	homeowner_name    TEXT NOT NULL DEFAULT '',
	homeowner_email   TEXT NOT NULL DEFAULT '',
	homeowner_address TEXT NOT NULL DEFAULT '',
	builder_name      TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT 'voice',
	call_id           TEXT NOT NULL DEFAULT '',
	urgent            BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_claims_homeowner_created ON claims(homeowner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_claims_homeowner_number ON claims(homeowner_id, claim_number);

CREATE TABLE IF NOT EXISTS call_records (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	call_id          TEXT NOT NULL UNIQUE,
	homeowner_id     TEXT REFERENCES homeowners(id),
	caller_name      TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	issue            TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT '',
	intent           TEXT NOT NULL DEFAULT '',
	urgent           BOOLEAN NOT NULL DEFAULT false,
	verified         BOOLEAN NOT NULL DEFAULT false,
	match_confidence DOUBLE PRECISION,
	transcript       TEXT NOT NULL DEFAULT '',
	recording_url    TEXT NOT NULL DEFAULT '',
	event_type       TEXT NOT NULL DEFAULT '',
	claim_id         TEXT REFERENCES claims(id),
	notified_at      TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_records_homeowner ON call_records(homeowner_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.ping != nil {
		return eris.Wrap(s.ping(ctx), "postgres: ping")
	}
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListHomeowners(ctx context.Context) ([]model.Homeowner, error) {
	rows, err := s.pool.Query(ctx, pgListHomeowners)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list homeowners")
	}
	defer rows.Close()

	var out []model.Homeowner
	for rows.Next() {
		var h model.Homeowner
		if err := rows.Scan(&h.ID, &h.Name, &h.Email, &h.Phone, &h.Address, &h.BuilderName, &h.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan homeowner")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list homeowners iterate")
}

func (s *PostgresStore) GetHomeowner(ctx context.Context, id string) (*model.Homeowner, error) {
	var h model.Homeowner
	err := s.pool.QueryRow(ctx, pgGetHomeowner, id).
		Scan(&h.ID, &h.Name, &h.Email, &h.Phone, &h.Address, &h.BuilderName, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "homeowner %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get homeowner %s", id)
	}
	return &h, nil
}

var homeownerUpsert = db.UpsertConfig{
	Table:        "homeowners",
	Columns:      []string{"id", "name", "email", "phone", "address", "builder_name", "created_at"},
	ConflictKeys: []string{"id"},
	UpdateCols:   []string{"name", "email", "phone", "address", "builder_name"},
}

// UpsertHomeowners bulk loads homeowners, assigning ids to rows without one.
func (s *PostgresStore) UpsertHomeowners(ctx context.Context, homeowners []model.Homeowner) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(homeowners))
	for _, h := range prepareHomeowners(homeowners, now) {
		rows = append(rows, []any{h.ID, h.Name, h.Email, h.Phone, h.Address, h.BuilderName, h.CreatedAt})
	}
	n, err := db.BulkUpsert(ctx, s.pool, homeownerUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert homeowners")
}

func (s *PostgresStore) NextClaimNumber(ctx context.Context, homeownerID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, pgNextClaimNumber, homeownerID).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "postgres: next claim number for %s", homeownerID)
	}
	return n, nil
}

func (s *PostgresStore) CreateClaim(ctx context.Context, claim model.Claim) (*model.Claim, error) {
	prepareClaim(&claim, time.Now().UTC())

	_, err := s.pool.Exec(ctx, pgInsertClaim,
		claim.ID, claim.HomeownerID, claim.ClaimNumber, string(claim.Status), claim.Description,
		claim.HomeownerName, claim.HomeownerEmail, claim.HomeownerAddress, claim.BuilderName,
		claim.Source, claim.CallID, claim.Urgent, claim.CreatedAt, claim.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert claim for %s", claim.HomeownerID)
	}
	return &claim, nil
}

func (s *PostgresStore) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	var c model.Claim
	err := s.pool.QueryRow(ctx, pgGetClaim, id).Scan(
		&c.ID, &c.HomeownerID, &c.ClaimNumber, &c.Status, &c.Description, &c.HomeownerName,
		&c.HomeownerEmail, &c.HomeownerAddress, &c.BuilderName, &c.Source, &c.CallID, &c.Urgent,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "claim %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get claim %s", id)
	}
	return &c, nil
}

func (s *PostgresStore) CountOpenClaimsSince(ctx context.Context, homeownerID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, pgCountOpenClaims, homeownerID, openStatuses(), since.UTC()).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count open claims for %s", homeownerID)
	}
	return n, nil
}

func (s *PostgresStore) UpsertCallRecord(ctx context.Context, rec model.CallRecord) (*model.CallRecord, error) {
	if rec.CallID == "" {
		return nil, eris.New("postgres: upsert call record: empty call id")
	}
	now := time.Now().UTC()

	row := s.pool.QueryRow(ctx, pgUpsertCallRecord,
		uuid.New().String(), rec.CallID, rec.HomeownerID, rec.CallerName, rec.Phone, rec.Address,
		rec.Issue, rec.Summary, string(rec.Intent), rec.Urgent, rec.Verified, rec.MatchConfidence,
		rec.Transcript, rec.RecordingURL, rec.EventType, now,
	)
	out, err := scanPgCallRecord(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert call record %s", rec.CallID)
	}
	return out, nil
}

func (s *PostgresStore) GetCallRecord(ctx context.Context, callID string) (*model.CallRecord, error) {
	out, err := scanPgCallRecord(s.pool.QueryRow(ctx, pgGetCallRecord, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "call record %s", callID)
		}
		return nil, eris.Wrapf(err, "postgres: get call record %s", callID)
	}
	return out, nil
}

func (s *PostgresStore) LinkClaim(ctx context.Context, callID, claimID string) error {
	tag, err := s.pool.Exec(ctx, pgLinkClaim, claimID, time.Now().UTC(), callID)
	if err != nil {
		return eris.Wrapf(err, "postgres: link claim to call %s", callID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "call record %s", callID)
	}
	return nil
}

func (s *PostgresStore) MarkNotified(ctx context.Context, callID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, pgMarkNotified, at.UTC(), callID)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark notified %s", callID)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPgCallRecord(row pgx.Row) (*model.CallRecord, error) {
	var r model.CallRecord
	var intent string
	err := row.Scan(
		&r.ID, &r.CallID, &r.HomeownerID, &r.CallerName, &r.Phone, &r.Address, &r.Issue, &r.Summary,
		&intent, &r.Urgent, &r.Verified, &r.MatchConfidence, &r.Transcript, &r.RecordingURL,
		&r.EventType, &r.ClaimID, &r.NotifiedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Intent = model.Intent(intent)
	return &r, nil
}

func prepareHomeowners(in []model.Homeowner, now time.Time) []model.Homeowner {
	out := make([]model.Homeowner, len(in))
	for i, h := range in {
		if h.ID == "" {
			h.ID = uuid.New().String()
		}
		if h.CreatedAt.IsZero() {
			h.CreatedAt = now
		}
		out[i] = h
	}
	return out
}

func prepareClaim(c *model.Claim, now time.Time) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.ClaimStatusSubmitted
	}
	if c.Source == "" {
		c.Source = model.ClaimSourceVoice
	}
	c.CreatedAt = now
	c.UpdatedAt = now
}
