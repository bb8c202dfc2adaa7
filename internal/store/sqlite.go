package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/warranty-intake/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix nanoseconds so range comparisons stay numeric.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time keeps the upsert-then-claim sequence free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS homeowners (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	builder_name TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS claims (
	id                TEXT PRIMARY KEY,
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
	urgent            INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_homeowner_created ON claims(homeowner_id, created_at);

CREATE TABLE IF NOT EXISTS call_records (
	id               TEXT PRIMARY KEY,
	call_id          TEXT NOT NULL UNIQUE,
	homeowner_id     TEXT REFERENCES homeowners(id),
	caller_name      TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	issue            TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT '',
	intent           TEXT NOT NULL DEFAULT '',
	urgent           INTEGER NOT NULL DEFAULT 0,
	verified         INTEGER NOT NULL DEFAULT 0,
	match_confidence REAL,
	transcript       TEXT NOT NULL DEFAULT '',
	recording_url    TEXT NOT NULL DEFAULT '',
	event_type       TEXT NOT NULL DEFAULT '',
	claim_id         TEXT REFERENCES claims(id),
	notified_at      INTEGER,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_records_homeowner ON call_records(homeowner_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListHomeowners(ctx context.Context) ([]model.Homeowner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, phone, address, builder_name, created_at FROM homeowners ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list homeowners")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Homeowner
	for rows.Next() {
		h, err := scanHomeowner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list homeowners iterate")
}

func (s *SQLiteStore) GetHomeowner(ctx context.Context, id string) (*model.Homeowner, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, address, builder_name, created_at FROM homeowners WHERE id = ?`, id)
	h, err := scanHomeowner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "homeowner %s", id)
	}
	return h, err
}

func (s *SQLiteStore) UpsertHomeowners(ctx context.Context, homeowners []model.Homeowner) (int64, error) {
	if len(homeowners) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert homeowners: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO homeowners (id, name, email, phone, address, builder_name, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email, phone = excluded.phone,
		 address = excluded.address, builder_name = excluded.builder_name`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert homeowners: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, h := range prepareHomeowners(homeowners, time.Now().UTC()) {
		if _, err := stmt.ExecContext(ctx, h.ID, h.Name, h.Email, h.Phone, h.Address, h.BuilderName, h.CreatedAt.UnixNano()); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert homeowner %s", h.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert homeowners: commit")
	}
	return n, nil
}

func (s *SQLiteStore) NextClaimNumber(ctx context.Context, homeownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(claim_number), 0) + 1 FROM claims WHERE homeowner_id = ?`, homeownerID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: next claim number for %s", homeownerID)
	}
	return n, nil
}

func (s *SQLiteStore) CreateClaim(ctx context.Context, claim model.Claim) (*model.Claim, error) {
	return s.InsertClaimAt(ctx, claim, time.Now())
}

// InsertClaimAt stores a claim with an explicit creation time, for seeding
// claim history.
func (s *SQLiteStore) InsertClaimAt(ctx context.Context, claim model.Claim, createdAt time.Time) (*model.Claim, error) {
	prepareClaim(&claim, createdAt.UTC())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (id, homeowner_id, claim_number, status, description, homeowner_name, homeowner_email,
		 homeowner_address, builder_name, source, call_id, urgent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		claim.ID, claim.HomeownerID, claim.ClaimNumber, string(claim.Status), claim.Description,
		claim.HomeownerName, claim.HomeownerEmail, claim.HomeownerAddress, claim.BuilderName,
		claim.Source, claim.CallID, claim.Urgent, claim.CreatedAt.UnixNano(), claim.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert claim for %s", claim.HomeownerID)
	}
	return &claim, nil
}

func (s *SQLiteStore) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	var c model.Claim
	var status string
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, homeowner_id, claim_number, status, description, homeowner_name, homeowner_email,
		 homeowner_address, builder_name, source, call_id, urgent, created_at, updated_at FROM claims WHERE id = ?`, id,
	).Scan(&c.ID, &c.HomeownerID, &c.ClaimNumber, &status, &c.Description, &c.HomeownerName,
		&c.HomeownerEmail, &c.HomeownerAddress, &c.BuilderName, &c.Source, &c.CallID, &c.Urgent,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "claim %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get claim %s", id)
	}
	c.Status = model.ClaimStatus(status)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	return &c, nil
}

func (s *SQLiteStore) CountOpenClaimsSince(ctx context.Context, homeownerID string, since time.Time) (int, error) {
	statuses := openStatuses()
	args := make([]any, 0, len(statuses)+2)
	args = append(args, homeownerID)
	for _, st := range statuses {
		args = append(args, st)
	}
	args = append(args, since.UTC().UnixNano())

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM claims WHERE homeowner_id = ? AND status IN (`+placeholders+`) AND created_at >= ?`,
		args...,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count open claims for %s", homeownerID)
	}
	return n, nil
}

const sqliteCallRecordColumns = `id, call_id, homeowner_id, caller_name, phone, address, issue, summary, intent, urgent,
	verified, match_confidence, transcript, recording_url, event_type, claim_id, notified_at, created_at, updated_at`

func (s *SQLiteStore) UpsertCallRecord(ctx context.Context, rec model.CallRecord) (*model.CallRecord, error) {
	if rec.CallID == "" {
		return nil, eris.New("sqlite: upsert call record: empty call id")
	}
	now := time.Now().UTC().UnixNano()

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO call_records (id, call_id, homeowner_id, caller_name, phone, address, issue, summary,
		 intent, urgent, verified, match_confidence, transcript, recording_url, event_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (call_id) DO UPDATE SET
			homeowner_id     = COALESCE(excluded.homeowner_id, call_records.homeowner_id),
			caller_name      = COALESCE(NULLIF(excluded.caller_name, ''), call_records.caller_name),
			phone            = COALESCE(NULLIF(excluded.phone, ''), call_records.phone),
			address          = COALESCE(NULLIF(excluded.address, ''), call_records.address),
			issue            = COALESCE(NULLIF(excluded.issue, ''), call_records.issue),
			summary          = COALESCE(NULLIF(excluded.summary, ''), call_records.summary),
			intent           = COALESCE(NULLIF(excluded.intent, ''), call_records.intent),
			urgent           = (call_records.urgent OR excluded.urgent),
			verified         = (call_records.verified OR excluded.verified),
			match_confidence = COALESCE(excluded.match_confidence, call_records.match_confidence),
			transcript       = COALESCE(NULLIF(excluded.transcript, ''), call_records.transcript),
			recording_url    = COALESCE(NULLIF(excluded.recording_url, ''), call_records.recording_url),
			event_type       = COALESCE(NULLIF(excluded.event_type, ''), call_records.event_type),
			updated_at       = excluded.updated_at
		 RETURNING `+sqliteCallRecordColumns,
		uuid.New().String(), rec.CallID, rec.HomeownerID, rec.CallerName, rec.Phone, rec.Address,
		rec.Issue, rec.Summary, string(rec.Intent), rec.Urgent, rec.Verified, rec.MatchConfidence,
		rec.Transcript, rec.RecordingURL, rec.EventType, now, now,
	)
	out, err := scanSQLiteCallRecord(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert call record %s", rec.CallID)
	}
	return out, nil
}

func (s *SQLiteStore) GetCallRecord(ctx context.Context, callID string) (*model.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteCallRecordColumns+` FROM call_records WHERE call_id = ?`, callID)
	out, err := scanSQLiteCallRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "call record %s", callID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get call record %s", callID)
	}
	return out, nil
}

func (s *SQLiteStore) LinkClaim(ctx context.Context, callID, claimID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE call_records SET claim_id = COALESCE(claim_id, ?), updated_at = ? WHERE call_id = ?`,
		claimID, time.Now().UTC().UnixNano(), callID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: link claim to call %s", callID)
	}
	return checkRowsAffected(res, "call record", callID)
}

func (s *SQLiteStore) MarkNotified(ctx context.Context, callID string, at time.Time) (bool, error) {
	nanos := at.UTC().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`UPDATE call_records SET notified_at = ?, updated_at = ? WHERE call_id = ? AND notified_at IS NULL`,
		nanos, nanos, callID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark notified %s", callID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanHomeowner(row scannable) (*model.Homeowner, error) {
	var h model.Homeowner
	var created int64
	err := row.Scan(&h.ID, &h.Name, &h.Email, &h.Phone, &h.Address, &h.BuilderName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan homeowner")
	}
	h.CreatedAt = fromNanos(created)
	return &h, nil
}

func scanSQLiteCallRecord(row scannable) (*model.CallRecord, error) {
	var r model.CallRecord
	var intent string
	var homeownerID, claimID sql.NullString
	var confidence sql.NullFloat64
	var notified sql.NullInt64
	var created, updated int64

	err := row.Scan(
		&r.ID, &r.CallID, &homeownerID, &r.CallerName, &r.Phone, &r.Address, &r.Issue, &r.Summary,
		&intent, &r.Urgent, &r.Verified, &confidence, &r.Transcript, &r.RecordingURL,
		&r.EventType, &claimID, &notified, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	r.Intent = model.Intent(intent)
	if homeownerID.Valid {
		r.HomeownerID = &homeownerID.String
	}
	if claimID.Valid {
		r.ClaimID = &claimID.String
	}
	if confidence.Valid {
		r.MatchConfidence = &confidence.Float64
	}
	if notified.Valid {
		t := fromNanos(notified.Int64)
		r.NotifiedAt = &t
	}
	r.CreatedAt = fromNanos(created)
	r.UpdatedAt = fromNanos(updated)
	return &r, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
