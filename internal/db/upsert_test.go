package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var homeownerUpsert = UpsertConfig{
	Table:        "public.homeowners",
	Columns:      []string{"id", "name", "address"},
	ConflictKeys: []string{"id"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, homeownerUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "homeowners",
		ConflictKeys: []string{"id"},
	}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "homeowners",
		Columns: []string{"id", "name"},
	}, [][]any{{"a", "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_stage_public_homeowners" \(LIKE "public"\."homeowners"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_public_homeowners"}, homeownerUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("id"\) DO UPDATE SET "name" = EXCLUDED\."name", "address" = EXCLUDED\."address"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{{"ho-1", "Dana", "1 Main St"}, {"ho-2", "Sam", "2 Oak Ln"}}
	n, err := BulkUpsert(context.Background(), mock, homeownerUpsert, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_KeysOnlyDoesNothing(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{Table: "tags", Columns: []string{"id"}, ConflictKeys: []string{"id"}}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_tags"}, cfg.Columns).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("id"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	_, err = BulkUpsert(context.Background(), mock, cfg, [][]any{{"t1"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_public_homeowners"}, homeownerUpsert.Columns).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, homeownerUpsert, [][]any{{"ho-1", "Dana", "1 Main St"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into staging table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"homeowners"`, sanitizeTable("homeowners"))
	assert.Equal(t, `"public"."homeowners"`, sanitizeTable("public.homeowners"))
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "address"`, quoteAndJoin([]string{"id", "name", "address"}))
}
