package database

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateAddsOnlyMissingColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range schema {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	check := regexp.QuoteMeta("FROM information_schema.COLUMNS")
	mock.ExpectQuery(check).WithArgs("refresh_tokens", "revoked_at").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE refresh_tokens ADD COLUMN revoked_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for _, c := range added[1:] {
		mock.ExpectQuery(check).WithArgs(c.table, c.name).
			WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	}

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
