package persistence

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresIdempotencyChecker(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	query := regexp.QuoteMeta("FROM event_log.events")
	checker := NewPostgresIdempotencyChecker(db)

	mock.ExpectQuery(query).WithArgs("Supplied", "k1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	dup, err := checker.IsDuplicate("Supplied", "k1")
	require.NoError(t, err)
	assert.True(t, dup)

	mock.ExpectQuery(query).WithArgs("Supplied", "k2").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	dup, err = checker.IsDuplicate("Supplied", "k2")
	require.NoError(t, err)
	assert.False(t, dup)

	mock.ExpectQuery(query).WithArgs("Supplied", "k3").
		WillReturnError(errors.New("timeout"))
	_, err = checker.IsDuplicate("Supplied", "k3")
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
