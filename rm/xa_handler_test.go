package rm

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxytx/galaxytx/store"
)

type stubXARegistry struct {
	db  *sql.DB
	err error
}

func (r *stubXARegistry) DBFor(resourceID string) (*sql.DB, error) { return r.db, r.err }

func TestXAHandlerCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("XA COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	h := NewXAHandler(&stubXARegistry{db: db})
	branch := &store.BranchTransaction{XID: "x1", BranchID: 1, BranchType: "XA"}
	res := h.Dispatch(context.Background(), branch, OpCommit)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestXAHandlerRollbackRetryable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("XA ROLLBACK").WillReturnError(errors.New("connection reset"))

	h := NewXAHandler(&stubXARegistry{db: db})
	branch := &store.BranchTransaction{XID: "x1", BranchID: 1, BranchType: "XA"}
	res := h.Dispatch(context.Background(), branch, OpRollback)
	assert.Equal(t, StatusRetryableError, res.Status)
}

func TestXAHandlerResourceError(t *testing.T) {
	h := NewXAHandler(&stubXARegistry{err: errors.New("no such resource")})
	branch := &store.BranchTransaction{XID: "x1", BranchID: 1, BranchType: "XA"}
	res := h.Dispatch(context.Background(), branch, OpCommit)
	assert.Equal(t, StatusResourceError, res.Status)
}
