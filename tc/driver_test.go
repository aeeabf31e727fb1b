package tc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxytx/galaxytx/rm"
	"github.com/galaxytx/galaxytx/store"
)

type fakeDriverStore struct {
	store.Store
	updated []store.BranchTransaction
}

func (s *fakeDriverStore) UpdateBranches(branches []store.BranchTransaction, fields []string) (int, error) {
	s.updated = append(s.updated, branches...)
	return len(branches), nil
}

type stubRMHandler struct {
	branchType string
	result     rm.CommunicationResult
}

func (h *stubRMHandler) BranchType() string { return h.branchType }
func (h *stubRMHandler) Dispatch(ctx context.Context, branch *store.BranchTransaction, op rm.Operation) rm.CommunicationResult {
	return h.result
}

func TestDriveAllAllSucceed(t *testing.T) {
	fs := &fakeDriverStore{}
	dispatcher := rm.NewDispatcher()
	dispatcher.Register(&stubRMHandler{branchType: "AT", result: rm.CommunicationResult{Status: rm.StatusSuccess}})

	d := NewPhaseTwoDriver(dispatcher, fs, nil)
	branches := []store.BranchTransaction{
		{XID: "x1", BranchID: 1, BranchType: "AT", Status: BranchStatusRegistered},
		{XID: "x1", BranchID: 2, BranchType: "AT", Status: BranchStatusRegistered},
	}
	allSucceeded, anyFailed, err := d.DriveAll(context.Background(), branches, rm.OpCommit)
	require.NoError(t, err)
	assert.True(t, allSucceeded)
	assert.False(t, anyFailed)
	require.Len(t, fs.updated, 2)
	for _, b := range fs.updated {
		assert.Equal(t, BranchStatusPhaseTwoCommitted, b.Status)
	}
}

func TestDriveAllSkipsAlreadyTerminal(t *testing.T) {
	fs := &fakeDriverStore{}
	dispatcher := rm.NewDispatcher()
	dispatcher.Register(&stubRMHandler{branchType: "AT", result: rm.CommunicationResult{Status: rm.StatusSuccess}})

	d := NewPhaseTwoDriver(dispatcher, fs, nil)
	branches := []store.BranchTransaction{
		{XID: "x1", BranchID: 1, BranchType: "AT", Status: BranchStatusPhaseTwoCommitted},
	}
	allSucceeded, anyFailed, err := d.DriveAll(context.Background(), branches, rm.OpCommit)
	require.NoError(t, err)
	assert.True(t, allSucceeded)
	assert.False(t, anyFailed)
}

func TestDriveAllPermanentFailureGoesTerminal(t *testing.T) {
	fs := &fakeDriverStore{}
	dispatcher := rm.NewDispatcher()
	dispatcher.SetPolicy("AT", rm.RetryPolicy{MaxAttempts: 1})
	dispatcher.Register(&stubRMHandler{branchType: "AT", result: rm.CommunicationResult{Status: rm.StatusNonRetryableError}})

	d := NewPhaseTwoDriver(dispatcher, fs, nil)
	branches := []store.BranchTransaction{
		{XID: "x1", BranchID: 1, BranchType: "AT", Status: BranchStatusRegistered},
	}
	allSucceeded, anyFailed, err := d.DriveAll(context.Background(), branches, rm.OpCommit)
	assert.False(t, allSucceeded)
	assert.True(t, anyFailed)
	assert.Error(t, err)
	require.Len(t, fs.updated, 1)
	assert.Equal(t, BranchStatusPhaseTwoCommitFailed, fs.updated[0].Status)
}

func TestDriveAllPermanentFailureRollbackGoesTerminal(t *testing.T) {
	fs := &fakeDriverStore{}
	dispatcher := rm.NewDispatcher()
	dispatcher.SetPolicy("AT", rm.RetryPolicy{MaxAttempts: 1})
	dispatcher.Register(&stubRMHandler{branchType: "AT", result: rm.CommunicationResult{Status: rm.StatusNonRetryableError}})

	d := NewPhaseTwoDriver(dispatcher, fs, nil)
	branches := []store.BranchTransaction{
		{XID: "x1", BranchID: 1, BranchType: "AT", Status: BranchStatusRegistered},
	}
	allSucceeded, anyFailed, err := d.DriveAll(context.Background(), branches, rm.OpRollback)
	assert.False(t, allSucceeded)
	assert.True(t, anyFailed)
	assert.Error(t, err)
	require.Len(t, fs.updated, 1)
	assert.Equal(t, BranchStatusPhaseTwoRollbackFailed, fs.updated[0].Status)
}
