package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/creditshare/internal/server/models"
)

func TestRequestLifecycle_ConcurrentMarkCompletedResolvesOnce(t *testing.T) {
	f := newCLRFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestReceived(ctx, receivedFrom("bank-b", "")))
	stored := f.repos.requests.all()[0]

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		status := models.RequestStatusDisclosed
		if i%2 == 1 {
			status = models.RequestStatusDeclined
		}
		req := stored
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.svc.MarkCompleted(ctx, &req, status)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	require.Len(t, f.binder.resolved, 1)
	final := f.repos.requests.all()[0].Status
	assert.Equal(t, final == models.RequestStatusDisclosed, f.binder.resolved[0].Outcome)
}

func TestRequestLifecycle_MarkCompletedUnknownRequest(t *testing.T) {
	f := newCLRFixture(t, nil)

	req := receivedFrom("bank-b", "")
	req.StaticID = "ghost"
	ok, err := f.svc.MarkCompleted(context.Background(), req, models.RequestStatusDeclined)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.binder.resolved)
}

func TestRequestLifecycle_RequestCompletedWhileRefreshingIsFiledAgain(t *testing.T) {
	f := newCLRFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestReceived(ctx, receivedFrom("bank-b", "first")))
	first := f.repos.requests.all()[0]

	// The pending request is declined between the lookup and the comment update.
	f.repos.requests.afterFind = func() {
		_, err := f.repos.requests.UpdatePending(ctx, first.StaticID, models.RequestPatch{Status: models.RequestStatusDeclined})
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.RequestReceived(ctx, receivedFrom("bank-b", "second")))

	stored := f.repos.requests.all()
	require.Len(t, stored, 2)
	assert.Equal(t, models.RequestStatusDeclined, stored[0].Status)
	assert.Equal(t, "first", stored[0].Comment)
	assert.Equal(t, models.RequestStatusPending, stored[1].Status)
	assert.Equal(t, "second", stored[1].Comment)
	assert.Len(t, f.binder.created, 2)
}

func TestRequestLifecycle_ClosePendingSentSkipsCompleted(t *testing.T) {
	f := newDLRFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, CreateDepositLoanRequests{Key: overnightDeposit, CompanyIDs: []string{"bank-b"}})
	require.NoError(t, err)
	require.NoError(t, f.svc.RequestDeclined(ctx, "bank-b", overnightDeposit))

	require.NoError(t, f.svc.ClosePendingSentRequests(ctx, "bank-b", overnightDeposit, true))

	assert.Equal(t, models.RequestStatusDeclined, f.repos.dlRequests.all()[0].Status)
}
