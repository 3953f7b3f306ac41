package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/creditshare/internal/common"
	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	"github.com/dmitrijs2005/creditshare/internal/server/share"
)

type clFixture struct {
	*clrFixture
	mock sqlmock.Sqlmock
	svc  *CreditLineService
}

func newCLFixture(t *testing.T) *clFixture {
	t.Helper()
	db, mock := newSQLMockDB(t)
	base := newCLRFixture(t, nil)
	engine := share.NewEngine[models.SharedCreditLine, models.CreditLine, CreditLineProjection, models.CreditLineRequest](
		NewCreditLineShareDomain(base.svc), base.sender, logging.NewDiscardLogger(), nil)
	return &clFixture{
		clrFixture: base,
		mock:       mock,
		svc:        NewCreditLineService(db, base.repos, engine, base.svc, logging.NewDiscardLogger()),
	}
}

func saveRequest() SaveCreditLine {
	line := riskCoverLine()
	line.StaticID = ""
	line.CreditLimit = nil
	return SaveCreditLine{
		Line: *line,
		Shared: []models.SharedCreditLine{{
			SharedWithStaticID: "bank-b",
			Data: models.CreditLineSharedData{
				Appetite:           models.SharedFlag{Shared: true},
				Availability:       models.SharedFlag{Shared: true},
				AvailabilityAmount: models.SharedFlag{Shared: true},
			},
		}},
	}
}

func (f *clFixture) create(t *testing.T, in SaveCreditLine) string {
	t.Helper()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	id, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	f.sender.sent = nil
	return id
}

func TestCreditLineService_CreateShares(t *testing.T) {
	f := newCLFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	id, err := f.svc.Create(context.Background(), saveRequest())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	shared, err := f.repos.shared.FindByCreditLine(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, "cp-1", shared[0].CounterpartyStaticID)

	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, messaging.ShareCreditLine, msg.Type)
	assert.Equal(t, "bank-b", msg.Recipient)
	assert.Equal(t, shared[0].StaticID, msg.Env.StaticID)
	assert.JSONEq(t, `{
		"context":{"productId":"tradeFinance","subProductId":"rd"},
		"counterpartyStaticId":"cp-1",
		"data":{"appetite":true,"currency":"EUR","availability":true,"availabilityAmount":1000}
	}`, string(msg.Env.Payload))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreditLineService_CreateNotSharedSendsNothing(t *testing.T) {
	f := newCLFixture(t)
	in := saveRequest()
	in.Shared[0].Data.Appetite.Shared = false

	f.create(t, in)
	assert.Empty(t, f.sender.sent)
}

func TestCreditLineService_CreateWithoutAppetite(t *testing.T) {
	f := newCLFixture(t)
	in := saveRequest()
	in.Line.Appetite = false
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	_, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, map[string]any{"appetite": false}, payloadOf(t, f.sender.sent[0].Env)["data"])
}

func TestCreditLineService_CreateAnswersAndDeclinesRequests(t *testing.T) {
	f := newCLFixture(t)
	ctx := context.Background()
	require.NoError(t, f.clrFixture.svc.RequestReceived(ctx, receivedFrom("bank-b", "")))
	require.NoError(t, f.clrFixture.svc.RequestReceived(ctx, receivedFrom("bank-c", "")))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err := f.svc.Create(ctx, saveRequest())
	require.NoError(t, err)

	status := map[string]models.RequestStatus{}
	for _, r := range f.repos.requests.all() {
		status[r.CompanyStaticID] = r.Status
	}
	assert.Equal(t, models.RequestStatusDisclosed, status["bank-b"])
	assert.Equal(t, models.RequestStatusDeclined, status["bank-c"])

	msgs := f.sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, messaging.ShareCreditLine, msgs[0].Type)
	assert.Equal(t, messaging.CreditLineRequestDeclined, msgs[1].Type)
	assert.Equal(t, "bank-c", msgs[1].Recipient)
}

func TestCreditLineService_CreateDuplicateKey(t *testing.T) {
	f := newCLFixture(t)
	f.create(t, saveRequest())

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Create(context.Background(), saveRequest())
	require.ErrorIs(t, err, common.ErrorAlreadyExists)
	assert.Empty(t, f.sender.sent)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreditLineService_CreateValidation(t *testing.T) {
	f := newCLFixture(t)
	in := saveRequest()
	in.Line.CounterpartyStaticID = ""
	in.Shared = append(in.Shared, in.Shared[0])

	_, err := f.svc.Create(context.Background(), in)
	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "counterpartyStaticId")
	require.NoError(t, f.mock.ExpectationsWereMet(), "no transaction is started")
}

func TestCreditLineService_UpdateChangedDataIsShared(t *testing.T) {
	f := newCLFixture(t)
	id := f.create(t, saveRequest())
	shared, _ := f.repos.shared.FindByCreditLine(context.Background(), id)

	in := saveRequest()
	in.Line.AvailabilityAmount = ptr(2000.0)
	in.Line.Currency = models.CurrencyUSD
	in.Shared[0].StaticID = shared[0].StaticID

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.Update(context.Background(), id, in))

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, messaging.ShareCreditLine, f.sender.sent[0].Type)
	data := payloadOf(t, f.sender.sent[0].Env)["data"].(map[string]any)
	assert.Equal(t, 2000.0, data["availabilityAmount"])
	assert.Equal(t, "USD", data["currency"])
}

func TestCreditLineService_UpdateUnchangedSendsNothing(t *testing.T) {
	f := newCLFixture(t)
	id := f.create(t, saveRequest())
	shared, _ := f.repos.shared.FindByCreditLine(context.Background(), id)

	in := saveRequest()
	in.Line.CreditLimit = ptr(9.0) // not shared with bank-b
	in.Shared[0].StaticID = shared[0].StaticID

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.Update(context.Background(), id, in))
	assert.Empty(t, f.sender.sent)
}

func TestCreditLineService_UpdateUnsharedRevokes(t *testing.T) {
	f := newCLFixture(t)
	id := f.create(t, saveRequest())
	shared, _ := f.repos.shared.FindByCreditLine(context.Background(), id)

	in := saveRequest()
	in.Shared[0].StaticID = shared[0].StaticID
	in.Shared[0].Data.Appetite.Shared = false

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.Update(context.Background(), id, in))

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, messaging.RevokeCreditLine, f.sender.sent[0].Type)
	assert.Equal(t, "bank-b", f.sender.sent[0].Recipient)
	assert.NotContains(t, payloadOf(t, f.sender.sent[0].Env), "data")
}

func TestCreditLineService_UpdateReplacedSharedRecord(t *testing.T) {
	f := newCLFixture(t)
	id := f.create(t, saveRequest())

	// The shared entry comes without its id: the old record is removed and
	// revoked, a fresh one is created and shared.
	in := saveRequest()
	in.Line.Appetite = false

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.Update(context.Background(), id, in))

	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, messaging.RevokeCreditLine, f.sender.sent[0].Type)
	assert.Equal(t, messaging.ShareCreditLine, f.sender.sent[1].Type)
	assert.Equal(t, map[string]any{"appetite": false}, payloadOf(t, f.sender.sent[1].Env)["data"])

	shared, _ := f.repos.shared.FindByCreditLine(context.Background(), id)
	assert.Len(t, shared, 1)
}

func TestCreditLineService_UpdateKeepsKey(t *testing.T) {
	f := newCLFixture(t)
	id := f.create(t, saveRequest())

	in := saveRequest()
	in.Line.CounterpartyStaticID = "cp-other"
	in.Shared = nil

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.Update(context.Background(), id, in))

	line, err := f.repos.lines.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "cp-1", line.CounterpartyStaticID)
}

func TestCreditLineService_UpdateNotFound(t *testing.T) {
	f := newCLFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	err := f.svc.Update(context.Background(), "missing", saveRequest())
	require.ErrorIs(t, err, common.ErrorNotFound)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreditLineService_DeleteRevokes(t *testing.T) {
	f := newCLFixture(t)
	id := f.create(t, saveRequest())
	ctx := context.Background()
	require.NoError(t, f.clrFixture.svc.RequestReceived(ctx, receivedFrom("bank-c", "")))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.Delete(ctx, id))

	_, err := f.repos.lines.Get(ctx, id)
	require.ErrorIs(t, err, common.ErrorNotFound)
	shared, _ := f.repos.shared.FindByCreditLine(ctx, id)
	assert.Empty(t, shared)

	msgs := f.sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, messaging.RevokeCreditLine, msgs[0].Type)
	assert.Equal(t, "bank-b", msgs[0].Recipient)
	assert.JSONEq(t, `{"context":{"productId":"tradeFinance","subProductId":"rd"},"counterpartyStaticId":"cp-1"}`, string(msgs[0].Env.Payload))
	assert.Equal(t, messaging.CreditLineRequestDeclined, msgs[1].Type)
}

func TestCreditLineService_PublishFailureAfterCommit(t *testing.T) {
	f := newCLFixture(t)
	f.sender.err = errBoom
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	id, err := f.svc.Create(context.Background(), saveRequest())
	require.Error(t, err)
	assert.True(t, messaging.IsMessageSendingError(err))
	assert.NotEmpty(t, id, "the credit line is stored")
	_, getErr := f.repos.lines.Get(context.Background(), id)
	require.NoError(t, getErr)
}
