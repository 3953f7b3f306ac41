package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/creditshare/internal/common"
	"github.com/dmitrijs2005/creditshare/internal/dbx"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	clrepo "github.com/dmitrijs2005/creditshare/internal/server/repositories/creditlines"
	dlrepo "github.com/dmitrijs2005/creditshare/internal/server/repositories/depositloans"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/creditshare/internal/server/tasks"
)

var errBoom = errors.New("boom")

// -------- in-memory store --------

type memStore[T any] struct {
	mu    sync.Mutex
	items map[string]T
	order []string
}

func newMemStore[T any]() *memStore[T] {
	return &memStore[T]{items: map[string]T{}}
}

func (m *memStore[T]) put(id string, v T) {
	if _, ok := m.items[id]; !ok {
		m.order = append(m.order, id)
	}
	m.items[id] = v
}

func (m *memStore[T]) del(id string) {
	delete(m.items, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *memStore[T]) each(fn func(T)) {
	for _, id := range m.order {
		fn(m.items[id])
	}
}

// -------- credit line repositories --------

type memCreditLines struct {
	clrepo.Repository
	s       *memStore[models.CreditLine]
	findErr error
}

func (r *memCreditLines) Create(ctx context.Context, l *models.CreditLine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.put(l.StaticID, *l)
	return nil
}

func (r *memCreditLines) Update(ctx context.Context, l *models.CreditLine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[l.StaticID]; !ok {
		return common.ErrorNotFound
	}
	r.s.put(l.StaticID, *l)
	return nil
}

func (r *memCreditLines) Get(ctx context.Context, id string) (*models.CreditLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.items[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &l, nil
}

func (r *memCreditLines) FindByKey(ctx context.Context, key models.CreditLineKey) (*models.CreditLine, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *models.CreditLine
	r.s.each(func(l models.CreditLine) {
		if l.Key() == key {
			found = &l
		}
	})
	return found, nil
}

func (r *memCreditLines) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.del(id)
	return nil
}

type memSharedCreditLines struct {
	clrepo.SharedRepository
	s *memStore[models.SharedCreditLine]
}

func (r *memSharedCreditLines) Create(ctx context.Context, sh *models.SharedCreditLine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, v := range r.s.items {
		if v.CreditLineStaticID == sh.CreditLineStaticID && v.SharedWithStaticID == sh.SharedWithStaticID {
			return common.ErrorAlreadyExists
		}
	}
	r.s.put(sh.StaticID, *sh)
	return nil
}

func (r *memSharedCreditLines) Update(ctx context.Context, sh *models.SharedCreditLine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.put(sh.StaticID, *sh)
	return nil
}

func (r *memSharedCreditLines) FindByCreditLine(ctx context.Context, id string) ([]*models.SharedCreditLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.SharedCreditLine
	r.s.each(func(v models.SharedCreditLine) {
		if v.CreditLineStaticID == id {
			out = append(out, &v)
		}
	})
	return out, nil
}

func (r *memSharedCreditLines) FindForCompany(ctx context.Context, id, with string) (*models.SharedCreditLine, error) {
	all, _ := r.FindByCreditLine(ctx, id)
	for _, v := range all {
		if v.SharedWithStaticID == with {
			return v, nil
		}
	}
	return nil, nil
}

func (r *memSharedCreditLines) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.del(id)
	return nil
}

type memCreditLineRequests struct {
	clrepo.RequestRepository
	s         *memStore[models.CreditLineRequest]
	createErr error
	// afterFind runs once after the next FindPending, to simulate a racing writer.
	afterFind func()
}

func (r *memCreditLineRequests) Create(ctx context.Context, req *models.CreditLineRequest) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if slot := clrepo.RequestDedupKey(req); slot != "" {
		for _, v := range r.s.items {
			if clrepo.RequestDedupKey(&v) == slot {
				return common.ErrorAlreadyExists
			}
		}
	}
	r.s.put(req.StaticID, *req)
	return nil
}

func (r *memCreditLineRequests) UpdatePending(ctx context.Context, id string, patch models.RequestPatch) (*models.CreditLineRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.items[id]
	if !ok || !applyPatch(&v.Request, patch) {
		return nil, common.ErrorNotFound
	}
	r.s.put(id, v)
	return &v, nil
}

func (r *memCreditLineRequests) FindPending(ctx context.Context, t models.RequestType, company string, key models.CreditLineKey) ([]*models.CreditLineRequest, error) {
	r.s.mu.Lock()
	var out []*models.CreditLineRequest
	r.s.each(func(v models.CreditLineRequest) {
		if v.RequestType == t && v.Status == models.RequestStatusPending && v.Key() == key && (company == "" || v.CompanyStaticID == company) {
			out = append(out, &v)
		}
	})
	hook := r.afterFind
	r.afterFind = nil
	r.s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (r *memCreditLineRequests) all() []models.CreditLineRequest {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.CreditLineRequest
	r.s.each(func(v models.CreditLineRequest) { out = append(out, v) })
	return out
}

// applyPatch mirrors the guarded update of the request repositories.
func applyPatch(req *models.Request, patch models.RequestPatch) bool {
	if req.Status != models.RequestStatusPending {
		return false
	}
	if patch.Status != "" {
		req.Status = patch.Status
	}
	if patch.Comment != nil {
		req.Comment = *patch.Comment
	}
	req.UpdatedAt = patch.UpdatedAt
	return true
}

// -------- deposit/loan repositories --------

type memDepositLoans struct {
	dlrepo.Repository
	s *memStore[models.DepositLoan]
}

func (r *memDepositLoans) Create(ctx context.Context, d *models.DepositLoan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.put(d.StaticID, *d)
	return nil
}

func (r *memDepositLoans) Update(ctx context.Context, d *models.DepositLoan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[d.StaticID]; !ok {
		return common.ErrorNotFound
	}
	r.s.put(d.StaticID, *d)
	return nil
}

func (r *memDepositLoans) Get(ctx context.Context, id string) (*models.DepositLoan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.items[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &v, nil
}

func (r *memDepositLoans) FindByKey(ctx context.Context, key models.DepositLoanKey) (*models.DepositLoan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *models.DepositLoan
	r.s.each(func(v models.DepositLoan) {
		if dlrepo.KeyString(v.DepositLoanKey) == dlrepo.KeyString(key) {
			found = &v
		}
	})
	return found, nil
}

func (r *memDepositLoans) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.del(id)
	return nil
}

type memSharedDepositLoans struct {
	dlrepo.SharedRepository
	s *memStore[models.SharedDepositLoan]
}

func (r *memSharedDepositLoans) Create(ctx context.Context, sh *models.SharedDepositLoan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.put(sh.StaticID, *sh)
	return nil
}

func (r *memSharedDepositLoans) Update(ctx context.Context, sh *models.SharedDepositLoan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.put(sh.StaticID, *sh)
	return nil
}

func (r *memSharedDepositLoans) FindByDepositLoan(ctx context.Context, id string) ([]*models.SharedDepositLoan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.SharedDepositLoan
	r.s.each(func(v models.SharedDepositLoan) {
		if v.DepositLoanStaticID == id {
			out = append(out, &v)
		}
	})
	return out, nil
}

func (r *memSharedDepositLoans) FindForCompany(ctx context.Context, id, with string) (*models.SharedDepositLoan, error) {
	all, _ := r.FindByDepositLoan(ctx, id)
	for _, v := range all {
		if v.SharedWithStaticID == with {
			return v, nil
		}
	}
	return nil, nil
}

func (r *memSharedDepositLoans) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.del(id)
	return nil
}

type memDepositLoanRequests struct {
	dlrepo.RequestRepository
	s *memStore[models.DepositLoanRequest]
}

func (r *memDepositLoanRequests) Create(ctx context.Context, req *models.DepositLoanRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if slot := dlrepo.RequestDedupKey(req); slot != "" {
		for _, v := range r.s.items {
			if dlrepo.RequestDedupKey(&v) == slot {
				return common.ErrorAlreadyExists
			}
		}
	}
	r.s.put(req.StaticID, *req)
	return nil
}

func (r *memDepositLoanRequests) UpdatePending(ctx context.Context, id string, patch models.RequestPatch) (*models.DepositLoanRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.items[id]
	if !ok || !applyPatch(&v.Request, patch) {
		return nil, common.ErrorNotFound
	}
	r.s.put(id, v)
	return &v, nil
}

func (r *memDepositLoanRequests) FindPending(ctx context.Context, t models.RequestType, company string, key models.DepositLoanKey) ([]*models.DepositLoanRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.DepositLoanRequest
	r.s.each(func(v models.DepositLoanRequest) {
		if v.RequestType == t && v.Status == models.RequestStatusPending &&
			dlrepo.KeyString(v.DepositLoanKey) == dlrepo.KeyString(key) &&
			(company == "" || v.CompanyStaticID == company) {
			out = append(out, &v)
		}
	})
	return out, nil
}

func (r *memDepositLoanRequests) all() []models.DepositLoanRequest {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.DepositLoanRequest
	r.s.each(func(v models.DepositLoanRequest) { out = append(out, v) })
	return out
}

// -------- repository manager --------

type fakeRepoManager struct {
	repomanager.RepositoryManager
	lines      *memCreditLines
	shared     *memSharedCreditLines
	requests   *memCreditLineRequests
	dls        *memDepositLoans
	sharedDLs  *memSharedDepositLoans
	dlRequests *memDepositLoanRequests
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		lines:      &memCreditLines{s: newMemStore[models.CreditLine]()},
		shared:     &memSharedCreditLines{s: newMemStore[models.SharedCreditLine]()},
		requests:   &memCreditLineRequests{s: newMemStore[models.CreditLineRequest]()},
		dls:        &memDepositLoans{s: newMemStore[models.DepositLoan]()},
		sharedDLs:  &memSharedDepositLoans{s: newMemStore[models.SharedDepositLoan]()},
		dlRequests: &memDepositLoanRequests{s: newMemStore[models.DepositLoanRequest]()},
	}
}

func (m *fakeRepoManager) CreditLines(db dbx.DBTX) clrepo.Repository             { return m.lines }
func (m *fakeRepoManager) SharedCreditLines(db dbx.DBTX) clrepo.SharedRepository { return m.shared }
func (m *fakeRepoManager) CreditLineRequests(db dbx.DBTX) clrepo.RequestRepository {
	return m.requests
}
func (m *fakeRepoManager) DepositLoans(db dbx.DBTX) dlrepo.Repository             { return m.dls }
func (m *fakeRepoManager) SharedDepositLoans(db dbx.DBTX) dlrepo.SharedRepository { return m.sharedDLs }
func (m *fakeRepoManager) DepositLoanRequests(db dbx.DBTX) dlrepo.RequestRepository {
	return m.dlRequests
}

// -------- collaborators --------

type sentMessage struct {
	Type      messaging.MessageType
	Recipient string
	Env       messaging.Envelope
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *fakeSender) Send(ctx context.Context, messageType messaging.MessageType, recipientID string, env messaging.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return &messaging.MessageSendingError{MessageType: messageType, Recipient: recipientID, Err: s.err}
	}
	s.sent = append(s.sent, sentMessage{Type: messageType, Recipient: recipientID, Env: env})
	return nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]sentMessage(nil), s.sent...)
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out
}

type resolved struct {
	TaskType tasks.TaskType
	Context  tasks.Context
	Outcome  bool
}

type fakeBinder struct {
	mu            sync.Mutex
	created       []tasks.ReviewRequest
	disclosed     []bool
	resolved      []resolved
	notifications []tasks.Notification
}

func (b *fakeBinder) CreateTask(ctx context.Context, r tasks.ReviewRequest, alreadyDisclosed bool) tasks.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, r)
	b.disclosed = append(b.disclosed, alreadyDisclosed)
	return tasks.Task{TaskType: r.TaskType, Context: r.Context}
}

func (b *fakeBinder) ResolveTask(ctx context.Context, taskType tasks.TaskType, taskCtx tasks.Context, outcome bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolved = append(b.resolved, resolved{TaskType: taskType, Context: taskCtx, Outcome: outcome})
}

func (b *fakeBinder) Notify(ctx context.Context, n tasks.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, n)
}

type fakeDirectory struct {
	companies map[string]*models.Company
	err       error
}

func (d *fakeDirectory) GetCompanyByStaticID(ctx context.Context, id string) (*models.Company, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.companies[id], nil
}

func newDirectory(companies ...*models.Company) *fakeDirectory {
	d := &fakeDirectory{companies: map[string]*models.Company{}}
	for _, c := range companies {
		d.companies[c.StaticID] = c
	}
	return d
}

// -------- helpers --------

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func payloadOf(t *testing.T, env messaging.Envelope) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &out))
	return out
}

func ptr[T any](v T) *T { return &v }
