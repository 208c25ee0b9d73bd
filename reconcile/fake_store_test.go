package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"finance-sync-be/events"
	"finance-sync-be/models"
)

// memState is a copyable snapshot of everything the fake store holds.
type memState struct {
	accounts map[string]models.Account
	txns     map[string]models.Transaction
}

func (s memState) clone() memState {
	out := memState{
		accounts: make(map[string]models.Account, len(s.accounts)),
		txns:     make(map[string]models.Transaction, len(s.txns)),
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.txns {
		out.txns[k] = v
	}
	return out
}

// fakeStore is an in-memory Store with transaction and savepoint semantics.
type fakeStore struct {
	state memState

	commitErr    error
	savepointErr error
	adjustErr    map[string]error // by account id

	atomicCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: memState{
		accounts: map[string]models.Account{},
		txns:     map[string]models.Transaction{},
	}}
}

func (s *fakeStore) addAccount(id, userID string, balance int64) {
	s.state.accounts[id] = models.Account{ID: id, UserID: userID, Balance: decimal.NewFromInt(balance), Currency: "USD", IsActive: true}
}

func (s *fakeStore) addTransaction(t models.Transaction) {
	s.state.txns[t.ID] = t
}

func (s *fakeStore) balance(id string) decimal.Decimal {
	return s.state.accounts[id].Balance
}

func (s *fakeStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	s.atomicCalls++
	tx := &fakeTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	s.state = tx.state
	return nil
}

type fakeTx struct {
	store *fakeStore
	state memState
}

func (t *fakeTx) Isolate(fn func() error) (error, error) {
	if t.store.savepointErr != nil {
		return nil, t.store.savepointErr
	}
	snapshot := t.state.clone()
	if itemErr := fn(); itemErr != nil {
		t.state = snapshot
		return itemErr, nil
	}
	return nil, nil
}

func (t *fakeTx) AccountForUser(accountID, userID string) (*models.Account, error) {
	a, ok := t.state.accounts[accountID]
	if !ok || a.UserID != userID {
		return nil, nil
	}
	return &a, nil
}

func (t *fakeTx) TransactionsByExternalID(userID, externalID string) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, tr := range t.state.txns {
		if tr.UserID != userID {
			continue
		}
		if v, ok := tr.Metadata[models.ExternalIDKey].(string); ok && v == externalID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (t *fakeTx) CreateTransaction(tr *models.Transaction) error {
	if _, exists := t.state.txns[tr.ID]; exists {
		return fmt.Errorf("duplicate key value violates unique constraint: id %s", tr.ID)
	}
	t.state.txns[tr.ID] = *tr
	return nil
}

func (t *fakeTx) UpdateTransaction(tr *models.Transaction) error {
	if _, exists := t.state.txns[tr.ID]; !exists {
		return errors.New("no such transaction")
	}
	t.state.txns[tr.ID] = *tr
	return nil
}

func (t *fakeTx) AdjustBalance(accountID, userID string, delta decimal.Decimal, at time.Time) error {
	if err := t.store.adjustErr[accountID]; err != nil {
		return err
	}
	a, ok := t.state.accounts[accountID]
	if !ok || a.UserID != userID {
		return errors.New("account not found")
	}
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = at
	t.state.accounts[accountID] = a
	return nil
}

// recordingPublisher keeps every event it is given.
type recordingPublisher struct {
	events []events.BatchSynced
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.BatchSynced) error {
	p.events = append(p.events, e)
	return p.err
}
