package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"finance-sync-be/config"
	"finance-sync-be/models"
	"finance-sync-be/reconcile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Connect(config.Config{
		DBDriver:    config.DriverSQLite,
		DatabaseURL: filepath.Join(t.TempDir(), "finance.db"),
		AutoMigrate: true,
		DBLogLevel:  "silent",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewStore(db)
}

func seedAccount(t *testing.T, s *Store, id, userID string, balance int64) {
	t.Helper()
	err := s.CreateAccount(context.Background(), &models.Account{
		ID: id, UserID: userID, Name: id, Balance: decimal.NewFromInt(balance), Currency: "USD", IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
}

func newTx(id, accountID, userID string, amount int64, externalID string) *models.Transaction {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	tr := &models.Transaction{
		ID:              id,
		AccountID:       accountID,
		UserID:          userID,
		TransactionDate: now,
		Description:     "Lunch",
		Amount:          decimal.NewFromInt(amount),
		TransactionType: "debit",
		Tags:            []string{"food"},
		Metadata:        map[string]interface{}{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if externalID != "" {
		tr.Metadata[models.ExternalIDKey] = externalID
	}
	return tr
}

func countTransactions(t *testing.T, s *Store) int64 {
	t.Helper()
	var n int64
	if err := s.DB().Model(&models.Transaction{}).Count(&n).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func balanceOf(t *testing.T, s *Store, id, userID string) decimal.Decimal {
	t.Helper()
	a, err := s.GetAccount(context.Background(), userID, id)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	return a.Balance
}

func TestStore_AtomicRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acc-1", "u1", 100)
	boom := errors.New("boom")

	err := s.Atomic(context.Background(), func(tx reconcile.Tx) error {
		if err := tx.CreateTransaction(newTx("t1", "acc-1", "u1", 50, "")); err != nil {
			return err
		}
		if err := tx.AdjustBalance("acc-1", "u1", decimal.NewFromInt(50), time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if n := countTransactions(t, s); n != 0 {
		t.Errorf("%d transactions survived a rollback", n)
	}
	if got := balanceOf(t, s, "acc-1", "u1"); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance = %s after rollback, want 100", got)
	}
}

func TestStore_AtomicCommits(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acc-1", "u1", 100)

	err := s.Atomic(context.Background(), func(tx reconcile.Tx) error {
		if err := tx.CreateTransaction(newTx("t1", "acc-1", "u1", 50, "")); err != nil {
			return err
		}
		return tx.AdjustBalance("acc-1", "u1", decimal.NewFromInt(50), time.Now())
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}
	if got := balanceOf(t, s, "acc-1", "u1"); !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("balance = %s, want 150", got)
	}
}

func TestBatchTx_IsolateDiscardsFailedItemOnly(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acc-1", "u1", 0)
	itemFailure := errors.New("item failed")

	err := s.Atomic(context.Background(), func(tx reconcile.Tx) error {
		itemErr, err := tx.Isolate(func() error {
			return tx.CreateTransaction(newTx("kept", "acc-1", "u1", 1, ""))
		})
		if err != nil || itemErr != nil {
			t.Fatalf("first item: itemErr=%v err=%v", itemErr, err)
		}

		itemErr, err = tx.Isolate(func() error {
			if err := tx.CreateTransaction(newTx("dropped", "acc-1", "u1", 2, "")); err != nil {
				return err
			}
			return itemFailure
		})
		if err != nil {
			t.Fatalf("isolation broke: %v", err)
		}
		if !errors.Is(itemErr, itemFailure) {
			t.Fatalf("itemErr = %v, want %v", itemErr, itemFailure)
		}

		// A constraint violation must not poison the surrounding transaction.
		itemErr, err = tx.Isolate(func() error {
			return tx.CreateTransaction(newTx("kept", "acc-1", "u1", 3, ""))
		})
		if err != nil || itemErr == nil {
			t.Fatalf("duplicate id: itemErr=%v err=%v", itemErr, err)
		}

		_, err = tx.Isolate(func() error {
			return tx.CreateTransaction(newTx("after", "acc-1", "u1", 4, ""))
		})
		return err
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}

	for id, want := range map[string]bool{"kept": true, "dropped": false, "after": true} {
		_, err := s.GetTransaction(context.Background(), "u1", id)
		if got := err == nil; got != want {
			t.Errorf("transaction %s present=%v, want %v (err=%v)", id, got, want, err)
		}
	}
}

func TestBatchTx_AccountForUser(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acc-1", "u1", 10)

	err := s.Atomic(context.Background(), func(tx reconcile.Tx) error {
		own, err := tx.AccountForUser("acc-1", "u1")
		if err != nil || own == nil || !own.Balance.Equal(decimal.NewFromInt(10)) {
			t.Errorf("own account: %+v, %v", own, err)
		}
		foreign, err := tx.AccountForUser("acc-1", "u2")
		if err != nil || foreign != nil {
			t.Errorf("foreign account must be invisible: %+v, %v", foreign, err)
		}
		missing, err := tx.AccountForUser("nope", "u1")
		if err != nil || missing != nil {
			t.Errorf("missing account: %+v, %v", missing, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}
}

// seedLegacyExternalID stamps external_id into metadata only, the way rows
// written before the external_id column existed look.
func seedLegacyExternalID(t *testing.T, s *Store, externalID string, ids ...string) {
	t.Helper()
	err := s.DB().Model(&models.Transaction{}).
		Where("id IN ?", ids).
		Update("metadata", datatypes.JSONMap{models.ExternalIDKey: externalID}).Error
	if err != nil {
		t.Fatalf("seed legacy metadata failed: %v", err)
	}
}

func TestBatchTx_TransactionsByExternalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "acc-1", "u1", 0)
	seedAccount(t, s, "acc-2", "u2", 0)

	for _, tr := range []*models.Transaction{
		newTx("a", "acc-1", "u1", 1, "ext-1"),
		newTx("b", "acc-2", "u2", 1, "ext-1"),
		newTx("c", "acc-1", "u1", 1, ""),
		newTx("d", "acc-1", "u1", 1, ""),
		newTx("e", "acc-1", "u1", 1, ""),
		newTx("f", "acc-1", "u1", 1, ""),
	} {
		if err := s.DB().Create(tr).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	seedLegacyExternalID(t, s, "ext-2", "c", "d", "e")

	err := s.Atomic(ctx, func(tx reconcile.Tx) error {
		one, err := tx.TransactionsByExternalID("u1", "ext-1")
		if err != nil || len(one) != 1 || one[0].ID != "a" {
			t.Errorf("ext-1 for u1: %v, %v", one, err)
		}
		many, err := tx.TransactionsByExternalID("u1", "ext-2")
		if err != nil || len(many) != 2 {
			t.Errorf("ext-2 should stop after two matches: %d, %v", len(many), err)
		}
		none, err := tx.TransactionsByExternalID("u2", "ext-2")
		if err != nil || len(none) != 0 {
			t.Errorf("ext-2 for u2: %v, %v", none, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}
}

func TestStore_ExternalIDUniquePerUser(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acc-1", "u1", 0)
	seedAccount(t, s, "acc-2", "u1", 0)
	seedAccount(t, s, "acc-3", "u2", 0)

	first := newTx("t1", "acc-1", "u1", 1, "dup")
	if err := s.DB().Create(first).Error; err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if first.ExternalID == nil || *first.ExternalID != "dup" {
		t.Errorf("external_id column not derived from metadata: %v", first.ExternalID)
	}

	// Another account does not help: the key is scoped to the user.
	if err := s.DB().Create(newTx("t2", "acc-2", "u1", 1, "dup")).Error; err == nil {
		t.Error("second insert with the same external_id must fail")
	}
	if err := s.DB().Create(newTx("t3", "acc-3", "u2", 1, "dup")).Error; err != nil {
		t.Errorf("another user may reuse the external_id: %v", err)
	}
	for _, id := range []string{"t4", "t5"} {
		if err := s.DB().Create(newTx(id, "acc-1", "u1", 1, "")).Error; err != nil {
			t.Errorf("rows without external_id must not collide: %v", err)
		}
	}
	if n := countTransactions(t, s); n != 4 {
		t.Errorf("stored %d transactions, want 4", n)
	}
}

func TestBatchTx_AdjustBalanceKeepsCents(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acc-1", "u1", 0)

	err := s.Atomic(context.Background(), func(tx reconcile.Tx) error {
		for _, amount := range []string{"0.10", "0.20", "0.07", "-0.02"} {
			if err := tx.AdjustBalance("acc-1", "u1", decimal.RequireFromString(amount), time.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}
	if got := balanceOf(t, s, "acc-1", "u1"); !got.Equal(decimal.RequireFromString("0.35")) {
		t.Errorf("balance = %s, want 0.35", got)
	}
}

func TestBatchTx_UpdateTransaction(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acc-1", "u1", 0)
	seedAccount(t, s, "acc-2", "u1", 0)
	original := newTx("t1", "acc-1", "u1", 5, "ext-1")

	err := s.Atomic(context.Background(), func(tx reconcile.Tx) error {
		if err := tx.CreateTransaction(original); err != nil {
			return err
		}
		category := "Travel"
		edited := newTx("t1", "acc-2", "u1", 7, "ext-1")
		edited.Description = "Train"
		edited.Category = &category
		edited.Pending = true
		edited.Tags = []string{"trip", "work"}
		edited.CreatedAt = time.Now() // must be ignored
		edited.UpdatedAt = time.Now()
		return tx.UpdateTransaction(edited)
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}

	got, err := s.GetTransaction(context.Background(), "u1", "t1")
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if got.AccountID != "acc-2" || got.Description != "Train" || !got.Amount.Equal(decimal.NewFromInt(7)) ||
		got.Category == nil || *got.Category != "Travel" || !got.Pending || len(got.Tags) != 2 {
		t.Errorf("fields not updated: %+v", got)
	}
	if !got.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("created_at changed from %v to %v", original.CreatedAt, got.CreatedAt)
	}
	if got.Metadata[models.ExternalIDKey] != "ext-1" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if got.ExternalID == nil || *got.ExternalID != "ext-1" {
		t.Errorf("external_id column = %v, want ext-1", got.ExternalID)
	}
}

func TestBatchTx_UpdateTransactionScopedToUser(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acc-1", "u1", 0)

	err := s.Atomic(context.Background(), func(tx reconcile.Tx) error {
		if err := tx.CreateTransaction(newTx("t1", "acc-1", "u1", 5, "")); err != nil {
			return err
		}
		err := tx.UpdateTransaction(newTx("t1", "acc-1", "u2", 9, ""))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for another user's row, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}
}

func TestBatchTx_AdjustBalance(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acc-1", "u1", 100)
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	err := s.Atomic(context.Background(), func(tx reconcile.Tx) error {
		if err := tx.AdjustBalance("acc-1", "u1", decimal.NewFromInt(-5), at); err != nil {
			return err
		}
		if err := tx.AdjustBalance("acc-1", "u2", decimal.NewFromInt(1000), at); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for a foreign account, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}

	a, err := s.GetAccount(context.Background(), "u1", "acc-1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if !a.Balance.Equal(decimal.NewFromInt(95)) {
		t.Errorf("balance = %s, want 95", a.Balance)
	}
	if !a.UpdatedAt.Equal(at) {
		t.Errorf("updated_at = %v, want %v", a.UpdatedAt, at)
	}
}

func TestStore_GetAccountNotFound(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acc-1", "u1", 0)

	_, err := s.GetAccount(context.Background(), "u2", "acc-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		t.Error("gorm errors must not leak through")
	}
}
