// Package reconcile merges batches of client-proposed transactions into
// storage and keeps account balances in step, all inside one transaction.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"finance-sync-be/events"
	"finance-sync-be/models"
)

const tracerName = "finance-sync-be/reconcile"

type outcome int

const (
	created outcome = iota + 1
	updated
)

// Reconciler merges batches for one user at a time.
type Reconciler struct {
	store     Store
	publisher events.Publisher
	log       zerolog.Logger
	mode      BalanceMode
	maxBatch  int
	newID     func() string
	now       func() time.Time
	tracer    trace.Tracer
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithBalanceMode selects how updates move the balance. The default is BalanceAdditive.
func WithBalanceMode(m BalanceMode) Option { return func(r *Reconciler) { r.mode = m } }

// WithMaxBatchSize overrides DefaultMaxBatchSize. Values below one are ignored.
func WithMaxBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxBatch = n
		}
	}
}

// WithPublisher sets where BatchSynced events go after a commit.
func WithPublisher(p events.Publisher) Option { return func(r *Reconciler) { r.publisher = p } }

// WithLogger sets the logger for batch outcomes and rejected items.
func WithLogger(log zerolog.Logger) Option { return func(r *Reconciler) { r.log = log } }

// WithIDGenerator replaces uuid.NewString for records created without an id.
func WithIDGenerator(fn func() string) Option { return func(r *Reconciler) { r.newID = fn } }

// WithClock replaces the UTC wall clock used for created_at and updated_at.
func WithClock(fn func() time.Time) Option { return func(r *Reconciler) { r.now = fn } }

// WithTracerProvider sets where Reconcile spans are recorded. Without it the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reconciler) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a Reconciler over store with additive balances, no event
// publishing and a batch limit of DefaultMaxBatchSize.
func New(store Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		publisher: events.Nop{},
		log:       zerolog.Nop(),
		mode:      BalanceAdditive,
		maxBatch:  DefaultMaxBatchSize,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxBatchSize reports the largest accepted batch.
func (r *Reconciler) MaxBatchSize() int { return r.maxBatch }

// Reconcile merges items for userID in submission order.
//
// Batches that are empty, too large or missing a required field fail with
// ErrInvalidRequest before storage is touched. Problems with a single item are
// collected into BatchResult.Errors and the remaining items still commit. A
// failure of the transaction itself returns ErrService and persists nothing.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, items []ProposedTransaction) (BatchResult, error) {
	if err := r.validate(userID, items); err != nil {
		return BatchResult{}, err
	}

	ctx, span := r.tracer.Start(ctx, "Reconcile", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("batch.size", len(items)),
		attribute.String("balance.mode", r.mode.String()),
	))
	defer span.End()

	log := r.log.With().Str("user_id", userID).Int("batch_size", len(items)).Logger()

	var (
		result  BatchResult
		touched map[string]struct{}
	)
	err := r.store.Atomic(ctx, func(tx Tx) error {
		// Reset on every attempt so a retried closure never double counts.
		result = BatchResult{Errors: []ItemError{}}
		touched = make(map[string]struct{})

		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}

			var (
				out  outcome
				prev *previous
			)
			itemErr, err := tx.Isolate(func() error {
				var mergeErr error
				out, prev, mergeErr = r.merge(tx, userID, item)
				return mergeErr
			})
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			if itemErr != nil {
				log.Warn().Err(itemErr).Int("index", i).Str("account_id", item.AccountID).Msg("Batch item rejected")
				result.Errors = append(result.Errors, ItemError{Transaction: item, Error: itemErr.Error()})
				continue
			}

			switch out {
			case created:
				result.Created++
			case updated:
				result.Updated++
			}
			touched[item.AccountID] = struct{}{}
			if prev != nil && prev.accountID != item.AccountID {
				touched[prev.accountID] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch rolled back")
		log.Error().Err(err).Msg("Batch rolled back")
		return BatchResult{}, fmt.Errorf("%w: %w", ErrService, err)
	}

	span.SetAttributes(
		attribute.Int("batch.created", result.Created),
		attribute.Int("batch.updated", result.Updated),
		attribute.Int("batch.failed", len(result.Errors)),
	)
	log.Info().
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("failed", len(result.Errors)).
		Msg("Batch reconciled")

	r.publish(ctx, log, userID, result, touched)
	return result, nil
}

func (r *Reconciler) validate(userID string, items []ProposedTransaction) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: transactions must be a non-empty array", ErrInvalidRequest)
	}
	if len(items) > r.maxBatch {
		return fmt.Errorf("%w: batch of %d exceeds the maximum of %d transactions", ErrInvalidRequest, len(items), r.maxBatch)
	}
	for i, item := range items {
		if item.AccountID == "" {
			return fmt.Errorf("%w: transactions[%d].accountId is required", ErrInvalidRequest, i)
		}
		if item.TransactionDate.IsZero() {
			return fmt.Errorf("%w: transactions[%d].transactionDate is required", ErrInvalidRequest, i)
		}
		if !item.Amount.Valid {
			return fmt.Errorf("%w: transactions[%d].amount is required", ErrInvalidRequest, i)
		}
		if strings.TrimSpace(item.Description) == "" {
			return fmt.Errorf("%w: transactions[%d].description is required", ErrInvalidRequest, i)
		}
	}
	return nil
}

// merge upserts one item and moves the balance. prev is set on updates.
func (r *Reconciler) merge(tx Tx, userID string, item ProposedTransaction) (outcome, *previous, error) {
	account, err := tx.AccountForUser(item.AccountID, userID)
	if err != nil {
		return 0, nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return 0, nil, ErrAccountNotFound
	}

	existing, err := r.lookup(tx, userID, item)
	if err != nil {
		return 0, nil, err
	}

	now := r.now()
	if existing != nil {
		prev := &previous{accountID: existing.AccountID, amount: existing.Amount}
		item.applyTo(existing)
		existing.UpdatedAt = now
		if err := tx.UpdateTransaction(existing); err != nil {
			return 0, nil, fmt.Errorf("update transaction: %w", err)
		}
		if err := r.mode.adjustForUpdate(tx, userID, *prev, item, now); err != nil {
			return 0, nil, err
		}
		return updated, prev, nil
	}

	record := &models.Transaction{
		ID:        item.ID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record.ID == "" {
		record.ID = r.newID()
	}
	item.applyTo(record)
	if err := tx.CreateTransaction(record); err != nil {
		return 0, nil, fmt.Errorf("create transaction: %w", err)
	}
	if err := adjustForCreate(tx, userID, item, now); err != nil {
		return 0, nil, err
	}
	return created, nil, nil
}

// lookup resolves the item's external id to the stored record, if any.
func (r *Reconciler) lookup(tx Tx, userID string, item ProposedTransaction) (*models.Transaction, error) {
	externalID, ok, err := item.externalID()
	if err != nil || !ok {
		return nil, err
	}
	matches, err := tx.TransactionsByExternalID(userID, externalID)
	if err != nil {
		return nil, fmt.Errorf("lookup external_id: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrDuplicateExternalID, externalID)
	}
}

func (r *Reconciler) publish(ctx context.Context, log zerolog.Logger, userID string, result BatchResult, touched map[string]struct{}) {
	if result.Created+result.Updated == 0 {
		return
	}
	accountIDs := make([]string, 0, len(touched))
	for id := range touched {
		accountIDs = append(accountIDs, id)
	}
	sort.Strings(accountIDs)

	err := r.publisher.Publish(ctx, events.BatchSynced{
		UserID:     userID,
		Created:    result.Created,
		Updated:    result.Updated,
		Failed:     len(result.Errors),
		AccountIDs: accountIDs,
		SyncedAt:   r.now(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Failed to publish batch event")
	}
}
