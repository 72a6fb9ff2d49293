package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/motorlot/pkg/logger"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

// Billing is the part of the subscription service the resolver charges
// through.
type Billing interface {
	ActiveSubscription(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error)
	ApplyUsageDelta(ctx context.Context, req subscription.UsageRequest) (*subscription.UsageChange, error)
}

// BatchRequest is one bulk upload.
type BatchRequest struct {
	// BatchID makes the overage invoice idempotent across retries of the same
	// upload. A random ID is used when empty.
	BatchID string
	OwnerID uuid.UUID
	Schema  RowSchema
	Rows    []Row
}

// RowError reports why one input row was not imported. Row is -1 for an
// entry that concerns the whole batch.
type RowError struct {
	Row        int
	ExternalID string
	Err        error
}

func (e RowError) Error() string {
	if e.Row < 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// BatchResult summarizes an import. Rejected lists rows that failed to
// decode. Errors lists rows that failed to persist or, when the batch held
// nothing new, a single ErrNoNewItems entry.
type BatchResult struct {
	BatchID        string
	SubscriptionID uuid.UUID
	Submitted      int
	Duplicates     int
	NetNew         int
	Cars           []Car
	Rejected       []RowError
	Errors         []RowError
	// Charge is the aggregated usage change for the net-new cars. Correction
	// is set when rows failed to persist and their usage was taken back.
	Charge     *subscription.UsageChange
	Correction *subscription.UsageChange
}

// Persisted returns the number of cars stored by the import.
func (r *BatchResult) Persisted() int { return len(r.Cars) }

// Invalid returns the number of rows rejected before lookup.
func (r *BatchResult) Invalid() int { return len(r.Rejected) }

// Failed returns the number of submitted rows that were neither stored nor
// duplicates.
func (r *BatchResult) Failed() int { return r.Invalid() + r.NetNew - r.Persisted() }

// Resolver imports batches of cars, charging once per batch for the cars
// that are actually new.
type Resolver struct {
	store       Store
	catalog     Catalog
	billing     Billing
	locker      subscription.Locker
	notifier    subscription.Notifier
	logger        *slog.Logger
	concurrency   int
	notifyTimeout time.Duration
	now           func() time.Time
}

type ResolverOption func(*Resolver)

func WithResolverLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.logger = log
		}
	}
}

// WithResolverLocker serializes imports of the same owner. Without it two
// concurrent uploads of the same rows may both treat them as new.
func WithResolverLocker(l subscription.Locker) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.locker = l
		}
	}
}

func WithResolverNotifier(n subscription.Notifier) ResolverOption {
	return func(r *Resolver) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithResolverNotifyTimeout bounds each summary notification.
func WithResolverNotifyTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.notifyTimeout = d
		}
	}
}

// WithLookupConcurrency bounds parallel catalog and duplicate lookups.
func WithLookupConcurrency(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func NewResolver(store Store, catalog Catalog, billing Billing, opts ...ResolverOption) *Resolver {
	if store == nil || catalog == nil || billing == nil {
		panic("inventory: store, catalog and billing are required")
	}
	r := &Resolver{
		store:         store,
		catalog:       catalog,
		billing:       billing,
		locker:        subscription.NewLocalLocker(),
		logger:        slog.Default(),
		concurrency:   8,
		notifyTimeout: 10 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("inventory"))
	return r
}

type resolved struct {
	Candidate
	ref        Reference
	resolveErr error
	duplicate  bool
}

// Import deduplicates req.Rows against the owner's inventory and within the
// batch, charges the owner's active subscription once for the net-new count,
// then persists each new car independently. Rows that fail to persist are
// reported in the result and their usage is taken back before returning.
//
// An error is returned only when nothing was imported (billing refused,
// lookups failed) or when the final usage correction failed; in the latter
// case the result is returned too.
func (r *Resolver) Import(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Rows) == 0 {
		return nil, ErrEmptyBatch
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}

	unlock, err := r.locker.Lock(ctx, "inventory-import:"+req.OwnerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire import lock: %w", err)
	}
	defer unlock()

	res := &BatchResult{BatchID: req.BatchID, Submitted: len(req.Rows)}

	candidates := make([]Candidate, 0, len(req.Rows))
	for i, row := range req.Rows {
		c, err := req.Schema.Decode(i, row)
		if err != nil {
			res.Rejected = append(res.Rejected, RowError{Row: i, ExternalID: c.ExternalID, Err: err})
			continue
		}
		candidates = append(candidates, c)
	}

	items, err := r.lookup(ctx, req.OwnerID, candidates)
	if err != nil {
		return nil, err
	}

	fresh := make([]resolved, 0, len(items))
	for _, it := range items {
		if it.duplicate {
			res.Duplicates++
			continue
		}
		fresh = append(fresh, it)
	}
	res.NetNew = len(fresh)

	if res.NetNew == 0 {
		res.Errors = append(res.Errors, RowError{Row: -1, Err: ErrNoNewItems})
		r.logger.InfoContext(ctx, "inventory batch had no new cars",
			logger.UserID(req.OwnerID),
			slog.String("batch_id", req.BatchID),
			slog.Int("duplicates", res.Duplicates),
			slog.Int("invalid", res.Invalid()),
		)
		return res, nil
	}

	sub, err := r.billing.ActiveSubscription(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	res.SubscriptionID = sub.ID

	change, err := r.billing.ApplyUsageDelta(ctx, subscription.UsageRequest{
		SubscriptionID: sub.ID,
		OwnerID:        req.OwnerID,
		Delta:          int64(res.NetNew),
		IdempotencyKey: "import:" + req.BatchID,
	})
	if err != nil {
		return nil, err
	}
	res.Charge = change

	for _, it := range fresh {
		car, err := r.persist(ctx, req.OwnerID, sub.ID, it)
		if err != nil {
			res.Errors = append(res.Errors, RowError{Row: it.Row, ExternalID: it.ExternalID, Err: err})
			continue
		}
		res.Cars = append(res.Cars, *car)
	}

	var reconcileErr error
	if failed := res.NetNew - res.Persisted(); failed > 0 {
		correction, err := r.billing.ApplyUsageDelta(ctx, subscription.UsageRequest{
			SubscriptionID: sub.ID,
			OwnerID:        req.OwnerID,
			Delta:          -int64(failed),
			Description:    fmt.Sprintf("Credit for %d car(s) that failed to import", failed),
			IdempotencyKey: "import:" + req.BatchID + ":correction",
		})
		if err != nil {
			reconcileErr = errors.Join(ErrUsageReconcile, err)
			r.logger.ErrorContext(ctx, "usage left ahead of persisted inventory",
				logger.SubscriptionID(sub.ID),
				slog.String("batch_id", req.BatchID),
				slog.Int("failed", failed),
				logger.Error(err),
			)
		} else {
			res.Correction = correction
		}
	}

	r.logger.InfoContext(ctx, "inventory batch imported",
		logger.UserID(req.OwnerID),
		logger.SubscriptionID(sub.ID),
		slog.String("batch_id", req.BatchID),
		slog.String("schema", req.Schema.Name),
		slog.Int("submitted", res.Submitted),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("persisted", res.Persisted()),
		slog.Int("failed", res.Failed()),
	)
	r.notify(ctx, req.OwnerID, res)

	return res, reconcileErr
}

// lookup resolves catalog references and checks the store for existing cars
// concurrently, then marks within-batch repeats as duplicates of their first
// occurrence. A store failure aborts the batch.
func (r *Resolver) lookup(ctx context.Context, ownerID uuid.UUID, candidates []Candidate) ([]resolved, error) {
	items := make([]resolved, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			it := resolved{Candidate: c}
			it.ref, it.resolveErr = r.catalog.Resolve(gctx, c.MakeRef, c.VariantRef)

			if c.ExternalID != "" {
				exists, err := r.store.ExistsByExternalID(gctx, ownerID, c.ExternalID)
				if err != nil {
					return fmt.Errorf("row %d: %w", c.Row, err)
				}
				it.duplicate = exists
			}
			if !it.duplicate {
				exists, err := r.store.ExistsByKey(gctx, ownerID, it.key())
				if err != nil {
					return fmt.Errorf("row %d: %w", c.Row, err)
				}
				it.duplicate = exists
			}
			items[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seenIDs := make(map[string]struct{}, len(items))
	seenKeys := make(map[CompositeKey]struct{}, len(items))
	for i := range items {
		it := &items[i]
		if it.duplicate {
			continue
		}
		key := it.key()
		if _, ok := seenKeys[key]; ok {
			it.duplicate = true
		}
		if it.ExternalID != "" {
			if _, ok := seenIDs[it.ExternalID]; ok {
				it.duplicate = true
			}
		}
		if !it.duplicate {
			seenKeys[key] = struct{}{}
			if it.ExternalID != "" {
				seenIDs[it.ExternalID] = struct{}{}
			}
		}
	}
	return items, nil
}

// key prefers resolved catalog IDs so that an ID and a display name for the
// same variant compare equal.
func (it resolved) key() CompositeKey {
	if it.resolveErr == nil {
		return NewCompositeKey(it.Name, it.ref.MakeID, it.ref.VariantID)
	}
	return NewCompositeKey(it.Name, it.MakeRef, it.VariantRef)
}

func (r *Resolver) persist(ctx context.Context, ownerID, subID uuid.UUID, it resolved) (*Car, error) {
	if it.resolveErr != nil {
		return nil, it.resolveErr
	}
	car := &Car{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		SubscriptionID: subID,
		ExternalID:     it.ExternalID,
		Name:           it.Name,
		MakeID:         it.ref.MakeID,
		VariantID:      it.ref.VariantID,
		Year:           it.Year,
		Price:          it.Price,
		CreatedAt:      r.now().UTC(),
	}
	if err := r.store.Create(ctx, car); err != nil {
		return nil, err
	}
	return car, nil
}

func (r *Resolver) notify(ctx context.Context, ownerID uuid.UUID, res *BatchResult) {
	if r.notifier == nil {
		return
	}
	msg := fmt.Sprintf("Imported %d of %d car(s): %d already listed, %d failed.",
		res.Persisted(), res.Submitted, res.Duplicates, res.Failed())
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, r.notifyTimeout)
		defer cancel()
		if err := r.notifier.Notify(ctx, ownerID, msg, res.BatchID, subscription.CategoryInventory); err != nil {
			r.logger.WarnContext(ctx, "failed to send import summary",
				logger.UserID(ownerID),
				logger.Error(err),
			)
		}
	}()
}
