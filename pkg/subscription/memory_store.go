package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for development and tests.
// It honours conditional updates and transactions with an undo log.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// NewMemoryStore creates an empty in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription)}
}

type memTxKey struct{}

type memTx struct {
	mu   sync.Mutex
	undo map[uuid.UUID]*Subscription // nil value: record did not exist
}

func (tx *memTx) remember(id uuid.UUID, prev *Subscription) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if _, seen := tx.undo[id]; !seen {
		tx.undo[id] = prev.Clone()
	}
}

func (s *MemoryStore) track(ctx context.Context, id uuid.UUID) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.remember(id, s.subs[id])
	}
}

func (s *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	if sub == nil || sub.ID == uuid.Nil {
		return errors.Join(ErrInvalidArgument, errors.New("subscription ID is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sub.ID]; exists {
		return errors.Join(ErrConflict, errors.New("subscription already exists"))
	}
	if sub.IsActive() && s.activeFor(sub.UserID, sub.ID) != nil {
		return errors.Join(ErrConflict, ErrActiveSubscriptionExists)
	}

	s.track(ctx, sub.ID)
	s.subs[sub.ID] = sub.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, errors.Join(ErrNotFound, ErrSubscriptionNotFound)
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) FindActiveByUser(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub := s.activeFor(userID, uuid.Nil); sub != nil {
		return sub.Clone(), nil
	}
	return nil, errors.Join(ErrNotFound, ErrSubscriptionNotFound)
}

func (s *MemoryStore) FindLatestByUser(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Subscription
	for _, sub := range s.subs {
		if sub.UserID != userID {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, errors.Join(ErrNotFound, ErrSubscriptionNotFound)
	}
	return latest.Clone(), nil
}

func (s *MemoryStore) FindByGatewayRef(_ context.Context, ref string) (*Subscription, error) {
	return s.findOne(func(sub *Subscription) bool {
		return ref != "" && sub.GatewaySubscriptionRef == ref
	})
}

func (s *MemoryStore) FindByCheckoutSession(_ context.Context, ref string) (*Subscription, error) {
	return s.findOne(func(sub *Subscription) bool {
		return ref != "" && sub.CheckoutSessionRef == ref
	})
}

func (s *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return errors.Join(ErrInvalidArgument, errors.New("subscription is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.subs[sub.ID]
	if !ok {
		return errors.Join(ErrNotFound, ErrSubscriptionNotFound)
	}
	if stored.Version != sub.Version {
		return ErrConcurrentUpdate
	}
	if sub.IsActive() && s.activeFor(sub.UserID, sub.ID) != nil {
		return errors.Join(ErrConflict, ErrActiveSubscriptionExists)
	}

	s.track(ctx, sub.ID)
	sub.Version++
	sub.UpdatedAt = time.Now().UTC()
	s.subs[sub.ID] = sub.Clone()
	return nil
}

// WithTx runs fn and restores every record it wrote if fn fails.
// Nested calls join the outer transaction.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(memTxKey{}).(*memTx); nested {
		return fn(ctx)
	}

	tx := &memTx{undo: make(map[uuid.UUID]*Subscription)}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, prev := range tx.undo {
			if prev == nil {
				delete(s.subs, id)
				continue
			}
			s.subs[id] = prev
		}
		return err
	}
	return nil
}

// activeFor returns the user's active record other than except. Caller holds mu.
func (s *MemoryStore) activeFor(userID, except uuid.UUID) *Subscription {
	for id, sub := range s.subs {
		if id != except && sub.UserID == userID && sub.IsActive() {
			return sub
		}
	}
	return nil
}

func (s *MemoryStore) findOne(match func(*Subscription) bool) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if match(sub) {
			return sub.Clone(), nil
		}
	}
	return nil, errors.Join(ErrNotFound, ErrSubscriptionNotFound)
}

// MemoryRoleStore keeps derived roles in memory.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[uuid.UUID]Role
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[uuid.UUID]Role)}
}

func (s *MemoryRoleStore) SetRole(_ context.Context, userID uuid.UUID, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = role
	return nil
}

// Role returns the stored role and whether one was ever set.
func (s *MemoryRoleStore) Role(userID uuid.UUID) (Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[userID]
	return r, ok
}

// LocalLocker is an in-process Locker keyed by subscription.
// Use a distributed locker when several processes write the same records.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.release(key, lk)
		})
	}, nil
}

func (l *LocalLocker) release(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}
