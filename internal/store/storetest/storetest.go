// Package storetest provides an in-memory store.Store for unit tests. It
// records every call so tests can assert on commit/rollback ordering.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"retailpos/internal/store"

	"gorm.io/gorm"
)

var _ store.Store = (*Store)(nil)
var _ store.Factory = (*Factory)(nil)

// Store records calls. DB returns nil; repositories used with it must be stubs.
type Store struct {
	mu         sync.Mutex
	Ops        []string
	savepoints []string
	committed  bool
	obsolete   bool

	// CommitErr, when set, is returned by the next Commit.
	CommitErr error
	// Fetched lists every object passed to Fetch.
	Fetched []interface{}
}

func New() *Store { return &Store{} }

func (s *Store) record(op string) {
	s.Ops = append(s.Ops, op)
}

func (s *Store) DB() *gorm.DB { return nil }

func (s *Store) Fetch(_ context.Context, obj interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obsolete {
		return store.ErrObsolete
	}
	s.Fetched = append(s.Fetched, obj)
	s.record("fetch")
	return nil
}

func (s *Store) Savepoint(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obsolete {
		return store.ErrObsolete
	}
	s.savepoints = append(s.savepoints, name)
	s.record("savepoint:" + name)
	return nil
}

func (s *Store) RollbackToSavepoint(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obsolete {
		return store.ErrObsolete
	}
	for i := len(s.savepoints) - 1; i >= 0; i-- {
		if s.savepoints[i] == name {
			s.savepoints = s.savepoints[:i+1]
			s.record("rollback_to:" + name)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", store.ErrUnknownSavepoint, name)
}

func (s *Store) Rollback(close bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obsolete {
		return store.ErrObsolete
	}
	s.savepoints = nil
	if close {
		s.obsolete = true
		s.record("rollback:close")
		return nil
	}
	s.record("rollback")
	return nil
}

func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obsolete {
		return store.ErrObsolete
	}
	if err := s.CommitErr; err != nil {
		s.CommitErr = nil
		s.record("commit:failed")
		return err
	}
	s.committed = true
	s.savepoints = nil
	s.record("commit")
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obsolete {
		return nil
	}
	s.obsolete = true
	s.record("close")
	return nil
}

func (s *Store) Confirm(ok bool) (bool, error) {
	if ok {
		return true, s.Commit()
	}
	return false, s.Rollback(false)
}

func (s *Store) Committed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

func (s *Store) Obsolete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obsolete
}

// Has reports whether op was recorded.
func (s *Store) Has(op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// Factory hands out fresh fake stores and remembers them.
type Factory struct {
	mu     sync.Mutex
	Stores []*Store
	Err    error
}

func (f *Factory) NewStore(context.Context) (store.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s := New()
	f.Stores = append(f.Stores, s)
	return s, nil
}

// Last returns the most recently opened store, nil when none.
func (f *Factory) Last() *Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Stores) == 0 {
		return nil
	}
	return f.Stores[len(f.Stores)-1]
}
