// Package store provides the transactional unit of work the sale engine runs
// in. A Store is one open database transaction that can be committed and
// keep going, bracketed by named savepoints, or closed for good.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	// ErrObsolete is returned by every operation on a closed store.
	ErrObsolete = errors.New("store is closed")
	// ErrUnknownSavepoint is returned when rolling back to a savepoint that
	// was never created (or was discarded by an outer rollback or commit).
	ErrUnknownSavepoint = errors.New("unknown savepoint")
	// ErrInvalidSavepoint rejects names that are not SQL identifiers.
	ErrInvalidSavepoint = errors.New("invalid savepoint name")
)

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Store is a unit of work over the database.
type Store interface {
	// DB is the transaction handle repositories must use.
	DB() *gorm.DB
	// Fetch reloads obj (which must carry its primary key) inside this store.
	Fetch(ctx context.Context, obj interface{}) error
	Savepoint(name string) error
	RollbackToSavepoint(name string) error
	// Rollback discards pending work. With close=true the store becomes
	// obsolete; otherwise a fresh transaction is started.
	Rollback(close bool) error
	// Commit persists pending work and starts a fresh transaction.
	Commit() error
	// Close rolls back anything pending and makes the store obsolete.
	Close() error
	// Confirm commits when ok, rolls back (keeping the store open) otherwise,
	// and reports whether the work was committed.
	Confirm(ok bool) (bool, error)
	Committed() bool
	Obsolete() bool
}

// Factory opens stores.
type Factory interface {
	NewStore(ctx context.Context) (Store, error)
}

// ── GORM implementation ───────────────────────────────────────────────────────

type gormFactory struct{ db *gorm.DB }

// NewFactory returns a Factory opening transactions on db.
func NewFactory(db *gorm.DB) Factory { return &gormFactory{db: db} }

// NewStore begins a transaction that outlives ctx. A store spans several
// requests of a terminal, so each call passes its own context instead.
func (f *gormFactory) NewStore(ctx context.Context) (Store, error) {
	s := &gormStore{root: f.db, ctx: context.WithoutCancel(ctx)}
	if err := s.begin(); err != nil {
		return nil, err
	}
	return s, nil
}

type gormStore struct {
	root       *gorm.DB
	ctx        context.Context
	tx         *gorm.DB
	savepoints []string
	committed  bool
	obsolete   bool
}

func (s *gormStore) begin() error {
	tx := s.root.WithContext(s.ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}
	s.tx = tx
	s.savepoints = nil
	return nil
}

func (s *gormStore) DB() *gorm.DB { return s.tx }

func (s *gormStore) Fetch(ctx context.Context, obj interface{}) error {
	if s.obsolete {
		return ErrObsolete
	}
	return s.tx.WithContext(ctx).First(obj).Error
}

func (s *gormStore) Savepoint(name string) error {
	if s.obsolete {
		return ErrObsolete
	}
	if !savepointName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSavepoint, name)
	}
	if err := s.tx.SavePoint(name).Error; err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	s.savepoints = append(s.savepoints, name)
	return nil
}

func (s *gormStore) RollbackToSavepoint(name string) error {
	if s.obsolete {
		return ErrObsolete
	}
	idx := indexOf(s.savepoints, name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownSavepoint, name)
	}
	if err := s.tx.RollbackTo(name).Error; err != nil {
		return fmt.Errorf("rollback to %s: %w", name, err)
	}
	// The savepoint itself survives a ROLLBACK TO; later ones do not.
	s.savepoints = s.savepoints[:idx+1]
	log.Debug().Str("savepoint", name).Msg("store: rolled back to savepoint")
	return nil
}

func (s *gormStore) Rollback(close bool) error {
	if s.obsolete {
		return ErrObsolete
	}
	err := s.tx.Rollback().Error
	if close {
		s.obsolete = true
		s.tx = nil
		s.savepoints = nil
		return err
	}
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return s.begin()
}

func (s *gormStore) Commit() error {
	if s.obsolete {
		return ErrObsolete
	}
	if err := s.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.committed = true
	return s.begin()
}

func (s *gormStore) Close() error {
	if s.obsolete {
		return nil
	}
	return s.Rollback(true)
}

func (s *gormStore) Confirm(ok bool) (bool, error) {
	if ok {
		return true, s.Commit()
	}
	return false, s.Rollback(false)
}

func (s *gormStore) Committed() bool { return s.committed }
func (s *gormStore) Obsolete() bool  { return s.obsolete }

func indexOf(list []string, v string) int {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] == v {
			return i
		}
	}
	return -1
}

// ── Scopes ────────────────────────────────────────────────────────────────────

// Scope is a savepoint owned by one collaborator on a shared store. Nested
// operations (loan close, trade start, checkout) each enter their own scope
// and roll back only their own work.
type Scope struct {
	store Store
	name  string
}

// Enter creates a uniquely named savepoint for owner on s.
func Enter(s Store, owner string) (*Scope, error) {
	name := fmt.Sprintf("%s_%s", owner, uuid.NewString()[:8])
	if err := s.Savepoint(name); err != nil {
		return nil, err
	}
	return &Scope{store: s, name: name}, nil
}

// Name is the savepoint name.
func (sc *Scope) Name() string { return sc.name }

// Store is the store the scope lives on.
func (sc *Scope) Store() Store { return sc.store }

// Rollback reverts the work done since the scope was entered.
func (sc *Scope) Rollback() error { return sc.store.RollbackToSavepoint(sc.name) }
