package infra

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ── Device breaker ────────────────────────────────────────────────────────────
// Guards the fiscal device sidecar. After Trip consecutive failures the
// breaker opens and every call fails fast for Cooldown, so a station does not
// hang on a dead printer. The first call after the cooldown is a trial;
// Recover successful trials close the breaker again.

// BreakerState is reported by the health endpoint.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrDeviceUnavailable is returned without calling through while the breaker
// is open.
var ErrDeviceUnavailable = errors.New("fiscal device unavailable")

type BreakerConfig struct {
	Trip     int           // consecutive failures that open the breaker
	Recover  int           // consecutive trial successes that close it
	Cooldown time.Duration // time open before a trial call
	// Ignore reports errors that say nothing about device health, e.g. a
	// busy printer that answered. They neither trip nor reset the breaker.
	Ignore func(error) bool
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Trip <= 0 {
		c.Trip = 5
	}
	if c.Recover <= 0 {
		c.Recover = 2
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

type DeviceBreaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    BreakerState
	streak   int // failures while closed, successes while half-open
	openedAt time.Time
	now      func() time.Time
}

func NewDeviceBreaker(cfg BreakerConfig) *DeviceBreaker {
	return &DeviceBreaker{cfg: cfg.withDefaults(), now: time.Now}
}

func (b *DeviceBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.observe()
}

// observe moves an open breaker to half-open once the cooldown elapsed.
// Callers hold mu.
func (b *DeviceBreaker) observe() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.moveTo(BreakerHalfOpen)
	}
	return b.state
}

// Do runs fn unless the breaker is open and records its outcome.
func (b *DeviceBreaker) Do(fn func() error) error {
	b.mu.Lock()
	open := b.observe() == BreakerOpen
	b.mu.Unlock()
	if open {
		return ErrDeviceUnavailable
	}

	err := fn()
	if err != nil && b.cfg.Ignore != nil && b.cfg.Ignore(err) {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.settle(err == nil)
	return err
}

func (b *DeviceBreaker) settle(ok bool) {
	switch b.state {
	case BreakerClosed:
		if ok {
			b.streak = 0
			return
		}
		b.streak++
		if b.streak >= b.cfg.Trip {
			b.open()
		}
	case BreakerHalfOpen:
		if !ok {
			b.open()
			return
		}
		b.streak++
		if b.streak >= b.cfg.Recover {
			b.moveTo(BreakerClosed)
		}
	}
}

func (b *DeviceBreaker) open() {
	b.openedAt = b.now()
	b.moveTo(BreakerOpen)
}

func (b *DeviceBreaker) moveTo(s BreakerState) {
	if b.state != s {
		log.Warn().Str("from", b.state.String()).Str("to", s.String()).Msg("fiscal: device breaker")
	}
	b.state = s
	b.streak = 0
}
