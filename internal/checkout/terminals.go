package checkout

import (
	"sync"

	"retailpos/internal/model"

	"github.com/google/uuid"
)

// Terminals keeps one coordinator per station. The fiscal device behind
// Deps.Coupons is shared by all of them.
type Terminals struct {
	deps Deps

	mu        sync.Mutex
	byStation map[uuid.UUID]*Coordinator
}

func NewTerminals(deps Deps) *Terminals {
	return &Terminals{deps: deps, byStation: make(map[uuid.UUID]*Coordinator)}
}

// Get returns the coordinator of the station, creating it for user on first
// use. When another operator logs in on the station the open draft keeps its
// salesperson; the next sale is started for user.
func (t *Terminals) Get(branchID, stationID uuid.UUID, user *model.LoginUser) *Coordinator {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byStation[stationID]
	if !ok {
		c = New(t.deps, branchID, stationID, user)
		t.byStation[stationID] = c
		return c
	}
	c.handOver(user)
	return c
}

// Active lists the stations with a coordinator.
func (t *Terminals) Active() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uuid.UUID, 0, len(t.byStation))
	for id := range t.byStation {
		out = append(out, id)
	}
	return out
}
