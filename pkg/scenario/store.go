// Package scenario holds per-unit execution state.
//
// Every running unit gets its own Slots bag bound to the context.Context it
// runs under. Code that needs the unit's browser session or its last API
// exchange reads it from ctx, so units on separate goroutines can never see
// each other's handles.
package scenario

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/odvcencio/greenlight/pkg/browser"
)

// Well-known slot names.
const (
	SlotSession     = "session"
	SlotAPIRequest  = "api.request"
	SlotAPIResponse = "api.response"
	SlotAPIStatus   = "api.status"
)

var (
	ErrNoUnit  = errors.New("no execution unit bound to context")
	ErrCleared = errors.New("execution context already cleared")
)

type ctxKey struct{}

// Slots is the state bag of one unit. It has a single owner and is not safe
// for concurrent use.
type Slots struct {
	unitID  string
	name    string
	values  map[string]any
	cleared bool
}

// UnitID returns the owning unit's ID.
func (s *Slots) UnitID() string { return s.unitID }

// Name returns the owning unit's display name.
func (s *Slots) Name() string { return s.name }

// Get returns a slot value.
func (s *Slots) Get(key string) (any, bool) {
	if s == nil || s.cleared {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

// Set stores a slot value.
func (s *Slots) Set(key string, value any) error {
	if s == nil {
		return ErrNoUnit
	}
	if s.cleared {
		return ErrCleared
	}
	s.values[key] = value
	return nil
}

// Delete removes a slot.
func (s *Slots) Delete(key string) {
	if s == nil || s.cleared {
		return
	}
	delete(s.values, key)
}

// Keys returns the populated slot names, sorted.
func (s *Slots) Keys() []string {
	if s == nil || s.cleared {
		return nil
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Cleared reports whether the bag was cleared.
func (s *Slots) Cleared() bool {
	return s == nil || s.cleared
}

// Store tracks the bags of every unit currently in flight.
type Store struct {
	active sync.Map // unitID -> *Slots
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Begin binds a fresh, empty bag for unitID to a child of ctx.
func (st *Store) Begin(ctx context.Context, unitID, name string) (context.Context, *Slots) {
	slots := &Slots{
		unitID: unitID,
		name:   name,
		values: make(map[string]any),
	}
	st.active.Store(unitID, slots)
	return context.WithValue(ctx, ctxKey{}, slots), slots
}

// Clear drops every slot of the unit bound to ctx. It is idempotent and
// never touches other units.
func (st *Store) Clear(ctx context.Context) {
	slots := lookup(ctx)
	if slots == nil {
		return
	}
	st.active.CompareAndDelete(slots.unitID, slots)
	slots.values = nil
	slots.cleared = true
}

// Active returns the IDs of units that began but were not cleared.
func (st *Store) Active() []string {
	var ids []string
	st.active.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

func lookup(ctx context.Context) *Slots {
	if ctx == nil {
		return nil
	}
	slots, _ := ctx.Value(ctxKey{}).(*Slots)
	return slots
}

// FromContext returns the live bag bound to ctx.
func FromContext(ctx context.Context) (*Slots, bool) {
	slots := lookup(ctx)
	if slots == nil || slots.cleared {
		return nil, false
	}
	return slots, true
}

// UnitID returns the ID of the unit bound to ctx.
func UnitID(ctx context.Context) (string, bool) {
	slots, ok := FromContext(ctx)
	if !ok {
		return "", false
	}
	return slots.unitID, true
}

// Value returns a typed slot value.
func Value[T any](ctx context.Context, key string) (T, bool) {
	var zero T
	slots, ok := FromContext(ctx)
	if !ok {
		return zero, false
	}
	raw, ok := slots.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// SetValue stores a slot value for the unit bound to ctx.
func SetValue(ctx context.Context, key string, value any) error {
	slots := lookup(ctx)
	if slots == nil {
		return ErrNoUnit
	}
	return slots.Set(key, value)
}

// Session returns the unit's browser session.
func Session(ctx context.Context) (browser.Session, bool) {
	return Value[browser.Session](ctx, SlotSession)
}

// SetSession stores the unit's browser session.
func SetSession(ctx context.Context, sess browser.Session) error {
	return SetValue(ctx, SlotSession, sess)
}

// APIRequest returns the last API request text recorded by the unit.
func APIRequest(ctx context.Context) (string, bool) {
	return Value[string](ctx, SlotAPIRequest)
}

// SetAPIRequest records the unit's last API request text.
func SetAPIRequest(ctx context.Context, request string) error {
	return SetValue(ctx, SlotAPIRequest, request)
}

// APIResponse returns the last API response body recorded by the unit.
func APIResponse(ctx context.Context) (string, bool) {
	return Value[string](ctx, SlotAPIResponse)
}

// SetAPIResponse records the unit's last API response body.
func SetAPIResponse(ctx context.Context, response string) error {
	return SetValue(ctx, SlotAPIResponse, response)
}

// APIStatus returns the last API status code recorded by the unit.
func APIStatus(ctx context.Context) (int, bool) {
	return Value[int](ctx, SlotAPIStatus)
}

// SetAPIStatus records the unit's last API status code.
func SetAPIStatus(ctx context.Context, status int) error {
	return SetValue(ctx, SlotAPIStatus, status)
}
