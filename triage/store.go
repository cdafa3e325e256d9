package triage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

type StoreSettings struct {
	// how long Init waits for the realtime channel before degrading to
	// the local fallback
	ConnectTimeout time.Duration
	// restrict projections to one status family ("" = no filter).
	// Unclassified properties always pass the filter.
	StatusFilter PropertyStatus
	// optional offline fallback, read when the channel cannot be reached
	// and written after hydration and successful persists
	LocalFallback *LocalStateStore
}

func DefaultStoreSettings() *StoreSettings {
	return &StoreSettings{
		ConnectTimeout: 5 * time.Second,
	}
}

// Store is the in-memory authoritative merge of the static property catalog
// with the mutable per-property triage state.
//
// Mutations are optimistic: the new state lands in the map before the
// persist round-trip, and the exact pre-mutation snapshot is restored if the
// persist fails. Server pushes replace the whole record for a token and win
// over any optimistic value. Concurrent mutations to the same token are
// last-writer-wins with rollback scoped to each mutation's own snapshot;
// interleaved rollbacks for one token can land on either snapshot. The UI
// serializes per-card interaction, so this is an accepted race, not a bug.
//
// State values in the maps are never mutated in place; every write replaces
// the record, so snapshots are plain pointer captures.
type Store struct {
	ctx    context.Context
	cancel context.CancelFunc

	gateway  Gateway
	settings *StoreSettings

	mutex      sync.Mutex
	order      []string
	properties map[string]*Property
	states     map[string]*PropertyState
	seq        uint64

	removePush func()
}

func NewStoreWithDefaults(ctx context.Context, catalog []*Property, gateway Gateway) *Store {
	return NewStore(ctx, catalog, gateway, DefaultStoreSettings())
}

func NewStore(ctx context.Context, catalog []*Property, gateway Gateway, settings *StoreSettings) *Store {
	cancelCtx, cancel := context.WithCancel(ctx)
	store := &Store{
		ctx:        cancelCtx,
		cancel:     cancel,
		gateway:    gateway,
		settings:   settings,
		properties: map[string]*Property{},
		states:     map[string]*PropertyState{},
	}
	for _, property := range catalog {
		if _, ok := store.properties[property.Token]; ok {
			continue
		}
		entry := *property
		store.order = append(store.order, property.Token)
		store.properties[property.Token] = &entry
	}
	return store
}

// Init hydrates the state map from the remote gateway and subscribes to
// pushes. If the channel cannot be reached within ConnectTimeout, the store
// comes up from the local fallback (or empty) instead of failing; writes are
// attempted and rolled back individually later.
func (self *Store) Init(ctx context.Context) error {
	hydrated := false
	if self.gateway.AwaitConnection(ctx, self.settings.ConnectTimeout) {
		records, err := self.gateway.FetchAllStates(ctx)
		if err == nil {
			self.hydrate(records)
			hydrated = true
			self.saveLocal()
		} else {
			glog.Infof("[s]hydrate error = %s\n", err)
		}
	}
	if !hydrated && self.settings.LocalFallback != nil {
		states, err := self.settings.LocalFallback.LoadStates()
		if err == nil {
			self.hydrate(maps.Values(states))
		} else {
			glog.Infof("[s]local fallback error = %s\n", err)
		}
	}

	self.removePush = self.gateway.OnPropertyUpdated(self.receivePush)
	return ctx.Err()
}

func (self *Store) Close() {
	if self.removePush != nil {
		self.removePush()
		self.removePush = nil
	}
	self.cancel()
}

func (self *Store) hydrate(records []*PropertyState) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	for _, record := range records {
		if record == nil || record.PropertyId == "" {
			continue
		}
		self.setStateLocked(record)
	}
}

// receivePush applies a server-confirmed record, which is authoritative over
// any concurrent local optimistic write. Whole-record replace, no field merge.
func (self *Store) receivePush(state *PropertyState) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.setStateLocked(state)
}

func (self *Store) setStateLocked(record *PropertyState) {
	next := *record
	self.seq += 1
	next.seq = self.seq
	self.states[next.PropertyId] = &next
	if entry, ok := self.properties[next.PropertyId]; ok {
		entry.Status = next.Status
		entry.Comment = next.Comment
	}
}

// UpdateStatus classifies a property, keeping its column and position.
func (self *Store) UpdateStatus(ctx context.Context, token string, status PropertyStatus) error {
	return self.optimistic(ctx, token, func(prior *PropertyState) *PropertyState {
		next := &PropertyState{Status: status}
		if prior != nil {
			next.Position = prior.Position
			next.ColumnIndex = prior.ColumnIndex
			next.Comment = prior.Comment
		}
		return next
	})
}

// UpdateStatusInColumn classifies a property directly into a column.
func (self *Store) UpdateStatusInColumn(ctx context.Context, token string, status PropertyStatus, columnIndex int) error {
	return self.optimistic(ctx, token, func(prior *PropertyState) *PropertyState {
		next := &PropertyState{
			Status:      status,
			ColumnIndex: columnIndex,
		}
		if prior != nil {
			next.Position = prior.Position
			next.Comment = prior.Comment
		}
		return next
	})
}

// UpdateComment annotates a property. A first comment on an unclassified
// property defaults its status to liked.
func (self *Store) UpdateComment(ctx context.Context, token string, comment string) error {
	return self.optimistic(ctx, token, func(prior *PropertyState) *PropertyState {
		next := &PropertyState{
			Status:  StatusLiked,
			Comment: comment,
		}
		if prior != nil {
			next.Status = prior.Status
			next.Position = prior.Position
			next.ColumnIndex = prior.ColumnIndex
		}
		return next
	})
}

// Move reassigns column and position verbatim. Cross-column moves and
// same-column reorders are the same path; fromColumn is advisory.
func (self *Store) Move(ctx context.Context, token string, fromColumn int, toColumn int, newPosition int) error {
	return self.optimistic(ctx, token, func(prior *PropertyState) *PropertyState {
		next := &PropertyState{
			Status:      StatusLiked,
			Position:    newPosition,
			ColumnIndex: toColumn,
		}
		if prior != nil {
			next.Status = prior.Status
			next.Comment = prior.Comment
		}
		return next
	})
}

// optimistic applies snapshot -> compute -> apply -> persist -> rollback.
// The caller sees the mutation immediately; on persist failure the exact
// snapshot is restored (or the entry removed if none existed) and the error
// is returned for the caller to surface. No automatic retry.
func (self *Store) optimistic(ctx context.Context, token string, compute func(prior *PropertyState) *PropertyState) error {
	self.mutex.Lock()
	prior, hadState := self.states[token]
	entry, hadEntry := self.properties[token]
	var shadowStatus PropertyStatus
	var shadowComment string
	if hadEntry {
		shadowStatus = entry.Status
		shadowComment = entry.Comment
	}

	next := compute(prior)
	next.PropertyId = token
	next.LastUpdated = time.Now().UnixMilli()
	self.seq += 1
	next.seq = self.seq
	self.states[token] = next
	if hadEntry {
		entry.Status = next.Status
		entry.Comment = next.Comment
	}
	self.mutex.Unlock()

	if err := self.gateway.UpsertState(ctx, next); err != nil {
		self.mutex.Lock()
		if hadState {
			self.states[token] = prior
		} else {
			delete(self.states, token)
		}
		if hadEntry {
			entry.Status = shadowStatus
			entry.Comment = shadowComment
		}
		self.mutex.Unlock()
		glog.Infof("[s]rollback %s = %s\n", token, err)
		return err
	}

	self.saveLocal()
	return nil
}

// PropertiesByColumn buckets every classified, non-deleted property by its
// clamped column index, each bucket ascending by position with the local
// write sequence breaking ties. A state referencing an unknown token is
// inert; a known token with no state lands unclassified in column 0.
func (self *Store) PropertiesByColumn(columns []string) [][]*Property {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	groups := make([][]*Property, len(columns))
	for i := range groups {
		groups[i] = []*Property{}
	}
	if len(columns) == 0 {
		return groups
	}

	type item struct {
		property *Property
		position int
		seq      uint64
	}
	items := make([][]*item, len(columns))

	for _, token := range self.order {
		property := self.properties[token]
		state := self.states[token]

		if self.settings.StatusFilter != "" && state != nil && state.Status != self.settings.StatusFilter {
			continue
		}
		if state != nil && state.Status == StatusDeleted {
			continue
		}

		columnIndex := 0
		position := 0
		var seq uint64
		if state != nil {
			columnIndex = clampColumn(state.ColumnIndex, len(columns))
			position = state.Position
			seq = state.seq
		}
		items[columnIndex] = append(items[columnIndex], &item{
			property: self.enhanceLocked(property, state),
			position: position,
			seq:      seq,
		})
	}

	for i := range items {
		slices.SortStableFunc(items[i], func(a *item, b *item) int {
			if a.position != b.position {
				return a.position - b.position
			}
			if a.seq < b.seq {
				return -1
			} else if b.seq < a.seq {
				return 1
			}
			return 0
		})
		for _, it := range items[i] {
			groups[i] = append(groups[i], it.property)
		}
	}
	return groups
}

// PropertiesByStatus filters by effective status (state override, else the
// catalog shadow). Empty status returns everything, in catalog order.
func (self *Store) PropertiesByStatus(status PropertyStatus) []*Property {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	result := []*Property{}
	for _, token := range self.order {
		property := self.properties[token]
		state := self.states[token]
		effective := property.Status
		if state != nil {
			effective = state.Status
		}
		if status == "" || effective == status {
			result = append(result, self.enhanceLocked(property, state))
		}
	}
	return result
}

// PropertyWithState is a point lookup merging catalog entry and state.
// Both returns are nil for an unknown token.
func (self *Store) PropertyWithState(token string) (*Property, *PropertyState) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	property, ok := self.properties[token]
	if !ok {
		return nil, nil
	}
	state := self.states[token]
	var stateCopy *PropertyState
	if state != nil {
		c := *state
		stateCopy = &c
	}
	return self.enhanceLocked(property, state), stateCopy
}

// States returns a copy of the state map, offline persistence shape.
func (self *Store) States() map[string]*PropertyState {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	states := make(map[string]*PropertyState, len(self.states))
	for token, state := range self.states {
		c := *state
		states[token] = &c
	}
	return states
}

func (self *Store) enhanceLocked(property *Property, state *PropertyState) *Property {
	enhanced := *property
	if state != nil {
		enhanced.Status = state.Status
		if state.Comment != "" {
			enhanced.Comment = state.Comment
		}
	}
	return &enhanced
}

func (self *Store) saveLocal() {
	if self.settings.LocalFallback == nil {
		return
	}
	if err := self.settings.LocalFallback.SaveStates(self.States()); err != nil {
		glog.Infof("[s]local save error = %s\n", err)
	}
}

func clampColumn(columnIndex int, columnCount int) int {
	if columnIndex < 0 {
		return 0
	}
	if columnCount <= columnIndex {
		return columnCount - 1
	}
	return columnIndex
}
