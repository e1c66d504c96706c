// Package store holds the dashboard's view of the lead service.
//
// Every mutation is an action executed by the single Run goroutine, so
// actions never interleave. Readers get deep copies through Snapshot.
// Entities are derived: the last confirmed server state for a key with the
// optimistic overlays of still-pending operations applied in dispatch
// order. Rejecting an operation removes its overlay and recomputes the key,
// so a rejected mutation is never visible once Reject returns.
//
// Every confirmed change bumps the store version. A full listing carries the
// version observed before it was requested; keys confirmed after that keep
// their newer state when the listing lands.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/isdelr/leadboard-be/internal/models"
)

// ErrStopped is returned by actions dispatched after Stop.
var ErrStopped = errors.New("store stopped")

// ErrEmptySession is returned by SetAuth when the token or identity is blank.
var ErrEmptySession = errors.New("empty session")

// Status is the lifecycle of one operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// RequestStatus is the last known outcome of an operation.
type RequestStatus struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// State is an immutable snapshot.
type State struct {
	Entities      map[string]models.Lead
	RequestStatus map[string]RequestStatus
	AuthToken     string
	Identity      *models.User
}

// Leads returns the entities newest first.
func (s State) Leads() []models.Lead {
	leads := make([]models.Lead, 0, len(s.Entities))
	for _, l := range s.Entities {
		leads = append(leads, l)
	}
	sort.Slice(leads, func(i, j int) bool {
		if !leads[i].CreatedAt.Equal(leads[j].CreatedAt) {
			return leads[i].CreatedAt.After(leads[j].CreatedAt)
		}
		return leads[i].ID > leads[j].ID
	})
	return leads
}

// Mutation derives the optimistic value of an entry from its current
// value. prev is nil when the key has no entry; returning nil removes it.
type Mutation func(prev *models.Lead) *models.Lead

// Change is a server-confirmed edit applied on Resolve or Reject.
type Change struct {
	upsert  *models.Lead
	remove  string
	replace []models.Lead
	reset   bool
	asOf    uint64
}

// Upsert confirms the server's version of a lead.
func Upsert(lead models.Lead) Change { return Change{upsert: &lead} }

// Remove confirms that a lead no longer exists.
func Remove(id string) Change { return Change{remove: id} }

// Replace confirms the complete list of leads as the service saw it at
// version asOf, normally Version() read just before the list was requested.
func Replace(leads []models.Lead, asOf uint64) Change {
	return Change{replace: leads, reset: true, asOf: asOf}
}

// Pending identifies one begun operation.
type Pending struct {
	seq   uint64
	Op    string
	Key   string
	stale atomic.Bool
}

// MarkStale makes the store discard this operation's status effect. Its
// overlay is still removed when it resolves or rejects.
func (p *Pending) MarkStale() { p.stale.Store(true) }

// Stale reports whether MarkStale was called.
func (p *Pending) Stale() bool { return p.stale.Load() }

type overlay struct {
	seq    uint64
	mutate Mutation
}

type action struct {
	apply func()
	done  chan struct{}
}

// Store is the client-side state container.
type Store struct {
	actions  chan action
	done     chan struct{}
	stopOnce sync.Once
	seq      atomic.Uint64
	version  atomic.Uint64 // written only by Run

	// owned by the Run goroutine
	token       string
	identity    *models.User
	status      map[string]RequestStatus
	confirmed   map[string]models.Lead
	overlays    map[string][]overlay
	statusOwner map[string]uint64
	touched     map[string]uint64 // version of each key's last confirmation
	epoch       uint64            // listings older than this are dropped
	listeners   map[uint64]func(State)
	nextSub     uint64

	mu    sync.RWMutex
	state State
}

// New creates an empty, logged-out Store. Call Run before dispatching.
func New() *Store {
	return &Store{
		actions:     make(chan action),
		done:        make(chan struct{}),
		status:      make(map[string]RequestStatus),
		confirmed:   make(map[string]models.Lead),
		overlays:    make(map[string][]overlay),
		statusOwner: make(map[string]uint64),
		touched:     make(map[string]uint64),
		listeners:   make(map[uint64]func(State)),
		state: State{
			Entities:      map[string]models.Lead{},
			RequestStatus: map[string]RequestStatus{},
		},
	}
}

// Run executes actions until Stop is called.
func (s *Store) Run() {
	for {
		select {
		case <-s.done:
			return
		case a := <-s.actions:
			a.apply()
			s.publish()
			close(a.done)
		}
	}
}

// Stop ends Run. Later actions return ErrStopped.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// dispatch runs fn on the Run goroutine and waits for it. Listeners run on
// that goroutine too, so they must not dispatch.
func (s *Store) dispatch(fn func()) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	a := action{apply: fn, done: make(chan struct{})}
	select {
	case s.actions <- a:
	case <-s.done:
		return ErrStopped
	}
	select {
	case <-a.done:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyState(s.state)
}

// Token returns the current bearer token, if any.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AuthToken
}

// Version returns the version of the last confirmed change.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Subscribe registers fn to receive a snapshot after every action. The
// returned function unsubscribes.
func (s *Store) Subscribe(fn func(State)) (func(), error) {
	var id uint64
	err := s.dispatch(func() {
		s.nextSub++
		id = s.nextSub
		s.listeners[id] = fn
	})
	if err != nil {
		return func() {}, err
	}
	return func() {
		_ = s.dispatch(func() { delete(s.listeners, id) })
	}, nil
}

// SetAuth records a successful login. Switching to a different identity
// drops every entity of the previous one.
func (s *Store) SetAuth(token string, identity models.User) error {
	if token == "" || identity.ID == "" {
		return ErrEmptySession
	}
	return s.dispatch(func() {
		if s.identity == nil || s.identity.ID != identity.ID {
			s.resetEntities()
		}
		s.token = token
		s.identity = &identity
		s.commit()
	})
}

// ClearAuth forgets the token, the identity and every entity.
func (s *Store) ClearAuth() error {
	return s.dispatch(func() {
		s.token = ""
		s.identity = nil
		s.resetEntities()
		s.commit()
	})
}

// Begin marks op pending and applies mutation optimistically to key. A nil
// mutation only tracks status.
func (s *Store) Begin(op, key string, mutation Mutation) (*Pending, error) {
	p := &Pending{seq: s.seq.Add(1), Op: op, Key: key}
	err := s.dispatch(func() {
		s.statusOwner[op] = p.seq
		s.status[op] = RequestStatus{Status: StatusPending}
		if mutation != nil {
			s.overlays[key] = append(s.overlays[key], overlay{seq: p.seq, mutate: mutation})
		}
		s.commit()
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Resolve drops p's overlay, applies the confirmed server changes and
// marks the operation succeeded.
func (s *Store) Resolve(p *Pending, changes ...Change) error {
	return s.dispatch(func() {
		s.dropOverlay(p)
		s.apply(changes)
		s.setStatus(p, RequestStatus{Status: StatusSucceeded})
		s.commit()
	})
}

// Reject drops p's overlay, applies changes the failure implies and marks
// the operation failed with err.
func (s *Store) Reject(p *Pending, err error, changes ...Change) error {
	return s.dispatch(func() {
		s.dropOverlay(p)
		s.apply(changes)
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		s.setStatus(p, RequestStatus{Status: StatusFailed, Reason: reason, Err: err})
		s.commit()
	})
}

// Abandon marks p stale and forgets its status. The overlay stays until p
// resolves or rejects.
func (s *Store) Abandon(p *Pending) error {
	p.MarkStale()
	return s.dispatch(func() {
		if s.statusOwner[p.Op] == p.seq {
			delete(s.statusOwner, p.Op)
			delete(s.status, p.Op)
		}
		s.commit()
	})
}

// Apply commits server changes that did not originate from an operation,
// such as push notifications.
func (s *Store) Apply(changes ...Change) error {
	return s.dispatch(func() {
		s.apply(changes)
		s.commit()
	})
}

func (s *Store) setStatus(p *Pending, st RequestStatus) {
	if p.Stale() || s.statusOwner[p.Op] != p.seq {
		return
	}
	s.status[p.Op] = st
}

func (s *Store) dropOverlay(p *Pending) {
	list := s.overlays[p.Key]
	for i, o := range list {
		if o.seq == p.seq {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.overlays, p.Key)
		return
	}
	s.overlays[p.Key] = list
}

func (s *Store) apply(changes []Change) {
	for _, c := range changes {
		switch {
		case c.reset:
			s.replace(c.replace, c.asOf)
		case c.upsert != nil:
			s.confirmed[c.upsert.ID] = *c.upsert
			s.touch(c.upsert.ID)
		case c.remove != "":
			delete(s.confirmed, c.remove)
			s.touch(c.remove)
		}
	}
	s.filterOwned()
}

func (s *Store) touch(id string) {
	s.touched[id] = s.version.Add(1)
}

// replace installs a listing taken at asOf. Keys confirmed after asOf keep
// their current state, present or removed.
func (s *Store) replace(leads []models.Lead, asOf uint64) {
	if asOf < s.epoch {
		return
	}
	next := make(map[string]models.Lead, len(leads))
	for _, l := range leads {
		if s.touched[l.ID] <= asOf {
			next[l.ID] = l
		}
	}
	for id, v := range s.touched {
		if v <= asOf {
			delete(s.touched, id)
			continue
		}
		if l, ok := s.confirmed[id]; ok {
			next[id] = l
		}
	}
	s.confirmed = next
	s.epoch = asOf
}

// filterOwned drops confirmed entries the current identity does not own.
func (s *Store) filterOwned() {
	for id, l := range s.confirmed {
		if s.identity == nil || !l.OwnedBy(s.identity.ID) {
			delete(s.confirmed, id)
		}
	}
}

func (s *Store) resetEntities() {
	s.confirmed = make(map[string]models.Lead)
	s.overlays = make(map[string][]overlay)
	s.touched = make(map[string]uint64)
	s.epoch = s.version.Add(1)
}

// commit rebuilds the derived entities and publishes a new state to
// readers. An optimistic entry with no confirmed counterpart is hidden once
// a confirmed lead carries its email, since emails are unique.
func (s *Store) commit() {
	entities := make(map[string]models.Lead, len(s.confirmed)+len(s.overlays))
	emails := make(map[string]bool, len(s.confirmed))
	for id, l := range s.confirmed {
		entities[id] = l
		if e := normalizeEmail(l.Email); e != "" {
			emails[e] = true
		}
	}
	for key, list := range s.overlays {
		var cur *models.Lead
		if l, ok := entities[key]; ok {
			cur = &l
		}
		for _, o := range list {
			cur = o.mutate(copyLeadPtr(cur))
		}
		if cur == nil {
			delete(entities, key)
			continue
		}
		if _, ok := s.confirmed[key]; !ok && emails[normalizeEmail(cur.Email)] {
			delete(entities, key)
			continue
		}
		if s.identity != nil && cur.OwnedBy(s.identity.ID) {
			entities[key] = *cur
		} else {
			delete(entities, key)
		}
	}

	next := copyState(State{
		RequestStatus: s.status,
		AuthToken:     s.token,
		Identity:      s.identity,
	})
	next.Entities = entities

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

func (s *Store) publish() {
	if len(s.listeners) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range s.listeners {
		fn(copyState(snap))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyState(in State) State {
	out := State{
		Entities:      make(map[string]models.Lead, len(in.Entities)),
		RequestStatus: make(map[string]RequestStatus, len(in.RequestStatus)),
		AuthToken:     in.AuthToken,
	}
	for k, v := range in.Entities {
		out.Entities[k] = copyLead(v)
	}
	for k, v := range in.RequestStatus {
		out.RequestStatus[k] = v
	}
	if in.Identity != nil {
		id := *in.Identity
		out.Identity = &id
	}
	return out
}

func copyLead(l models.Lead) models.Lead {
	if l.OwnerID != nil {
		owner := *l.OwnerID
		l.OwnerID = &owner
	}
	return l
}

func copyLeadPtr(l *models.Lead) *models.Lead {
	if l == nil {
		return nil
	}
	c := copyLead(*l)
	return &c
}
