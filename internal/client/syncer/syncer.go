// Package syncer turns dashboard actions into API calls and reconciles the
// results into a store.Store.
//
// Each action begins an optimistic operation in the store, performs one
// API call carrying the store's current token and then resolves or rejects
// the operation. Actions on the same lead run strictly in dispatch order;
// actions on different leads run concurrently.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/isdelr/leadboard-be/internal/client/store"
	"github.com/isdelr/leadboard-be/internal/common"
	"github.com/isdelr/leadboard-be/internal/models"
	ws "github.com/isdelr/leadboard-be/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

// ErrReauthRequired is returned when the service rejected the credential;
// the store has already been logged out.
var ErrReauthRequired = errors.New("re-authentication required")

// listKey serializes list refreshes with each other.
const listKey = "list"

// API is the subset of the lead service the Syncer drives.
type API interface {
	Login(ctx context.Context, username, password string) (string, models.User, error)
	Logout(ctx context.Context, token string) error
	ListLeads(ctx context.Context, token string) ([]models.Lead, error)
	GetLead(ctx context.Context, token, id string) (models.Lead, error)
	CreateLead(ctx context.Context, token string, input models.LeadInput) (models.Lead, error)
	UpdateLead(ctx context.Context, token, id string, patch models.LeadPatch) (models.Lead, error)
	DeleteLead(ctx context.Context, token, id string) error
}

// Watcher streams push notifications.
type Watcher interface {
	Watch(ctx context.Context, token string, fn func(ws.Message)) error
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithRetry bounds transport retries to maxRetries attempts after the
// first, backing off exponentially from base.
func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(s *Syncer) {
		s.maxRetries = maxRetries
		s.baseDelay = base
	}
}

// Syncer dispatches actions against an API and a Store.
type Syncer struct {
	api        API
	store      *store.Store
	maxRetries uint64
	baseDelay  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	lanes  map[string]chan struct{}
	tmpSeq atomic.Uint64
}

// New creates a Syncer. Operations keep running after the caller stops
// waiting for them; Close cancels whatever is still in flight.
func New(api API, st *store.Store, opts ...Option) *Syncer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		api:        api,
		store:      st,
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
		ctx:        ctx,
		cancel:     cancel,
		lanes:      make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close cancels in-flight operations and waits for them to settle.
func (s *Syncer) Close() {
	s.cancel()
	s.wg.Wait()
}

// Operation is the handle of one dispatched action.
type Operation struct {
	Op  string
	Key string

	store   *store.Store
	pending *store.Pending
	done    chan struct{}
	err     error
	lead    models.Lead
}

// Done is closed when the operation has been reconciled into the store.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Wait blocks until the operation settles or ctx is done.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the outcome once Done is closed.
func (o *Operation) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Lead returns the server's version of the lead for create and update.
func (o *Operation) Lead() models.Lead {
	<-o.done
	return o.lead
}

// Cancel detaches the caller from the operation. The request still
// completes and its entity changes are still reconciled, but it no longer
// reports a request status.
func (o *Operation) Cancel() {
	if o.pending == nil {
		return
	}
	if err := o.store.Abandon(o.pending); err != nil {
		log.Debug().Err(err).Str("op", o.Op).Msg("Syncer: abandon after store stop")
	}
}

// Login authenticates and records the session in the store.
func (s *Syncer) Login(ctx context.Context, username, password string) (models.User, error) {
	p, err := s.store.Begin("login", "", nil)
	if err != nil {
		return models.User{}, err
	}
	token, user, err := s.api.Login(ctx, username, password)
	if err != nil {
		_ = s.store.Reject(p, err)
		return models.User{}, err
	}
	if err := s.store.SetAuth(token, user); err != nil {
		_ = s.store.Reject(p, err)
		return models.User{}, err
	}
	return user, s.store.Resolve(p)
}

// Logout revokes the current token and clears the session. The local
// session is cleared even when the service cannot be reached.
func (s *Syncer) Logout(ctx context.Context) error {
	token := s.store.Token()
	var err error
	if token != "" {
		err = s.api.Logout(ctx, token)
		if common.IsAuthError(err) {
			err = nil
		}
	}
	if cerr := s.store.ClearAuth(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// List refreshes the entities from the service. Leads confirmed by other
// operations while the list is in flight keep their newer state.
func (s *Syncer) List() *Operation {
	return s.dispatch("list", listKey, nil, func(ctx context.Context, token string) (models.Lead, []store.Change, error) {
		asOf := s.store.Version()
		leads, err := s.api.ListLeads(ctx, token)
		if err != nil {
			return models.Lead{}, nil, err
		}
		return models.Lead{}, []store.Change{store.Replace(leads, asOf)}, nil
	})
}

// Get refreshes a single lead. A lead the service no longer has is removed.
func (s *Syncer) Get(id string) *Operation {
	return s.dispatch("get:"+id, id, nil, func(ctx context.Context, token string) (models.Lead, []store.Change, error) {
		lead, err := s.api.GetLead(ctx, token, id)
		if err != nil {
			return models.Lead{}, nil, err
		}
		return lead, []store.Change{store.Upsert(lead)}, nil
	})
}

// Create submits a new lead. Until the service answers, a placeholder with
// a temporary id is shown.
func (s *Syncer) Create(input models.LeadInput) *Operation {
	key := "tmp-" + strconv.FormatUint(s.tmpSeq.Add(1), 10)
	placeholder := models.Lead{
		ID:        key,
		Name:      input.Name,
		Email:     input.Email,
		Message:   input.Message,
		CreatedAt: time.Now().UTC(),
	}
	if identity := s.store.Snapshot().Identity; identity != nil {
		owner := identity.ID
		placeholder.OwnerID = &owner
	}
	mutation := func(*models.Lead) *models.Lead {
		l := placeholder
		return &l
	}

	return s.dispatch("create:"+key, key, mutation, func(ctx context.Context, token string) (models.Lead, []store.Change, error) {
		lead, err := s.api.CreateLead(ctx, token, input)
		if err != nil {
			return models.Lead{}, nil, err
		}
		return lead, []store.Change{store.Upsert(lead)}, nil
	})
}

// Update changes a lead's name and/or message.
func (s *Syncer) Update(id string, patch models.LeadPatch) *Operation {
	mutation := func(prev *models.Lead) *models.Lead {
		if prev == nil {
			return nil
		}
		next := patch.Apply(*prev)
		return &next
	}
	return s.dispatch("update:"+id, id, mutation, func(ctx context.Context, token string) (models.Lead, []store.Change, error) {
		lead, err := s.api.UpdateLead(ctx, token, id, patch)
		if err != nil {
			return models.Lead{}, nil, err
		}
		return lead, []store.Change{store.Upsert(lead)}, nil
	})
}

// Delete removes a lead; it disappears from the store immediately.
func (s *Syncer) Delete(id string) *Operation {
	mutation := func(*models.Lead) *models.Lead { return nil }
	return s.dispatch("delete:"+id, id, mutation, func(ctx context.Context, token string) (models.Lead, []store.Change, error) {
		if err := s.api.DeleteLead(ctx, token, id); err != nil {
			return models.Lead{}, nil, err
		}
		return models.Lead{}, []store.Change{store.Remove(id)}, nil
	})
}

type callFunc func(ctx context.Context, token string) (models.Lead, []store.Change, error)

type result struct {
	lead    models.Lead
	changes []store.Change
}

func (s *Syncer) dispatch(op, key string, mutation store.Mutation, call callFunc) *Operation {
	o := &Operation{Op: op, Key: key, store: s.store, done: make(chan struct{})}

	pending, err := s.store.Begin(op, key, mutation)
	if err != nil {
		o.err = err
		close(o.done)
		return o
	}
	o.pending = pending

	prev, release := s.enqueue(key)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(o.done)
		defer release()

		if prev != nil {
			select {
			case <-prev:
			case <-s.ctx.Done():
				o.err = s.ctx.Err()
				_ = s.store.Reject(pending, o.err)
				return
			}
		}

		res, err := s.withRetry(func(ctx context.Context) (result, error) {
			lead, changes, err := call(ctx, s.store.Token())
			return result{lead: lead, changes: changes}, err
		})
		if err == nil {
			o.lead = res.lead
			o.err = s.store.Resolve(pending, res.changes...)
			return
		}
		o.err = s.reject(pending, err)
	}()
	return o
}

// reject reconciles a failed operation and returns the error to report.
func (s *Syncer) reject(p *store.Pending, err error) error {
	switch {
	case common.IsAuthError(err):
		err = fmt.Errorf("%w: %w", ErrReauthRequired, err)
		_ = s.store.Reject(p, err)
		if cerr := s.store.ClearAuth(); cerr != nil {
			log.Debug().Err(cerr).Msg("Syncer: clear auth after store stop")
		}
	case errors.Is(err, common.ErrNotFound) && p.Key != listKey:
		_ = s.store.Reject(p, err, store.Remove(p.Key))
	default:
		_ = s.store.Reject(p, err)
	}
	log.Debug().Err(err).Str("op", p.Op).Msg("Syncer: operation failed")
	return err
}

// enqueue appends to key's lane. The returned channel, if not nil, closes
// when the previous operation on key has settled; release must be called
// when this one has.
func (s *Syncer) enqueue(key string) (<-chan struct{}, func()) {
	mine := make(chan struct{})
	s.mu.Lock()
	prev := s.lanes[key]
	s.lanes[key] = mine
	s.mu.Unlock()

	release := func() {
		close(mine)
		s.mu.Lock()
		if s.lanes[key] == mine {
			delete(s.lanes, key)
		}
		s.mu.Unlock()
	}
	return prev, release
}

// withRetry runs fn, retrying transport failures with exponential backoff.
func (s *Syncer) withRetry(fn func(ctx context.Context) (result, error)) (result, error) {
	b := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.baseDelay))
	return retry.DoValue(s.ctx, b, func(ctx context.Context) (result, error) {
		res, err := fn(ctx)
		if err != nil && errors.Is(err, common.ErrTransport) {
			log.Debug().Err(err).Msg("Syncer: transport failure, retrying")
			return res, retry.RetryableError(err)
		}
		return res, err
	})
}

// Watch applies push notifications to the store until ctx is done. Dropped
// connections are re-established with backoff.
func (s *Syncer) Watch(ctx context.Context) error {
	watcher, ok := s.api.(Watcher)
	if !ok {
		return errors.New("api does not support watching")
	}

	b := retry.WithCappedDuration(30*time.Second, retry.NewExponential(s.baseDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := watcher.Watch(ctx, s.store.Token(), s.handlePush)
		switch {
		case err == nil, errors.Is(err, common.ErrTransport):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Err(err).Msg("Syncer: watch connection dropped, reconnecting")
			return retry.RetryableError(fmt.Errorf("%w: watch ended", common.ErrTransport))
		default:
			return err
		}
	})
	if common.IsAuthError(err) {
		_ = s.store.ClearAuth()
		return fmt.Errorf("%w: %w", ErrReauthRequired, err)
	}
	return err
}

func (s *Syncer) handlePush(msg ws.Message) {
	var payload ws.LeadPayload
	switch msg.Action {
	case ws.ActionLeadCreated, ws.ActionLeadUpdated:
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Lead == nil {
			log.Warn().Err(err).Str("action", msg.Action).Msg("Syncer: malformed push")
			return
		}
		_ = s.store.Apply(store.Upsert(*payload.Lead))
	case ws.ActionLeadDeleted:
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.ID == "" {
			log.Warn().Err(err).Str("action", msg.Action).Msg("Syncer: malformed push")
			return
		}
		_ = s.store.Apply(store.Remove(payload.ID))
	}
}
