package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/isdelr/leadboard-be/internal/client/store"
	"github.com/isdelr/leadboard-be/internal/common"
	"github.com/isdelr/leadboard-be/internal/models"
	ws "github.com/isdelr/leadboard-be/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory lead service. Hooks let tests block or fail
// individual calls.
type fakeAPI struct {
	mu     sync.Mutex
	leads  map[string]models.Lead
	calls  []string
	tokens []string
	seq    int

	onUpdate  func(id string, patch models.LeadPatch) error
	onCreate  func() error
	onList    func() error
	afterList func() // runs once the listing has been taken
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{leads: map[string]models.Lead{}}
}

func (f *fakeAPI) record(call, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.tokens = append(f.tokens, token)
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) Login(_ context.Context, username, password string) (string, models.User, error) {
	f.record("login", "")
	if password != "pw" {
		return "", models.User{}, common.ErrInvalidCredentials
	}
	if username == "ghost" {
		return "", models.User{ID: username, Username: username}, nil
	}
	return "tok-" + username, models.User{ID: username, Username: username}, nil
}

func (f *fakeAPI) Logout(_ context.Context, token string) error {
	f.record("logout", token)
	return nil
}

func (f *fakeAPI) ListLeads(_ context.Context, token string) ([]models.Lead, error) {
	f.record("list", token)
	if f.onList != nil {
		if err := f.onList(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	out := []models.Lead{}
	for _, l := range f.leads {
		out = append(out, l)
	}
	f.mu.Unlock()
	if f.afterList != nil {
		f.afterList()
	}
	return out, nil
}

func (f *fakeAPI) GetLead(_ context.Context, token, id string) (models.Lead, error) {
	f.record("get:"+id, token)
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok {
		return models.Lead{}, common.ErrNotFound
	}
	return lead, nil
}

func (f *fakeAPI) CreateLead(_ context.Context, token string, input models.LeadInput) (models.Lead, error) {
	f.record("create", token)
	if f.onCreate != nil {
		if err := f.onCreate(); err != nil {
			return models.Lead{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	owner := "ann"
	lead := models.Lead{
		ID:        fmt.Sprintf("l%d", f.seq),
		Name:      input.Name,
		Email:     input.Email,
		Message:   input.Message,
		CreatedAt: time.Now().UTC(),
		OwnerID:   &owner,
	}
	f.leads[lead.ID] = lead
	return lead, nil
}

func (f *fakeAPI) UpdateLead(_ context.Context, token, id string, patch models.LeadPatch) (models.Lead, error) {
	f.record("update:"+id+":"+*patch.Name, token)
	if f.onUpdate != nil {
		if err := f.onUpdate(id, patch); err != nil {
			return models.Lead{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok {
		return models.Lead{}, common.ErrNotFound
	}
	lead = patch.Apply(lead)
	f.leads[id] = lead
	return lead, nil
}

func (f *fakeAPI) DeleteLead(_ context.Context, token, id string) error {
	f.record("delete:"+id, token)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.leads[id]; !ok {
		return common.ErrNotFound
	}
	delete(f.leads, id)
	return nil
}

func (f *fakeAPI) seed(id, name string) models.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner := "ann"
	lead := models.Lead{ID: id, Name: name, Email: id + "@x.com", CreatedAt: time.Now().UTC(), OwnerID: &owner}
	f.leads[id] = lead
	return lead
}

func setup(t *testing.T) (*Syncer, *store.Store, *fakeAPI) {
	t.Helper()
	st := store.New()
	go st.Run()
	t.Cleanup(st.Stop)

	api := newFakeAPI()
	s := New(api, st, WithRetry(3, time.Millisecond))
	t.Cleanup(s.Close)

	_, err := s.Login(context.Background(), "ann", "pw")
	require.NoError(t, err)
	return s, st, api
}

func wait(t *testing.T, op *Operation) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := op.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "operation %s did not settle", op.Op)
	return err
}

func strPtr(s string) *string { return &s }

func TestLoginListCreate(t *testing.T) {
	s, st, api := setup(t)
	assert.Equal(t, "tok-ann", st.Token())
	assert.Equal(t, store.StatusSucceeded, st.Snapshot().RequestStatus["login"].Status)

	require.NoError(t, wait(t, s.List()))
	assert.Empty(t, st.Snapshot().Entities)

	op := s.Create(models.LeadInput{Name: "Ann", Email: "a@x.com"})
	require.NoError(t, wait(t, op))
	created := op.Lead()

	require.NoError(t, wait(t, s.List()))
	snap := st.Snapshot()
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, "Ann", snap.Entities[created.ID].Name)
	assert.False(t, snap.Entities[created.ID].CreatedAt.IsZero())

	for _, tok := range api.tokens[1:] {
		assert.Equal(t, "tok-ann", tok)
	}
}

func TestLoginFailureIsReported(t *testing.T) {
	st := store.New()
	go st.Run()
	t.Cleanup(st.Stop)
	s := New(newFakeAPI(), st)
	t.Cleanup(s.Close)

	_, err := s.Login(context.Background(), "ann", "wrong")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	snap := st.Snapshot()
	assert.Empty(t, snap.AuthToken)
	assert.Equal(t, store.StatusFailed, snap.RequestStatus["login"].Status)
}

func TestEmptySessionFailsLogin(t *testing.T) {
	st := store.New()
	go st.Run()
	t.Cleanup(st.Stop)
	s := New(newFakeAPI(), st)
	t.Cleanup(s.Close)

	_, err := s.Login(context.Background(), "ghost", "pw")
	require.ErrorIs(t, err, store.ErrEmptySession)
	snap := st.Snapshot()
	assert.Empty(t, snap.AuthToken)
	assert.Equal(t, store.StatusFailed, snap.RequestStatus["login"].Status)
}

func TestCreateFailureRestoresEntities(t *testing.T) {
	s, st, api := setup(t)
	api.seed("l0", "Existing")
	require.NoError(t, wait(t, s.List()))
	before := st.Snapshot().Entities

	gate := make(chan struct{})
	api.onCreate = func() error {
		<-gate
		return common.ErrConflict
	}

	op := s.Create(models.LeadInput{Name: "Dup", Email: "dup@x.com"})
	assert.Len(t, st.Snapshot().Entities, 2, "placeholder shown while pending")
	assert.Equal(t, store.StatusPending, st.Snapshot().RequestStatus[op.Op].Status)
	close(gate)

	require.ErrorIs(t, wait(t, op), common.ErrConflict)
	snap := st.Snapshot()
	assert.Equal(t, before, snap.Entities)
	assert.Equal(t, store.StatusFailed, snap.RequestStatus[op.Op].Status)
}

func TestRapidUpdatesResolveInDispatchOrder(t *testing.T) {
	s, st, api := setup(t)
	api.seed("l1", "Ann")
	require.NoError(t, wait(t, s.List()))

	gate := make(chan struct{})
	api.onUpdate = func(_ string, patch models.LeadPatch) error {
		if *patch.Name == "First" {
			<-gate
		}
		return nil
	}

	first := s.Update("l1", models.LeadPatch{Name: strPtr("First")})
	second := s.Update("l1", models.LeadPatch{Name: strPtr("Second")})

	// both overlays apply in order while pending
	assert.Equal(t, "Second", st.Snapshot().Entities["l1"].Name)

	// the second call waits for the first
	time.Sleep(20 * time.Millisecond)
	assert.NotContains(t, api.callLog(), "update:l1:Second")
	close(gate)

	require.NoError(t, wait(t, first))
	require.NoError(t, wait(t, second))

	calls := api.callLog()
	assert.Equal(t, []string{"update:l1:First", "update:l1:Second"}, calls[len(calls)-2:])
	assert.Equal(t, "Second", st.Snapshot().Entities["l1"].Name)
	assert.Equal(t, store.StatusSucceeded, st.Snapshot().RequestStatus["update:l1"].Status)
}

func TestDifferentLeadsRunConcurrently(t *testing.T) {
	s, _, api := setup(t)
	api.seed("l1", "Ann")
	api.seed("l2", "Bob")
	require.NoError(t, wait(t, s.List()))

	gate := make(chan struct{})
	api.onUpdate = func(id string, _ models.LeadPatch) error {
		if id == "l1" {
			<-gate
		}
		return nil
	}

	blocked := s.Update("l1", models.LeadPatch{Name: strPtr("x")})
	require.NoError(t, wait(t, s.Update("l2", models.LeadPatch{Name: strPtr("y")})))
	select {
	case <-blocked.Done():
		t.Fatal("l1 update should still be blocked")
	default:
	}
	close(gate)
	require.NoError(t, wait(t, blocked))
}

func TestInvalidTokenForcesLogout(t *testing.T) {
	s, st, api := setup(t)
	api.seed("l1", "Ann")
	require.NoError(t, wait(t, s.List()))
	require.NotEmpty(t, st.Snapshot().Entities)

	attempts := 0
	api.onUpdate = func(string, models.LeadPatch) error {
		attempts++
		return common.ErrInvalidToken
	}

	err := wait(t, s.Update("l1", models.LeadPatch{Name: strPtr("x")}))
	require.ErrorIs(t, err, ErrReauthRequired)
	require.ErrorIs(t, err, common.ErrInvalidToken)
	assert.Equal(t, 1, attempts, "auth failures are never retried")

	snap := st.Snapshot()
	assert.Empty(t, snap.AuthToken)
	assert.Nil(t, snap.Identity)
	assert.Empty(t, snap.Entities)
	assert.Equal(t, store.StatusFailed, snap.RequestStatus["update:l1"].Status)
}

func TestTransportFailuresAreRetried(t *testing.T) {
	s, st, api := setup(t)

	failures := 2
	api.onList = func() error {
		if failures > 0 {
			failures--
			return fmt.Errorf("%w: connection refused", common.ErrTransport)
		}
		return nil
	}
	api.seed("l1", "Ann")

	require.NoError(t, wait(t, s.List()))
	assert.Len(t, st.Snapshot().Entities, 1)

	lists := 0
	for _, c := range api.callLog() {
		if c == "list" {
			lists++
		}
	}
	assert.Equal(t, 3, lists)
}

func TestTransportRetriesAreBounded(t *testing.T) {
	s, st, api := setup(t)
	api.onList = func() error {
		return fmt.Errorf("%w: connection refused", common.ErrTransport)
	}

	err := wait(t, s.List())
	require.ErrorIs(t, err, common.ErrTransport)
	assert.Len(t, api.callLog(), 1+4, "login plus the first attempt and three retries")
	assert.Equal(t, store.StatusFailed, st.Snapshot().RequestStatus["list"].Status)
}

func TestOtherFailuresAreNotRetried(t *testing.T) {
	s, _, api := setup(t)
	api.onCreate = func() error { return common.ErrConflict }

	require.ErrorIs(t, wait(t, s.Create(models.LeadInput{Name: "x"})), common.ErrConflict)
	assert.Equal(t, []string{"login", "create"}, api.callLog())
}

func TestNotFoundRemovesEntry(t *testing.T) {
	s, st, api := setup(t)
	api.seed("l1", "Ann")
	require.NoError(t, wait(t, s.List()))

	// deleted elsewhere
	api.mu.Lock()
	delete(api.leads, "l1")
	api.mu.Unlock()

	require.ErrorIs(t, wait(t, s.Update("l1", models.LeadPatch{Name: strPtr("x")})), common.ErrNotFound)
	assert.NotContains(t, st.Snapshot().Entities, "l1")
}

func TestDeleteTwice(t *testing.T) {
	s, st, api := setup(t)
	api.seed("l1", "Ann")
	require.NoError(t, wait(t, s.List()))

	first := s.Delete("l1")
	assert.NotContains(t, st.Snapshot().Entities, "l1", "removed optimistically")
	second := s.Delete("l1")

	require.NoError(t, wait(t, first))
	require.ErrorIs(t, wait(t, second), common.ErrNotFound)
	assert.NotContains(t, st.Snapshot().Entities, "l1")
}

func TestCancelDiscardsStatusButReconciles(t *testing.T) {
	s, st, api := setup(t)
	api.seed("l1", "Ann")
	require.NoError(t, wait(t, s.List()))

	gate := make(chan struct{})
	api.onUpdate = func(string, models.LeadPatch) error {
		<-gate
		return errors.New("server exploded")
	}

	op := s.Update("l1", models.LeadPatch{Name: strPtr("Optimistic")})
	assert.Equal(t, "Optimistic", st.Snapshot().Entities["l1"].Name)
	op.Cancel()
	close(gate)

	require.Error(t, wait(t, op))
	snap := st.Snapshot()
	assert.NotContains(t, snap.RequestStatus, "update:l1")
	assert.Equal(t, "Ann", snap.Entities["l1"].Name)
}

func TestLogoutClearsSession(t *testing.T) {
	s, st, api := setup(t)
	require.NoError(t, s.Logout(context.Background()))
	assert.Empty(t, st.Token())
	assert.Contains(t, api.callLog(), "logout")
}

func TestHandlePush(t *testing.T) {
	s, st, _ := setup(t)
	owner := "ann"
	lead := models.Lead{ID: "l9", Name: "Pushed", OwnerID: &owner}

	s.handlePush(ws.Message{Action: ws.ActionLeadCreated, Payload: mustPayload(t, ws.NewLeadMessage(ws.ActionLeadCreated, lead.ID, &lead))})
	assert.Equal(t, "Pushed", st.Snapshot().Entities["l9"].Name)

	s.handlePush(ws.Message{Action: ws.ActionLeadDeleted, Payload: mustPayload(t, ws.NewLeadMessage(ws.ActionLeadDeleted, lead.ID, nil))})
	assert.NotContains(t, st.Snapshot().Entities, "l9")
}

func mustPayload(t *testing.T, raw []byte) []byte {
	t.Helper()
	var msg ws.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg.Payload
}

// holdList makes the next list call take its listing, then wait for the
// returned release func before answering.
func holdList(t *testing.T, api *fakeAPI) (answered <-chan struct{}, release func()) {
	t.Helper()
	taken := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	api.afterList = func() {
		once.Do(func() { close(taken) })
		<-gate
	}
	return taken, func() { close(gate) }
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestLateListKeepsConcurrentCreate(t *testing.T) {
	s, st, api := setup(t)
	answered, release := holdList(t, api)

	list := s.List()
	waitFor(t, answered)

	create := s.Create(models.LeadInput{Name: "Ann", Email: "a@x.com"})
	require.NoError(t, wait(t, create))
	require.Len(t, st.Snapshot().Entities, 1)

	release()
	require.NoError(t, wait(t, list))
	snap := st.Snapshot()
	require.Len(t, snap.Entities, 1)
	assert.Contains(t, snap.Entities, create.Lead().ID)
	assert.Equal(t, store.StatusSucceeded, snap.RequestStatus["list"].Status)
}

func TestLateListKeepsConcurrentUpdateAndDelete(t *testing.T) {
	s, st, api := setup(t)
	api.seed("l1", "Ann")
	api.seed("l2", "Bob")
	require.NoError(t, wait(t, s.List()))

	answered, release := holdList(t, api)
	list := s.List()
	waitFor(t, answered)

	require.NoError(t, wait(t, s.Update("l1", models.LeadPatch{Name: strPtr("Ann B.")})))
	require.NoError(t, wait(t, s.Delete("l2")))

	release()
	require.NoError(t, wait(t, list))
	snap := st.Snapshot()
	assert.Equal(t, "Ann B.", snap.Entities["l1"].Name)
	assert.NotContains(t, snap.Entities, "l2")
}

func TestListAfterConfirmationsIsAuthoritative(t *testing.T) {
	s, st, api := setup(t)
	api.seed("l0", "Ann")
	require.NoError(t, wait(t, s.Get("l0")))
	require.NoError(t, wait(t, s.Create(models.LeadInput{Name: "Bob", Email: "b@x.com"})))

	// removed elsewhere without a push
	api.mu.Lock()
	delete(api.leads, "l0")
	api.mu.Unlock()

	require.NoError(t, wait(t, s.List()))
	snap := st.Snapshot()
	require.Len(t, snap.Entities, 1)
	for _, l := range snap.Entities {
		assert.Equal(t, "Bob", l.Name)
	}
}

func TestPushBeforeCreateResolvesShowsLeadOnce(t *testing.T) {
	s, st, api := setup(t)
	gate := make(chan struct{})
	api.onCreate = func() error {
		<-gate
		return nil
	}

	op := s.Create(models.LeadInput{Name: "Ann", Email: "a@x.com"})
	require.Len(t, st.Snapshot().Entities, 1)

	owner := "ann"
	pushed := models.Lead{ID: "l7", Name: "Ann", Email: "a@x.com", CreatedAt: time.Now().UTC(), OwnerID: &owner}
	s.handlePush(ws.Message{Action: ws.ActionLeadCreated, Payload: mustPayload(t, ws.NewLeadMessage(ws.ActionLeadCreated, pushed.ID, &pushed))})

	snap := st.Snapshot()
	require.Len(t, snap.Entities, 1)
	assert.Contains(t, snap.Entities, "l7")

	close(gate)
	require.NoError(t, wait(t, op))
}

func TestGetRefreshesAndRemovesMissing(t *testing.T) {
	s, st, api := setup(t)
	api.seed("l1", "Ann")

	op := s.Get("l1")
	require.NoError(t, wait(t, op))
	assert.Equal(t, "Ann", op.Lead().Name)
	assert.Equal(t, "Ann", st.Snapshot().Entities["l1"].Name)

	api.mu.Lock()
	delete(api.leads, "l1")
	api.mu.Unlock()

	require.ErrorIs(t, wait(t, s.Get("l1")), common.ErrNotFound)
	assert.NotContains(t, st.Snapshot().Entities, "l1")
}
