package collaboration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"doc-collab/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// Fakes

type fakeDoc struct {
	mu       sync.Mutex
	editable bool
}

func (d *fakeDoc) ApplyLocal(update []byte) error {
	if !d.Editable() {
		return ErrReadOnly
	}
	return nil
}

func (d *fakeDoc) OnUpdate(func([]byte)) func() { return func() {} }

func (d *fakeDoc) SetEditable(editable bool) {
	d.mu.Lock()
	d.editable = editable
	d.mu.Unlock()
}

func (d *fakeDoc) Editable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.editable
}

type fakeAwareness struct {
	mu    sync.Mutex
	local *models.AwarenessState
}

func (a *fakeAwareness) SetLocalState(state models.AwarenessState) error {
	a.mu.Lock()
	a.local = &state
	a.mu.Unlock()
	return nil
}

func (a *fakeAwareness) Snapshot() models.AwarenessSnapshot { return models.AwarenessSnapshot{} }

func (a *fakeAwareness) Local() *models.AwarenessState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local
}

type fakeResource struct {
	documentID string
	doc        *fakeDoc
	awareness  *fakeAwareness

	mu          sync.Mutex
	should      bool
	connects    int
	disconnects int
	destroyed   int
	status      map[int]func(string)
	aware       map[int]func(models.AwarenessSnapshot)
	nextID      int
}

func newFakeResource(documentID string) *fakeResource {
	return &fakeResource{
		documentID: documentID,
		doc:        &fakeDoc{},
		awareness:  &fakeAwareness{},
		status:     make(map[int]func(string)),
		aware:      make(map[int]func(models.AwarenessSnapshot)),
	}
}

func (r *fakeResource) Doc() DocumentReplica        { return r.doc }
func (r *fakeResource) Awareness() AwarenessChannel { return r.awareness }

func (r *fakeResource) ShouldConnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.should
}

func (r *fakeResource) SetShouldConnect(v bool) {
	r.mu.Lock()
	r.should = v
	r.mu.Unlock()
}

func (r *fakeResource) Connect() {
	r.mu.Lock()
	r.connects++
	r.mu.Unlock()
}

// Disconnect reports the drop synchronously, the way a real transport does
func (r *fakeResource) Disconnect() {
	r.mu.Lock()
	r.disconnects++
	r.mu.Unlock()
	r.emitStatus("disconnected")
}

func (r *fakeResource) OnStatus(fn func(string)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.status[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.status, id)
		r.mu.Unlock()
	}
}

func (r *fakeResource) OnAwareness(fn func(models.AwarenessSnapshot)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.aware[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.aware, id)
		r.mu.Unlock()
	}
}

func (r *fakeResource) emitStatus(status string) {
	r.mu.Lock()
	var fns []func(string)
	for _, fn := range r.status {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(status)
	}
}

func (r *fakeResource) emitAwareness(snap models.AwarenessSnapshot) {
	r.mu.Lock()
	var fns []func(models.AwarenessSnapshot)
	for _, fn := range r.aware {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (r *fakeResource) counts() (connects, disconnects, destroyed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects, r.disconnects, r.destroyed
}

func (r *fakeResource) listenerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.status) + len(r.aware)
}

type fakeProvider struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	errs    map[string]error
	partial map[string]bool
	created []*fakeResource
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		gates:   make(map[string]chan struct{}),
		errs:    make(map[string]error),
		partial: make(map[string]bool),
	}
}

// hold makes CreateConnection for documentID block until the returned func is called
func (p *fakeProvider) hold(documentID string) func() {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gates[documentID] = gate
	p.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (p *fakeProvider) CreateConnection(ctx context.Context, documentID string, opts ConnectionOptions) (ConnectionResource, error) {
	p.mu.Lock()
	gate := p.gates[documentID]
	err := p.errs[documentID]
	partial := p.partial[documentID]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil && !partial {
		return nil, err
	}

	r := newFakeResource(documentID)
	p.mu.Lock()
	p.created = append(p.created, r)
	p.mu.Unlock()
	return r, err
}

func (p *fakeProvider) DestroyConnection(resource ConnectionResource) {
	r := resource.(*fakeResource)
	r.mu.Lock()
	r.destroyed++
	r.mu.Unlock()
}

func (p *fakeProvider) resources(documentID string) []*fakeResource {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*fakeResource
	for _, r := range p.created {
		if r.documentID == documentID {
			out = append(out, r)
		}
	}
	return out
}

type fakeReach struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]func(bool)
	nextID    int
}

func newFakeReach(online bool) *fakeReach {
	return &fakeReach{online: online, listeners: make(map[int]func(bool))}
}

func (f *fakeReach) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeReach) Subscribe(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeReach) set(online bool) {
	f.mu.Lock()
	f.online = online
	var fns []func(bool)
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

func (f *fakeReach) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

type fakeMeta struct {
	mu    sync.Mutex
	metas map[string]models.DocumentMeta
	calls int
}

func (m *fakeMeta) FetchDocumentMeta(ctx context.Context, documentID, token string) (*models.DocumentMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	meta, ok := m.metas[documentID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &meta, nil
}

func (m *fakeMeta) setArchived(documentID string, archived bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.metas[documentID]
	if archived {
		now := time.Now()
		meta.ArchivedAt = &now
	} else {
		meta.ArchivedAt = nil
	}
	m.metas[documentID] = meta
}

func (m *fakeMeta) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Harness

type harness struct {
	c        *Controller
	provider *fakeProvider
	reach    *fakeReach
	notifier *recordingNotifier
}

func newHarness(t *testing.T, mutate func(*ControllerConfig)) *harness {
	t.Helper()

	h := &harness{
		provider: newFakeProvider(),
		reach:    newFakeReach(true),
		notifier: &recordingNotifier{},
	}
	cfg := ControllerConfig{
		Provider:       h.provider,
		Reachability:   h.reach,
		Notifier:       h.notifier,
		Identity:       models.Identity{ID: "user-1", Name: "Ada"},
		AcquireTimeout: waitFor,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h.c = NewController(cfg)
	h.c.Start()
	t.Cleanup(h.c.Shutdown)
	return h
}

// installed waits until the controller holds a resource for documentID
func (h *harness) installed(t *testing.T, documentID string) *fakeResource {
	t.Helper()
	var res *fakeResource
	require.Eventually(t, func() bool {
		d := h.c.Doc()
		if d == nil {
			return false
		}
		for _, r := range h.provider.resources(documentID) {
			if r.doc == d {
				res = r
				return true
			}
		}
		return false
	}, waitFor, tick)
	return res
}

// Tests

func TestOpenInstallsAndConnects(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Open("doc-1", "")
	state := h.c.State()
	assert.Equal(t, "doc-1", state.DocumentID)
	assert.NotEmpty(t, state.SessionID)
	assert.Equal(t, models.StatusConnecting, state.Status)
	assert.False(t, state.IsReadOnly)

	res := h.installed(t, "doc-1")
	assert.True(t, res.ShouldConnect())
	connects, _, _ := res.counts()
	assert.Equal(t, 1, connects)
	assert.True(t, res.doc.Editable())

	local := res.awareness.Local()
	require.NotNil(t, local)
	require.NotNil(t, local.User)
	assert.Equal(t, "user-1", local.User.ID)
	assert.Equal(t, "Ada", local.User.Name)
	assert.Equal(t, ColorFor("user-1"), local.User.Color)

	res.emitStatus("connected")
	assert.Equal(t, models.StatusConnected, h.c.State().Status)
}

func TestOpenSameSessionIsNoop(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Open("doc-1", "")
	first := h.c.State().SessionID
	h.installed(t, "doc-1")

	h.c.Open("doc-1", "")
	assert.Equal(t, first, h.c.State().SessionID)
	assert.Len(t, h.provider.resources("doc-1"), 1)
}

func TestSwitchBeforeAcquireResolves(t *testing.T) {
	h := newHarness(t, nil)

	releaseA := h.provider.hold("doc-a")
	t.Cleanup(releaseA)

	h.c.Open("doc-a", "")
	h.c.Open("doc-b", "")

	resB := h.installed(t, "doc-b")

	releaseA()
	require.Eventually(t, func() bool {
		rs := h.provider.resources("doc-a")
		if len(rs) != 1 {
			return false
		}
		_, _, destroyed := rs[0].counts()
		return destroyed == 1
	}, waitFor, tick)

	resA := h.provider.resources("doc-a")[0]
	connects, _, _ := resA.counts()
	assert.Zero(t, connects, "stale resource must never connect")
	assert.Zero(t, resA.listenerCount())

	assert.Equal(t, "doc-b", h.c.State().DocumentID)
	assert.Equal(t, resB.doc, h.c.Doc())
	_, _, destroyedB := resB.counts()
	assert.Zero(t, destroyedB)
}

func TestSwitchDestroysPreviousResource(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Open("doc-a", "")
	resA := h.installed(t, "doc-a")

	h.c.Open("doc-b", "")
	_, _, destroyed := resA.counts()
	assert.Equal(t, 1, destroyed)
	assert.Zero(t, resA.listenerCount())

	// Late events from the old transport are ignored
	resA.emitStatus("disconnected")
	resB := h.installed(t, "doc-b")
	resB.emitStatus("connected")
	assert.Equal(t, models.StatusConnected, h.c.State().Status)
	assert.Empty(t, h.notifier.Sent())
}

func TestOfflineDisconnectsWithoutNotification(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Open("doc-1", "")
	res := h.installed(t, "doc-1")
	res.emitStatus("connected")
	require.Equal(t, models.StatusConnected, h.c.State().Status)

	h.reach.set(false)

	state := h.c.State()
	assert.Equal(t, models.StatusDisconnected, state.Status)
	assert.False(t, res.ShouldConnect())
	_, disconnects, _ := res.counts()
	assert.Equal(t, 1, disconnects)
	assert.Empty(t, h.notifier.Sent())
}

func TestOnlineReconnects(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Open("doc-1", "")
	res := h.installed(t, "doc-1")

	h.reach.set(false)
	require.Equal(t, models.StatusDisconnected, h.c.State().Status)

	h.reach.set(true)
	state := h.c.State()
	assert.Equal(t, models.StatusConnecting, state.Status)
	assert.Empty(t, state.Error)
	assert.True(t, res.ShouldConnect())
	connects, _, _ := res.counts()
	assert.Equal(t, 2, connects)
	assert.Empty(t, h.notifier.Sent())
}

func TestInstallWhileOffline(t *testing.T) {
	h := newHarness(t, nil)
	h.reach.set(false)

	h.c.Open("doc-1", "")
	res := h.installed(t, "doc-1")

	assert.Equal(t, models.StatusDisconnected, h.c.State().Status)
	assert.False(t, res.ShouldConnect())
	connects, _, _ := res.counts()
	assert.Zero(t, connects)
}

func TestRemoteDisconnectNotifiesOnce(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Open("doc-1", "")
	res := h.installed(t, "doc-1")
	res.emitStatus("connected")

	res.emitStatus("disconnected")
	res.emitStatus("disconnected")
	assert.Equal(t, models.StatusDisconnected, h.c.State().Status)

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, MessageConnectionLost, sent[0].Message)
	assert.Equal(t, "doc-1", sent[0].DocumentID)

	// A fresh drop after a reconnect attempt notifies again
	res.emitStatus("connecting")
	res.emitStatus("disconnected")
	h.c.State()
	assert.Len(t, h.notifier.Sent(), 2)
}

func TestUnknownStatusMapsToConnecting(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Open("doc-1", "")
	res := h.installed(t, "doc-1")
	res.emitStatus("connected")
	res.emitStatus("handshaking")

	assert.Equal(t, models.StatusConnecting, h.c.State().Status)
}

func TestInitFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.errs["doc-1"] = errors.New("refused")
	h.provider.partial["doc-1"] = true

	h.c.Open("doc-1", "")
	require.Eventually(t, func() bool {
		return h.c.State().Error == MessageConnectionFailed
	}, waitFor, tick)

	state := h.c.State()
	assert.Equal(t, models.StatusDisconnected, state.Status)
	assert.Nil(t, h.c.Doc())

	rs := h.provider.resources("doc-1")
	require.Len(t, rs, 1)
	_, _, destroyed := rs[0].counts()
	assert.Equal(t, 1, destroyed)
}

func TestInitFailureWithoutResource(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.errs["doc-1"] = errors.New("refused")

	h.c.Open("doc-1", "")
	require.Eventually(t, func() bool {
		return h.c.State().Error == MessageConnectionFailed
	}, waitFor, tick)
	assert.Empty(t, h.provider.resources("doc-1"))
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Close()

	h.c.Open("doc-1", "")
	res := h.installed(t, "doc-1")
	require.Equal(t, 1, h.reach.subscribers())

	h.c.Close()
	h.c.Close()

	_, _, destroyed := res.counts()
	assert.Equal(t, 1, destroyed)
	assert.Zero(t, res.listenerCount())
	assert.Zero(t, h.reach.subscribers())
	assert.Nil(t, h.c.Doc())
	assert.Empty(t, h.c.State().DocumentID)
}

func TestCloseDuringAcquire(t *testing.T) {
	h := newHarness(t, nil)
	release := h.provider.hold("doc-1")
	t.Cleanup(release)

	h.c.Open("doc-1", "")
	h.c.Close()
	release()

	require.Eventually(t, func() bool {
		rs := h.provider.resources("doc-1")
		if len(rs) != 1 {
			return false
		}
		_, _, destroyed := rs[0].counts()
		return destroyed == 1
	}, waitFor, tick)
	assert.Nil(t, h.c.Doc())
}

func TestShutdownDuringAcquire(t *testing.T) {
	h := newHarness(t, nil)
	release := h.provider.hold("doc-1")
	t.Cleanup(release)

	h.c.Open("doc-1", "")
	h.c.Shutdown()
	release()

	require.Eventually(t, func() bool {
		rs := h.provider.resources("doc-1")
		if len(rs) != 1 {
			return false
		}
		_, _, destroyed := rs[0].counts()
		return destroyed == 1
	}, waitFor, tick)
	assert.Zero(t, h.reach.subscribers())
}

func TestControllerBeforeStart(t *testing.T) {
	provider := newFakeProvider()
	c := NewController(ControllerConfig{
		Provider:     provider,
		Reachability: newFakeReach(true),
		Notifier:     &recordingNotifier{},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Open("doc-1", "")
		assert.Equal(t, models.SessionState{}, c.State())
		assert.Nil(t, c.Doc())

		updates, stop := c.Watch(1)
		_, ok := <-updates
		assert.False(t, ok)
		stop()

		c.Shutdown()
		c.Start()
		c.Open("doc-1", "")
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("controller blocked before Start")
	}
	assert.Empty(t, provider.resources("doc-1"))
}

// spans installs a recording tracer provider once per test binary
var (
	spansOnce sync.Once
	spans     *tracetest.SpanRecorder
)

func recordSpans() *tracetest.SpanRecorder {
	spansOnce.Do(func() {
		spans = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	})
	return spans
}

func TestTeardownIsTraced(t *testing.T) {
	recorder := recordSpans()
	h := newHarness(t, nil)

	h.c.Open("doc-1", "")
	h.installed(t, "doc-1")
	h.c.Close()

	var teardown sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() != "Session.Teardown" {
			continue
		}
		for _, e := range s.Events() {
			if e.Name == "resource.destroyed" {
				teardown = s
			}
		}
	}
	require.NotNil(t, teardown)
	assert.Contains(t, teardown.Attributes(), attribute.String("document.id", "doc-1"))
}

func TestShareTokenRejectedIsReadOnly(t *testing.T) {
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.Access = NewAccessResolver(&fakeValidator{err: errors.New("expired")}, cfg.Notifier)
	})

	h.c.Open("doc-1", "bad-token")
	assert.True(t, h.c.State().IsReadOnly, "tokened sessions start read-only")

	res := h.installed(t, "doc-1")
	require.Eventually(t, func() bool {
		return len(h.notifier.Sent()) == 1
	}, waitFor, tick)

	assert.True(t, h.c.State().IsReadOnly)
	assert.False(t, res.doc.Editable())
	assert.ErrorIs(t, res.doc.ApplyLocal([]byte{1}), ErrReadOnly)
	assert.Equal(t, MessageAccessCheckFailed, h.notifier.Sent()[0].Message)
}

func TestStaleAccessFailureIsNotWarned(t *testing.T) {
	v := &gatedValidator{release: make(chan struct{}), err: errors.New("expired")}
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.Access = NewAccessResolver(v, cfg.Notifier)
	})
	t.Cleanup(func() {
		select {
		case <-v.release:
		default:
			close(v.release)
		}
	})

	h.c.Open("doc-1", "bad-token")
	require.Eventually(t, func() bool { return atomic.LoadInt32(&v.calls) == 1 }, waitFor, tick)

	h.c.Open("doc-2", "")
	h.installed(t, "doc-2")
	close(v.release)

	assert.Never(t, func() bool {
		return len(h.notifier.Sent()) > 0
	}, 100*time.Millisecond, tick)
	assert.False(t, h.c.State().IsReadOnly)
}

func TestShareTokenEditGrantsWrite(t *testing.T) {
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.Access = NewAccessResolver(&fakeValidator{perms: map[string]models.SharePermission{
			"edit-token": models.PermissionEdit,
		}}, cfg.Notifier)
	})

	h.c.Open("doc-1", "edit-token")
	res := h.installed(t, "doc-1")

	require.Eventually(t, func() bool {
		return !h.c.State().IsReadOnly
	}, waitFor, tick)
	assert.True(t, res.doc.Editable())
	assert.Empty(t, h.notifier.Sent())
}

func TestArchivedDocumentIsReadOnly(t *testing.T) {
	archivedAt := time.Now()
	meta := &fakeMeta{metas: map[string]models.DocumentMeta{
		"doc-1": {ID: "doc-1", Title: "Old plan", ArchivedAt: &archivedAt},
	}}
	h := newHarness(t, func(cfg *ControllerConfig) { cfg.Metadata = meta })

	h.c.Open("doc-1", "")
	res := h.installed(t, "doc-1")

	require.Eventually(t, func() bool {
		return h.c.State().Archived
	}, waitFor, tick)

	state := h.c.State()
	assert.True(t, state.IsReadOnly)
	assert.Equal(t, "Old plan", state.Title)
	assert.False(t, res.doc.Editable())
}

func TestNotifyArchiveChanged(t *testing.T) {
	meta := &fakeMeta{metas: map[string]models.DocumentMeta{
		"doc-1": {ID: "doc-1", Title: "Plan"},
	}}
	h := newHarness(t, func(cfg *ControllerConfig) { cfg.Metadata = meta })

	h.c.Open("doc-1", "")
	res := h.installed(t, "doc-1")
	require.Eventually(t, func() bool {
		return h.c.State().Title == "Plan"
	}, waitFor, tick)
	require.False(t, h.c.State().IsReadOnly)
	calls := meta.Calls()

	h.c.NotifyArchiveChanged("doc-other")
	h.c.State()
	assert.Equal(t, calls, meta.Calls())

	meta.setArchived("doc-1", true)
	h.c.NotifyArchiveChanged("doc-1")
	require.Eventually(t, func() bool {
		return h.c.State().IsReadOnly
	}, waitFor, tick)

	meta.setArchived("doc-1", false)
	h.c.NotifyArchiveChanged("doc-1")
	require.Eventually(t, func() bool {
		return !h.c.State().IsReadOnly
	}, waitFor, tick)

	connects, disconnects, destroyed := res.counts()
	assert.Equal(t, 1, connects)
	assert.Zero(t, disconnects)
	assert.Zero(t, destroyed)
}

func TestSetIsReadOnly(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Open("doc-1", "")
	res := h.installed(t, "doc-1")
	require.True(t, res.doc.Editable())

	h.c.SetIsReadOnly(true)
	assert.True(t, h.c.State().IsReadOnly)
	assert.False(t, res.doc.Editable())

	h.c.SetIsReadOnly(false)
	assert.False(t, h.c.State().IsReadOnly)
	assert.True(t, res.doc.Editable())
}

func TestRosterAndWatch(t *testing.T) {
	h := newHarness(t, nil)
	updates, stop := h.c.Watch(64)
	defer stop()

	h.c.Open("doc-1", "")
	res := h.installed(t, "doc-1")

	res.emitAwareness(models.AwarenessSnapshot{
		1: `{"user":{"id":"user-1","name":"Ada"}}`,
		2: `{"user":{"id":"user-2","name":"Grace"}}`,
		3: `{"user":{"id":"user-1","name":"Ada"}}`,
	})

	roster := h.c.Roster()
	require.Len(t, roster, 2)
	assert.Equal(t, "user-1", roster[0].IdentityID)
	assert.Equal(t, "user-2", roster[1].IdentityID)

	var got Update
	require.Eventually(t, func() bool {
		select {
		case u := <-updates:
			if u.RosterChanged {
				got = u
				return true
			}
		default:
		}
		return false
	}, waitFor, tick)
	assert.True(t, got.CountChanged)
	assert.Equal(t, 2, got.Participants)
	assert.Len(t, got.Roster, 2)

	h.c.Close()
	assert.Empty(t, h.c.Roster())
}

func TestShutdownClosesWatchers(t *testing.T) {
	h := newHarness(t, nil)
	updates, _ := h.c.Watch(1)

	h.c.Shutdown()

	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-updates:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, tick)
}
