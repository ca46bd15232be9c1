package collaboration

import (
	"context"
	"sync"
	"time"

	"doc-collab/internal/middleware"
	"doc-collab/internal/models"

	"github.com/golang/glog"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: ONE GOROUTINE OWNS THE SESSION

Every input to a session arrives asynchronously: transport status, awareness
ticks, network up/down, the result of connecting, metadata, share-token checks.
Instead of locking the session state, every input is turned into a closure and
queued onto a single event loop, so handlers run one at a time, in arrival
order, exactly like event handlers on a UI thread.

Work that can block (connecting, HTTP lookups) runs on helper goroutines. They
capture the epoch that was current when they started and post their result
back to the loop; if the epoch has moved on (document or token changed, or the
session was closed) the result is stale and gets discarded. A stale
connection resource is destroyed, never installed.
*/

// Update is delivered to watchers whenever the rendered session changes
type Update struct {
	State         models.SessionState
	Roster        []models.PresenceEntry
	Participants  int
	RosterChanged bool
	CountChanged  bool
}

// ControllerConfig wires the Controller to its collaborators.
// Provider and Reachability are required.
type ControllerConfig struct {
	Provider     ConnectionProvider
	Reachability Reachability
	Metadata     MetadataFetcher
	Access       *AccessResolver
	Notifier     Notifier
	Identity     models.Identity

	AcquireTimeout time.Duration
}

// Controller owns the live session for one view: at most one connection
// resource, its listeners, and the state derived from it.
type Controller struct {
	provider ConnectionProvider
	reach    Reachability
	meta     MetadataFetcher
	access   *AccessResolver
	notifier Notifier
	identity models.Identity

	acquireTimeout time.Duration

	// Event queue
	qmu     sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	closed  bool
	started bool
	start   sync.Once

	// Loop-owned state, never touched outside the event loop
	epoch              uint64
	session            *models.Session
	state              models.SessionState
	mode               AccessMode
	resource           ConnectionResource
	unsubscribe        []func()
	lastObservedStatus models.Status
	presence           *PresenceAggregator
	roster             []models.PresenceEntry
	participants       int
	watchers           map[int]chan Update
	nextWatcher        int
}

// NewController creates a controller. Call Start before using it.
func NewController(cfg ControllerConfig) *Controller {
	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLogNotifier()
	}

	access := cfg.Access
	if access == nil {
		access = NewAccessResolver(nil, notifier)
	}

	return &Controller{
		provider:       cfg.Provider,
		reach:          cfg.Reachability,
		meta:           cfg.Metadata,
		access:         access,
		notifier:       notifier,
		identity:       cfg.Identity,
		acquireTimeout: timeout,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
		state:          models.SessionState{Status: models.StatusConnecting},
		presence:       NewPresenceAggregator(),
		watchers:       make(map[int]chan Update),
	}
}

// Start begins the controller event loop
func (c *Controller) Start() {
	c.start.Do(func() {
		c.qmu.Lock()
		c.started = true
		c.qmu.Unlock()
		go c.loop()
	})
}

func (c *Controller) loop() {
	defer close(c.stopped)

	for {
		select {
		case <-c.done:
			// Work accepted before shutdown still runs, so late resources get destroyed
			c.drain()
			return
		case <-c.wake:
			c.drain()
		}
	}
}

func (c *Controller) drain() {
	for {
		c.qmu.Lock()
		if len(c.queue) == 0 {
			c.qmu.Unlock()
			return
		}
		batch := c.queue
		c.queue = nil
		c.qmu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}

// post queues fn onto the event loop. It never blocks, so it is safe to call
// from listeners that fire synchronously inside loop handlers. It reports
// false once the controller has shut down.
func (c *Controller) post(fn func()) bool {
	c.qmu.Lock()
	if c.closed {
		c.qmu.Unlock()
		return false
	}
	c.queue = append(c.queue, fn)
	c.qmu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// run queues fn and waits for it to execute. It returns false without running
// fn when the loop was never started or has stopped. Must not be called from
// the event loop itself (listeners, Notifier).
func (c *Controller) run(fn func()) bool {
	c.qmu.Lock()
	started := c.started
	c.qmu.Unlock()
	if !started {
		glog.Warningf("⚠️  Controller used before Start")
		return false
	}

	executed := make(chan struct{})
	if !c.post(func() {
		fn()
		close(executed)
	}) {
		return false
	}

	select {
	case <-executed:
		return true
	case <-c.stopped:
		return false
	}
}

// Open makes (documentID, token) the current session. Any previous session is
// torn down first; reopening the current pair is a no-op.
func (c *Controller) Open(documentID, token string) {
	c.run(func() {
		if c.session != nil && c.session.DocumentID == documentID && c.session.AccessToken == token {
			return
		}
		c.teardown()
		c.initialize(documentID, token)
	})
}

// Close tears the current session down. Calling it again does nothing.
func (c *Controller) Close() {
	c.run(func() {
		if c.session == nil && c.resource == nil {
			return
		}
		c.teardown()
		c.publish(false, false)
	})
}

// Shutdown closes the session, stops the event loop and closes watchers
func (c *Controller) Shutdown() {
	c.Close()

	c.qmu.Lock()
	if c.closed {
		c.qmu.Unlock()
		return
	}
	c.closed = true
	c.qmu.Unlock()

	close(c.done)
	c.start.Do(func() { close(c.stopped) })
	<-c.stopped

	for id, ch := range c.watchers {
		close(ch)
		delete(c.watchers, id)
	}
}

// State returns the currently rendered session state
func (c *Controller) State() models.SessionState {
	var s models.SessionState
	c.run(func() { s = c.state })
	return s
}

// Roster returns the current deduplicated participants
func (c *Controller) Roster() []models.PresenceEntry {
	var r []models.PresenceEntry
	c.run(func() { r = append(r, c.roster...) })
	return r
}

// Doc returns the live document replica, or nil while no resource is installed
func (c *Controller) Doc() DocumentReplica {
	var d DocumentReplica
	c.run(func() {
		if c.resource != nil {
			d = c.resource.Doc()
		}
	})
	return d
}

// Awareness returns the live awareness channel, or nil
func (c *Controller) Awareness() AwarenessChannel {
	var a AwarenessChannel
	c.run(func() {
		if c.resource != nil {
			a = c.resource.Awareness()
		}
	})
	return a
}

// SetIsReadOnly overrides the read-only flag until the next access recompute
func (c *Controller) SetIsReadOnly(readOnly bool) {
	c.run(func() {
		if c.state.IsReadOnly == readOnly {
			return
		}
		c.state.IsReadOnly = readOnly
		c.syncEditable()
		c.publish(false, false)
	})
}

// NotifyArchiveChanged refreshes metadata when documentID is the current
// document. The connection is left alone.
func (c *Controller) NotifyArchiveChanged(documentID string) {
	c.post(func() {
		if c.session == nil || c.session.DocumentID != documentID {
			return
		}
		go c.refreshMeta(c.epoch, c.session.DocumentID, c.session.AccessToken)
	})
}

// Watch subscribes to session updates. The returned func unsubscribes.
// Updates are dropped for watchers whose buffer is full.
func (c *Controller) Watch(buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	var id int
	if !c.run(func() {
		id = c.nextWatcher
		c.nextWatcher++
		c.watchers[id] = ch
	}) {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.run(func() {
				if w, ok := c.watchers[id]; ok {
					delete(c.watchers, id)
					close(w)
				}
			})
		})
	}
}

// initialize starts a new session. Runs on the event loop.
func (c *Controller) initialize(documentID, token string) {
	c.epoch++
	epoch := c.epoch

	c.session = models.NewSession(documentID, token)
	c.resource = nil
	c.lastObservedStatus = ""
	c.mode = AccessMode{Permission: InitialPermission(token)}
	c.state = models.SessionState{
		SessionID:  c.session.ID,
		DocumentID: documentID,
		Status:     models.StatusConnecting,
		IsReadOnly: c.mode.ReadOnly(),
	}

	glog.Infof("🔄 Opening session %s for document %s", c.session.ID, documentID)

	c.unsubscribe = append(c.unsubscribe, c.reach.Subscribe(func(online bool) {
		c.post(func() {
			if c.epoch != epoch {
				return
			}
			if online {
				c.handleOnline()
			} else {
				c.handleOffline()
			}
		})
	}))

	c.publish(false, false)

	session := c.session
	go c.acquire(epoch, session)
	go c.refreshMeta(epoch, documentID, token)
	if token != "" {
		go c.resolveAccess(epoch, documentID, token)
	}
}

// acquire creates the connection resource off the event loop
func (c *Controller) acquire(epoch uint64, session *models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), c.acquireTimeout)
	defer cancel()

	ctx, span := middleware.StartSpan(ctx, "Session.Acquire",
		attribute.String("session.id", session.ID),
		attribute.String("document.id", session.DocumentID),
	)
	defer span.End()

	resource, err := c.createConnection(ctx, session)
	if err != nil {
		middleware.AddSpanError(ctx, err)
	} else {
		middleware.AddSpanEvent(ctx, "connection.created")
	}

	if !c.post(func() { c.install(epoch, resource, err) }) && resource != nil {
		// Shut down while connecting: nobody will install it
		glog.V(2).Infof("Controller stopped, destroying late connection resource for %s", session.DocumentID)
		c.destroy(resource)
	}
}

func (c *Controller) createConnection(ctx context.Context, session *models.Session) (resource ConnectionResource, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return c.provider.CreateConnection(ctx, session.DocumentID, ConnectionOptions{
		Token:    session.AccessToken,
		Connect:  false,
		Identity: c.identity,
	})
}

// install makes resource the active one if the acquisition is still current.
// Runs on the event loop.
func (c *Controller) install(epoch uint64, resource ConnectionResource, err error) {
	if epoch != c.epoch {
		if resource != nil {
			glog.V(2).Infof("Discarding stale connection resource (epoch %d, current %d)", epoch, c.epoch)
			c.destroy(resource)
		}
		return
	}

	if err != nil || resource == nil {
		if err != nil {
			glog.Errorf("❌ Failed to connect session %s: %v", c.session.ID, err)
		}
		if resource != nil {
			c.destroy(resource)
		}
		c.state.Status = models.StatusDisconnected
		c.state.Error = MessageConnectionFailed
		c.publish(false, false)
		return
	}

	c.resource = resource
	c.unsubscribe = append(c.unsubscribe,
		resource.OnStatus(func(status string) {
			c.post(func() {
				if c.epoch == epoch {
					c.handleStatus(status)
				}
			})
		}),
		resource.OnAwareness(func(snapshot models.AwarenessSnapshot) {
			c.post(func() {
				if c.epoch == epoch {
					c.handleAwareness(snapshot)
				}
			})
		}),
	)

	c.syncEditable()
	if aw := resource.Awareness(); aw != nil {
		user := &models.UserInfo{ID: c.identity.ID, Name: c.identity.Name, Color: ColorFor(c.identity.ID)}
		if err := aw.SetLocalState(models.AwarenessState{User: user}); err != nil {
			glog.Warningf("⚠️  Failed to publish local presence: %v", err)
		}
	}

	if c.reach.Online() {
		resource.SetShouldConnect(true)
		resource.Connect()
	} else {
		resource.SetShouldConnect(false)
		c.state.Status = models.StatusDisconnected
	}

	c.publish(false, false)
}

// handleStatus maps a transport status onto the session
func (c *Controller) handleStatus(raw string) {
	status := models.ParseStatus(raw)
	previous := c.lastObservedStatus
	c.lastObservedStatus = status

	if status == models.StatusDisconnected && previous != models.StatusDisconnected && c.reach.Online() {
		c.notifier.Notify(models.Notification{
			Level:      models.NotificationWarning,
			DocumentID: c.state.DocumentID,
			Message:    MessageConnectionLost,
		})
	}

	if c.state.Status == status {
		return
	}
	c.state.Status = status
	c.publish(false, false)
}

func (c *Controller) handleOnline() {
	glog.V(1).Infof("Network online, reconnecting session %s", c.state.SessionID)

	if c.resource != nil {
		c.resource.SetShouldConnect(true)
		c.resource.Connect()
	}
	c.state.Status = models.StatusConnecting
	c.state.Error = ""
	c.publish(false, false)
}

// handleOffline is a locally caused disconnect and never notifies
func (c *Controller) handleOffline() {
	glog.V(1).Infof("Network offline, suspending session %s", c.state.SessionID)

	// The transport echoes this disconnect; it must not count as a remote drop
	c.lastObservedStatus = models.StatusDisconnected

	if c.resource != nil {
		c.resource.SetShouldConnect(false)
		c.resource.Disconnect()
	}
	c.state.Status = models.StatusDisconnected
	c.publish(false, false)
}

func (c *Controller) handleAwareness(snapshot models.AwarenessSnapshot) {
	res := c.presence.Apply(snapshot)
	if !res.CountChanged && !res.RosterChanged {
		return
	}
	if res.RosterChanged {
		c.roster = res.Roster
	}
	c.participants = res.Count
	c.publish(res.RosterChanged, res.CountChanged)
}

// refreshMeta loads title and archive state. Failures keep the old metadata.
func (c *Controller) refreshMeta(epoch uint64, documentID, token string) {
	if c.meta == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.acquireTimeout)
	defer cancel()

	meta, err := c.fetchMeta(ctx, documentID, token)
	if err != nil || meta == nil {
		glog.V(2).Infof("Metadata refresh for %s failed: %v", documentID, err)
		return
	}

	c.post(func() {
		if c.epoch != epoch {
			return
		}
		c.state.Title = meta.Title
		c.mode.Archived = meta.Archived()
		c.applyAccess()
	})
}

func (c *Controller) fetchMeta(ctx context.Context, documentID, token string) (meta *models.DocumentMeta, err error) {
	defer func() {
		if p := recover(); p != nil {
			meta, err = nil, panicError(p)
		}
	}()
	return c.meta.FetchDocumentMeta(ctx, documentID, token)
}

func (c *Controller) resolveAccess(epoch uint64, documentID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.acquireTimeout)
	defer cancel()

	perm, err := c.access.ResolvePermission(ctx, documentID, token)

	c.post(func() {
		if c.epoch != epoch {
			return
		}
		if err != nil {
			c.access.WarnFailure(documentID, token)
		}
		c.mode.Permission = perm
		c.applyAccess()
	})
}

// applyAccess recomputes the read-only flag from token permission and archive
// state, replacing any SetIsReadOnly override.
func (c *Controller) applyAccess() {
	c.state.Archived = c.mode.Archived
	c.state.IsReadOnly = c.mode.ReadOnly()
	c.syncEditable()
	c.publish(false, false)
}

func (c *Controller) syncEditable() {
	if c.resource == nil {
		return
	}
	if doc := c.resource.Doc(); doc != nil {
		doc.SetEditable(!c.state.IsReadOnly)
	}
}

// teardown unregisters every listener, destroys the resource and resets all
// derived state. Any in-flight acquisition becomes stale.
func (c *Controller) teardown() {
	c.epoch++

	attrs := []attribute.KeyValue{attribute.Int64("session.epoch", int64(c.epoch))}
	if c.session != nil {
		attrs = append(attrs,
			attribute.String("session.id", c.session.ID),
			attribute.String("document.id", c.session.DocumentID),
		)
	}
	ctx, span := middleware.StartSpan(context.Background(), "Session.Teardown", attrs...)
	defer span.End()

	for _, unsub := range c.unsubscribe {
		if unsub != nil {
			unsub()
		}
	}
	c.unsubscribe = nil

	if c.resource != nil {
		c.destroy(c.resource)
		c.resource = nil
		middleware.AddSpanEvent(ctx, "resource.destroyed")
	}

	if c.session != nil {
		glog.Infof("🛑 Closed session %s for document %s", c.session.ID, c.session.DocumentID)
	}

	c.session = nil
	c.mode = AccessMode{}
	c.lastObservedStatus = ""
	c.presence.Reset()
	c.roster = nil
	c.participants = 0
	c.state = models.SessionState{Status: models.StatusConnecting}
}

func (c *Controller) destroy(resource ConnectionResource) {
	defer func() {
		if p := recover(); p != nil {
			glog.Warningf("⚠️  Destroying connection resource panicked: %v", p)
		}
	}()
	c.provider.DestroyConnection(resource)
}

func (c *Controller) publish(rosterChanged, countChanged bool) {
	if len(c.watchers) == 0 {
		return
	}

	u := Update{
		State:         c.state,
		Roster:        append([]models.PresenceEntry(nil), c.roster...),
		Participants:  c.participants,
		RosterChanged: rosterChanged,
		CountChanged:  countChanged,
	}

	for id, ch := range c.watchers {
		select {
		case ch <- u:
		default:
			glog.V(2).Infof("Watcher %d is full, dropping update", id)
		}
	}
}
