package collaboration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"doc-collab/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from the server.
	maxMessageSize = 16 << 20

	sendBufferSize = 256
)

var errConnectNotWanted = errors.New("connection no longer wanted")

// WebSocketProvider creates session transports speaking the Yjs websocket
// protocol against /ws/document/{id} on the collaboration server.
type WebSocketProvider struct {
	baseURL    *url.URL
	authToken  string
	dialer     *websocket.Dialer
	maxBackoff time.Duration
}

// NewWebSocketProvider derives the websocket endpoint from an http(s) server URL
func NewWebSocketProvider(serverURL, authToken string, maxBackoff time.Duration) (*WebSocketProvider, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	return &WebSocketProvider{
		baseURL:   u,
		authToken: authToken,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		maxBackoff: maxBackoff,
	}, nil
}

func (p *WebSocketProvider) CreateConnection(ctx context.Context, documentID string, opts ConnectionOptions) (ConnectionResource, error) {
	if documentID == "" {
		return nil, ErrEmptyDocumentID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := *p.baseURL
	u.Path = u.Path + "/ws/document/" + url.PathEscape(documentID)
	q := url.Values{}
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	if opts.Identity.ID != "" {
		q.Set("user_id", opts.Identity.ID)
		q.Set("user_name", opts.Identity.Name)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if p.authToken != "" {
		header.Set("Authorization", "Bearer "+p.authToken)
	}

	r := newWSResource(u.String(), header, p.dialer, p.maxBackoff, uint64(uuid.New().ID()))

	glog.V(1).Infof("Created connection resource for document %s (client %d)", documentID, r.clientID)

	if opts.Connect {
		r.SetShouldConnect(true)
		r.Connect()
	}

	return r, nil
}

func (p *WebSocketProvider) DestroyConnection(resource ConnectionResource) {
	if r, ok := resource.(*wsResource); ok && r != nil {
		r.destroy()
	}
}

// wsResource is one live transport: a reconnecting websocket plus the
// replica and awareness state riding on it.
type wsResource struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	maxBackoff time.Duration
	clientID   uint64

	doc       *wsReplica
	awareness *wsAwareness

	mu                 sync.Mutex
	shouldConnect      bool
	status             string
	cancel             context.CancelFunc
	running            chan struct{}
	out                chan []byte
	destroyed          bool
	statusListeners    map[int]func(string)
	awarenessListeners map[int]func(models.AwarenessSnapshot)
	nextID             int
}

func newWSResource(rawURL string, header http.Header, dialer *websocket.Dialer, maxBackoff time.Duration, clientID uint64) *wsResource {
	r := &wsResource{
		url:                rawURL,
		header:             header,
		dialer:             dialer,
		maxBackoff:         maxBackoff,
		clientID:           clientID,
		status:             string(models.StatusDisconnected),
		statusListeners:    make(map[int]func(string)),
		awarenessListeners: make(map[int]func(models.AwarenessSnapshot)),
	}
	r.doc = newReplica(r.enqueue)
	r.awareness = newAwareness(clientID, r.enqueue, r.emitAwareness)
	return r
}

func (r *wsResource) Doc() DocumentReplica        { return r.doc }
func (r *wsResource) Awareness() AwarenessChannel { return r.awareness }

func (r *wsResource) ShouldConnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shouldConnect
}

func (r *wsResource) SetShouldConnect(v bool) {
	r.mu.Lock()
	r.shouldConnect = v && !r.destroyed
	r.mu.Unlock()
}

// Connect starts the reconnect loop unless it is already running
func (r *wsResource) Connect() {
	r.mu.Lock()
	if r.destroyed || !r.shouldConnect || r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	running := make(chan struct{})
	r.cancel = cancel
	r.running = running
	r.mu.Unlock()

	go r.connectLoop(ctx, running)
}

// Disconnect stops the reconnect loop and closes the socket
func (r *wsResource) Disconnect() {
	r.stopLoop()
	r.setStatus(string(models.StatusDisconnected))
}

func (r *wsResource) stopLoop() {
	r.mu.Lock()
	cancel, running := r.cancel, r.running
	r.cancel, r.running = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-running
	}
}

// destroy drops every listener, then shuts the transport down.
// Safe to call more than once.
func (r *wsResource) destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.shouldConnect = false
	r.statusListeners = make(map[int]func(string))
	r.awarenessListeners = make(map[int]func(models.AwarenessSnapshot))
	r.mu.Unlock()

	r.stopLoop()
	glog.V(1).Infof("Destroyed connection resource (client %d)", r.clientID)
}

func (r *wsResource) OnStatus(fn func(string)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return func() {}
	}
	id := r.nextID
	r.nextID++
	r.statusListeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.statusListeners, id)
		r.mu.Unlock()
	}
}

func (r *wsResource) OnAwareness(fn func(models.AwarenessSnapshot)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return func() {}
	}
	id := r.nextID
	r.nextID++
	r.awarenessListeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.awarenessListeners, id)
		r.mu.Unlock()
	}
}

func (r *wsResource) setStatus(status string) {
	r.mu.Lock()
	if r.destroyed || r.status == status {
		r.mu.Unlock()
		return
	}
	r.status = status
	listeners := make([]func(string), 0, len(r.statusListeners))
	for _, fn := range r.statusListeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}

func (r *wsResource) emitAwareness() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	listeners := make([]func(models.AwarenessSnapshot), 0, len(r.awarenessListeners))
	for _, fn := range r.awarenessListeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	snap := r.awareness.Snapshot()
	for _, fn := range listeners {
		fn(snap)
	}
}

// enqueue hands a frame to the write pump of the current connection.
// It reports false when there is no connection or its buffer is full.
func (r *wsResource) enqueue(frame []byte) bool {
	r.mu.Lock()
	out := r.out
	r.mu.Unlock()

	if out == nil {
		return false
	}
	select {
	case out <- frame:
		return true
	default:
		glog.Warningf("⚠️  Send buffer full for client %d, dropping frame", r.clientID)
		return false
	}
}

// connectLoop dials with exponential backoff and serves each connection
// until the loop is cancelled or connecting is no longer wanted.
func (r *wsResource) connectLoop(ctx context.Context, running chan struct{}) {
	defer func() {
		r.mu.Lock()
		if r.running == running {
			r.cancel, r.running = nil, nil
		}
		r.mu.Unlock()
		close(running)
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = r.maxBackoff
	b.MaxElapsedTime = 0

	for {
		var conn *websocket.Conn
		attempt := 0
		dial := func() error {
			if !r.ShouldConnect() {
				return backoff.Permanent(errConnectNotWanted)
			}
			// Retries stay "disconnected" until one succeeds
			if attempt == 0 {
				r.setStatus(string(models.StatusConnecting))
			}
			attempt++
			c, _, err := r.dialer.DialContext(ctx, r.url, r.header)
			if err != nil {
				r.setStatus(string(models.StatusDisconnected))
				return err
			}
			conn = c
			return nil
		}
		notify := func(err error, wait time.Duration) {
			glog.V(2).Infof("Dial %s failed: %v (retrying in %s)", r.url, err, wait)
		}

		if err := backoff.RetryNotify(dial, backoff.WithContext(b, ctx), notify); err != nil {
			return
		}
		b.Reset()

		r.serve(ctx, conn)
		r.setStatus(string(models.StatusDisconnected))

		if ctx.Err() != nil || !r.ShouldConnect() {
			return
		}
	}
}

// serve runs one websocket connection to completion
func (r *wsResource) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	out := make(chan []byte, sendBufferSize)

	r.mu.Lock()
	r.out = out
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.out = nil
		r.mu.Unlock()
		cancel()
		conn.Close()
	}()

	go r.writePump(connCtx, conn, out)
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	r.setStatus(string(models.StatusConnected))

	// Initial sync: ask for the full state, flush offline edits, announce ourselves
	r.enqueue(encodeSync(syncStep1, emptyStateVector))
	for _, f := range r.doc.takePending() {
		r.enqueue(f)
	}
	if local := r.awareness.localUpdate(); local != nil {
		r.enqueue(encodeAwareness(local))
	}

	r.readPump(conn)

	if r.awareness.clearRemote() {
		r.emitAwareness()
	}
}

// readPump reads frames until the connection fails
func (r *wsResource) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				glog.Warningf("⚠️  WebSocket error (client %d): %v", r.clientID, err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))
		r.handleFrame(message)
	}
}

func (r *wsResource) handleFrame(message []byte) {
	f, err := decodeFrame(message)
	if err != nil {
		glog.V(2).Infof("Ignoring undecodable frame (client %d): %v", r.clientID, err)
		return
	}

	switch f.Type {
	case models.MessageTypeSync:
		if reply := r.doc.receive(f); reply != nil {
			r.enqueue(reply)
		}
	case models.MessageTypeAwareness:
		changed, err := r.awareness.apply(f.Payload)
		if err != nil {
			glog.V(2).Infof("Ignoring bad awareness update (client %d): %v", r.clientID, err)
			return
		}
		if changed {
			r.emitAwareness()
		}
	case models.MessageTypeQueryAwareness:
		r.enqueue(encodeAwareness(r.awareness.fullUpdate()))
	case models.MessageTypeAuth:
		glog.Warningf("⚠️  Server refused session (client %d): %q", r.clientID, f.Payload)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
// Separate goroutine for writing so a slow socket never blocks reading.
func (r *wsResource) writePump(ctx context.Context, conn *websocket.Conn, out <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
