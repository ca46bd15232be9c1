package collaboration

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
)

// NetworkMonitor reports reachability of the collaboration server by
// periodically opening a TCP connection to it. Listeners are told about
// transitions only.
type NetworkMonitor struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, address string) (net.Conn, error)

	mu        sync.Mutex
	online    bool
	listeners map[int]func(bool)
	nextID    int

	done    chan struct{}
	stopped chan struct{}
	start   sync.Once
	stop    sync.Once
}

// NewNetworkMonitor probes address ("host:port"). The monitor assumes the
// network is up until the first probe says otherwise.
func NewNetworkMonitor(address string, interval, timeout time.Duration) *NetworkMonitor {
	d := &net.Dialer{}
	return &NetworkMonitor{
		address:   address,
		interval:  interval,
		timeout:   timeout,
		dial:      d.DialContext,
		online:    true,
		listeners: make(map[int]func(bool)),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// ProbeAddress derives the host:port to probe from a server URL
func ProbeAddress(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Start runs one probe synchronously, then keeps probing in the background
func (m *NetworkMonitor) Start() {
	m.start.Do(func() {
		m.probe()
		go m.run()
	})
}

func (m *NetworkMonitor) run() {
	defer close(m.stopped)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

// Stop ends background probing
func (m *NetworkMonitor) Stop() {
	m.stop.Do(func() {
		close(m.done)
	})
	m.start.Do(func() { close(m.stopped) })
	<-m.stopped
}

func (m *NetworkMonitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", m.address)
	if err == nil {
		conn.Close()
	} else {
		glog.V(2).Infof("Reachability probe %s failed: %v", m.address, err)
	}

	m.set(err == nil)
}

func (m *NetworkMonitor) set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	if online {
		glog.Infof("✓ Collaboration server %s reachable", m.address)
	} else {
		glog.Warningf("⚠️  Collaboration server %s unreachable", m.address)
	}

	for _, fn := range listeners {
		fn(online)
	}
}

func (m *NetworkMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *NetworkMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}
