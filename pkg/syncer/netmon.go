package syncer

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"
)

// Prober checks whether the central service looks reachable.
type Prober func(ctx context.Context) bool

// DialProber probes connectivity with a plain TCP dial against the server.
func DialProber(serverURL string, timeout time.Duration) Prober {
	return func(ctx context.Context) bool {
		u, err := url.Parse(serverURL)
		if err != nil {
			return false
		}
		host := u.Host
		if u.Port() == "" {
			switch u.Scheme {
			case "https", "wss":
				host = net.JoinHostPort(u.Hostname(), "443")
			default:
				host = net.JoinHostPort(u.Hostname(), "80")
			}
		}

		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// Monitor tracks connectivity as a boolean and fires the reconnect hook on
// every offline-to-online transition. Going offline only records state:
// in-flight operations fail naturally and are retried later.
type Monitor struct {
	mu     sync.Mutex
	online bool
	onUp   func()
}

// NewMonitor creates a monitor that starts offline.
func NewMonitor(onUp func()) *Monitor {
	return &Monitor{onUp: onUp}
}

// Online reports the last observed connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the observed connectivity, firing the reconnect hook on a
// false-to-true transition.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	transition := online && !m.online
	m.online = online
	onUp := m.onUp
	m.mu.Unlock()

	if transition && onUp != nil {
		onUp()
	}
}
