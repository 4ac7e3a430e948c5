package websocket

import (
	"sync"
	"sync/atomic"
)

// Registry tracks live connections per channel, at most one per (channel, user).
//
// Mutations for one channel are serialized by that channel's lock; channels never share a
// lock, so traffic on one booking or conversation cannot stall another. The registry only
// looks connections up; closing them is the supervisor's job.
type Registry struct {
	channels sync.Map // channel key -> *channelEntry
	conns    atomic.Int64
}

type channelEntry struct {
	mu      sync.Mutex
	conns   map[string]Conn // user id -> connection
	retired bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register files conn under its channel and user. A connection already held for that pair
// is replaced and returned so the caller can close it.
func (r *Registry) Register(conn Conn) (evicted Conn) {
	key := conn.Channel().Key()
	for {
		entry := r.entry(key)

		entry.mu.Lock()
		if entry.retired {
			// Emptied and unlinked by a concurrent Remove; retry against a fresh entry.
			entry.mu.Unlock()
			continue
		}
		previous, existed := entry.conns[conn.UserID()]
		entry.conns[conn.UserID()] = conn
		entry.mu.Unlock()

		if existed {
			if previous == conn {
				return nil
			}
			return previous
		}
		r.conns.Add(1)
		return nil
	}
}

// Remove drops conn only if it is still the registered connection for its user, so a late
// cleanup from a superseded connection cannot unregister its replacement.
func (r *Registry) Remove(conn Conn) bool {
	key := conn.Channel().Key()
	value, ok := r.channels.Load(key)
	if !ok {
		return false
	}
	entry := value.(*channelEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.retired {
		return false
	}
	current, ok := entry.conns[conn.UserID()]
	if !ok || current != conn {
		return false
	}
	delete(entry.conns, conn.UserID())
	r.conns.Add(-1)

	if len(entry.conns) == 0 {
		entry.retired = true
		r.channels.CompareAndDelete(key, entry)
	}
	return true
}

// Peers returns every live connection on the channel other than excludingUserID's.
func (r *Registry) Peers(channelKey, excludingUserID string) []Conn {
	return r.collect(channelKey, excludingUserID)
}

// Members returns every live connection on the channel.
func (r *Registry) Members(channelKey string) []Conn {
	return r.collect(channelKey, "")
}

// Lookup returns the connection registered for userID on the channel.
func (r *Registry) Lookup(channelKey, userID string) (Conn, bool) {
	value, ok := r.channels.Load(channelKey)
	if !ok {
		return nil, false
	}
	entry := value.(*channelEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	conn, ok := entry.conns[userID]
	return conn, ok
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []Conn {
	var out []Conn
	r.channels.Range(func(_, value any) bool {
		entry := value.(*channelEntry)
		entry.mu.Lock()
		for _, conn := range entry.conns {
			out = append(out, conn)
		}
		entry.mu.Unlock()
		return true
	})
	return out
}

func (r *Registry) ConnectionCount() int {
	return int(r.conns.Load())
}

func (r *Registry) ChannelCount() int {
	n := 0
	r.channels.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *Registry) entry(key string) *channelEntry {
	if value, ok := r.channels.Load(key); ok {
		return value.(*channelEntry)
	}
	value, _ := r.channels.LoadOrStore(key, &channelEntry{conns: make(map[string]Conn, 2)})
	return value.(*channelEntry)
}

func (r *Registry) collect(channelKey, excludingUserID string) []Conn {
	value, ok := r.channels.Load(channelKey)
	if !ok {
		return nil
	}
	entry := value.(*channelEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]Conn, 0, len(entry.conns))
	for userID, conn := range entry.conns {
		if userID == excludingUserID {
			continue
		}
		out = append(out, conn)
	}
	return out
}
