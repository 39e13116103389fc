package bus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/telemetry"
)

// Registry tracks live transport connections per client identity and fans
// envelopes out to every socket a client owns. It is constructed once at
// process start and passed by reference into every handler.
type Registry struct {
	mu       sync.Mutex
	conns    map[string][]*Conn
	total    int
	maxTotal int
	maxPer   int
	sendBuf  int
	handlers []func(models.Envelope)
}

// New returns a Registry enforcing the given global and per-client
// connection caps.
func New(maxTotal, maxPerClient, sendBuffer int) *Registry {
	if maxTotal <= 0 {
		maxTotal = 1000
	}
	if maxPerClient <= 0 {
		maxPerClient = 8
	}
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Registry{
		conns:    map[string][]*Conn{},
		maxTotal: maxTotal,
		maxPer:   maxPerClient,
		sendBuf:  sendBuffer,
	}
}

// Register adds a connection for clientID. Registration beyond either cap
// fails with a capacity error rather than evicting an older connection.
func (r *Registry) Register(clientID string) (*Conn, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: empty client id", models.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total >= r.maxTotal {
		return nil, fmt.Errorf("%w: global connection limit %d reached", models.ErrCapacity, r.maxTotal)
	}
	if len(r.conns[clientID]) >= r.maxPer {
		return nil, fmt.Errorf("%w: client %s already has %d connections", models.ErrCapacity, clientID, r.maxPer)
	}
	c := &Conn{
		ID:       uuid.NewString(),
		ClientID: clientID,
		out:      make(chan *Frame, r.sendBuf),
		reg:      r,
	}
	r.conns[clientID] = append(r.conns[clientID], c)
	r.total++
	telemetry.LiveConnections.Set(float64(r.total))
	logger.Info("connection_registered", "client", clientID, "conn", c.ID, "total", r.total)
	return c, nil
}

// Unregister removes a connection and closes its outbound channel.
// Unregistering twice is a no-op.
func (r *Registry) Unregister(c *Conn) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.closed.Swap(true) {
		return
	}
	list := r.conns[c.ClientID]
	for i, cc := range list {
		if cc == c {
			r.conns[c.ClientID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.conns[c.ClientID]) == 0 {
		delete(r.conns, c.ClientID)
	}
	r.total--
	telemetry.LiveConnections.Set(float64(r.total))
	close(c.out)
	for f := range c.out {
		f.Done()
	}
	logger.Info("connection_unregistered", "client", c.ClientID, "conn", c.ID, "total", r.total)
}

// Fanout writes the envelope to every live connection for its recipient
// (every client, for broadcast) and returns the number of sockets written.
// Zero means no connection was live; the envelope stays retrievable via
// the store's poll path.
func (r *Registry) Fanout(env models.Envelope) int {
	frame, err := json.Marshal(struct {
		Type    string          `json:"type"`
		Message models.Envelope `json:"message"`
	}{Type: "message", Message: env})
	if err != nil {
		logger.Error("fanout_marshal_failed", "id", env.ID, "error", err)
		return 0
	}

	r.mu.Lock()
	var targets []*Conn
	if env.To == models.Broadcast {
		for _, list := range r.conns {
			targets = append(targets, list...)
		}
	} else {
		targets = append(targets, r.conns[env.To]...)
	}
	written := 0
	for _, c := range targets {
		if c.push(frame) {
			written++
			telemetry.FanoutWrites.Inc()
		} else {
			telemetry.FanoutDrops.Inc()
		}
	}
	r.mu.Unlock()

	r.notify(env)
	return written
}

// Live returns the number of live connections for a client.
func (r *Registry) Live(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[clientID])
}

// Total returns the number of live connections across all clients.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Clients returns the ids of clients with at least one live connection.
func (r *Registry) Clients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

// OnMessage registers an observer invoked synchronously, in registration
// order, for every envelope fanned out. A panicking handler is isolated
// so it cannot block delivery to the others.
func (r *Registry) OnMessage(fn func(models.Envelope)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, fn)
}

func (r *Registry) notify(env models.Envelope) {
	r.mu.Lock()
	handlers := append([]func(models.Envelope){}, r.handlers...)
	r.mu.Unlock()
	for _, fn := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("message_observer_panic", "id", env.ID, "panic", rec)
				}
			}()
			fn(env)
		}()
	}
}
