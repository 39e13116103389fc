// Package selector routes work across registered clients using a
// pluggable strategy, tracking per-client health from reported
// outcomes.
package selector

import (
	"math/rand"
	"sync"
	"time"

	"agentbus/pkg/models"
)

// Strategy names accepted by New.
const (
	RoundRobin     = "round_robin"
	LeastPending   = "least_pending"
	LowestLatency  = "lowest_latency"
	Random         = "random"
	WeightedRandom = "weighted_random"
	Sticky         = "sticky"
)

// healthAlpha is the exponential moving-average weight for success
// rate. unhealthyBelow is the exclusion threshold.
const (
	healthAlpha    = 0.3
	unhealthyBelow = 0.5
)

type client struct {
	id          string
	weight      float64
	pending     int
	successRate float64
	avgLatency  time.Duration
	healthy     bool
}

// Selector picks a client per request. All methods are safe for
// concurrent use.
type Selector struct {
	mu       sync.Mutex
	strategy string
	clients  []*client
	byID     map[string]*client
	sessions map[string]string // session -> client id, sticky only
	rrNext   int
	rnd      *rand.Rand
}

// New returns a selector using the named strategy. Unknown strategies
// fall back to round robin.
func New(strategy string) *Selector {
	switch strategy {
	case RoundRobin, LeastPending, LowestLatency, Random, WeightedRandom, Sticky:
	default:
		strategy = RoundRobin
	}
	return &Selector{
		strategy: strategy,
		byID:     make(map[string]*client),
		sessions: make(map[string]string),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register adds a client. Weight matters only for weighted_random; a
// non-positive weight counts as 1.
func (s *Selector) Register(clientID string, weight float64) {
	if weight <= 0 {
		weight = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[clientID]; ok {
		return
	}
	c := &client{id: clientID, weight: weight, successRate: 1.0, healthy: true}
	s.clients = append(s.clients, c)
	s.byID[clientID] = c
}

// Unregister removes a client and drops any sticky sessions bound to
// it.
func (s *Selector) Unregister(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(clientID)
}

func (s *Selector) removeLocked(clientID string) {
	if _, ok := s.byID[clientID]; !ok {
		return
	}
	delete(s.byID, clientID)
	for i, c := range s.clients {
		if c.id == clientID {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			break
		}
	}
	for sess, id := range s.sessions {
		if id == clientID {
			delete(s.sessions, sess)
		}
	}
}

// Select picks a client for the session. The session key is only
// consulted by the sticky strategy. Returns ErrNotFound when no
// healthy client is registered.
func (s *Selector) Select(session string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(session, "")
}

// Failover re-selects for a session excluding the failed client, and
// rebinds the sticky session to the new choice.
func (s *Selector) Failover(session, failed string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[failed]; ok {
		c.healthy = false
	}
	delete(s.sessions, session)
	return s.selectLocked(session, failed)
}

func (s *Selector) selectLocked(session, exclude string) (string, error) {
	if s.strategy == Sticky {
		if id, ok := s.sessions[session]; ok && id != exclude {
			if c, ok := s.byID[id]; ok && c.healthy {
				return id, nil
			}
		}
	}
	pool := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.healthy && c.id != exclude {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return "", models.ErrNotFound
	}

	var chosen *client
	switch s.strategy {
	case LeastPending:
		chosen = pool[0]
		for _, c := range pool[1:] {
			if c.pending < chosen.pending {
				chosen = c
			}
		}
	case LowestLatency:
		chosen = pool[0]
		for _, c := range pool[1:] {
			if c.avgLatency < chosen.avgLatency {
				chosen = c
			}
		}
	case Random:
		chosen = pool[s.rnd.Intn(len(pool))]
	case WeightedRandom:
		total := 0.0
		for _, c := range pool {
			total += c.weight
		}
		pick := s.rnd.Float64() * total
		for _, c := range pool {
			pick -= c.weight
			if pick <= 0 {
				chosen = c
				break
			}
		}
		if chosen == nil {
			chosen = pool[len(pool)-1]
		}
	default: // round_robin and sticky's first pick
		chosen = pool[s.rrNext%len(pool)]
		s.rrNext++
	}

	chosen.pending++
	if s.strategy == Sticky {
		s.sessions[session] = chosen.id
	}
	return chosen.id, nil
}

// ReportResult records the outcome of work previously routed to a
// client. Success rate is a moving average; dropping below 0.5 marks
// the client unhealthy until MarkHealthy.
func (s *Selector) ReportResult(clientID string, ok bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, found := s.byID[clientID]
	if !found {
		return
	}
	if c.pending > 0 {
		c.pending--
	}
	sample := 0.0
	if ok {
		sample = 1.0
	}
	c.successRate = (1-healthAlpha)*c.successRate + healthAlpha*sample
	if c.avgLatency == 0 {
		c.avgLatency = latency
	} else {
		c.avgLatency = time.Duration((1-healthAlpha)*float64(c.avgLatency) + healthAlpha*float64(latency))
	}
	if c.successRate < unhealthyBelow {
		c.healthy = false
	}
}

// MarkHealthy re-admits a client to selection and resets its success
// rate.
func (s *Selector) MarkHealthy(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[clientID]; ok {
		c.healthy = true
		c.successRate = 1.0
	}
}

// Healthy reports whether a client is currently selectable.
func (s *Selector) Healthy(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[clientID]
	return ok && c.healthy
}
