package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/telemetry"
	"agentbus/pkg/utils"
)

// Store is a bounded, time-ordered buffer of envelopes mirrored into a
// durable pebble append log keyed by recipient. The ring drops its oldest
// entry once full and is swept by TTL; the durable log is unaffected by
// the TTL and only trimmed by explicit compaction.
type Store struct {
	mu   sync.Mutex
	db   *pebble.DB
	ring []models.Envelope
	cap  int
	seq  uint64
}

// QueryFilter selects envelopes from the ring. Zero fields match
// everything; To matches broadcast envelopes for any recipient.
type QueryFilter struct {
	To    string
	From  string
	Type  string
	Since time.Time
	Limit int
}

// Open opens (or creates) the pebble log at path and returns a Store with
// the given ring capacity. An empty path disables the durable log, which
// is useful for tests.
func Open(path string, ringCap int) (*Store, error) {
	if ringCap <= 0 {
		ringCap = 10000
	}
	s := &Store{cap: ringCap}
	if path != "" {
		db, err := pebble.Open(path, &pebble.Options{})
		if err != nil {
			logger.Error("pebble_open_failed", "path", path, "error", err)
			return nil, err
		}
		s.db = db
		logger.Info("pebble_opened", "path", path)
	}
	return s, nil
}

// Close closes the durable log if present.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Append stores an envelope, assigning id and timestamp when the caller
// left them empty, and returns the completed envelope so callers fan out
// exactly what was stored. A durable write failure is logged and
// swallowed: the in-memory ring stays authoritative for the request.
func (s *Store) Append(env models.Envelope) (models.Envelope, error) {
	if env.From == "" || env.To == "" {
		return models.Envelope{}, fmt.Errorf("%w: envelope needs from and to", models.ErrValidation)
	}
	if env.ID == "" {
		env.ID = utils.GenID()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.ring = append(s.ring, env)
	if len(s.ring) > s.cap {
		s.ring = s.ring[1:]
	}
	db := s.db
	seq := atomic.AddUint64(&s.seq, 1)
	s.mu.Unlock()

	telemetry.EnvelopesAppended.Inc()

	if db != nil {
		// Key format: inbox:<to>:<unix_nano_padded>-<seq>
		key := fmt.Sprintf("inbox:%s:%020d-%06d", env.To, env.Timestamp.UnixNano(), seq)
		data, err := json.Marshal(env)
		if err == nil {
			err = db.Set([]byte(key), data, pebble.Sync)
		}
		if err != nil {
			logger.Warn("inbox_append_durable_failed", "key", key, "error", err)
		}
	}
	return env, nil
}

// Query returns ring envelopes matching the filter in append order.
func (s *Store) Query(f QueryFilter) []models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Envelope
	for _, env := range s.ring {
		if f.To != "" && !env.Addressed(f.To) {
			continue
		}
		if f.From != "" && env.From != f.From {
			continue
		}
		if f.Type != "" && env.Type != f.Type {
			continue
		}
		if !f.Since.IsZero() && !env.Timestamp.After(f.Since) {
			continue
		}
		out = append(out, env)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Len returns the number of envelopes currently in the ring.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ring)
}

// SweepExpired drops ring entries older than ttl and returns the count
// removed. The durable log is not touched.
func (s *Store) SweepExpired(ttl time.Duration) int {
	cutoff := time.Now().UTC().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.ring[:0]
	removed := 0
	for _, env := range s.ring {
		if env.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, env)
	}
	s.ring = kept
	if removed > 0 {
		logger.Debug("ring_sweep", "removed", removed, "ttl", ttl.String())
	}
	return removed
}

// History reads the durable inbox log for a recipient in insertion order.
// Broadcast history is stored under the "all" inbox and must be queried
// separately by the caller.
func (s *Store) History(to string, limit int) ([]models.Envelope, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, nil
	}
	prefix := []byte("inbox:" + to + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Envelope
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var env models.Envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			logger.Warn("inbox_history_bad_entry", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// CompactBefore deletes durable inbox entries older than cutoff and
// returns the number removed. Scheduled by the sweeper's compaction cron.
func (s *Store) CompactBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, nil
	}
	prefix := []byte("inbox:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var stale [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		ts, ok := keyTimestamp(iter.Key())
		if ok && ts.Before(cutoff) {
			stale = append(stale, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	for _, k := range stale {
		if err := db.Delete(k, pebble.Sync); err != nil {
			return 0, err
		}
	}
	if len(stale) > 0 {
		logger.Info("inbox_compacted", "removed", len(stale), "cutoff", cutoff)
	}
	return len(stale), nil
}

// keyTimestamp extracts the padded nanosecond timestamp from an inbox key.
func keyTimestamp(key []byte) (time.Time, bool) {
	// inbox:<to>:<20-digit ts>-<seq>; <to> may itself contain colons, so
	// take the segment after the last ':'.
	i := bytes.LastIndexByte(key, ':')
	if i < 0 || len(key) < i+21 {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(string(key[i+1:i+21]), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, n).UTC(), true
}
