// Package tasks holds per-room queued work items that agents claim and
// complete. Expired tasks are force-completed by the sweeper so a
// crashed worker never wedges a queue.
package tasks

import (
	"sort"
	"sync"
	"time"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/utils"
)

// Recorder persists task rows. A nil Recorder disables durability.
type Recorder interface {
	SaveTask(models.Task) error
}

// Notify posts a system message into a room. Wired to the room engine
// at startup; nil means no notifications.
type Notify func(roomID, text string)

// Manager tracks queued tasks across rooms.
type Manager struct {
	mu             sync.Mutex
	tasks          map[string]*models.Task
	defaultTimeout time.Duration
	rec            Recorder
	notify         Notify
}

// New returns a manager with the given default task timeout.
func New(defaultTimeout time.Duration, rec Recorder, notify Notify) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &Manager{
		tasks:          make(map[string]*models.Task),
		defaultTimeout: defaultTimeout,
		rec:            rec,
		notify:         notify,
	}
}

// Enqueue adds a task to a room's queue. A zero timeout uses the
// manager default.
func (m *Manager) Enqueue(roomID, from, text string, timeout time.Duration) (models.Task, error) {
	if roomID == "" || text == "" {
		return models.Task{}, models.ErrValidation
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	now := time.Now().UTC()
	t := &models.Task{
		ID:        utils.GenUUID("task"),
		RoomID:    roomID,
		From:      from,
		Text:      text,
		Status:    models.TaskQueued,
		CreatedAt: now,
		Deadline:  now.Add(timeout),
	}
	m.mu.Lock()
	m.tasks[t.ID] = t
	out := *t
	m.mu.Unlock()
	m.record(out)
	return out, nil
}

// Claim hands the oldest queued task in a room to a worker. Returns
// ErrNotFound when the queue has nothing claimable.
func (m *Manager) Claim(roomID, worker string) (models.Task, error) {
	m.mu.Lock()
	var oldest *models.Task
	for _, t := range m.tasks {
		if t.RoomID != roomID || t.Status != models.TaskQueued {
			continue
		}
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
			oldest = t
		}
	}
	if oldest == nil {
		m.mu.Unlock()
		return models.Task{}, models.ErrNotFound
	}
	oldest.Status = models.TaskClaimed
	oldest.ClaimedBy = worker
	out := *oldest
	m.mu.Unlock()
	m.record(out)
	return out, nil
}

// Complete marks a task done with the given status.
func (m *Manager) Complete(taskID, status string) (models.Task, error) {
	if status == "" {
		status = models.TaskDone
	}
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return models.Task{}, models.ErrNotFound
	}
	t.Status = status
	t.CompletedAt = time.Now().UTC()
	out := *t
	delete(m.tasks, taskID)
	m.mu.Unlock()
	m.record(out)
	return out, nil
}

// List returns a room's open tasks ordered by creation time.
func (m *Manager) List(roomID string) []models.Task {
	m.mu.Lock()
	var out []models.Task
	for _, t := range m.tasks {
		if t.RoomID == roomID {
			out = append(out, *t)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sweep force-completes tasks past their deadline with the timeout
// status and posts a room notification. Returns the number expired.
func (m *Manager) Sweep() int {
	now := time.Now().UTC()
	m.mu.Lock()
	var expired []models.Task
	for id, t := range m.tasks {
		if now.After(t.Deadline) {
			t.Status = models.TaskTimeout
			t.CompletedAt = now
			expired = append(expired, *t)
			delete(m.tasks, id)
		}
	}
	m.mu.Unlock()
	for _, t := range expired {
		m.record(t)
		if m.notify != nil {
			m.notify(t.RoomID, "task "+t.ID+" timed out")
		}
		logger.Warn("task_timeout", "task", t.ID, "room", t.RoomID, "claimed_by", t.ClaimedBy)
	}
	return len(expired)
}

func (m *Manager) record(t models.Task) {
	if m.rec == nil {
		return
	}
	if err := m.rec.SaveTask(t); err != nil {
		logger.Warn("task_persist_failed", "task", t.ID, "error", err)
	}
}
