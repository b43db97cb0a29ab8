package job

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/errors"
	"voxpipe-server/pkg/metrics"
)

// Store tracks processing jobs. Create and Get are used by the caller-facing
// surface; Transition and Update are reserved for the worker that owns the
// job's progression.
type Store interface {
	// Create makes a new PENDING job with a fresh unguessable id
	Create(userID string) *Job

	// Get returns a snapshot of the job, or ErrJobNotFound
	Get(id string) (*Job, error)

	// Transition moves the job to a new status and applies field updates
	Transition(id string, status Status, updates ...Update) error

	// Update applies field updates without changing status; rejected once
	// the job is terminal
	Update(id string, updates ...Update) error

	// Subscribe registers a listener notified on every creation and transition
	Subscribe(listener Listener)
}

// MemoryStore implements Store with in-process storage
type MemoryStore struct {
	logger    *logrus.Logger
	mu        sync.RWMutex
	jobs      map[string]*Job
	listeners []Listener
}

// NewMemoryStore creates a new in-memory job store
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger,
		jobs:   make(map[string]*Job),
	}
}

// Create makes a new PENDING job
func (s *MemoryStore) Create(userID string) *Job {
	now := time.Now()
	j := &Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	snapshot := *j
	s.mu.Unlock()

	metrics.RecordJobCreated()

	s.logger.WithFields(logrus.Fields{
		"job_id":  j.ID,
		"user_id": userID,
	}).Info("Processing job created")

	s.notify(snapshot)
	return &snapshot
}

// Get returns a snapshot of the job so pollers never observe torn writes
func (s *MemoryStore) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, exists := s.jobs[id]
	if !exists {
		return nil, errors.ErrJobNotFound
	}

	snapshot := *j
	return &snapshot, nil
}

// Transition moves the job through the state machine
func (s *MemoryStore) Transition(id string, status Status, updates ...Update) error {
	s.mu.Lock()

	j, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return errors.ErrJobNotFound
	}

	if j.Status.Terminal() {
		s.mu.Unlock()
		return errors.ErrJobFinalized
	}

	if !transitionAllowed(j.Status, status) {
		from := j.Status
		s.mu.Unlock()
		return errors.Wrap(errors.ErrInvalidTransition, "cannot transition job",
			map[string]interface{}{"job_id": id, "from": from, "to": status})
	}

	j.Status = status
	for _, update := range updates {
		update(j)
	}
	j.touch()
	snapshot := *j
	s.mu.Unlock()

	metrics.RecordJobTransition(string(status), status.Terminal())

	s.logger.WithFields(logrus.Fields{
		"job_id": id,
		"status": status,
	}).Info("Job status transition")

	s.notify(snapshot)
	return nil
}

// Update applies field updates without a status change
func (s *MemoryStore) Update(id string, updates ...Update) error {
	s.mu.Lock()

	j, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return errors.ErrJobNotFound
	}

	if j.Status.Terminal() {
		s.mu.Unlock()
		return errors.ErrJobFinalized
	}

	for _, update := range updates {
		update(j)
	}
	j.touch()
	snapshot := *j
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// Subscribe registers a status listener
func (s *MemoryStore) Subscribe(listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *MemoryStore) notify(snapshot Job) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

// touch advances UpdatedAt, keeping it monotonically non-decreasing even if
// the wall clock steps backwards
func (j *Job) touch() {
	now := time.Now()
	if now.After(j.UpdatedAt) {
		j.UpdatedAt = now
	}
}
