package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mapwatch/backend/internal/domain"
)

// Status is the lifecycle state of a scrape job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Snapshot is the externally visible state of a job, safe to serialize.
type Snapshot struct {
	ID               string     `json:"id"`
	CompetitorID     uint64     `json:"competitor_id"`
	Status           Status     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	TargetsResolved  int        `json:"targets_resolved"`
	PagesFetched     int        `json:"pages_fetched"`
	ProductsUpserted int        `json:"products_upserted"`
	Errors           []string   `json:"errors,omitempty"`
}

// Job tracks one competitor-scrape invocation. Per-target errors are
// aggregated here and reported at completion instead of failing the job.
type Job struct {
	id           string
	competitorID uint64

	mu               sync.Mutex
	status           Status
	startedAt        time.Time
	finishedAt       *time.Time
	targetsResolved  int
	pagesFetched     int
	productsUpserted int
	errors           []string
	cancel           context.CancelFunc
}

// ID returns the job id handed back to the caller.
func (j *Job) ID() string { return j.id }

// CompetitorID returns the competitor this job scrapes.
func (j *Job) CompetitorID() uint64 { return j.competitorID }

// Start marks the job running and stores its cancel function.
func (j *Job) Start(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusRunning
	j.startedAt = time.Now().UTC()
	j.cancel = cancel
}

// SetTargets records how many fetch targets the resolver produced.
func (j *Job) SetTargets(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.targetsResolved = n
}

// AddPage increments the fetched-page counter.
func (j *Job) AddPage() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pagesFetched++
}

// AddProducts increments the upserted-product counter.
func (j *Job) AddProducts(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.productsUpserted += n
}

// AddError records a per-target failure for the completion report.
func (j *Job) AddError(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, msg)
}

// Finish moves the job to a terminal state. Cancellation wins over failure
// so a cancelled job is not misreported as failed.
func (j *Job) Finish(err error, cancelled bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	j.finishedAt = &now
	switch {
	case cancelled:
		j.status = StatusCancelled
	case err != nil:
		j.status = StatusFailed
		j.errors = append(j.errors, err.Error())
	default:
		j.status = StatusCompleted
	}
	j.cancel = nil
}

// Snapshot returns a copy of the current job state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := Snapshot{
		ID:               j.id,
		CompetitorID:     j.competitorID,
		Status:           j.status,
		StartedAt:        j.startedAt,
		FinishedAt:       j.finishedAt,
		TargetsResolved:  j.targetsResolved,
		PagesFetched:     j.pagesFetched,
		ProductsUpserted: j.productsUpserted,
	}
	snap.Errors = append(snap.Errors, j.errors...)
	return snap
}

// Manager is an in-memory registry of scrape jobs keyed by uuid.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewManager creates an empty job registry.
func NewManager() *Manager {
	return &Manager{jobs: make(map[string]*Job)}
}

// Create registers a new pending job for a competitor and returns it.
func (m *Manager) Create(competitorID uint64) *Job {
	job := &Job{
		id:           uuid.NewString(),
		competitorID: competitorID,
		status:       StatusPending,
		startedAt:    time.Now().UTC(),
	}
	m.mu.Lock()
	m.jobs[job.id] = job
	m.mu.Unlock()
	return job
}

// Get returns the snapshot for a job id.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, domain.ErrJobNotFound
	}
	return job.Snapshot(), nil
}

// Cancel cancels a running job. Already-upserted products remain valid;
// the job simply stops fetching further targets.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrJobNotFound
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	if job.status != StatusRunning || job.cancel == nil {
		return domain.ErrJobNotCancellable
	}
	job.cancel()
	return nil
}
