// Package memory implements the workflow backend in memory, for a single workflow server without database.
package memory

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/drnhhl/terragon/common"
	db "github.com/drnhhl/terragon/interface/database"
)

// Backend implements WorkflowDBBackend.
// A transaction works on a copy of the jobs and holds the backend until Commit or Rollback.
type Backend struct {
	// txmu is held by the running transaction (nil for the backend of a transaction)
	txmu *sync.Mutex
	jobs map[string]db.Job
}

// BackendTx implements WorkflowTxBackend
type BackendTx struct {
	Backend
	parent *Backend
	done   bool
}

// New creates an empty backend
func New() *Backend {
	return &Backend{txmu: &sync.Mutex{}, jobs: map[string]db.Job{}}
}

// StartTransaction implements WorkflowDBBackend
func (b *Backend) StartTransaction(ctx context.Context) (db.WorkflowTxBackend, error) {
	if b.txmu == nil {
		return nil, errors.New("nested transactions are not supported")
	}
	b.txmu.Lock()
	tx := &BackendTx{Backend: Backend{jobs: make(map[string]db.Job, len(b.jobs))}, parent: b}
	for id, job := range b.jobs {
		tx.jobs[id] = job
	}
	return tx, nil
}

// Commit implements WorkflowTxBackend
func (tx *BackendTx) Commit() error {
	if tx.done {
		return errors.New("transaction has already been committed or rolled back")
	}
	tx.parent.jobs = tx.jobs
	tx.done = true
	tx.parent.txmu.Unlock()
	return nil
}

// Rollback implements WorkflowTxBackend
func (tx *BackendTx) Rollback() error {
	if !tx.done {
		tx.done = true
		tx.parent.txmu.Unlock()
	}
	return nil
}

func (b *Backend) lock() func() {
	if b.txmu == nil {
		return func() {}
	}
	b.txmu.Lock()
	return b.txmu.Unlock
}

// CreateJob implements WorkflowBackend
func (b *Backend) CreateJob(ctx context.Context, job common.MinicubeJob, status common.Status, retryCount int) error {
	defer b.lock()()
	if _, ok := b.jobs[job.ID]; ok {
		return db.ErrAlreadyExists{Type: "job", ID: job.ID}
	}
	now := time.Now().UTC()
	b.jobs[job.ID] = db.Job{
		ID:             job.ID,
		Status:         status,
		RetryCountDown: retryCount,
		Payload:        job,
		Created:        now,
		Updated:        now,
	}
	return nil
}

// Job implements WorkflowBackend
func (b *Backend) Job(ctx context.Context, id string) (db.Job, error) {
	defer b.lock()()
	job, ok := b.jobs[id]
	if !ok {
		return db.Job{}, db.ErrNotFound{Type: "job", ID: id}
	}
	return job, nil
}

// match the id against a pattern with * and ? wildcards and an optional (?i) suffix
func match(pattern, id string) bool {
	if strings.HasSuffix(pattern, "(?i)") {
		pattern, id = strings.ToLower(strings.TrimSuffix(pattern, "(?i)")), strings.ToLower(id)
	}
	ok, err := path.Match(pattern, id)
	return err == nil && ok
}

// Jobs implements WorkflowBackend
func (b *Backend) Jobs(ctx context.Context, pattern, status string, page, limit int) ([]db.Job, error) {
	var st common.Status
	if status != "" {
		var err error
		if st, err = common.StatusString(status); err != nil {
			return nil, err
		}
	}
	defer b.lock()()
	jobs := make([]db.Job, 0)
	for _, job := range b.jobs {
		if (pattern == "" || match(pattern, job.ID)) && (status == "" || job.Status == st) {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].Created.Equal(jobs[j].Created) {
			return jobs[i].Created.Before(jobs[j].Created)
		}
		return jobs[i].ID < jobs[j].ID
	})
	if limit > 0 {
		start := page * limit
		if start > len(jobs) {
			start = len(jobs)
		}
		end := start + limit
		if end > len(jobs) {
			end = len(jobs)
		}
		jobs = jobs[start:end]
	}
	return jobs, nil
}

// JobsStatus implements WorkflowBackend
func (b *Backend) JobsStatus(ctx context.Context) (db.Status, error) {
	defer b.lock()()
	counts := map[common.Status]int64{}
	for _, job := range b.jobs {
		counts[job.Status]++
	}
	s := db.Status{}
	for status, nb := range counts {
		s.Set(status, nb)
	}
	return s, nil
}

// UpdateJob implements WorkflowBackend
func (b *Backend) UpdateJob(ctx context.Context, id string, status common.Status, update db.JobUpdate) error {
	defer b.lock()()
	job, ok := b.jobs[id]
	if !ok {
		return db.ErrNotFound{Type: "job", ID: id}
	}
	job.Status = status
	if update.Message != nil {
		job.Message = *update.Message
	}
	if update.Manifest != nil {
		job.Manifest = *update.Manifest
	}
	if status == common.StatusPENDING {
		job.RetryCountDown--
	}
	job.Updated = time.Now().UTC()
	b.jobs[id] = job
	return nil
}

// DeleteJob implements WorkflowBackend
func (b *Backend) DeleteJob(ctx context.Context, id string) error {
	defer b.lock()()
	if _, ok := b.jobs[id]; !ok {
		return db.ErrNotFound{Type: "job", ID: id}
	}
	delete(b.jobs, id)
	return nil
}
