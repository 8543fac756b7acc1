package db

import (
	"context"
	"fmt"
	"time"

	"github.com/drnhhl/terragon/common"
)

// Job is a minicube job tracked by the workflow
type Job struct {
	ID             string             `json:"id"`
	Status         common.Status      `json:"status"`
	Message        string             `json:"message"`
	Manifest       string             `json:"manifest,omitempty"`
	RetryCountDown int                `json:"retry_countdown"`
	Payload        common.MinicubeJob `json:"payload"`
	Created        time.Time          `json:"created"`
	Updated        time.Time          `json:"updated"`
}

type ErrAlreadyExists struct {
	Type, ID string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Type, e.ID)
}

type ErrNotFound struct {
	Type, ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.ID)
}

type WorkflowTxBackend interface {
	WorkflowBackend
	// Must be call to apply transaction
	Commit() error
	// Might be called to cancel the transaction (no effect if commit has already be done)
	Rollback() error
}

type WorkflowDBBackend interface {
	WorkflowBackend
	StartTransaction(ctx context.Context) (WorkflowTxBackend, error)
}

type Status struct {
	New, Pending, Done, Retry, Failed int64
}

// Set the number of occurences for a given status
func (s *Status) Set(status common.Status, nb int64) {
	switch status {
	case common.StatusNEW:
		s.New = nb
	case common.StatusPENDING:
		s.Pending = nb
	case common.StatusDONE:
		s.Done = nb
	case common.StatusRETRY:
		s.Retry = nb
	case common.StatusFAILED:
		s.Failed = nb
	}
}

// JobUpdate holds the fields of a job to be updated (nil: unchanged)
type JobUpdate struct {
	Message  *string
	Manifest *string
}

type WorkflowBackend interface {
	// Create a new job, may return ErrAlreadyExists
	CreateJob(ctx context.Context, job common.MinicubeJob, status common.Status, retryCount int) error
	// Get the job with the given id, may return ErrNotFound
	Job(ctx context.Context, id string) (Job, error)
	// Jobs returns the list of the jobs fitting the parameters, sorted by creation date
	// pattern [optional=""] id pattern (* and ? wildcards, (?i) suffix for case-insensitivity)
	// status [optional=""] status of the jobs
	Jobs(ctx context.Context, pattern, status string, page, limit int) ([]Job, error)
	// Returns the number of jobs per status
	JobsStatus(ctx context.Context) (Status, error)
	// Update job status and the fields of the update.
	// Setting the status to PENDING decrements the retry countdown. May return ErrNotFound
	UpdateJob(ctx context.Context, id string, status common.Status, update JobUpdate) error
	// Delete a job. May return ErrNotFound
	DeleteJob(ctx context.Context, id string) error
}

// UnitOfWork runs a function and commit the database at the end or rollback if the function returns an error
func UnitOfWork(ctx context.Context, db WorkflowDBBackend, f func(tx WorkflowTxBackend) error) (err error) {
	// Start transaction
	txn, err := db.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("uow.starttransaction: %w", err)
	}

	// Rollback if not successful
	defer func() {
		if e := txn.Rollback(); err == nil {
			err = e
		}
	}()

	// Execute function
	if err = f(txn); err != nil {
		return fmt.Errorf("uow.%w", err)
	}

	return txn.Commit()
}
