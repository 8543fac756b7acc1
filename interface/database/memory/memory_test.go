package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/drnhhl/terragon/common"
	db "github.com/drnhhl/terragon/interface/database"
)

func TestJobs(t *testing.T) {
	ctx := context.Background()
	b := New()
	for _, id := range []string{"job-1", "job-2", "JOB-3"} {
		if err := b.CreateJob(ctx, common.MinicubeJob{ID: id, Collection: "sentinel-2-l2a"}, common.StatusNEW, 2); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.CreateJob(ctx, common.MinicubeJob{ID: "job-1"}, common.StatusNEW, 2); !errors.As(err, &db.ErrAlreadyExists{}) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	msg := "running"
	if err := b.UpdateJob(ctx, "job-2", common.StatusPENDING, db.JobUpdate{Message: &msg}); err != nil {
		t.Fatal(err)
	}
	job, err := b.Job(ctx, "job-2")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != common.StatusPENDING || job.Message != msg || job.RetryCountDown != 1 || job.Payload.Collection != "sentinel-2-l2a" {
		t.Errorf("unexpected job %+v", job)
	}
	if err := b.UpdateJob(ctx, "unknown", common.StatusDONE, db.JobUpdate{}); !errors.As(err, &db.ErrNotFound{}) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	tests := []struct {
		pattern, status string
		page, limit     int
		want            int
	}{
		{"", "", 0, 0, 3},
		{"job-*", "", 0, 0, 2},
		{"job-*(?i)", "", 0, 0, 3},
		{"", "PENDING", 0, 0, 1},
		{"", "NEW", 0, 0, 2},
		{"", "", 1, 2, 1},
		{"", "", 2, 2, 0},
	}
	for _, tt := range tests {
		jobs, err := b.Jobs(ctx, tt.pattern, tt.status, tt.page, tt.limit)
		if err != nil {
			t.Fatal(err)
		}
		if len(jobs) != tt.want {
			t.Errorf("Jobs(%s, %s, %d, %d): expected %d jobs, got %d", tt.pattern, tt.status, tt.page, tt.limit, tt.want, len(jobs))
		}
	}
	if _, err := b.Jobs(ctx, "", "UNKNOWN", 0, 0); err == nil {
		t.Error("expected an error on an unknown status")
	}

	status, err := b.JobsStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status != (db.Status{New: 2, Pending: 1}) {
		t.Errorf("unexpected status %+v", status)
	}

	if err := b.DeleteJob(ctx, "JOB-3"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Job(ctx, "JOB-3"); !errors.As(err, &db.ErrNotFound{}) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUnitOfWork(t *testing.T) {
	ctx := context.Background()
	b := New()
	if err := b.CreateJob(ctx, common.MinicubeJob{ID: "job"}, common.StatusNEW, 0); err != nil {
		t.Fatal(err)
	}

	err := db.UnitOfWork(ctx, b, func(tx db.WorkflowTxBackend) error {
		if err := tx.UpdateJob(ctx, "job", common.StatusPENDING, db.JobUpdate{}); err != nil {
			return err
		}
		return errors.New("publish failed")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if job, _ := b.Job(ctx, "job"); job.Status != common.StatusNEW {
		t.Errorf("the transaction must be rolled back, got status %s", job.Status)
	}

	err = db.UnitOfWork(ctx, b, func(tx db.WorkflowTxBackend) error {
		return tx.UpdateJob(ctx, "job", common.StatusPENDING, db.JobUpdate{})
	})
	if err != nil {
		t.Fatal(err)
	}
	if job, _ := b.Job(ctx, "job"); job.Status != common.StatusPENDING {
		t.Errorf("the transaction must be committed, got status %s", job.Status)
	}
}
