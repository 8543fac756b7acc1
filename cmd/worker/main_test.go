package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/service"
	"github.com/google/go-cmp/cmp"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"gs://", []string{"gs://"}},
		{" gs:// , s3://,", []string{"gs://", "s3://"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, splitList(tt.in)); diff != "" {
			t.Errorf("splitList(%q) (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestProcessWithoutProvider(t *testing.T) {
	w := worker{workDir: t.TempDir()}
	_, err := w.process(context.Background(), common.MinicubeJob{ID: "job"})
	var errConf service.ErrConfiguration
	if !errors.As(err, &errConf) || errConf.Param != "items" {
		t.Errorf("expected a configuration error, got %v", err)
	}
	if !service.Fatal(err) {
		t.Error("a configuration error must be fatal")
	}
}

func TestProcessInvalidJob(t *testing.T) {
	w := worker{workDir: t.TempDir()}
	// the items are only read by the search
	_, err := w.process(context.Background(), common.MinicubeJob{ID: "job", Items: "items.json"})
	var errConf service.ErrConfiguration
	if !errors.As(err, &errConf) || errConf.Param != "aoi" {
		t.Errorf("expected an aoi error, got %v", err)
	}
}

func TestJobLease(t *testing.T) {
	lease := &jobLease{}
	now := time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC)
	if c := lease.cost(now); c != 0 {
		t.Errorf("idle worker: expected 0 got %d", c)
	}
	lease.start(now.Add(-1500 * time.Millisecond))
	if c := lease.cost(now); c != 1500 {
		t.Errorf("expected 1500 got %d", c)
	}
	lease.end()
	if c := lease.cost(now); c != 0 {
		t.Errorf("ended job: expected 0 got %d", c)
	}

	// The handler is served concurrently with the job loop
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			lease.start(time.Now())
			lease.end()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			rec := httptest.NewRecorder()
			lease.ServeHTTP(rec, httptest.NewRequest("GET", "/termination_cost", nil))
			if rec.Code != 200 || rec.Body.Len() == 0 {
				t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
			}
		}
	}()
	wg.Wait()
}
