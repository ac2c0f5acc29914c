package build

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store/storetest"
)

type fakeCanceller struct {
	cancelled []int64
	failFor   map[int64]error
}

func (f *fakeCanceller) CancelTask(ctx context.Context, buildID int64) error {
	if err, ok := f.failFor[buildID]; ok {
		return err
	}
	f.cancelled = append(f.cancelled, buildID)
	return nil
}

func TestSweepMarksAndCancels(t *testing.T) {
	st := storetest.New()
	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)
	recent := now.Add(-time.Minute)

	stuck := &models.Build{ID: 1, SiteID: 1, Branch: "main", State: models.BuildStateProcessing, StartedAt: &old}
	healthy := &models.Build{ID: 2, SiteID: 1, Branch: "dev", State: models.BuildStateProcessing, StartedAt: &recent}
	stale := &models.Build{ID: 3, SiteID: 1, Branch: "demo", State: models.BuildStateTasked, UpdatedAt: old}
	st.AddBuild(stuck)
	st.AddBuild(healthy)
	st.AddBuild(stale)

	canceller := &fakeCanceller{}
	s := NewSweeper(st, canceller, 45*time.Minute, 5*time.Minute, nil)

	outcomes, err := s.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}

	for _, id := range []int64{1, 3} {
		b := st.Build(id)
		if b.State != models.BuildStateError {
			t.Errorf("build %d state = %s, want error", id, b.State)
		}
		if b.Error != models.TimeoutMessage {
			t.Errorf("build %d error = %q, want %q", id, b.Error, models.TimeoutMessage)
		}
		if b.CompletedAt == nil {
			t.Errorf("build %d missing CompletedAt", id)
		}
	}
	if b := st.Build(2); b.State != models.BuildStateProcessing {
		t.Errorf("healthy build state = %s, want untouched", b.State)
	}
	if len(canceller.cancelled) != 2 {
		t.Errorf("cancelled = %v, want both timed-out builds", canceller.cancelled)
	}
}

func TestSweepNothingToDo(t *testing.T) {
	st := storetest.New()
	s := NewSweeper(st, &fakeCanceller{}, 0, 0, nil)

	outcomes, err := s.Sweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if outcomes != nil {
		t.Errorf("outcomes = %v, want nil", outcomes)
	}
}

func TestSweepCollectsCancellationFailures(t *testing.T) {
	st := storetest.New()
	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)
	st.AddBuild(&models.Build{ID: 1, SiteID: 1, Branch: "a", State: models.BuildStateProcessing, StartedAt: &old})
	st.AddBuild(&models.Build{ID: 2, SiteID: 1, Branch: "b", State: models.BuildStateProcessing, StartedAt: &old})

	boom := errors.New("executor unreachable")
	canceller := &fakeCanceller{failFor: map[int64]error{1: boom}}
	s := NewSweeper(st, canceller, time.Hour, time.Hour, nil)

	outcomes, err := s.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}

	var failed, succeeded int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Errorf("failed=%d succeeded=%d, want 1 and 1", failed, succeeded)
	}

	// The failed cancellation does not undo the state marking.
	if b := st.Build(1); b.State != models.BuildStateError {
		t.Errorf("build 1 state = %s, want error despite cancel failure", b.State)
	}
}
