package jobs

import (
	"context"
	"sync"
	"testing"

	"github.com/cloud-gov/pages-core/internal/build"
	"github.com/cloud-gov/pages-core/internal/integrations/executor"
	"github.com/cloud-gov/pages-core/internal/integrations/github"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store/storetest"
)

type stubBranchLookup struct{}

func (stubBranchLookup) GetBranch(ctx context.Context, token, owner, repo, branch string) (*github.Branch, error) {
	b := &github.Branch{Name: branch}
	b.Commit.SHA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	return b, nil
}

type recordingStarter struct {
	mu    sync.Mutex
	tasks []*executor.Task
}

func (r *recordingStarter) StartTask(ctx context.Context, task *executor.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func TestNightlyBuildsQueuesScheduledBranches(t *testing.T) {
	st := storetest.New()
	st.AddUser(&models.User{ID: 99, Username: "auditor", GitHubToken: "t"})
	st.AddSite(&models.Site{
		ID: 1, Owner: "agency", Repository: "one",
		DefaultBranch:         "main",
		DefaultBranchSchedule: models.ScheduleNightly,
		DemoBranch:            "demo",
		DemoBranchSchedule:    models.ScheduleNightly,
	})
	st.AddSite(&models.Site{
		ID: 2, Owner: "agency", Repository: "two",
		DefaultBranch: "main",
	})

	resolver := build.NewResolver(st, stubBranchLookup{}, nil)
	starter := &recordingStarter{}
	enqueuer := build.NewEnqueuer(st, starter, "https://pages.example.gov", nil)

	job := NewNightlyBuilds(st, resolver, enqueuer, "auditor", 2, nil)

	result, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("failures: %+v", result.Failures)
	}
	// Site 1 has two nightly branches; site 2 has none.
	if len(result.Successes) != 2 {
		t.Errorf("successes = %v, want both site 1 branches", result.Successes)
	}
	if len(starter.tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(starter.tasks))
	}

	// All nightly builds are attributed to the auditor.
	for _, task := range starter.tasks {
		b, err := st.Builds().Get(context.Background(), task.BuildID)
		if err != nil {
			t.Fatal(err)
		}
		if b.Username != "auditor" || b.UserID != 99 {
			t.Errorf("build %d attribution = (%d, %q), want auditor", b.ID, b.UserID, b.Username)
		}
		if b.State != models.BuildStateQueued {
			t.Errorf("build %d state = %s, want queued", b.ID, b.State)
		}
	}
}

func TestNightlyBuildsAbsorbedByInFlight(t *testing.T) {
	st := storetest.New()
	st.AddUser(&models.User{ID: 99, Username: "auditor"})
	st.AddSite(&models.Site{
		ID: 1, Owner: "agency", Repository: "one",
		DefaultBranch:         "main",
		DefaultBranchSchedule: models.ScheduleNightly,
	})
	st.AddBuild(&models.Build{SiteID: 1, Branch: "main", State: models.BuildStateQueued})

	resolver := build.NewResolver(st, stubBranchLookup{}, nil)
	starter := &recordingStarter{}
	enqueuer := build.NewEnqueuer(st, starter, "https://pages.example.gov", nil)

	job := NewNightlyBuilds(st, resolver, enqueuer, "auditor", 1, nil)

	result, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("failures: %+v", result.Failures)
	}
	if len(starter.tasks) != 0 {
		t.Error("in-flight build should absorb the nightly request")
	}
}
