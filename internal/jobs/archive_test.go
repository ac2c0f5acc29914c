package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cloud-gov/pages-core/internal/logarchive"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store/storetest"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memObjects) Put(ctx context.Context, key string, content []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = content
	return nil
}

func (m *memObjects) Get(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object %q", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestArchiveBuildLogsWindow(t *testing.T) {
	st := storetest.New()
	now := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	midnight := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	inWindow := midnight.Add(-2 * time.Hour)
	tooOld := midnight.Add(-30 * time.Hour)
	today := midnight.Add(2 * time.Hour)

	st.AddBuild(&models.Build{ID: 1, SiteID: 1, Branch: "a", State: models.BuildStateSuccess, CompletedAt: &inWindow})
	st.AddBuild(&models.Build{ID: 2, SiteID: 1, Branch: "b", State: models.BuildStateError, CompletedAt: &tooOld})
	st.AddBuild(&models.Build{ID: 3, SiteID: 1, Branch: "c", State: models.BuildStateSuccess, CompletedAt: &today})
	st.AddBuild(&models.Build{ID: 4, SiteID: 1, Branch: "d", State: models.BuildStateSuccess, CompletedAt: &inWindow, LogsS3Key: "buildlogs/4.log"})

	objects := &memObjects{objects: make(map[string][]byte)}
	archiver := logarchive.NewArchiver(st, objects, nil)

	job := NewArchiveBuildLogs(st, archiver, 24*time.Hour, 2)
	job.now = func() time.Time { return now }

	result, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("failures: %+v", result.Failures)
	}
	// Only build 1 completed inside yesterday's window without an archive.
	if len(result.Successes) != 1 || result.Successes[0] != "1" {
		t.Errorf("successes = %v, want [1]", result.Successes)
	}
	if _, ok := objects.objects[logarchive.Key(1)]; !ok {
		t.Error("build 1 logs were not archived")
	}
	if st.Build(1).LogsS3Key == "" {
		t.Error("build 1 archive key not recorded")
	}
}

func TestArchiveBuildLogsForDate(t *testing.T) {
	st := storetest.New()
	missedDay := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	onDay := missedDay.Add(14 * time.Hour)
	dayBefore := missedDay.Add(-3 * time.Hour)
	dayAfter := missedDay.Add(26 * time.Hour)

	st.AddBuild(&models.Build{ID: 1, SiteID: 1, Branch: "a", State: models.BuildStateSuccess, CompletedAt: &onDay})
	st.AddBuild(&models.Build{ID: 2, SiteID: 1, Branch: "b", State: models.BuildStateError, CompletedAt: &dayBefore})
	st.AddBuild(&models.Build{ID: 3, SiteID: 1, Branch: "c", State: models.BuildStateSuccess, CompletedAt: &dayAfter})

	objects := &memObjects{objects: make(map[string][]byte)}
	archiver := logarchive.NewArchiver(st, objects, nil)
	job := NewArchiveBuildLogs(st, archiver, 24*time.Hour, 2)

	// A mid-day timestamp normalizes to the same calendar day.
	result, err := job.RunForDate(context.Background(), missedDay.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("RunForDate: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("failures: %+v", result.Failures)
	}
	if len(result.Successes) != 1 || result.Successes[0] != "1" {
		t.Errorf("successes = %v, want [1]", result.Successes)
	}
	if _, ok := objects.objects[logarchive.Key(1)]; !ok {
		t.Error("missed day's build was not archived")
	}
}
