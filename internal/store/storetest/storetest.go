// Package storetest provides an in-memory Store implementation for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
	"github.com/cloud-gov/pages-core/internal/store/postgres"
)

// Store is an in-memory store.Store. It reproduces the lookup and guard
// semantics of the real store closely enough for service-level tests,
// including returning postgres.ErrNotFound for missing rows.
type Store struct {
	mu sync.Mutex

	builds      map[int64]*models.Build
	nextBuildID int64

	logs      map[int64][]*models.BuildLog
	nextLogID int64

	sites     map[int64]*models.Site
	users     map[int64]*models.User
	siteUsers map[int64][]int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		builds:    make(map[int64]*models.Build),
		logs:      make(map[int64][]*models.BuildLog),
		sites:     make(map[int64]*models.Site),
		users:     make(map[int64]*models.User),
		siteUsers: make(map[int64][]int64),
	}
}

// AddSite seeds a site.
func (s *Store) AddSite(site *models.Site) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[site.ID] = site
}

// AddUser seeds a user.
func (s *Store) AddUser(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// AddSiteUser associates a user with a site.
func (s *Store) AddSiteUser(siteID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.siteUsers[siteID] = append(s.siteUsers[siteID], userID)
}

// AddBuild seeds a build, assigning an ID when unset.
func (s *Store) AddBuild(b *models.Build) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		s.nextBuildID++
		b.ID = s.nextBuildID
	} else if b.ID > s.nextBuildID {
		s.nextBuildID = b.ID
	}
	s.builds[b.ID] = copyBuild(b)
}

// Build returns the stored build by ID, or nil.
func (s *Store) Build(id int64) *models.Build {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.builds[id]; ok {
		return copyBuild(b)
	}
	return nil
}

// Logs returns the stored log lines for a build.
func (s *Store) Logs(buildID int64) []*models.BuildLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.BuildLog(nil), s.logs[buildID]...)
}

func copyBuild(b *models.Build) *models.Build {
	c := *b
	return &c
}

// Builds implements store.Store.
func (s *Store) Builds() store.BuildStore { return (*buildStore)(s) }

// BuildLogs implements store.Store.
func (s *Store) BuildLogs() store.BuildLogStore { return (*buildLogStore)(s) }

// Sites implements store.Store.
func (s *Store) Sites() store.SiteStore { return (*siteStore)(s) }

// Users implements store.Store.
func (s *Store) Users() store.UserStore { return (*userStore)(s) }

// WithTx runs fn against the same store.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

type buildStore Store

func (s *buildStore) Create(ctx context.Context, b *models.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBuildID++
	b.ID = s.nextBuildID
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	s.builds[b.ID] = copyBuild(b)
	return nil
}

func (s *buildStore) Get(ctx context.Context, id int64) (*models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return copyBuild(b), nil
}

func (s *buildStore) GetForSite(ctx context.Context, id, siteID int64) (*models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[id]
	if !ok || b.SiteID != siteID {
		return nil, postgres.ErrNotFound
	}
	return copyBuild(b), nil
}

func (s *buildStore) LatestForBranch(ctx context.Context, siteID int64, branch string) (*models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Build
	for _, b := range s.builds {
		if b.SiteID != siteID || b.Branch != branch {
			continue
		}
		if latest == nil || b.ID > latest.ID {
			latest = b
		}
	}
	if latest == nil {
		return nil, postgres.ErrNotFound
	}
	return copyBuild(latest), nil
}

func (s *buildStore) FindInFlight(ctx context.Context, siteID int64, branch string) (*models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.builds {
		if b.SiteID != siteID || b.Branch != branch {
			continue
		}
		if b.State == models.BuildStateCreated || b.State == models.BuildStateQueued {
			return copyBuild(b), nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (s *buildStore) UpdateStateGuarded(ctx context.Context, b *models.Build, expected []models.BuildState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.builds[b.ID]
	if !ok {
		return false, nil
	}
	match := false
	for _, state := range expected {
		if stored.State == state {
			match = true
			break
		}
	}
	if !match {
		return false, nil
	}
	stored.State = b.State
	stored.Error = b.Error
	stored.ClonedCommitSha = b.ClonedCommitSha
	stored.StartedAt = b.StartedAt
	stored.CompletedAt = b.CompletedAt
	stored.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *buildStore) SweepTimedOut(ctx context.Context, now, processingBefore, taskedBefore time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept []int64
	for _, b := range s.builds {
		timedOut := (b.State == models.BuildStateProcessing && b.StartedAt != nil && b.StartedAt.Before(processingBefore)) ||
			(b.State == models.BuildStateTasked && b.UpdatedAt.Before(taskedBefore))
		if !timedOut {
			continue
		}
		b.State = models.BuildStateError
		b.Error = models.TimeoutMessage
		t := now
		b.CompletedAt = &t
		b.UpdatedAt = now
		swept = append(swept, b.ID)
	}
	sort.Slice(swept, func(i, j int) bool { return swept[i] < swept[j] })
	return swept, nil
}

func (s *buildStore) ListForSite(ctx context.Context, siteID int64, limit int) ([]*models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Build
	for _, b := range s.builds {
		if b.SiteID == siteID {
			out = append(out, copyBuild(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *buildStore) ListArchivable(ctx context.Context, start, end time.Time) ([]*models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Build
	for _, b := range s.builds {
		if b.LogsS3Key != "" || b.CompletedAt == nil {
			continue
		}
		if b.CompletedAt.Before(start) || !b.CompletedAt.Before(end) {
			continue
		}
		out = append(out, copyBuild(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *buildStore) SetLogsKey(ctx context.Context, id int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[id]
	if !ok {
		return postgres.ErrNotFound
	}
	b.LogsS3Key = key
	b.UpdatedAt = time.Now().UTC()
	return nil
}

type buildLogStore Store

func (s *buildLogStore) Append(ctx context.Context, entry *models.BuildLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	entry.ID = s.nextLogID
	if entry.Source == "" {
		entry.Source = models.BuildLogSourceAll
	}
	entry.CreatedAt = time.Now().UTC()
	c := *entry
	s.logs[entry.BuildID] = append(s.logs[entry.BuildID], &c)
	return nil
}

func (s *buildLogStore) ListForBuild(ctx context.Context, buildID int64) ([]*models.BuildLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.BuildLog(nil), s.logs[buildID]...), nil
}

func (s *buildLogStore) DeleteForBuild(ctx context.Context, buildID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := int64(len(s.logs[buildID]))
	delete(s.logs, buildID)
	return count, nil
}

type siteStore Store

func (s *siteStore) Get(ctx context.Context, id int64) (*models.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return site, nil
}

func (s *siteStore) List(ctx context.Context) ([]*models.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Site
	for _, site := range s.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *siteStore) ListNightly(ctx context.Context) ([]*models.Site, error) {
	sites, _ := s.List(ctx)
	var out []*models.Site
	for _, site := range sites {
		if len(site.NightlyBranches()) > 0 {
			out = append(out, site)
		}
	}
	return out, nil
}

func (s *siteStore) SetRepoLastVerified(ctx context.Context, siteID int64, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return postgres.ErrNotFound
	}
	t := verifiedAt
	site.RepoLastVerified = &t
	return nil
}

type userStore Store

func (s *userStore) Get(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return user, nil
}

func (s *userStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (s *userStore) ListForSite(ctx context.Context, siteID int64) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.User
	for _, id := range s.siteUsers[siteID] {
		if user, ok := s.users[id]; ok {
			out = append(out, user)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].SignedInAt, out[j].SignedInAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out, nil
}

func (s *userStore) ListInactiveMembers(ctx context.Context, cutoff time.Time) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.User
	for _, user := range s.users {
		if !user.IsOrgMember {
			continue
		}
		if user.SignedInAt == nil || user.SignedInAt.Before(cutoff) {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *userStore) SetOrgMembership(ctx context.Context, userID int64, member bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return postgres.ErrNotFound
	}
	user.IsOrgMember = member
	return nil
}
