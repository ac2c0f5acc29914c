package build

import (
	"context"
	"errors"
	"testing"

	"github.com/cloud-gov/pages-core/internal/integrations/github"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store/storetest"
)

type fakeBranchLookup struct {
	branches map[string]string // branch name -> tip sha
	calls    int
}

func (f *fakeBranchLookup) GetBranch(ctx context.Context, token, owner, repo, branch string) (*github.Branch, error) {
	f.calls++
	sha, ok := f.branches[branch]
	if !ok {
		return nil, github.ErrBranchNotFound
	}
	b := &github.Branch{Name: branch}
	b.Commit.SHA = sha
	return b, nil
}

func testSite() *models.Site {
	return &models.Site{
		ID:            1,
		Owner:         "agency",
		Repository:    "site",
		DefaultBranch: "main",
	}
}

func testUser() *models.User {
	return &models.User{
		ID:          7,
		Username:    "builder",
		GitHubToken: "gh-token",
	}
}

func TestGetBuildByID(t *testing.T) {
	st := storetest.New()
	site := testSite()
	st.AddSite(site)
	st.AddBuild(&models.Build{ID: 42, SiteID: site.ID, Branch: "main", State: models.BuildStateSuccess})

	r := NewResolver(st, &fakeBranchLookup{}, nil)

	b, err := r.GetBuild(context.Background(), testUser(), site, Params{BuildID: 42})
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if b.ID != 42 {
		t.Errorf("ID = %d, want 42", b.ID)
	}

	// A build belonging to another site is invisible.
	otherSite := &models.Site{ID: 2, Owner: "agency", Repository: "other"}
	if _, err := r.GetBuild(context.Background(), testUser(), otherSite, Params{BuildID: 42}); !errors.Is(err, ErrBuildNotFound) {
		t.Errorf("cross-site lookup error = %v, want ErrBuildNotFound", err)
	}
}

func TestGetBuildShaFallback(t *testing.T) {
	st := storetest.New()
	site := testSite()
	st.AddSite(site)
	st.AddBuild(&models.Build{SiteID: site.ID, Branch: "main", State: models.BuildStateSuccess, RequestedCommitSha: "aaaa"})

	r := NewResolver(st, &fakeBranchLookup{}, nil)

	// The caller's sha never overwrites a recorded one.
	b, err := r.GetBuild(context.Background(), testUser(), site, Params{Branch: "main", Sha: "bbbb"})
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if b.RequestedCommitSha != "aaaa" {
		t.Errorf("RequestedCommitSha = %q, want %q", b.RequestedCommitSha, "aaaa")
	}

	// A build lacking a sha picks up the caller's.
	st2 := storetest.New()
	st2.AddSite(site)
	st2.AddBuild(&models.Build{SiteID: site.ID, Branch: "main", State: models.BuildStateSuccess})
	r2 := NewResolver(st2, &fakeBranchLookup{}, nil)

	b, err = r2.GetBuild(context.Background(), testUser(), site, Params{Branch: "main", Sha: "bbbb"})
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if b.RequestedCommitSha != "bbbb" {
		t.Errorf("RequestedCommitSha = %q, want %q", b.RequestedCommitSha, "bbbb")
	}
}

func TestGetBuildSynthesizesFromUpstream(t *testing.T) {
	st := storetest.New()
	site := testSite()
	st.AddSite(site)

	gh := &fakeBranchLookup{branches: map[string]string{"main": "feedface"}}
	r := NewResolver(st, gh, nil)

	b, err := r.GetBuild(context.Background(), testUser(), site, Params{Branch: "main"})
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if b.ID != 0 {
		t.Errorf("synthesized build should be unsaved, got ID %d", b.ID)
	}
	if b.RequestedCommitSha != "feedface" {
		t.Errorf("RequestedCommitSha = %q, want upstream tip", b.RequestedCommitSha)
	}

	if _, err := r.GetBuild(context.Background(), testUser(), site, Params{Branch: "gone"}); !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("missing branch error = %v, want ErrBranchNotFound", err)
	}
}

func TestRequestSuppressesDuplicates(t *testing.T) {
	st := storetest.New()
	site := testSite()
	st.AddSite(site)
	st.AddBuild(&models.Build{SiteID: site.ID, Branch: "main", State: models.BuildStateQueued})

	r := NewResolver(st, &fakeBranchLookup{}, nil)

	b, created, err := r.Request(context.Background(), testUser(), site, Params{Branch: "main"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if created {
		t.Error("request with an in-flight build should not create a new one")
	}
	if b.State != models.BuildStateQueued {
		t.Errorf("State = %s, want queued in-flight build", b.State)
	}
}

func TestRequestCreatesBuild(t *testing.T) {
	st := storetest.New()
	site := testSite()
	st.AddSite(site)
	// The previous build is terminal, so a new request is not absorbed.
	st.AddBuild(&models.Build{SiteID: site.ID, Branch: "main", State: models.BuildStateError})

	r := NewResolver(st, &fakeBranchLookup{}, nil)
	user := testUser()

	b, created, err := r.Request(context.Background(), user, site, Params{Branch: "main"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !created {
		t.Fatal("expected a new build")
	}
	if b.State != models.BuildStateCreated {
		t.Errorf("State = %s, want created", b.State)
	}
	if b.Token == "" {
		t.Error("new build should carry a callback token")
	}
	if b.UserID != user.ID || b.Username != user.Username {
		t.Errorf("build attribution = (%d, %q), want (%d, %q)", b.UserID, b.Username, user.ID, user.Username)
	}
	if stored := st.Build(b.ID); stored == nil {
		t.Error("new build was not persisted")
	}
}
