package build

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/cloud-gov/pages-core/internal/events"
	"github.com/cloud-gov/pages-core/internal/integrations/github"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store/storetest"
)

type fakeReporter struct {
	statuses []*github.CommitStatus
	shas     []string
}

func (f *fakeReporter) CreateCommitStatus(ctx context.Context, token, owner, repo, sha string, status *github.CommitStatus) error {
	f.statuses = append(f.statuses, status)
	f.shas = append(f.shas, sha)
	return nil
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func newStatusFixture(t *testing.T, state models.BuildState) (*storetest.Store, *StatusService, *models.Build, *fakeReporter) {
	t.Helper()
	st := storetest.New()
	site := testSite()
	st.AddSite(site)
	b := &models.Build{
		SiteID:             site.ID,
		UserID:             7,
		Token:              "tok",
		Branch:             "main",
		RequestedCommitSha: "cafe",
		State:              state,
	}
	st.AddBuild(b)
	reporter := &fakeReporter{}
	svc := NewStatusService(st, nil, reporter, "reporter-token", nil)
	return st, svc, b, reporter
}

func TestHandleCallbackUnknownBuild(t *testing.T) {
	_, svc, _, _ := newStatusFixture(t, models.BuildStateProcessing)
	err := svc.HandleCallback(context.Background(), 999, "tok", StatusPayload{Status: "success"})
	if !errors.Is(err, ErrBuildNotFound) {
		t.Errorf("error = %v, want ErrBuildNotFound", err)
	}
}

func TestHandleCallbackBadToken(t *testing.T) {
	st, svc, b, _ := newStatusFixture(t, models.BuildStateProcessing)
	err := svc.HandleCallback(context.Background(), b.ID, "wrong", StatusPayload{Status: "success"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}
	if st.Build(b.ID).State != models.BuildStateProcessing {
		t.Error("rejected callback must not change state")
	}
}

func TestHandleCallbackSuccess(t *testing.T) {
	st, svc, b, reporter := newStatusFixture(t, models.BuildStateProcessing)

	err := svc.HandleCallback(context.Background(), b.ID, "tok", StatusPayload{
		Status:  "success",
		Message: encode(""),
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	stored := st.Build(b.ID)
	if stored.State != models.BuildStateSuccess {
		t.Errorf("State = %s, want success", stored.State)
	}
	if stored.CompletedAt == nil {
		t.Error("terminal build should have CompletedAt")
	}
	if len(reporter.statuses) != 1 || reporter.statuses[0].State != "success" {
		t.Errorf("commit statuses = %+v, want one success", reporter.statuses)
	}
	if reporter.shas[0] != "cafe" {
		t.Errorf("reported sha = %q, want requested sha fallback", reporter.shas[0])
	}
}

func TestHandleCallbackErrorMessage(t *testing.T) {
	st, svc, b, _ := newStatusFixture(t, models.BuildStateProcessing)

	err := svc.HandleCallback(context.Background(), b.ID, "tok", StatusPayload{
		Status:  "error",
		Message: encode("npm exploded"),
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got := st.Build(b.ID).Error; got != "npm exploded" {
		t.Errorf("Error = %q, want decoded message", got)
	}
}

func TestHandleCallbackMalformedMessage(t *testing.T) {
	st, svc, b, _ := newStatusFixture(t, models.BuildStateProcessing)

	// Undecodable message forces an error outcome with the fallback text,
	// even though the reported status was success.
	err := svc.HandleCallback(context.Background(), b.ID, "tok", StatusPayload{
		Status:  "success",
		Message: "%%% not base64 %%%",
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	stored := st.Build(b.ID)
	if stored.State != models.BuildStateError {
		t.Errorf("State = %s, want error", stored.State)
	}
	if stored.Error != ParseErrorMessage {
		t.Errorf("Error = %q, want %q", stored.Error, ParseErrorMessage)
	}
}

func TestHandleCallbackTerminalBuildNoop(t *testing.T) {
	st, svc, b, _ := newStatusFixture(t, models.BuildStateSuccess)

	err := svc.HandleCallback(context.Background(), b.ID, "tok", StatusPayload{
		Status:  "error",
		Message: encode("late failure"),
	})
	if err != nil {
		t.Fatalf("late callback should be accepted, got %v", err)
	}
	stored := st.Build(b.ID)
	if stored.State != models.BuildStateSuccess || stored.Error != "" {
		t.Errorf("terminal build changed: state=%s error=%q", stored.State, stored.Error)
	}
}

func TestHandleCallbackOutOfOrderNoop(t *testing.T) {
	st, svc, b, _ := newStatusFixture(t, models.BuildStateCreated)

	// processing is unreachable from created; the callback is acknowledged
	// without effect.
	err := svc.HandleCallback(context.Background(), b.ID, "tok", StatusPayload{
		Status:  "processing",
		Message: encode(""),
	})
	if err != nil {
		t.Fatalf("out-of-order callback should be accepted, got %v", err)
	}
	if st.Build(b.ID).State != models.BuildStateCreated {
		t.Error("out-of-order callback must not change state")
	}
}

func TestHandleCallbackUnknownStatus(t *testing.T) {
	_, svc, b, _ := newStatusFixture(t, models.BuildStateProcessing)
	err := svc.HandleCallback(context.Background(), b.ID, "tok", StatusPayload{
		Status:  "exploded",
		Message: encode(""),
	})
	if err == nil {
		t.Error("unknown status should be rejected")
	}
}

func TestHandleCallbackEmitsEvents(t *testing.T) {
	st := storetest.New()
	site := testSite()
	st.AddSite(site)
	b := &models.Build{SiteID: site.ID, UserID: 7, Token: "tok", Branch: "main", State: models.BuildStateProcessing}
	st.AddBuild(b)

	broker := events.NewBroker(nil)
	siteSub := broker.Subscribe(events.SiteRoom(site.ID))
	userSub := broker.Subscribe(events.SiteUserRoom(site.ID, 7))

	svc := NewStatusService(st, broker, nil, "", nil)
	if err := svc.HandleCallback(context.Background(), b.ID, "tok", StatusPayload{Status: "success", Message: encode("")}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	select {
	case ev := <-siteSub.Ch:
		if ev.Name != events.BuildStatusEvent {
			t.Errorf("event name = %q", ev.Name)
		}
	default:
		t.Error("site room received no event")
	}
	select {
	case <-userSub.Ch:
	default:
		t.Error("user room received no event")
	}
}
