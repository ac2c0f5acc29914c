package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/cloud-gov/pages-core/internal/build"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store/storetest"
)

func newCallbackRouter(st *storetest.Store) http.Handler {
	status := build.NewStatusService(st, nil, nil, "", nil)
	h := NewBuildsHandler(st, nil, nil, status, nil)

	r := chi.NewRouter()
	r.Post("/v1/build/{buildID}/status/{token}", h.StatusCallback)
	return r
}

func postStatus(t *testing.T, router http.Handler, path string, payload build.StatusPayload) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStatusCallbackOK(t *testing.T) {
	st := storetest.New()
	st.AddSite(&models.Site{ID: 1, Owner: "agency", Repository: "site"})
	st.AddBuild(&models.Build{ID: 10, SiteID: 1, Token: "tok", Branch: "main", State: models.BuildStateProcessing})

	router := newCallbackRouter(st)
	rec := postStatus(t, router, "/v1/build/10/status/tok", build.StatusPayload{
		Status:  "success",
		Message: base64.StdEncoding.EncodeToString(nil),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("callback response body = %q, want empty", rec.Body)
	}
	if st.Build(10).State != models.BuildStateSuccess {
		t.Error("callback did not update build state")
	}
}

func TestStatusCallbackWrongToken(t *testing.T) {
	st := storetest.New()
	st.AddBuild(&models.Build{ID: 10, SiteID: 1, Token: "tok", Branch: "main", State: models.BuildStateProcessing})

	router := newCallbackRouter(st)
	rec := postStatus(t, router, "/v1/build/10/status/wrong", build.StatusPayload{Status: "success"})

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestStatusCallbackUnknownBuild(t *testing.T) {
	router := newCallbackRouter(storetest.New())
	rec := postStatus(t, router, "/v1/build/99/status/tok", build.StatusPayload{Status: "success"})

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStatusCallbackBadBuildID(t *testing.T) {
	router := newCallbackRouter(storetest.New())
	rec := postStatus(t, router, "/v1/build/abc/status/tok", build.StatusPayload{Status: "success"})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBuildViewTruncatesError(t *testing.T) {
	longError := strings.Repeat("x", 500)
	view := viewOfBuild(&models.Build{ID: 1, State: models.BuildStateError, Error: longError})
	if len(view.Error) != maxErrorLength {
		t.Errorf("error length = %d, want %d", len(view.Error), maxErrorLength)
	}

	view = viewOfBuild(&models.Build{ID: 1, State: models.BuildStateError, Error: "short"})
	if view.Error != "short" {
		t.Errorf("short error changed: %q", view.Error)
	}

	// A multi-byte character straddling the cap is dropped whole rather
	// than split into an invalid sequence.
	straddling := strings.Repeat("x", maxErrorLength-1) + "é"
	view = viewOfBuild(&models.Build{ID: 1, State: models.BuildStateError, Error: straddling})
	if !utf8.ValidString(view.Error) {
		t.Errorf("truncated error is not valid UTF-8: %q", view.Error)
	}
	if want := strings.Repeat("x", maxErrorLength-1); view.Error != want {
		t.Errorf("truncated error = %q, want %q", view.Error, want)
	}
}

func TestGetBuildScopedToSite(t *testing.T) {
	st := storetest.New()
	st.AddBuild(&models.Build{ID: 10, SiteID: 1, Branch: "main", State: models.BuildStateSuccess})

	h := NewBuildsHandler(st, nil, nil, nil, nil)
	r := chi.NewRouter()
	r.Get("/v1/sites/{siteID}/builds/{buildID}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites/1/builds/10", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("same-site lookup = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites/2/builds/10", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-site lookup = %d, want 404", rec.Code)
	}
}
