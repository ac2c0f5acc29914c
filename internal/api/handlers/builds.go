package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/cloud-gov/pages-core/internal/api/middleware"
	"github.com/cloud-gov/pages-core/internal/build"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
	"github.com/cloud-gov/pages-core/internal/store/postgres"
)

// maxErrorLength caps the error text included in build responses.
const maxErrorLength = 80

// defaultBuildListLimit bounds site build listings.
const defaultBuildListLimit = 100

// BuildsHandler serves build requests, listings, and status callbacks.
type BuildsHandler struct {
	store    store.Store
	resolver *build.Resolver
	enqueuer *build.Enqueuer
	status   *build.StatusService
	logger   *slog.Logger
}

// NewBuildsHandler creates a new builds handler.
func NewBuildsHandler(st store.Store, resolver *build.Resolver, enqueuer *build.Enqueuer, status *build.StatusService, logger *slog.Logger) *BuildsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BuildsHandler{
		store:    st,
		resolver: resolver,
		enqueuer: enqueuer,
		status:   status,
		logger:   logger,
	}
}

// buildView is the API representation of a build.
type buildView struct {
	ID                 int64      `json:"id"`
	SiteID             int64      `json:"site_id"`
	UserID             int64      `json:"user_id,omitempty"`
	Username           string     `json:"username,omitempty"`
	Branch             string     `json:"branch"`
	RequestedCommitSha string     `json:"requested_commit_sha,omitempty"`
	ClonedCommitSha    string     `json:"cloned_commit_sha,omitempty"`
	State              string     `json:"state"`
	Error              string     `json:"error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// truncateError caps error text at maxErrorLength bytes, backing off so a
// multi-byte character is never cut mid-sequence.
func truncateError(text string) string {
	if len(text) <= maxErrorLength {
		return text
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func viewOfBuild(b *models.Build) *buildView {
	errText := truncateError(b.Error)
	return &buildView{
		ID:                 b.ID,
		SiteID:             b.SiteID,
		UserID:             b.UserID,
		Username:           b.Username,
		Branch:             b.Branch,
		RequestedCommitSha: b.RequestedCommitSha,
		ClonedCommitSha:    b.ClonedCommitSha,
		State:              string(b.State),
		Error:              errText,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
		StartedAt:          b.StartedAt,
		CompletedAt:        b.CompletedAt,
	}
}

// buildRequest is the body of a build request.
type buildRequest struct {
	BuildID int64  `json:"buildId,omitempty"`
	Branch  string `json:"branch,omitempty"`
	Sha     string `json:"sha,omitempty"`
}

// Create handles POST /v1/sites/{siteID}/builds. Requesting a build for a
// branch that already has one in flight is a no-op returning an empty
// object.
func (h *BuildsHandler) Create(w http.ResponseWriter, r *http.Request) {
	siteID, err := strconv.ParseInt(chi.URLParam(r, "siteID"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid site ID")
		return
	}

	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.BuildID == 0 && req.Branch == "" {
		WriteBadRequest(w, "Either buildId or branch is required")
		return
	}

	site, err := h.store.Sites().Get(r.Context(), siteID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteNotFound(w, "Site not found")
			return
		}
		h.logger.Error("failed to load site", "site_id", siteID, "error", err)
		WriteInternalError(w, "Failed to load site")
		return
	}

	user, err := h.store.Users().Get(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.logger.Error("failed to load requesting user", "error", err)
		WriteInternalError(w, "Failed to load user")
		return
	}

	b, created, err := h.resolver.Request(r.Context(), user, site, build.Params{
		BuildID: req.BuildID,
		Branch:  req.Branch,
		Sha:     req.Sha,
	})
	if err != nil {
		switch {
		case errors.Is(err, build.ErrBuildNotFound):
			WriteNotFound(w, "Build not found")
		case errors.Is(err, build.ErrBranchNotFound):
			WriteNotFound(w, "Branch not found")
		default:
			h.logger.Error("failed to request build", "site_id", siteID, "error", err)
			WriteInternalError(w, "Failed to request build")
		}
		return
	}

	if !created {
		WriteJSON(w, http.StatusOK, map[string]any{})
		return
	}

	if err := h.enqueuer.Enqueue(r.Context(), site, b); err != nil {
		if errors.Is(err, models.ErrInvalidBranch) {
			WriteBadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to enqueue build", "build_id", b.ID, "error", err)
		WriteInternalError(w, "Failed to enqueue build")
		return
	}

	WriteJSON(w, http.StatusCreated, viewOfBuild(b))
}

// List handles GET /v1/sites/{siteID}/builds.
func (h *BuildsHandler) List(w http.ResponseWriter, r *http.Request) {
	siteID, err := strconv.ParseInt(chi.URLParam(r, "siteID"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid site ID")
		return
	}

	builds, err := h.store.Builds().ListForSite(r.Context(), siteID, defaultBuildListLimit)
	if err != nil {
		h.logger.Error("failed to list builds", "site_id", siteID, "error", err)
		WriteInternalError(w, "Failed to list builds")
		return
	}

	views := make([]*buildView, 0, len(builds))
	for _, b := range builds {
		views = append(views, viewOfBuild(b))
	}
	WriteJSON(w, http.StatusOK, views)
}

// Get handles GET /v1/sites/{siteID}/builds/{buildID}.
func (h *BuildsHandler) Get(w http.ResponseWriter, r *http.Request) {
	siteID, err := strconv.ParseInt(chi.URLParam(r, "siteID"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid site ID")
		return
	}
	buildID, err := strconv.ParseInt(chi.URLParam(r, "buildID"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid build ID")
		return
	}

	b, err := h.store.Builds().GetForSite(r.Context(), buildID, siteID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteNotFound(w, "Build not found")
			return
		}
		h.logger.Error("failed to get build", "build_id", buildID, "error", err)
		WriteInternalError(w, "Failed to get build")
		return
	}
	WriteJSON(w, http.StatusOK, viewOfBuild(b))
}

// StatusCallback handles POST /v1/build/{buildID}/status/{token}. The build
// token in the path authenticates the caller; no session is required.
func (h *BuildsHandler) StatusCallback(w http.ResponseWriter, r *http.Request) {
	buildID, err := strconv.ParseInt(chi.URLParam(r, "buildID"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid build ID")
		return
	}
	token := chi.URLParam(r, "token")

	var payload build.StatusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := h.status.HandleCallback(r.Context(), buildID, token, payload); err != nil {
		switch {
		case errors.Is(err, build.ErrBuildNotFound):
			WriteNotFound(w, "Build not found")
		case errors.Is(err, build.ErrForbidden):
			WriteForbidden(w, "Invalid build token")
		default:
			h.logger.Error("failed to handle status callback", "build_id", buildID, "error", err)
			WriteInternalError(w, "Failed to update build status")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}
