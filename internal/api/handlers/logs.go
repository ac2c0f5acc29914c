package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cloud-gov/pages-core/internal/logarchive"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
	"github.com/cloud-gov/pages-core/internal/store/postgres"
)

// archivedChunkSize bounds how much archived log text one request returns.
const archivedChunkSize = 1 << 20

// LogsHandler serves build logs from the database or the archive.
type LogsHandler struct {
	store    store.Store
	archiver *logarchive.Archiver
	logger   *slog.Logger
}

// NewLogsHandler creates a new build logs handler.
func NewLogsHandler(st store.Store, archiver *logarchive.Archiver, logger *slog.Logger) *LogsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogsHandler{
		store:    st,
		archiver: archiver,
		logger:   logger,
	}
}

// logView is one chunk of build log output.
type logView struct {
	Source string `json:"source"`
	Output string `json:"output"`
}

// Get handles GET /v1/sites/{siteID}/builds/{buildID}/logs. Logs still in
// the database come back as stored rows; archived logs come back as one
// entry holding a byte-offset chunk of the archived file.
func (h *LogsHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	if b.LogsS3Key == "" {
		rows, err := h.store.BuildLogs().ListForBuild(r.Context(), b.ID)
		if err != nil {
			h.logger.Error("failed to list build logs", "build_id", b.ID, "error", err)
			WriteInternalError(w, "Failed to load build logs")
			return
		}
		views := make([]*logView, 0, len(rows))
		for _, row := range rows {
			views = append(views, &logView{Source: row.Source, Output: row.Output})
		}
		WriteJSON(w, http.StatusOK, views)
		return
	}

	offset := int64(0)
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || offset < 0 {
			WriteBadRequest(w, "Invalid offset")
			return
		}
	}

	chunk, err := h.archiver.FetchArchived(r.Context(), b, offset, archivedChunkSize)
	if err != nil {
		h.logger.Error("failed to fetch archived logs", "build_id", b.ID, "error", err)
		WriteInternalError(w, "Failed to load archived logs")
		return
	}

	WriteJSON(w, http.StatusOK, []*logView{{
		Source: models.BuildLogSourceAll,
		Output: string(chunk),
	}})
}
