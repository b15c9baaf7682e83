package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"fileversions/internal/auth"
	"fileversions/internal/domain"
	"fileversions/internal/logger"
	"fileversions/internal/service"
	"fileversions/internal/service/s3"
)

// VersionService операции над версиями, которые использует обработчик
type VersionService interface {
	CreateVersion(ctx context.Context, in service.CreateVersionInput) (*domain.VersionRecord, error)
	ListVersions(ctx context.Context, fileID int64) ([]*domain.VersionRecord, error)
	GetVersion(ctx context.Context, id int64) (*domain.VersionRecord, error)
	OpenContent(ctx context.Context, id int64) (*service.VersionContent, error)
	SetLabel(ctx context.Context, id int64, label string) (*domain.VersionRecord, error)
	RestoreVersion(ctx context.Context, id int64, author string) (*domain.VersionRecord, error)
	DeleteVersion(ctx context.Context, id int64) error
	DeleteFileVersions(ctx context.Context, fileID int64) (int64, error)
	ExpireVersions(ctx context.Context, fileID int64, now time.Time) ([]*domain.VersionRecord, error)
}

type LabelRequest struct {
	Label string `json:"label"`
}

type DeleteVersionsResponse struct {
	Deleted int64 `json:"deleted"`
}

type VersionHandler struct {
	versionService VersionService
	auth           *auth.Authenticator
	maxUploadSize  int64
	log            zerolog.Logger
}

func NewVersionHandler(versionService VersionService, authenticator *auth.Authenticator, maxUploadSize int64) *VersionHandler {
	return &VersionHandler{
		versionService: versionService,
		auth:           authenticator,
		maxUploadSize:  maxUploadSize,
		log:            logger.Component("http"),
	}
}

// Routes регистрирует маршруты версий
func (h *VersionHandler) Routes(r chi.Router) {
	r.Route("/files/{fileId}/versions", func(r chi.Router) {
		r.Get("/", h.ListVersions)
		r.Post("/", h.CreateVersion)
		r.Delete("/", h.DeleteFileVersions)
		r.Post("/expire", h.ExpireVersions)
	})

	r.Route("/versions/{id}", func(r chi.Router) {
		r.Get("/", h.GetVersion)
		r.Delete("/", h.DeleteVersion)
		r.Get("/content", h.DownloadVersion)
		r.Put("/label", h.SetLabel)
		r.Post("/restore", h.RestoreVersion)
	})
}

// ListVersions возвращает версии файла
func (h *VersionHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	fileID, ok := parseIDParam(w, r, "fileId")
	if !ok {
		return
	}

	versions, err := h.versionService.ListVersions(r.Context(), fileID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response := make([]domain.ExternalVersion, 0, len(versions))
	for _, v := range versions {
		response = append(response, v.ToExternal())
	}
	writeJSON(w, http.StatusOK, response)
}

// CreateVersion сохраняет тело запроса как новую версию файла
func (h *VersionHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	fileID, ok := parseIDParam(w, r, "fileId")
	if !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	content, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Content too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read content", http.StatusBadRequest)
		return
	}

	v, err := h.versionService.CreateVersion(r.Context(), service.CreateVersionInput{
		FileID:  fileID,
		Author:  userID,
		Content: content,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, v.ToExternal())
}

func (h *VersionHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	v, err := h.versionService.GetVersion(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, v.ToExternal())
}

// DownloadVersion отдает содержимое версии
func (h *VersionHandler) DownloadVersion(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	vc, err := h.versionService.OpenContent(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer vc.Content.Close()

	contentType := vc.Content.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if size := vc.Content.ContentLength(); size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if ts, ok := vc.Version.Timestamp(); ok {
		w.Header().Set("Last-Modified", time.Unix(ts, 0).UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, vc.Content); err != nil {
		h.log.Warn().Err(err).Int64("id", id).Msg("failed to stream version content")
	}
}

// SetLabel задает или снимает метку версии
func (h *VersionHandler) SetLabel(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req LabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	v, err := h.versionService.SetLabel(r.Context(), id, req.Label)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, v.ToExternal())
}

// RestoreVersion делает выбранную версию текущей
func (h *VersionHandler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	v, err := h.versionService.RestoreVersion(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, v.ToExternal())
}

func (h *VersionHandler) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.versionService.DeleteVersion(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *VersionHandler) DeleteFileVersions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	fileID, ok := parseIDParam(w, r, "fileId")
	if !ok {
		return
	}

	deleted, err := h.versionService.DeleteFileVersions(r.Context(), fileID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteVersionsResponse{Deleted: deleted})
}

// ExpireVersions применяет политику хранения к версиям файла.
// Если часть версий удалить не удалось, в ответе остаются уже удаленные.
func (h *VersionHandler) ExpireVersions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	fileID, ok := parseIDParam(w, r, "fileId")
	if !ok {
		return
	}

	deleted, err := h.versionService.ExpireVersions(r.Context(), fileID, time.Now())
	if err != nil && len(deleted) == 0 {
		h.writeError(w, err)
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Int64("file_id", fileID).Int("deleted", len(deleted)).Msg("versions partially expired")
	}

	response := make([]domain.ExternalVersion, 0, len(deleted))
	for _, v := range deleted {
		response = append(response, v.ToExternal())
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *VersionHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func (h *VersionHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrVersionNotFound), errors.Is(err, s3.ErrObjectNotFound):
		http.Error(w, "Version not found", http.StatusNotFound)
	case errors.Is(err, service.ErrVersionExists):
		http.Error(w, "Version already exists", http.StatusConflict)
	case errors.Is(err, service.ErrInvalidFileID),
		errors.Is(err, service.ErrLabelTooLong),
		errors.Is(err, service.ErrAuthorTooLong),
		errors.Is(err, service.ErrInvalidText):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error().Err(err).Msg("version request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
