package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/http/middleware"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

// metadataStore is the persistence surface the handlers drive.
type metadataStore interface {
	Insert(ctx context.Context, f *File) error
	Get(ctx context.Context, id uuid.UUID) (*File, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]File, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// blobStore moves the actual bytes.
type blobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// relationshipChecker decides whether a clinician may read a patient's
// files. Having had an appointment together grants access.
type relationshipChecker interface {
	HasAnyRelationship(ctx context.Context, patientID, clinicianID uuid.UUID) (bool, error)
}

// Handler serves patient file upload, download, list, and delete.
type Handler struct {
	store        metadataStore
	blobs        blobStore
	appointments relationshipChecker
	maxBytes     int64
	allowedTypes map[string]bool
	logger       *logging.Logger
}

func NewHandler(store metadataStore, blobs blobStore, appointments relationshipChecker, maxBytes int64, allowedTypes []string, logger *logging.Logger) *Handler {
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:        store,
		blobs:        blobs,
		appointments: appointments,
		maxBytes:     maxBytes,
		allowedTypes: allowed,
		logger:       logger,
	}
}

// POST /api/files: multipart upload, field name "file".
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	part, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required and must fit the size limit", http.StatusBadRequest)
		return
	}
	defer part.Close()

	contentType := header.Header.Get("Content-Type")
	if len(h.allowedTypes) > 0 && !h.allowedTypes[strings.ToLower(contentType)] {
		http.Error(w, fmt.Sprintf("content type %q not allowed", contentType), http.StatusUnsupportedMediaType)
		return
	}

	now := time.Now().UTC()
	fileID := uuid.New()
	key := fmt.Sprintf("patient-files/%s/%d/%02d/%s%s",
		ownerID, now.Year(), now.Month(), fileID, path.Ext(header.Filename))

	if err := h.blobs.Put(r.Context(), key, contentType, part); err != nil {
		h.logger.Error("files: blob put", "error", err, "owner_id", ownerID)
		http.Error(w, "storage unavailable", http.StatusBadGateway)
		return
	}

	f := &File{
		ID:          fileID,
		OwnerID:     ownerID,
		Name:        path.Base(header.Filename),
		ContentType: contentType,
		SizeBytes:   header.Size,
		Key:         key,
	}
	if err := h.store.Insert(r.Context(), f); err != nil {
		h.logger.Error("files: insert metadata", "error", err, "owner_id", ownerID)
		// Orphaned blob; try to clean it up.
		if delErr := h.blobs.Delete(r.Context(), key); delErr != nil {
			h.logger.Error("files: orphan cleanup", "error", delErr, "key", key)
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, f)
}

// GET /api/files/mine
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	list, err := h.store.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("files: list", "error", err, "owner_id", ownerID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": list})
}

// GET /api/files/{fileID}: streams the bytes.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	actor, fileID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}

	f, err := h.store.Get(r.Context(), fileID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("files: get metadata", "error", err, "file_id", fileID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	allowed, err := h.mayRead(r.Context(), f, actor)
	if err != nil {
		h.logger.Error("files: access check", "error", err, "file_id", fileID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	body, err := h.blobs.Get(r.Context(), f.Key)
	if err != nil {
		h.logger.Error("files: blob get", "error", err, "file_id", fileID)
		http.Error(w, "storage unavailable", http.StatusBadGateway)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(f.SizeBytes, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Name))
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Error("files: stream", "error", err, "file_id", fileID)
	}
}

// DELETE /api/files/{fileID}: S3 first, then the row; the row survives with
// deleted_at if the S3 delete fails.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, fileID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}

	f, err := h.store.Get(r.Context(), fileID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("files: get metadata", "error", err, "file_id", fileID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if f.OwnerID != actor {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := h.blobs.Delete(r.Context(), f.Key); err != nil {
		h.logger.Error("files: blob delete", "error", err, "file_id", fileID)
		if sdErr := h.store.SoftDelete(r.Context(), fileID); sdErr != nil {
			h.logger.Error("files: soft delete", "error", sdErr, "file_id", fileID)
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "delete pending"})
		return
	}

	if err := h.store.Delete(r.Context(), fileID); err != nil && !errors.Is(err, ErrNotFound) {
		h.logger.Error("files: delete metadata", "error", err, "file_id", fileID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// mayRead grants the owner always, and clinicians with an appointment
// relationship to the owner.
func (h *Handler) mayRead(ctx context.Context, f *File, actor uuid.UUID) (bool, error) {
	if f.OwnerID == actor {
		return true, nil
	}
	if h.appointments == nil {
		return false, nil
	}
	return h.appointments.HasAnyRelationship(ctx, f.OwnerID, actor)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actor, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		http.Error(w, "invalid file id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return actor, fileID, true
}

func requestAccountID(r *http.Request) (uuid.UUID, bool) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
