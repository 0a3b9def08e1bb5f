package files

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/http/middleware"
)

type stubMetadata struct {
	files map[uuid.UUID]*File
}

func newStubMetadata() *stubMetadata {
	return &stubMetadata{files: map[uuid.UUID]*File{}}
}

func (s *stubMetadata) Insert(_ context.Context, f *File) error {
	s.files[f.ID] = f
	return nil
}

func (s *stubMetadata) Get(_ context.Context, id uuid.UUID) (*File, error) {
	f, ok := s.files[id]
	if !ok || f.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return f, nil
}

func (s *stubMetadata) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]File, error) {
	var out []File
	for _, f := range s.files {
		if f.OwnerID == ownerID && f.DeletedAt == nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (s *stubMetadata) Delete(_ context.Context, id uuid.UUID) error {
	delete(s.files, id)
	return nil
}

func (s *stubMetadata) SoftDelete(_ context.Context, id uuid.UUID) error {
	f, ok := s.files[id]
	if !ok {
		return ErrNotFound
	}
	now := f.UploadedAt
	f.DeletedAt = &now
	return nil
}

type stubBlobs struct {
	objects map[string][]byte
	putErr  error
	delErr  error
}

func newStubBlobs() *stubBlobs {
	return &stubBlobs{objects: map[string][]byte{}}
}

func (s *stubBlobs) Put(_ context.Context, key, _ string, body io.Reader) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, _ := io.ReadAll(body)
	s.objects[key] = data
	return nil
}

func (s *stubBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *stubBlobs) Delete(_ context.Context, key string) error {
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.objects, key)
	return nil
}

type stubRelationship struct {
	related bool
}

func (s *stubRelationship) HasAnyRelationship(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return s.related, nil
}

func authedRequest(r *http.Request, accountID uuid.UUID, role middleware.Role) *http.Request {
	claims := middleware.UserClaims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: accountID.String()},
	}
	return r.WithContext(middleware.ContextWithUserClaims(r.Context(), claims))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func multipartBody(t *testing.T, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadAndDownload(t *testing.T) {
	meta := newStubMetadata()
	blobs := newStubBlobs()
	h := NewHandler(meta, blobs, &stubRelationship{}, 1<<20, []string{"application/pdf"}, nil)
	ownerID := uuid.New()

	body, contentType := multipartBody(t, "results.pdf", "application/pdf", "%PDF-1.4 test")
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Upload(rec, authedRequest(req, ownerID, middleware.RolePatient))

	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body)
	}
	var fileID uuid.UUID
	for id := range meta.files {
		fileID = id
	}
	if len(blobs.objects) != 1 {
		t.Fatalf("blob count = %d", len(blobs.objects))
	}

	dlReq := httptest.NewRequest(http.MethodGet, "/api/files/"+fileID.String(), nil)
	dlReq = withURLParam(authedRequest(dlReq, ownerID, middleware.RolePatient), "fileID", fileID.String())
	dlRec := httptest.NewRecorder()
	h.Download(dlRec, dlReq)

	if dlRec.Code != http.StatusOK {
		t.Fatalf("download status = %d", dlRec.Code)
	}
	if dlRec.Body.String() != "%PDF-1.4 test" {
		t.Errorf("downloaded body = %q", dlRec.Body.String())
	}
	if got := dlRec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("content type = %q", got)
	}
}

func TestUploadRejectsDisallowedType(t *testing.T) {
	h := NewHandler(newStubMetadata(), newStubBlobs(), nil, 1<<20, []string{"application/pdf"}, nil)

	body, contentType := multipartBody(t, "run.exe", "application/octet-stream", "MZ")
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Upload(rec, authedRequest(req, uuid.New(), middleware.RolePatient))

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}

func TestDownloadAccessControl(t *testing.T) {
	meta := newStubMetadata()
	blobs := newStubBlobs()
	ownerID := uuid.New()
	f := &File{ID: uuid.New(), OwnerID: ownerID, Name: "scan.pdf", ContentType: "application/pdf", Key: "k1"}
	meta.files[f.ID] = f
	blobs.objects["k1"] = []byte("data")

	rel := &stubRelationship{related: false}
	h := NewHandler(meta, blobs, rel, 1<<20, nil, nil)

	// Stranger clinician with no appointment relationship.
	req := httptest.NewRequest(http.MethodGet, "/api/files/"+f.ID.String(), nil)
	req = withURLParam(authedRequest(req, uuid.New(), middleware.RoleClinician), "fileID", f.ID.String())
	rec := httptest.NewRecorder()
	h.Download(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 without relationship", rec.Code)
	}

	// Same clinician once a relationship exists.
	rel.related = true
	req = httptest.NewRequest(http.MethodGet, "/api/files/"+f.ID.String(), nil)
	req = withURLParam(authedRequest(req, uuid.New(), middleware.RoleClinician), "fileID", f.ID.String())
	rec = httptest.NewRecorder()
	h.Download(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with relationship", rec.Code)
	}
}

func TestDeleteKeepsRowWhenBlobDeleteFails(t *testing.T) {
	meta := newStubMetadata()
	blobs := newStubBlobs()
	blobs.delErr = errors.New("s3 down")
	ownerID := uuid.New()
	f := &File{ID: uuid.New(), OwnerID: ownerID, Key: "k1"}
	meta.files[f.ID] = f

	h := NewHandler(meta, blobs, nil, 1<<20, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/files/"+f.ID.String(), nil)
	req = withURLParam(authedRequest(req, ownerID, middleware.RolePatient), "fileID", f.ID.String())
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if meta.files[f.ID].DeletedAt == nil {
		t.Error("row not soft-deleted after blob failure")
	}
	if !strings.Contains(rec.Body.String(), "pending") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestDeleteOnlyOwner(t *testing.T) {
	meta := newStubMetadata()
	f := &File{ID: uuid.New(), OwnerID: uuid.New(), Key: "k1"}
	meta.files[f.ID] = f
	h := NewHandler(meta, newStubBlobs(), nil, 1<<20, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/files/"+f.ID.String(), nil)
	req = withURLParam(authedRequest(req, uuid.New(), middleware.RolePatient), "fileID", f.ID.String())
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
