package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixbin/internal/config"
	"pixbin/internal/models"
	"pixbin/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const cookieName = "pixbin_session"

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

type fakeUploader struct {
	maxBytes int64
	got      []byte
	header   *multipart.FileHeader
	identity *service.Identity
	err      error
}

func (f *fakeUploader) Upload(_ context.Context, input service.UploadInput) (service.UploadResult, error) {
	f.identity = input.Identity
	f.header = input.Header
	data, err := io.ReadAll(input.File)
	if err != nil {
		return service.UploadResult{}, err
	}
	f.got = data
	if f.err != nil {
		return service.UploadResult{}, f.err
	}
	return service.UploadResult{
		Image:     models.Image{ID: "abc123", StoragePath: "abc123.png"},
		URL:       "/abc123",
		PublicURL: "https://cdn.example.com/abc123.png",
	}, nil
}

func (f *fakeUploader) TooLargeError() error {
	return service.NewValidationError("file size exceeds maximum limit of 10MB")
}

func (f *fakeUploader) MaxBytes() int64 { return f.maxBytes }

type fakeImages struct {
	image     models.Image
	data      []byte
	openErr   error
	deleteErr error
	deleted   []string
	list      []models.Image
	listErr   error
}

func (f *fakeImages) Open(_ context.Context, id string) (service.ImageContent, error) {
	if f.openErr != nil {
		return service.ImageContent{}, f.openErr
	}
	if id != f.image.ID {
		return service.ImageContent{}, service.NewNotFoundError("image not found")
	}
	return service.ImageContent{
		Image: f.image,
		Body:  io.NopCloser(bytes.NewReader(f.data)),
		Size:  int64(len(f.data)),
	}, nil
}

func (f *fakeImages) Delete(_ context.Context, identity *service.Identity, id string) error {
	if identity == nil {
		return service.NewUnauthorizedError("unauthorized")
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeImages) List(context.Context) ([]models.Image, error) {
	return f.list, f.listErr
}

type fakeAuth struct {
	identities map[string]*service.Identity
	loginErr   error
	result     service.LoginResult
	callback   service.CallbackInput
	loggedOut  []string
	next       string
}

func (f *fakeAuth) ResolveSession(_ context.Context, token string, _ string, _ string) (*service.Identity, error) {
	return f.identities[token], nil
}

func (f *fakeAuth) BeginLogin(_ context.Context, next string) (string, error) {
	f.next = next
	return "https://accounts.example.com/auth?state=s1", nil
}

func (f *fakeAuth) CompleteLogin(_ context.Context, input service.CallbackInput) (service.LoginResult, error) {
	f.callback = input
	if f.loginErr != nil {
		return service.LoginResult{}, f.loginErr
	}
	return f.result, nil
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.loggedOut = append(f.loggedOut, token)
	return nil
}

type fixture struct {
	uploader *fakeUploader
	images   *fakeImages
	auth     *fakeAuth
	engine   *gin.Engine
}

func newFixture(checks ...HealthCheck) *fixture {
	f := &fixture{
		uploader: &fakeUploader{maxBytes: 10 << 20},
		images: &fakeImages{
			image: models.Image{ID: "abc123", Filename: "my \"cat\".png", MimeType: "image/png", StoragePath: "abc123.png", UserID: "user-1"},
			data:  pngBytes,
		},
		auth: &fakeAuth{identities: map[string]*service.Identity{
			"owner-token": {UserID: "user-1", Email: "a@example.com", Name: "Ann", AvatarURL: "https://img/a.png"},
		}},
	}
	return f.rebuild(checks...)
}

// rebuild wires a fresh engine so route-level middleware picks up
// changes to the fakes.
func (f *fixture) rebuild(checks ...HealthCheck) *fixture {
	cfg := &config.AppConfig{
		Environment: "test",
		Session:     config.SessionConfig{CookieName: cookieName, TTL: time.Hour, Secure: true},
	}
	h := NewHandlerSet(zerolog.Nop(), cfg, f.uploader, f.images, f.auth, checks...)

	f.engine = gin.New()
	h.Register(f.engine.Group("/api"))
	h.RegisterShortLinks(f.engine)
	return f
}

func (f *fixture) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestUploadImage(t *testing.T) {
	f := newFixture()

	w := f.do(multipartRequest(t, "file", "cat.png", "image/png", pngBytes), "owner-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"id":"abc123","url":"/abc123","publicUrl":"https://cdn.example.com/abc123.png"}`, w.Body.String())
	assert.Equal(t, pngBytes, f.uploader.got)
	assert.Equal(t, "cat.png", f.uploader.header.Filename)
	assert.Equal(t, "image/png", f.uploader.header.Header.Get("Content-Type"))
	assert.Equal(t, "user-1", f.uploader.identity.UserID)
}

func TestUploadImageRequiresSession(t *testing.T) {
	f := newFixture()

	w := f.do(multipartRequest(t, "file", "cat.png", "image/png", pngBytes), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, f.uploader.got)

	w = f.do(multipartRequest(t, "file", "cat.png", "image/png", pngBytes), "stale-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadImageMissingFile(t *testing.T) {
	f := newFixture()

	w := f.do(multipartRequest(t, "other", "cat.png", "image/png", pngBytes), "owner-token")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "no file provided", decodeError(t, w))
}

func TestUploadImageBodyTooLarge(t *testing.T) {
	f := newFixture()
	f.uploader.maxBytes = 10
	f.rebuild()

	big := make([]byte, 2<<20)
	w := f.do(multipartRequest(t, "file", "big.png", "image/png", big), "owner-token")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file size exceeds maximum limit of 10MB", decodeError(t, w))
}

type memImages struct {
	records map[string]models.Image
}

func (m *memImages) Exists(_ context.Context, id string) (bool, error) {
	_, ok := m.records[id]
	return ok, nil
}

func (m *memImages) ExistsByStoragePath(_ context.Context, path string) (bool, error) {
	for _, r := range m.records {
		if r.StoragePath == path {
			return true, nil
		}
	}
	return false, nil
}

func (m *memImages) Create(_ context.Context, image models.Image) (models.Image, error) {
	image.CreatedAt = time.Now().UTC()
	m.records[image.ID] = image
	return image, nil
}

func (m *memImages) GetByID(_ context.Context, id string) (models.Image, error) {
	return m.records[id], nil
}

func (m *memImages) List(context.Context) ([]models.Image, error) {
	return nil, nil
}

func (m *memImages) Delete(_ context.Context, id string) error {
	delete(m.records, id)
	return nil
}

type memStore struct {
	objects map[string][]byte
}

func (m *memStore) PutNew(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	data := m.objects[key]
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (m *memStore) Remove(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memStore) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func TestUploadImageSizeLimitEndToEnd(t *testing.T) {
	const maxBytes = 1 << 20

	newEngine := func() (*gin.Engine, *memStore) {
		store := &memStore{objects: map[string][]byte{}}
		uploads := service.NewUploadService(&memImages{records: map[string]models.Image{}}, store, nil, nil, maxBytes, zerolog.Nop())
		f := newFixture()
		h := NewHandlerSet(zerolog.Nop(), &config.AppConfig{
			Session: config.SessionConfig{CookieName: cookieName, TTL: time.Hour},
		}, uploads, f.images, f.auth)
		engine := gin.New()
		h.Register(engine.Group("/api"))
		return engine, store
	}
	send := func(engine *gin.Engine, data []byte) *httptest.ResponseRecorder {
		req := multipartRequest(t, "file", "edge.png", "image/png", data)
		req.AddCookie(&http.Cookie{Name: cookieName, Value: "owner-token"})
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	exact := make([]byte, maxBytes)
	copy(exact, pngBytes)
	engine, store := newEngine()
	w := send(engine, exact)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, exact, store.objects[resp.ID+".png"])

	over := make([]byte, maxBytes+1)
	copy(over, pngBytes)
	engine, store = newEngine()
	w = send(engine, over)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file size exceeds maximum limit of 1MB", decodeError(t, w))
	assert.Empty(t, store.objects)
}

func TestUploadImageServiceErrors(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{service.NewValidationError("file content does not match declared file type"), http.StatusBadRequest, "file content does not match declared file type"},
		{service.WrapInternal("failed to generate unique id", errors.New("exhausted")), http.StatusInternalServerError, "failed to generate unique id"},
		{errors.New("unexpected"), http.StatusInternalServerError, "failed to upload image"},
	}
	for _, tc := range cases {
		f := newFixture()
		f.uploader.err = tc.err

		w := f.do(multipartRequest(t, "file", "cat.png", "image/png", pngBytes), "owner-token")
		assert.Equal(t, tc.status, w.Code)
		assert.Equal(t, tc.message, decodeError(t, w))
	}
}

func TestGetImage(t *testing.T) {
	f := newFixture()

	for _, path := range []string{"/api/images/abc123", "/abc123"} {
		w := f.do(httptest.NewRequest(http.MethodGet, path, nil), "")
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, pngBytes, w.Body.Bytes())
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=31536000, immutable", w.Header().Get("Cache-Control"))
		assert.Equal(t, `inline; filename="my _cat_.png"`, w.Header().Get("Content-Disposition"))
		assert.Empty(t, w.Header().Get("Content-Security-Policy"))
	}
}

func TestGetSVGImageIsSandboxed(t *testing.T) {
	f := newFixture()
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>fetch("/api/images/abc123",{method:"DELETE"})</script></svg>`)
	f.images.image = models.Image{ID: "svg123", Filename: "x.svg", MimeType: "image/svg+xml", StoragePath: "svg123.svg", UserID: "user-1"}
	f.images.data = svg

	for _, path := range []string{"/api/images/svg123", "/svg123"} {
		w := f.do(httptest.NewRequest(http.MethodGet, path, nil), "")
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, svg, w.Body.Bytes())
		assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
		policy := w.Header().Get("Content-Security-Policy")
		assert.Contains(t, policy, "default-src 'none'")
		assert.Contains(t, policy, "sandbox")
	}
}

func TestGetImageErrors(t *testing.T) {
	f := newFixture()

	w := f.do(httptest.NewRequest(http.MethodGet, "/zzzzzz", nil), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "image not found", decodeError(t, w))

	f.images.openErr = service.WrapInternal("failed to fetch image", errors.New("s3 down"))
	w = f.do(httptest.NewRequest(http.MethodGet, "/api/images/abc123", nil), "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to fetch image", decodeError(t, w))
}

func TestDeleteImage(t *testing.T) {
	f := newFixture()

	w := f.do(httptest.NewRequest(http.MethodDelete, "/api/images/abc123", nil), "owner-token")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, []string{"abc123"}, f.images.deleted)

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/images/abc123", nil), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	f.images.deleteErr = service.NewForbiddenError("forbidden")
	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/images/abc123", nil), "owner-token")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decodeError(t, w))
}

func TestListImages(t *testing.T) {
	f := newFixture()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.images.list = []models.Image{{
		ID: "abc123", Filename: "cat.png", MimeType: "image/png", Size: 12,
		StoragePath: "abc123.png", UserID: "user-1", CreatedAt: created,
	}}

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/images", nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":"abc123","filename":"cat.png","mime_type":"image/png","size":12,
		"storage_path":"abc123.png","user_id":"user-1","created_at":"2026-01-02T03:04:05Z"}]`, w.Body.String())

	f.images.list = []models.Image{}
	w = f.do(httptest.NewRequest(http.MethodGet, "/api/images", nil), "")
	assert.Equal(t, "[]", w.Body.String())

	f.images.listErr = service.WrapInternal("", errors.New("db down"))
	w = f.do(httptest.NewRequest(http.MethodGet, "/api/images", nil), "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "db down", decodeError(t, w))
}

func TestCurrentUser(t *testing.T) {
	f := newFixture()

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/user", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", w.Body.String())

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/user", nil), "owner-token")
	assert.JSONEq(t, `{"id":"user-1","email":"a@example.com","avatar":"https://img/a.png","name":"Ann"}`, w.Body.String())
}

func TestLogin(t *testing.T) {
	f := newFixture()

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/auth/login?next=/dashboard", nil), "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://accounts.example.com/auth?state=s1", w.Header().Get("Location"))
	assert.Equal(t, "/dashboard", f.auth.next)
}

func TestCallback(t *testing.T) {
	f := newFixture()
	f.auth.result = service.LoginResult{Token: "new-token", Redirect: "/dashboard"}

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=c1&state=s1", nil), "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))
	assert.Equal(t, service.CallbackInput{Code: "c1", State: "s1", IPAddress: "192.0.2.1"}, f.auth.callback)

	cookie := w.Header().Get("Set-Cookie")
	assert.Contains(t, cookie, cookieName+"=new-token")
	assert.Contains(t, cookie, "HttpOnly")
	assert.Contains(t, cookie, "Secure")
	assert.Contains(t, cookie, "SameSite=Lax")
	assert.Contains(t, cookie, "Max-Age=3600")
}

func TestCallbackFailureRedirectsHome(t *testing.T) {
	f := newFixture()
	f.auth.loginErr = service.NewUnauthorizedError("invalid or expired state")

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/auth/callback?state=forged&code=c1", nil), "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.Empty(t, w.Header().Get("Set-Cookie"))
}

func TestLogout(t *testing.T) {
	f := newFixture()

	w := f.do(httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), "owner-token")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"owner-token"}, f.auth.loggedOut)
	assert.True(t, strings.Contains(w.Header().Get("Set-Cookie"), "Max-Age=0"))
}

func TestHealth(t *testing.T) {
	f := newFixture(
		HealthCheck{Name: "database", Check: func(context.Context) error { return nil }},
		HealthCheck{Name: "cache", Check: func(context.Context) error { return nil }},
	)
	w := f.do(httptest.NewRequest(http.MethodGet, "/api/healthz", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"database":"ok","cache":"ok"},"environment":"test"}`, w.Body.String())

	f = newFixture(HealthCheck{Name: "storage", Check: func(context.Context) error { return errors.New("down") }})
	w = f.do(httptest.NewRequest(http.MethodGet, "/api/healthz", nil), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"storage":"error"},"environment":"test"}`, w.Body.String())
}
