package stubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shaxzod-muhandis/Admin-Panel/cache"
	"github.com/shaxzod-muhandis/Admin-Panel/internal/metrics"
	"github.com/shaxzod-muhandis/Admin-Panel/rostercache"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers/teacherstest"
	"github.com/shaxzod-muhandis/Admin-Panel/views"
)

const testSecret = "test-secret"

type stubEnv struct {
	srv    *httptest.Server
	token  string
	client *teachers.Client
	roster *rostercache.Client
}

func newStubEnv(t *testing.T) *stubEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := openTestStore(t)
	srv := httptest.NewServer(New(store, Options{JWTSecret: testSecret, Metrics: metrics.New()}).Router())
	t.Cleanup(srv.Close)

	token, _, err := IssueToken(testSecret, "tester", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}

	client := teachers.NewClient(teachers.Config{
		BaseURL:     srv.URL + "/api",
		FaceBaseURL: srv.URL + "/api/v1",
		Token:       token,
		Timeout:     5 * time.Second,
	})
	cacheStore, err := cache.NewCacheService(cache.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCacheService() failed: %v", err)
	}

	return &stubEnv{
		srv:    srv,
		token:  token,
		client: client,
		roster: rostercache.New(client, cache.NewQueryCache(cacheStore)),
	}
}

func (e *stubEnv) upload(t *testing.T, teacherID teachers.ID, data []byte) teachers.Face {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/v1/teacher/face/upload/"+teacherID.String(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewRequest() failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var face teachers.Face
	if err := json.NewDecoder(resp.Body).Decode(&face); err != nil {
		t.Fatalf("decode face: %v", err)
	}
	return face
}

func TestEndToEnd_CreateThenListIncludesRecord(t *testing.T) {
	env := newStubEnv(t)
	ctx := context.Background()

	before, err := env.roster.ListPage(ctx, teachers.ListQuery{Page: 0, Size: 10})
	if err != nil {
		t.Fatalf("ListPage() failed: %v", err)
	}
	if len(before.Content) != 0 || before.Paging.TotalPages != 1 {
		t.Errorf("expected one empty page, got %d rows of %d pages", len(before.Content), before.Paging.TotalPages)
	}

	rec, err := env.roster.Create(ctx, teacherstest.ValidFields("Sardor"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if rec.ID.IsZero() {
		t.Fatal("expected a server-assigned id")
	}

	after, err := env.roster.ListPage(ctx, teachers.ListQuery{Page: 0, Size: 10})
	if err != nil {
		t.Fatalf("ListPage() failed: %v", err)
	}
	got, ok := after.Find(rec.ID)
	if !ok {
		t.Fatalf("created id %s must be listed", rec.ID)
	}
	if got.FullName() != "Sardor Valiyev" {
		t.Errorf("unexpected name %q", got.FullName())
	}
}

func TestEndToEnd_DeleteThenGetOneIsNotFound(t *testing.T) {
	env := newStubEnv(t)
	ctx := context.Background()

	rec, err := env.roster.Create(ctx, teacherstest.ValidFields("Kamola"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := env.roster.GetOne(ctx, rec.ID); err != nil {
		t.Fatalf("GetOne() failed: %v", err)
	}

	if err := env.roster.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := env.roster.GetOne(ctx, rec.ID); !errors.Is(err, teachers.ErrNotFound) {
		t.Errorf("GetOne after delete: expected ErrNotFound, got %v", err)
	}
	if err := env.roster.Delete(ctx, rec.ID); !errors.Is(err, teachers.ErrNotFound) {
		t.Errorf("second Delete: expected ErrNotFound, got %v", err)
	}
}

func TestEndToEnd_UpdateAndServerValidation(t *testing.T) {
	env := newStubEnv(t)
	ctx := context.Background()

	rec, err := env.roster.Create(ctx, teacherstest.ValidFields("Jamshid"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	fields := rec.Fields
	fields.Position = "Dean"
	updated, err := env.roster.Update(ctx, rec.ID, fields)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if updated.Position != "Dean" {
		t.Errorf("expected Dean, got %q", updated.Position)
	}

	bad := teacherstest.ValidFields("Jamshid")
	bad.Pinfl = "12345"
	_, err = env.roster.Update(ctx, rec.ID, bad)
	var verr *teachers.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "pinfl" {
		t.Errorf("expected field pinfl, got %q", verr.Field)
	}

	if _, err := env.roster.Update(ctx, "404", fields); !errors.Is(err, teachers.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEndToEnd_StringIDAccepted(t *testing.T) {
	env := newStubEnv(t)
	ctx := context.Background()

	rec, err := env.client.Create(ctx, teacherstest.ValidFields("Zafar"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	fields := rec.Fields
	fields.Position = "Rector"
	// A zero-padded id is sent as a JSON string and still names the record.
	updated, err := env.client.Update(ctx, "00"+rec.ID, fields)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if updated.ID != rec.ID || updated.Position != "Rector" {
		t.Errorf("unexpected record %+v", updated)
	}
}

func TestEndToEnd_FaceGallery(t *testing.T) {
	env := newStubEnv(t)
	ctx := context.Background()

	rec, err := env.roster.Create(ctx, teacherstest.ValidFields("Lola"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	face := env.upload(t, rec.ID, []byte("jpeg-bytes"))
	if face.TeacherID != rec.ID {
		t.Errorf("expected owner %s, got %s", rec.ID, face.TeacherID)
	}

	gallery := views.NewFaceGallery(env.roster, rec.ID)
	defer gallery.Close()
	faces, err := gallery.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}

	slot, err := gallery.Resolve(ctx, face.ID)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	blob, ok := gallery.Blobs().Get(slot.Ref)
	if !ok {
		t.Fatal("expected a live ref")
	}
	if string(blob.Data) != "jpeg-bytes" || blob.ContentType != "image/jpeg" {
		t.Errorf("unexpected blob %q (%s)", blob.Data, blob.ContentType)
	}

	if _, err := env.client.FetchImageBlob(ctx, "no-such-file"); !errors.Is(err, teachers.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServer_RejectsMissingToken(t *testing.T) {
	env := newStubEnv(t)
	anonymous := teachers.NewClient(teachers.Config{BaseURL: env.srv.URL + "/api", FaceBaseURL: env.srv.URL + "/api/v1"})

	_, err := anonymous.GetOne(context.Background(), "1")
	var serr *teachers.ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serr.Status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", serr.Status)
	}

	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", resp.StatusCode)
	}
}

func postCreate(router http.Handler, key string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/teachers/create", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createdID(t *testing.T, w *httptest.ResponseRecorder) teachers.ID {
	t.Helper()
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var rec teachers.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return rec.ID
}

func countTeachers(t *testing.T, store *BunStore) int {
	t.Helper()
	_, total, err := store.List(context.Background(), "", 0, 10)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	return total
}

func TestServer_IdempotentCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := openTestStore(t)
	router := New(store, Options{}).Router()

	body, err := json.Marshal(teacherstest.ValidFields("Umid"))
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	first := createdID(t, postCreate(router, "same-key", body))
	second := createdID(t, postCreate(router, "same-key", body))
	if first != second {
		t.Errorf("expected the replayed id %s, got %s", first, second)
	}
	if got := countTeachers(t, store); got != 1 {
		t.Errorf("expected 1 teacher, got %d", got)
	}

	createdID(t, postCreate(router, "", body))
	if got := countTeachers(t, store); got != 2 {
		t.Errorf("a create without a key should insert, got %d teachers", got)
	}
}

func TestServer_IdempotentCreateConcurrent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := openTestStore(t)
	router := New(store, Options{}).Router()

	body, err := json.Marshal(teacherstest.ValidFields("Umid"))
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	const workers = 16
	responses := make([]*httptest.ResponseRecorder, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = postCreate(router, "race-key", body)
		}(i)
	}
	wg.Wait()

	want := createdID(t, responses[0])
	for i, w := range responses[1:] {
		if got := createdID(t, w); got != want {
			t.Errorf("request %d: expected id %s, got %s", i+1, want, got)
		}
	}
	if got := countTeachers(t, store); got != 1 {
		t.Errorf("expected exactly 1 teacher for one key, got %d", got)
	}
}

func TestServer_IdempotentCreateFailureFreesKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := openTestStore(t)
	router := New(store, Options{}).Router()

	bad := teacherstest.ValidFields("Umid")
	bad.Phone = "12"
	badBody, _ := json.Marshal(bad)
	if w := postCreate(router, "retry-key", badBody); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	goodBody, _ := json.Marshal(teacherstest.ValidFields("Umid"))
	createdID(t, postCreate(router, "retry-key", goodBody))
	if got := countTeachers(t, store); got != 1 {
		t.Errorf("expected the corrected retry to insert, got %d teachers", got)
	}
}

func TestServer_FilterValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := New(openTestStore(t), Options{}).Router()

	req := httptest.NewRequest(http.MethodPost, "/api/teachers/filter",
		bytes.NewBufferString(`{"keyword":"","filter":{},"paging":{"page":0,"size":0}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var p problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if p.Field != "size" {
		t.Errorf("expected field size, got %q", p.Field)
	}
}

func TestTokens(t *testing.T) {
	token, expires, err := IssueToken("k", "admin", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}
	if d := time.Until(expires) - time.Minute; d > 5*time.Second || d < -5*time.Second {
		t.Errorf("unexpected expiry %v", expires)
	}

	claims, err := ValidateToken("k", token)
	if err != nil {
		t.Fatalf("ValidateToken() failed: %v", err)
	}
	if claims.Subject != "admin" {
		t.Errorf("expected subject admin, got %q", claims.Subject)
	}

	if _, err := ValidateToken("other", token); err == nil {
		t.Error("expected a wrong secret to be rejected")
	}

	expired, _, err := IssueToken("k", "admin", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}
	if _, err := ValidateToken("k", expired); err == nil {
		t.Error("expected an expired token to be rejected")
	}

	if _, _, err := IssueToken("", "admin", time.Minute); err == nil {
		t.Error("expected an empty secret to be rejected")
	}
}
