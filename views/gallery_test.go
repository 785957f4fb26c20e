package views

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers/teacherstest"
)

func TestDetailView_LoadRetryClose(t *testing.T) {
	roster, base := newRoster(t, 2)
	ctx := context.Background()

	missing := NewDetailView(roster, "7")
	if _, err := missing.Load(ctx); !errors.Is(err, teachers.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if s := missing.State(); s.Status != StatusFailed || s.Retryable {
		t.Errorf("expected a failed, non-retryable state, got %v retryable=%v", s.Status, s.Retryable)
	}

	base.FailNext(teacherstest.MethodGetOne, &teachers.ServerError{Op: "teachers.GetOne", Status: 502})
	v := NewDetailView(roster, "2")
	_, err := v.Load(ctx)
	var serr *teachers.ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if s := v.State(); s.Status != StatusFailed || !s.Retryable {
		t.Errorf("expected a failed, retryable state, got %v retryable=%v", s.Status, s.Retryable)
	}

	rec, err := v.Retry(ctx)
	if err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
	if rec.FullName() != "T2 Valiyev" {
		t.Errorf("unexpected record %q", rec.FullName())
	}
	if s := v.State(); s.Status != StatusReady || s.Record.ID != "2" || s.Retryable {
		t.Errorf("unexpected state after retry %+v", s)
	}

	if _, err := v.Load(ctx); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got := base.Calls(teacherstest.MethodGetOne); got != 3 {
		t.Errorf("expected 3 GetOne calls, got %d", got)
	}

	v.Close()
	if _, err := v.Load(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func galleryFixture(t *testing.T) (*FaceGallery, *teacherstest.Resource) {
	t.Helper()
	roster, base := newRoster(t, 1)
	base.AddFace("1", teachers.Face{ID: "11", ImgID: "a1"}, &teachers.Blob{Data: []byte("png-1"), ContentType: "image/png"})
	base.AddFace("1", teachers.Face{ID: "12", ImageURL: "https://cdn.example/12.jpg"}, nil)
	base.AddFace("1", teachers.Face{ID: "13", ImgID: "a3"}, &teachers.Blob{Data: []byte("png-3"), ContentType: "image/png"})
	return NewFaceGallery(roster, "1"), base
}

func loadGallery(t *testing.T, g *FaceGallery) []teachers.Face {
	t.Helper()
	faces, err := g.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	return faces
}

func TestFaceGallery_ResolveBindsAndReleases(t *testing.T) {
	g, base := galleryFixture(t)
	ctx := context.Background()

	if faces := loadGallery(t, g); len(faces) != 3 {
		t.Fatalf("expected 3 faces, got %d", len(faces))
	}

	url, err := g.Resolve(ctx, "12")
	if err != nil {
		t.Fatalf("Resolve(12) failed: %v", err)
	}
	if url.Source() != "https://cdn.example/12.jpg" {
		t.Errorf("unexpected source %q", url.Source())
	}
	if got := base.Calls(teacherstest.MethodFetchImageBlob); got != 0 {
		t.Errorf("a face with a URL must not be fetched, got %d fetches", got)
	}

	first, err := g.Resolve(ctx, "11")
	if err != nil {
		t.Fatalf("Resolve(11) failed: %v", err)
	}
	if !strings.HasPrefix(string(first.Ref), "blob:") {
		t.Errorf("unexpected ref %q", first.Ref)
	}
	blob, ok := g.Blobs().Get(first.Ref)
	if !ok || string(blob.Data) != "png-1" {
		t.Errorf("expected png-1 behind the ref, got %q (live=%v)", blob.Data, ok)
	}

	second, err := g.Resolve(ctx, "11")
	if err != nil {
		t.Fatalf("Resolve(11) again failed: %v", err)
	}
	if second.Ref == first.Ref {
		t.Error("expected a fresh ref")
	}
	if _, ok := g.Blobs().Get(first.Ref); ok {
		t.Error("rebinding a slot should release the old ref")
	}
	if got := g.Blobs().Len(); got != 1 {
		t.Errorf("expected 1 live ref, got %d", got)
	}

	if _, err := g.Resolve(ctx, "99"); !errors.Is(err, ErrFaceNotFound) {
		t.Errorf("expected ErrFaceNotFound, got %v", err)
	}
}

func TestFaceGallery_ResolveAllAndClose(t *testing.T) {
	g, base := galleryFixture(t)
	ctx := context.Background()

	loadGallery(t, g)
	if err := g.ResolveAll(ctx); err != nil {
		t.Fatalf("ResolveAll() failed: %v", err)
	}
	if got := base.Calls(teacherstest.MethodFetchImageBlob); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
	if got := g.Blobs().Len(); got != 2 {
		t.Errorf("expected 2 live refs, got %d", got)
	}

	if err := g.ResolveAll(ctx); err != nil {
		t.Fatalf("ResolveAll() again failed: %v", err)
	}
	if got := base.Calls(teacherstest.MethodFetchImageBlob); got != 2 {
		t.Errorf("bound slots should not be fetched again, got %d fetches", got)
	}

	state := g.State()
	if len(state.Slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(state.Slots))
	}
	for _, s := range state.Slots {
		if s.Source() == "" {
			t.Errorf("face %s has no source", s.Face.ID)
		}
	}

	g.Close()
	if got := g.Blobs().Len(); got != 0 {
		t.Errorf("expected every ref released on close, got %d", got)
	}
	if _, err := g.Resolve(ctx, "11"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestFaceGallery_ResolveAllReportsFailures(t *testing.T) {
	g, base := galleryFixture(t)
	notifier := &recordingNotifier{}
	g.notifier = notifier
	ctx := context.Background()

	loadGallery(t, g)

	base.FailNext(teacherstest.MethodFetchImageBlob, &teachers.TransportError{Op: "teachers.FetchImageBlob", Err: errors.New("reset")})
	err := g.ResolveAll(ctx)
	var terr *teachers.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if got := g.Blobs().Len(); got != 1 {
		t.Errorf("the other face should still resolve, got %d refs", got)
	}
	if _, _, errs := notifier.counts(); errs != 1 {
		t.Errorf("expected 1 error notification, got %d", errs)
	}

	if err := g.ResolveAll(ctx); err != nil {
		t.Fatalf("ResolveAll() failed: %v", err)
	}
	if got := g.Blobs().Len(); got != 2 {
		t.Errorf("expected 2 live refs, got %d", got)
	}
}

func TestFaceGallery_FailedLoadIsRetryable(t *testing.T) {
	g, base := galleryFixture(t)
	ctx := context.Background()

	base.FailNext(teacherstest.MethodListFaces, &teachers.TransportError{Op: "teachers.ListFaces", Err: errors.New("reset")})
	if _, err := g.Load(ctx); err == nil {
		t.Fatal("expected Load() to fail")
	}
	if s := g.State(); s.Status != StatusFailed || !s.Retryable {
		t.Errorf("expected a failed, retryable state, got %v retryable=%v", s.Status, s.Retryable)
	}

	faces, err := g.Retry(ctx)
	if err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
	if len(faces) != 3 || g.State().Retryable {
		t.Errorf("expected 3 faces and a clean state, got %d faces retryable=%v", len(faces), g.State().Retryable)
	}
}

func TestFaceGallery_ReloadReleasesRemovedFaces(t *testing.T) {
	roster, base := newRoster(t, 2)
	store := NewBlobStore()
	ctx := context.Background()
	base.AddFace("2", teachers.Face{ID: "21", ImgID: "b1"}, &teachers.Blob{Data: []byte("x")})

	g := NewFaceGallery(roster, "2", WithBlobStore(store))
	loadGallery(t, g)
	if err := g.ResolveAll(ctx); err != nil {
		t.Fatalf("ResolveAll() failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 live ref, got %d", store.Len())
	}

	if err := roster.Delete(ctx, "2"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if faces := loadGallery(t, g); len(faces) != 0 {
		t.Errorf("expected no faces, got %d", len(faces))
	}
	if store.Len() != 0 {
		t.Errorf("expected the removed face's ref released, got %d", store.Len())
	}
	if got := base.Calls(teacherstest.MethodListFaces); got != 2 {
		t.Errorf("delete should drop the cached face list, got %d list calls", got)
	}
}

func TestFaceGallery_ReloadReleasesFacesThatGainedURL(t *testing.T) {
	roster, base := newRoster(t, 1)
	ctx := context.Background()
	base.AddFace("1", teachers.Face{ID: "11", ImgID: "a1"}, &teachers.Blob{Data: []byte("png-1")})
	base.AddFace("1", teachers.Face{ID: "13", ImgID: "a3"}, &teachers.Blob{Data: []byte("png-3")})
	g := NewFaceGallery(roster, "1")

	loadGallery(t, g)
	if err := g.ResolveAll(ctx); err != nil {
		t.Fatalf("ResolveAll() failed: %v", err)
	}
	bound := g.State().Slots[0].Ref
	if bound == "" {
		t.Fatal("expected face 11 to hold a ref")
	}

	base.AddFace("1", teachers.Face{ID: "11", ImgID: "a1", ImageURL: "https://cdn.example/11.jpg"}, nil)
	roster.InvalidateAll(ctx)
	loadGallery(t, g)

	if _, ok := g.Blobs().Get(bound); ok {
		t.Error("a face that now carries a URL should release its ref")
	}
	if got := g.Blobs().Len(); got != 1 {
		t.Errorf("expected only face 13's ref to stay, got %d", got)
	}
	if src := g.State().Slots[0].Source(); src != "https://cdn.example/11.jpg" {
		t.Errorf("expected the URL as source, got %q", src)
	}
}

func TestFaceGallery_FaceWithoutImage(t *testing.T) {
	roster, base := newRoster(t, 1)
	base.AddFace("1", teachers.Face{ID: "30"}, nil)
	g := NewFaceGallery(roster, "1")

	loadGallery(t, g)
	_, err := g.Resolve(context.Background(), "30")
	var verr *teachers.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "imgId" {
		t.Errorf("expected field imgId, got %q", verr.Field)
	}
}

func TestBlobStore(t *testing.T) {
	s := NewBlobStore()
	ref := s.Put(teachers.Blob{Data: []byte("a")})
	if s.Len() != 1 {
		t.Errorf("expected 1 live ref, got %d", s.Len())
	}
	if !s.Release(ref) {
		t.Error("first Release() should report a live ref")
	}
	if s.Release(ref) {
		t.Error("second Release() should report a dead ref")
	}
	if _, ok := s.Get(ref); ok {
		t.Error("released ref should not resolve")
	}
}
