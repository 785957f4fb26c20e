package views

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

// BlobRef is a transient local handle to fetched image bytes. It stays valid
// until released.
type BlobRef string

const blobScheme = "blob:"

// BlobStore holds fetched blobs behind BlobRefs.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[BlobRef]teachers.Blob
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[BlobRef]teachers.Blob)}
}

// Put stores b under a fresh ref.
func (s *BlobStore) Put(b teachers.Blob) BlobRef {
	ref := BlobRef(blobScheme + uuid.NewString())
	s.mu.Lock()
	s.blobs[ref] = b
	s.mu.Unlock()
	return ref
}

func (s *BlobStore) Get(ref BlobRef) (teachers.Blob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[ref]
	return b, ok
}

// Release frees ref. It reports whether ref was live.
func (s *BlobStore) Release(ref BlobRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		return false
	}
	delete(s.blobs, ref)
	return true
}

// Len returns the number of live refs.
func (s *BlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// Slot is one face's display slot. Exactly one of URL and Ref is set once
// the face is resolved.
type Slot struct {
	Face teachers.Face
	URL  string
	Ref  BlobRef
}

// Source returns what a renderer should display.
func (s Slot) Source() string {
	if s.URL != "" {
		return s.URL
	}
	return string(s.Ref)
}

// GalleryState is a snapshot of a FaceGallery.
type GalleryState struct {
	Status Status
	Slots  []Slot
	Err    error
	// Retryable is set when Err is worth a Retry.
	Retryable bool
}

// FaceGallery lists a teacher's faces and lazily fetches the image of every
// face without a URL.
type FaceGallery struct {
	roster    Roster
	notifier  Notifier
	logger    *zap.Logger
	blobs     *BlobStore
	teacherID teachers.ID

	mu     sync.Mutex
	status Status
	err    error
	faces  []teachers.Face
	refs   map[teachers.ID]BlobRef
	seq    uint64
	closed bool
}

func NewFaceGallery(roster Roster, teacherID teachers.ID, opts ...Option) *FaceGallery {
	o := buildOptions(opts)
	return &FaceGallery{
		roster:    roster,
		notifier:  o.notifier,
		logger:    o.logger,
		blobs:     o.blobs,
		teacherID: teacherID,
		refs:      make(map[teachers.ID]BlobRef),
	}
}

func (g *FaceGallery) TeacherID() teachers.ID { return g.teacherID }

// Blobs exposes the store that backs the gallery's refs.
func (g *FaceGallery) Blobs() *BlobStore { return g.blobs }

// Load lists the faces. Refs bound to faces that disappeared, or that now
// carry a URL of their own, are released.
func (g *FaceGallery) Load(ctx context.Context) ([]teachers.Face, error) {
	return g.load(ctx, g.roster.ListFaces)
}

// Retry reloads a face list whose last load failed.
func (g *FaceGallery) Retry(ctx context.Context) ([]teachers.Face, error) {
	return g.load(ctx, g.roster.RetryFaces)
}

func (g *FaceGallery) load(ctx context.Context, fetch func(context.Context, teachers.ID) ([]teachers.Face, error)) ([]teachers.Face, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	g.seq++
	seq := g.seq
	prev := g.status
	g.status = StatusLoading
	g.mu.Unlock()

	faces, err := fetch(ctx, g.teacherID)

	g.mu.Lock()
	if g.closed || seq != g.seq {
		g.mu.Unlock()
		return nil, ErrStaleResult
	}
	if err != nil && abandoned(ctx, err) {
		g.status = prev
		g.mu.Unlock()
		return nil, err
	}
	if err != nil {
		g.status, g.err = StatusFailed, err
		g.mu.Unlock()
		g.notifier.Error("Could not load faces", err)
		return nil, err
	}

	// A ref stays bound only while its face still exists and still needs it.
	needsRef := make(map[teachers.ID]bool, len(faces))
	for _, f := range faces {
		needsRef[f.ID] = !f.Resolved()
	}
	for id, ref := range g.refs {
		if !needsRef[id] {
			g.blobs.Release(ref)
			delete(g.refs, id)
		}
	}
	g.faces = append([]teachers.Face(nil), faces...)
	g.status, g.err = StatusReady, nil
	g.mu.Unlock()
	return faces, nil
}

// Resolve binds a displayable source to faceID's slot. Faces with a URL use
// it directly. Otherwise the blob is fetched, stored, and bound, and any ref
// previously bound to the slot is released.
func (g *FaceGallery) Resolve(ctx context.Context, faceID teachers.ID) (Slot, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return Slot{}, ErrClosed
	}
	face, ok := g.findLocked(faceID)
	seq := g.seq
	g.mu.Unlock()

	if !ok {
		return Slot{}, ErrFaceNotFound
	}
	if face.Resolved() {
		return Slot{Face: face, URL: face.ImageURL}, nil
	}
	if face.ImgID.IsZero() {
		return Slot{Face: face}, &teachers.ValidationError{Field: "imgId", Message: "face has neither an image id nor a URL"}
	}

	blob, err := g.roster.FetchImageBlob(ctx, face.ImgID)
	if err != nil {
		if !abandoned(ctx, err) {
			g.logger.Warn("face image fetch failed",
				zap.String("face_id", faceID.String()),
				zap.String("img_id", face.ImgID.String()),
				zap.Error(err),
			)
		}
		return Slot{Face: face}, err
	}
	ref := g.blobs.Put(blob)

	g.mu.Lock()
	if g.closed || seq != g.seq {
		g.mu.Unlock()
		g.blobs.Release(ref)
		return Slot{Face: face}, ErrStaleResult
	}
	if old, ok := g.refs[faceID]; ok {
		g.blobs.Release(old)
	}
	g.refs[faceID] = ref
	g.mu.Unlock()
	return Slot{Face: face, Ref: ref}, nil
}

// ResolveAll resolves every face that has no bound source yet.
func (g *FaceGallery) ResolveAll(ctx context.Context) error {
	g.mu.Lock()
	var pending []teachers.ID
	for _, f := range g.faces {
		if _, bound := g.refs[f.ID]; !bound && !f.Resolved() {
			pending = append(pending, f.ID)
		}
	}
	g.mu.Unlock()

	var errs []error
	for _, id := range pending {
		if _, err := g.Resolve(ctx, id); err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, ErrStaleResult) || abandoned(ctx, err) {
				return err
			}
			errs = append(errs, fmt.Errorf("face %s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		g.notifier.Error("Some face images could not be loaded", err)
		return err
	}
	return nil
}

// State returns the gallery's slots in face order.
func (g *FaceGallery) State() GalleryState {
	g.mu.Lock()
	defer g.mu.Unlock()
	slots := make([]Slot, 0, len(g.faces))
	for _, f := range g.faces {
		s := Slot{Face: f, URL: f.ImageURL}
		if s.URL == "" {
			s.Ref = g.refs[f.ID]
		}
		slots = append(slots, s)
	}
	return GalleryState{Status: g.status, Slots: slots, Err: g.err, Retryable: teachers.IsRetryable(g.err)}
}

// Close releases every bound ref and discards late results.
func (g *FaceGallery) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.seq++
	for id, ref := range g.refs {
		g.blobs.Release(ref)
		delete(g.refs, id)
	}
	g.faces = nil
}

func (g *FaceGallery) findLocked(id teachers.ID) (teachers.Face, bool) {
	for _, f := range g.faces {
		if f.ID == id {
			return f, true
		}
	}
	return teachers.Face{}, false
}
