// Package teacherstest provides an in-memory teachers.Resource for tests.
package teacherstest

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

// Method names accepted by Calls, FailNext and Block.
const (
	MethodListPage       = "ListPage"
	MethodGetOne         = "GetOne"
	MethodCreate         = "Create"
	MethodUpdate         = "Update"
	MethodDelete         = "Delete"
	MethodListFaces      = "ListFaces"
	MethodFetchImageBlob = "FetchImageBlob"
)

// ValidFields returns a field set that passes every form rule.
func ValidFields(first string) teachers.Fields {
	return teachers.Fields{
		FirstName: first,
		LastName:  "Valiyev",
		Phone:     "+998901234567",
		Pinfl:     "12345678901234",
		Degree:    "PhD",
		Position:  "Professor",
	}
}

// Resource is a concurrency-safe in-memory teacher collection that records
// every call.
type Resource struct {
	mu      sync.Mutex
	records map[teachers.ID]teachers.Record
	faces   map[teachers.ID][]teachers.Face
	blobs   map[teachers.ID]teachers.Blob
	nextID  int
	calls   map[string]int
	fail    map[string][]error
	gates   map[string]chan struct{}
}

var _ teachers.Resource = (*Resource)(nil)

// New returns a Resource seeded with n records named T1..Tn.
func New(n int) *Resource {
	r := &Resource{
		records: make(map[teachers.ID]teachers.Record),
		faces:   make(map[teachers.ID][]teachers.Face),
		blobs:   make(map[teachers.ID]teachers.Blob),
		calls:   make(map[string]int),
		fail:    make(map[string][]error),
		gates:   make(map[string]chan struct{}),
	}
	for i := 0; i < n; i++ {
		r.insert(ValidFields("T" + strconv.Itoa(i+1)))
	}
	return r
}

// AddFace attaches a face to teacherID, replacing a face with the same id.
// A non-nil blob is served for imgID.
func (r *Resource) AddFace(teacherID teachers.ID, face teachers.Face, blob *teachers.Blob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	face.TeacherID = teacherID
	replaced := false
	for i, f := range r.faces[teacherID] {
		if f.ID == face.ID {
			r.faces[teacherID][i] = face
			replaced = true
		}
	}
	if !replaced {
		r.faces[teacherID] = append(r.faces[teacherID], face)
	}
	if blob != nil {
		r.blobs[face.ImgID] = *blob
	}
}

// Calls returns how many times method was invoked.
func (r *Resource) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

// FailNext makes the next call of method return err.
func (r *Resource) FailNext(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[method] = append(r.fail[method], err)
}

// Block makes calls of method wait until the returned release func runs.
func (r *Resource) Block(method string) (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gates[method] = gate
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.gates, method)
			r.mu.Unlock()
			close(gate)
		})
	}
}

// Has reports whether id exists.
func (r *Resource) Has(id teachers.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	return ok
}

func (r *Resource) enter(ctx context.Context, method string) error {
	r.mu.Lock()
	r.calls[method]++
	gate := r.gates[method]
	var err error
	if queued := r.fail[method]; len(queued) > 0 {
		err = queued[0]
		r.fail[method] = queued[1:]
	}
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (r *Resource) insert(fields teachers.Fields) teachers.Record {
	r.nextID++
	rec := teachers.Record{ID: teachers.ID(strconv.Itoa(r.nextID)), Fields: fields}
	r.records[rec.ID] = rec
	return rec
}

func (r *Resource) ListPage(ctx context.Context, q teachers.ListQuery) (teachers.Page, error) {
	if err := r.enter(ctx, MethodListPage); err != nil {
		return teachers.Page{}, err
	}
	if q.Size <= 0 || q.Page < 0 {
		return teachers.Page{}, &teachers.ValidationError{Field: "paging", Message: "invalid page or size"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int, 0, len(r.records))
	for id := range r.records {
		n, _ := strconv.Atoi(string(id))
		ids = append(ids, n)
	}
	sort.Ints(ids)

	total := len(ids)
	totalPages := (total + q.Size - 1) / q.Size
	if totalPages < 1 {
		totalPages = 1
	}
	page := teachers.Page{
		Content: []teachers.Record{},
		Paging:  teachers.Paging{Page: q.Page, Size: q.Size, TotalPages: totalPages, TotalItems: total},
	}
	for i := q.Page * q.Size; i < total && i < (q.Page+1)*q.Size; i++ {
		page.Content = append(page.Content, r.records[teachers.ID(strconv.Itoa(ids[i]))])
	}
	return page, nil
}

func (r *Resource) GetOne(ctx context.Context, id teachers.ID) (teachers.Record, error) {
	if err := r.enter(ctx, MethodGetOne); err != nil {
		return teachers.Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return teachers.Record{}, &teachers.NotFoundError{Op: "teachers.GetOne", ID: id}
	}
	return rec, nil
}

func (r *Resource) Create(ctx context.Context, fields teachers.Fields) (teachers.Record, error) {
	if err := r.enter(ctx, MethodCreate); err != nil {
		return teachers.Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(fields), nil
}

func (r *Resource) Update(ctx context.Context, id teachers.ID, fields teachers.Fields) (teachers.Record, error) {
	if err := r.enter(ctx, MethodUpdate); err != nil {
		return teachers.Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return teachers.Record{}, &teachers.NotFoundError{Op: "teachers.Update", ID: id}
	}
	rec := teachers.Record{ID: id, Fields: fields}
	r.records[id] = rec
	return rec, nil
}

func (r *Resource) Delete(ctx context.Context, id teachers.ID) error {
	if err := r.enter(ctx, MethodDelete); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return &teachers.NotFoundError{Op: "teachers.Delete", ID: id}
	}
	delete(r.records, id)
	delete(r.faces, id)
	return nil
}

func (r *Resource) ListFaces(ctx context.Context, teacherID teachers.ID) ([]teachers.Face, error) {
	if err := r.enter(ctx, MethodListFaces); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]teachers.Face{}, r.faces[teacherID]...), nil
}

func (r *Resource) FetchImageBlob(ctx context.Context, imgID teachers.ID) (teachers.Blob, error) {
	if err := r.enter(ctx, MethodFetchImageBlob); err != nil {
		return teachers.Blob{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.blobs[imgID]
	if !ok {
		return teachers.Blob{}, &teachers.NotFoundError{Op: "teachers.FetchImageBlob", ID: imgID}
	}
	return blob, nil
}
