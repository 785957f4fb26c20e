package teachers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL serves the /teachers routes.
	DefaultBaseURL = "http://217.114.4.62:30300/api"
	// DefaultFaceBaseURL serves the face and file routes.
	DefaultFaceBaseURL = "http://217.114.4.62:30300/api/v1"
	// DefaultTimeout bounds every request when Config.Timeout is zero.
	DefaultTimeout = 10 * time.Second

	maxJSONBody  = 8 << 20
	maxImageBody = 32 << 20
	maxErrorBody = 512
)

// Resource is the remote teacher collection.
type Resource interface {
	ListPage(ctx context.Context, q ListQuery) (Page, error)
	GetOne(ctx context.Context, id ID) (Record, error)
	Create(ctx context.Context, fields Fields) (Record, error)
	Update(ctx context.Context, id ID, fields Fields) (Record, error)
	Delete(ctx context.Context, id ID) error
	ListFaces(ctx context.Context, teacherID ID) ([]Face, error)
	FetchImageBlob(ctx context.Context, imgID ID) (Blob, error)
}

var _ Resource = (*Client)(nil)

// Config holds the endpoints and credentials of the teacher service.
type Config struct {
	BaseURL     string
	FaceBaseURL string
	Token       string
	Timeout     time.Duration
}

// Client is the HTTP implementation of Resource. It holds no state between
// calls, never retries, and is safe for concurrent use.
type Client struct {
	baseURL     string
	faceBaseURL string
	token       string
	httpClient  *http.Client
	logger      *zap.Logger
	validate    *validator.Validate
	newKey      func() string
	maxJSON     int64
	maxImage    int64
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the transport. Its Timeout is left as given.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIdempotencyKeys replaces the generator of Idempotency-Key headers sent on create.
func WithIdempotencyKeys(gen func() string) ClientOption {
	return func(c *Client) {
		if gen != nil {
			c.newKey = gen
		}
	}
}

// NewClient builds a Client. Empty URLs fall back to the defaults.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	faceBase := strings.TrimRight(cfg.FaceBaseURL, "/")
	if faceBase == "" {
		faceBase = DefaultFaceBaseURL
	}

	c := &Client{
		baseURL:     base,
		faceBaseURL: faceBase,
		token:       cfg.Token,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      zap.NewNop(),
		validate:    validator.New(),
		newKey:      uuid.NewString,
		maxJSON:     maxJSONBody,
		maxImage:    maxImageBody,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListPage fetches one page of teachers.
func (c *Client) ListPage(ctx context.Context, q ListQuery) (Page, error) {
	const op = "teachers.ListPage"
	if q.Page < 0 {
		return Page{}, &ValidationError{Field: "page", Message: "must be non-negative"}
	}
	if q.Size <= 0 {
		return Page{}, &ValidationError{Field: "size", Message: "must be positive"}
	}

	filter := q.Filter
	if filter == nil {
		filter = map[string]any{}
	}
	body := listRequest{
		Keyword: q.Keyword,
		Filter:  filter,
		Paging:  pagingRequest{Page: q.Page, Size: q.Size},
	}

	var page Page
	if err := c.doJSON(ctx, op, "", http.MethodPost, c.baseURL+"/teachers/filter", body, &page); err != nil {
		return Page{}, err
	}
	if page.Content == nil {
		page.Content = []Record{}
	}
	if page.Paging.Size == 0 {
		page.Paging.Page = q.Page
		page.Paging.Size = q.Size
	}
	if page.Paging.TotalPages < 1 {
		page.Paging.TotalPages = 1
	}
	return page, nil
}

// GetOne fetches a single teacher.
func (c *Client) GetOne(ctx context.Context, id ID) (Record, error) {
	const op = "teachers.GetOne"
	if id.IsZero() {
		return Record{}, &ValidationError{Field: "id", Message: "is required"}
	}

	var rec Record
	if err := c.doJSON(ctx, op, id, http.MethodGet, c.baseURL+"/teachers/one/"+url.PathEscape(id.String()), nil, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Create stores a new teacher and returns it with its assigned id.
func (c *Client) Create(ctx context.Context, fields Fields) (Record, error) {
	const op = "teachers.Create"

	var rec Record
	if err := c.doJSON(ctx, op, "", http.MethodPost, c.baseURL+"/teachers/create", fields, &rec, "Idempotency-Key", c.newKey()); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Update replaces the fields of an existing teacher.
func (c *Client) Update(ctx context.Context, id ID, fields Fields) (Record, error) {
	const op = "teachers.Update"
	if id.IsZero() {
		return Record{}, &ValidationError{Field: "id", Message: "is required"}
	}

	var rec Record
	err := c.doJSON(ctx, op, id, http.MethodPut, c.baseURL+"/teachers/update", updateRequest{ID: id, Fields: fields}, &rec)
	if errors.Is(err, errEmptyBody) {
		return Record{ID: id, Fields: fields}, nil
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Delete removes a teacher.
func (c *Client) Delete(ctx context.Context, id ID) error {
	const op = "teachers.Delete"
	if id.IsZero() {
		return &ValidationError{Field: "id", Message: "is required"}
	}

	resp, err := c.do(ctx, op, id, http.MethodDelete, c.baseURL+"/teachers/delete/"+url.PathEscape(id.String()), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxJSON))
	return nil
}

// ListFaces lists the face images stored for a teacher.
func (c *Client) ListFaces(ctx context.Context, teacherID ID) ([]Face, error) {
	const op = "teachers.ListFaces"
	if teacherID.IsZero() {
		return nil, &ValidationError{Field: "teacherId", Message: "is required"}
	}

	var faces []Face
	if err := c.doJSON(ctx, op, teacherID, http.MethodGet, c.faceBaseURL+"/teacher/face/list/"+url.PathEscape(teacherID.String()), nil, &faces); err != nil {
		if errors.Is(err, errEmptyBody) {
			return []Face{}, nil
		}
		return nil, err
	}
	if faces == nil {
		faces = []Face{}
	}
	for i := range faces {
		if faces[i].TeacherID.IsZero() {
			faces[i].TeacherID = teacherID
		}
	}
	return faces, nil
}

// FetchImageBlob downloads image bytes by file id.
func (c *Client) FetchImageBlob(ctx context.Context, imgID ID) (Blob, error) {
	const op = "teachers.FetchImageBlob"
	if imgID.IsZero() {
		return Blob{}, &ValidationError{Field: "imgId", Message: "is required"}
	}

	resp, err := c.do(ctx, op, imgID, http.MethodGet, c.faceBaseURL+"/file/view/"+url.PathEscape(imgID.String()), nil, nil)
	if err != nil {
		return Blob{}, err
	}
	defer resp.Body.Close()

	data, err := readBody(op, resp.Body, c.maxImage)
	if err != nil {
		return Blob{}, err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return Blob{Data: data, ContentType: contentType}, nil
}

var errEmptyBody = errors.New("empty response body")

// readBody reads at most limit bytes. A longer body is a ParseError wrapping
// ErrBodyTooLarge, never a silently shortened result.
func readBody(op string, r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, &ParseError{Op: op, Err: fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, limit)}
	}
	return data, nil
}

// doJSON sends in as JSON and decodes a 2xx body into out, then checks out
// against its validate tags. extra holds header name/value pairs.
func (c *Client) doJSON(ctx context.Context, op string, id ID, method, target string, in, out any, extra ...string) error {
	headers := map[string]string{"Accept": "application/json"}
	for i := 0; i+1 < len(extra); i += 2 {
		headers[extra[i]] = extra[i+1]
	}

	resp, err := c.do(ctx, op, id, method, target, in, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := readBody(op, resp.Body, c.maxJSON)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &ParseError{Op: op, Err: errEmptyBody}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &ParseError{Op: op, Err: err}
	}
	if err := c.check(out); err != nil {
		return &ParseError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) check(out any) error {
	switch v := out.(type) {
	case *[]Face:
		for i := range *v {
			if err := c.validate.Struct((*v)[i]); err != nil {
				return fmt.Errorf("face %d: %w", i, err)
			}
		}
		return nil
	default:
		return c.validate.Struct(out)
	}
}

// do performs the request and maps every non-2xx outcome to a typed error.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, op string, id ID, method, target string, in any, headers map[string]string) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, &ValidationError{Message: "request cannot be encoded: " + err.Error()}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("teacher service unreachable",
			zap.String("op", op),
			zap.String("method", method),
			zap.String("url", target),
			zap.Error(err),
		)
		return nil, &TransportError{Op: op, Err: err}
	}

	c.logger.Debug("teacher service call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxJSON))
	return nil, mapStatus(op, id, resp.StatusCode, raw)
}

type fieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type problemBody struct {
	fieldProblem
	Errors []fieldProblem `json:"errors"`
}

func mapStatus(op string, id ID, status int, raw []byte) error {
	if status == http.StatusNotFound {
		return &NotFoundError{Op: op, ID: id}
	}

	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		var problem problemBody
		if err := json.Unmarshal(raw, &problem); err == nil {
			if problem.Field != "" {
				return &ValidationError{Field: problem.Field, Message: problem.Message}
			}
			for _, p := range problem.Errors {
				if p.Field != "" {
					return &ValidationError{Field: p.Field, Message: p.Message}
				}
			}
		}
	}

	return &ServerError{Op: op, Status: status, Body: truncateUTF8(strings.TrimSpace(string(raw)), maxErrorBody)}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
