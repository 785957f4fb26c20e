package stubapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/internal/logger"
	"github.com/shaxzod-muhandis/Admin-Panel/internal/metrics"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

const maxUploadSize = 8 << 20

type teacherRequest struct {
	FirstName string `json:"firstName" validate:"required,min=2"`
	LastName  string `json:"lastName" validate:"required,min=2"`
	Phone     string `json:"phone" validate:"required,e164"`
	Pinfl     string `json:"pinfl" validate:"required,len=14,numeric"`
	Degree    string `json:"degree" validate:"required,min=2"`
	Position  string `json:"position" validate:"required,min=2"`
	Img       string `json:"img" validate:"omitempty,max=64"`
}

func (r teacherRequest) fields() teachers.Fields {
	return teachers.Fields{
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Pinfl:     r.Pinfl,
		Degree:    r.Degree,
		Position:  r.Position,
		Img:       r.Img,
	}
}

type updateTeacherRequest struct {
	ID teachers.ID `json:"id" validate:"required"`
	teacherRequest
}

type filterRequest struct {
	Keyword string         `json:"keyword"`
	Filter  map[string]any `json:"filter"`
	Paging  struct {
		Page int `json:"page" validate:"gte=0"`
		Size int `json:"size" validate:"gte=1,lte=100"`
	} `json:"paging"`
}

type pageResponse struct {
	Content []teachers.Record `json:"content"`
	Paging  teachers.Paging   `json:"paging"`
}

type problem struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Options configures a Server.
type Options struct {
	// JWTSecret enables bearer-token auth on /api when set.
	JWTSecret string
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
}

// creation is the outcome of the first successful create under an
// Idempotency-Key. mu is held for the whole create so concurrent requests
// with the same key wait and replay instead of inserting again.
type creation struct {
	mu   sync.Mutex
	done bool
	rec  teachers.Record
}

// Server is a local stand-in for the roster REST service.
type Server struct {
	store      Store
	secret     string
	logger     *zap.Logger
	metrics    *metrics.Recorder
	validate   *validator.Validate
	idempotent *xsync.MapOf[string, *creation]
}

func New(store Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		store:      store,
		secret:     opts.JWTSecret,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		validate:   v,
		idempotent: xsync.NewMapOf[string, *creation](),
	}
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware(s.logger))
	if s.metrics != nil {
		r.Use(s.metrics.GinMiddleware())
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	if s.secret != "" {
		api.Use(JWT(s.secret))
	}
	api.POST("/teachers/filter", s.listTeachers)
	api.GET("/teachers/one/:id", s.getTeacher)
	api.POST("/teachers/create", s.createTeacher)
	api.PUT("/teachers/update", s.updateTeacher)
	api.DELETE("/teachers/delete/:id", s.deleteTeacher)

	v1 := api.Group("/v1")
	v1.GET("/teacher/face/list/:teacherId", s.listFaces)
	v1.POST("/teacher/face/upload/:teacherId", s.uploadFace)
	v1.GET("/file/view/:id", s.viewFile)
	return r
}

func (s *Server) listTeachers(c *gin.Context) {
	var req filterRequest
	if !s.bind(c, &req) {
		return
	}

	rows, total, err := s.store.List(c.Request.Context(), req.Keyword, req.Paging.Page, req.Paging.Size)
	if err != nil {
		s.internal(c, err)
		return
	}
	totalPages := (total + req.Paging.Size - 1) / req.Paging.Size
	if totalPages < 1 {
		totalPages = 1
	}
	c.JSON(http.StatusOK, pageResponse{
		Content: rows,
		Paging: teachers.Paging{
			Page:       req.Paging.Page,
			Size:       req.Paging.Size,
			TotalPages: totalPages,
			TotalItems: total,
		},
	})
}

func (s *Server) getTeacher(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rec, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, err, "teacher", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// createTeacher replays the first response for a repeated Idempotency-Key.
// A create that failed leaves the key free for the next attempt.
func (s *Server) createTeacher(c *gin.Context) {
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		s.create(c)
		return
	}

	entry, _ := s.idempotent.LoadOrCompute(key, func() *creation { return &creation{} })
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.done {
		c.JSON(http.StatusCreated, entry.rec)
		return
	}
	if rec, ok := s.create(c); ok {
		entry.done, entry.rec = true, rec
	}
}

func (s *Server) create(c *gin.Context) (teachers.Record, bool) {
	var req teacherRequest
	if !s.bind(c, &req) {
		return teachers.Record{}, false
	}
	rec, err := s.store.Create(c.Request.Context(), req.fields())
	if err != nil {
		s.internal(c, err)
		return teachers.Record{}, false
	}
	s.logger.Info("teacher created", zap.String("id", rec.ID.String()))
	c.JSON(http.StatusCreated, rec)
	return rec, true
}

func (s *Server) updateTeacher(c *gin.Context) {
	var req updateTeacherRequest
	if !s.bind(c, &req) {
		return
	}
	id, err := strconv.ParseInt(req.ID.String(), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, problem{Field: "id", Message: "must be numeric"})
		return
	}
	rec, err := s.store.Update(c.Request.Context(), id, req.fields())
	if err != nil {
		s.storeError(c, err, "teacher", req.ID.String())
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteTeacher(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.store.Delete(c.Request.Context(), id); err != nil {
		s.storeError(c, err, "teacher", c.Param("id"))
		return
	}
	s.logger.Info("teacher deleted", zap.Int64("id", id))
	c.Status(http.StatusNoContent)
}

func (s *Server) listFaces(c *gin.Context) {
	id, ok := pathID(c, "teacherId")
	if !ok {
		return
	}
	faces, err := s.store.ListFaces(c.Request.Context(), id)
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, faces)
}

func (s *Server) uploadFace(c *gin.Context) {
	id, ok := pathID(c, "teacherId")
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, problem{Message: "could not read body"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, problem{Field: "file", Message: "is required"})
		return
	}
	if len(data) > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, problem{Field: "file", Message: "is too large"})
		return
	}

	face, err := s.store.AddFace(c.Request.Context(), id, teachers.Blob{Data: data, ContentType: c.ContentType()})
	if err != nil {
		s.storeError(c, err, "teacher", c.Param("teacherId"))
		return
	}
	c.JSON(http.StatusCreated, face)
}

func (s *Server) viewFile(c *gin.Context) {
	blob, err := s.store.File(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storeError(c, err, "file", c.Param("id"))
		return
	}
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}

// bind decodes and validates the JSON body, answering 400 with the first
// failing field on error.
func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, problem{Message: "invalid JSON body"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			c.JSON(http.StatusBadRequest, problem{Field: verrs[0].Field(), Message: ruleMessage(verrs[0])})
			return false
		}
		c.JSON(http.StatusBadRequest, problem{Message: err.Error()})
		return false
	}
	return true
}

func (s *Server) storeError(c *gin.Context, err error, kind, id string) {
	if errors.Is(err, ErrNoRecord) {
		c.JSON(http.StatusNotFound, problem{Message: fmt.Sprintf("%s %s not found", kind, id)})
		return
	}
	s.internal(c, err)
}

func (s *Server) internal(c *gin.Context, err error) {
	s.logger.Error("stub request failed", zap.String("path", c.FullPath()), zap.Error(err))
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, problem{Message: "internal error"})
}

func pathID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, problem{Field: param, Message: "must be a positive number"})
		return 0, false
	}
	return id, true
}

func abortMessage(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, problem{Message: msg})
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "numeric":
		return "must contain only digits"
	case "e164":
		return "must be an international phone number"
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}
