package stubapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/shaxzod-muhandis/Admin-Panel/internal/config"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

// ErrNoRecord is returned when a teacher or file does not exist.
var ErrNoRecord = errors.New("stubapi: no record")

// Store persists the stub service's teachers, faces and files.
type Store interface {
	List(ctx context.Context, keyword string, page, size int) ([]teachers.Record, int, error)
	Get(ctx context.Context, id int64) (teachers.Record, error)
	Create(ctx context.Context, fields teachers.Fields) (teachers.Record, error)
	Update(ctx context.Context, id int64, fields teachers.Fields) (teachers.Record, error)
	Delete(ctx context.Context, id int64) error
	ListFaces(ctx context.Context, teacherID int64) ([]teachers.Face, error)
	AddFace(ctx context.Context, teacherID int64, blob teachers.Blob) (teachers.Face, error)
	File(ctx context.Context, id string) (teachers.Blob, error)
	Close() error
}

type teacherRow struct {
	bun.BaseModel `bun:"table:teachers,alias:t"`

	ID        int64     `bun:"id,pk,autoincrement"`
	FirstName string    `bun:"first_name,notnull"`
	LastName  string    `bun:"last_name,notnull"`
	Phone     string    `bun:"phone,notnull"`
	Pinfl     string    `bun:"pinfl,notnull"`
	Degree    string    `bun:"degree,notnull"`
	Position  string    `bun:"position,notnull"`
	Img       string    `bun:"img"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r teacherRow) record() teachers.Record {
	return teachers.Record{
		ID: teachers.ID(strconv.FormatInt(r.ID, 10)),
		Fields: teachers.Fields{
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Phone:     r.Phone,
			Pinfl:     r.Pinfl,
			Degree:    r.Degree,
			Position:  r.Position,
			Img:       r.Img,
		},
	}
}

func rowFromFields(id int64, f teachers.Fields) teacherRow {
	return teacherRow{
		ID:        id,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Phone:     f.Phone,
		Pinfl:     f.Pinfl,
		Degree:    f.Degree,
		Position:  f.Position,
		Img:       f.Img,
	}
}

type faceRow struct {
	bun.BaseModel `bun:"table:faces,alias:f"`

	ID        int64  `bun:"id,pk,autoincrement"`
	TeacherID int64  `bun:"teacher_id,notnull"`
	FileID    string `bun:"file_id,notnull"`
}

func (r faceRow) face() teachers.Face {
	return teachers.Face{
		ID:        teachers.ID(strconv.FormatInt(r.ID, 10)),
		TeacherID: teachers.ID(strconv.FormatInt(r.TeacherID, 10)),
		ImgID:     teachers.ID(r.FileID),
	}
}

type fileRow struct {
	bun.BaseModel `bun:"table:files,alias:fl"`

	ID          string `bun:"id,pk"`
	ContentType string `bun:"content_type,notnull"`
	Data        []byte `bun:"data"`
}

// BunStore is a Store over SQLite or PostgreSQL.
type BunStore struct {
	db *bun.DB
}

var _ Store = (*BunStore)(nil)

// OpenStore opens the database for driver and creates missing tables.
// The memory driver is a private in-memory SQLite database.
func OpenStore(ctx context.Context, driver, dsn string) (*BunStore, error) {
	var db *bun.DB
	switch driver {
	case config.DBMemory, config.DBSQLite:
		if driver == config.DBMemory {
			dsn = "file:" + uuid.NewString() + "?mode=memory&cache=shared&_fk=1"
		}
		sqldb, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One connection keeps an in-memory database alive and serializes SQLite writers.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case config.DBPostgres:
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &BunStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BunStore) migrate(ctx context.Context) error {
	for _, model := range []any{(*teacherRow)(nil), (*faceRow)(nil), (*fileRow)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (s *BunStore) Close() error { return s.db.Close() }

// selectCriteria narrows a teacher query. It has the shape of
// go-repository-bun's SelectCriteria so queries compose the same way.
type selectCriteria func(*bun.SelectQuery) *bun.SelectQuery

// byKeyword matches first or last name, case-insensitively. An empty
// keyword matches everything.
func byKeyword(keyword string) selectCriteria {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		if kw == "" {
			return q
		}
		like := "%" + kw + "%"
		return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(t.first_name) LIKE ?", like).
				WhereOr("LOWER(t.last_name) LIKE ?", like)
		})
	}
}

func byID(id int64) selectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("t.id = ?", id)
	}
}

func orderByID() selectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("t.id ASC")
	}
}

func paginate(page, size int) selectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Limit(size).Offset(page * size)
	}
}

// List returns one page ordered by id, with the total number of matches.
// keyword matches first or last name, case-insensitively.
func (s *BunStore) List(ctx context.Context, keyword string, page, size int) ([]teachers.Record, int, error) {
	return s.selectTeachers(ctx, byKeyword(keyword), orderByID(), paginate(page, size))
}

// selectTeachers returns the rows matching criteria and the match count
// ignoring limit and offset.
func (s *BunStore) selectTeachers(ctx context.Context, criteria ...selectCriteria) ([]teachers.Record, int, error) {
	var rows []teacherRow
	q := s.db.NewSelect().Model(&rows)
	for _, c := range criteria {
		q = c(q)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list teachers: %w", err)
	}

	out := make([]teachers.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, total, nil
}

func (s *BunStore) Get(ctx context.Context, id int64) (teachers.Record, error) {
	var row teacherRow
	err := byID(id)(s.db.NewSelect().Model(&row)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return teachers.Record{}, ErrNoRecord
	}
	if err != nil {
		return teachers.Record{}, fmt.Errorf("get teacher %d: %w", id, err)
	}
	return row.record(), nil
}

func (s *BunStore) Create(ctx context.Context, fields teachers.Fields) (teachers.Record, error) {
	row := rowFromFields(0, fields)
	if _, err := s.db.NewInsert().Model(&row).ExcludeColumn("created_at").Returning("id").Exec(ctx); err != nil {
		return teachers.Record{}, fmt.Errorf("create teacher: %w", err)
	}
	return row.record(), nil
}

func (s *BunStore) Update(ctx context.Context, id int64, fields teachers.Fields) (teachers.Record, error) {
	row := rowFromFields(id, fields)
	res, err := s.db.NewUpdate().Model(&row).ExcludeColumn("id", "created_at").WherePK().Exec(ctx)
	if err != nil {
		return teachers.Record{}, fmt.Errorf("update teacher %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return teachers.Record{}, ErrNoRecord
	}
	return row.record(), nil
}

// Delete removes a teacher with its faces and their files.
func (s *BunStore) Delete(ctx context.Context, id int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*teacherRow)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete teacher %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNoRecord
		}

		var fileIDs []string
		if err := tx.NewSelect().Model((*faceRow)(nil)).Column("file_id").Where("teacher_id = ?", id).Scan(ctx, &fileIDs); err != nil {
			return fmt.Errorf("list faces of %d: %w", id, err)
		}
		if _, err := tx.NewDelete().Model((*faceRow)(nil)).Where("teacher_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("delete faces of %d: %w", id, err)
		}
		if len(fileIDs) > 0 {
			if _, err := tx.NewDelete().Model((*fileRow)(nil)).Where("id IN (?)", bun.In(fileIDs)).Exec(ctx); err != nil {
				return fmt.Errorf("delete files of %d: %w", id, err)
			}
		}
		return nil
	})
}

func (s *BunStore) ListFaces(ctx context.Context, teacherID int64) ([]teachers.Face, error) {
	var rows []faceRow
	if err := s.db.NewSelect().Model(&rows).Where("f.teacher_id = ?", teacherID).OrderExpr("f.id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list faces of %d: %w", teacherID, err)
	}
	out := make([]teachers.Face, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.face())
	}
	return out, nil
}

// AddFace stores blob as a new file and links it to the teacher.
func (s *BunStore) AddFace(ctx context.Context, teacherID int64, blob teachers.Blob) (teachers.Face, error) {
	var face faceRow
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*teacherRow)(nil)).Where("id = ?", teacherID).Exists(ctx)
		if err != nil {
			return fmt.Errorf("check teacher %d: %w", teacherID, err)
		}
		if !exists {
			return ErrNoRecord
		}

		contentType := blob.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(blob.Data)
		}
		file := fileRow{ID: uuid.NewString(), ContentType: contentType, Data: blob.Data}
		if _, err := tx.NewInsert().Model(&file).Exec(ctx); err != nil {
			return fmt.Errorf("store file: %w", err)
		}

		face = faceRow{TeacherID: teacherID, FileID: file.ID}
		if _, err := tx.NewInsert().Model(&face).Returning("id").Exec(ctx); err != nil {
			return fmt.Errorf("store face: %w", err)
		}
		return nil
	})
	if err != nil {
		return teachers.Face{}, err
	}
	return face.face(), nil
}

func (s *BunStore) File(ctx context.Context, id string) (teachers.Blob, error) {
	var row fileRow
	err := s.db.NewSelect().Model(&row).Where("fl.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return teachers.Blob{}, ErrNoRecord
	}
	if err != nil {
		return teachers.Blob{}, fmt.Errorf("get file %s: %w", id, err)
	}
	return teachers.Blob{Data: row.Data, ContentType: row.ContentType}, nil
}
