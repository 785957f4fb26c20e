package teachers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is a server-assigned record identifier. The service sends numeric ids
// for teachers and string ids for files, so both JSON forms decode into it.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == "" }

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes an id as a bare JSON number only when its text is a
// canonical integer ("42", "-7"); anything else, such as "007" or "+5",
// is written as a JSON string. Opaque ids therefore always encode.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if canonicalInt(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// canonicalInt reports whether s is an integer in the form JSON and the
// service print it: optional minus, no leading zeros, no plus sign.
func canonicalInt(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	if s == "" || len(s) > 18 || (s[0] == '0' && len(s) > 1) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Fields are the editable attributes of a teacher record.
type Fields struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Pinfl     string `json:"pinfl"`
	Degree    string `json:"degree"`
	Position  string `json:"position"`
	Img       string `json:"img,omitempty"`
}

// Record is a server-owned teacher snapshot.
type Record struct {
	ID ID `json:"id" validate:"required"`
	Fields
}

// FullName joins first and last name.
func (r Record) FullName() string {
	switch {
	case r.FirstName == "":
		return r.LastName
	case r.LastName == "":
		return r.FirstName
	default:
		return r.FirstName + " " + r.LastName
	}
}

// Paging is the page metadata of a list response.
type Paging struct {
	Page       int `json:"page" validate:"gte=0"`
	Size       int `json:"size" validate:"gte=0"`
	TotalPages int `json:"totalPages" validate:"gte=0"`
	TotalItems int `json:"totalItems" validate:"gte=0"`
}

// Page is one page of the teacher list.
type Page struct {
	Content []Record `json:"content" validate:"dive"`
	Paging  Paging   `json:"paging"`
}

// Find returns the record with id on this page.
func (p Page) Find(id ID) (Record, bool) {
	for _, r := range p.Content {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Face links a stored face image to its teacher.
type Face struct {
	ID        ID     `json:"id" validate:"required"`
	TeacherID ID     `json:"teacherId"`
	ImgID     ID     `json:"imgId"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// Resolved reports whether the face already carries a displayable URL.
func (f Face) Resolved() bool { return f.ImageURL != "" }

// Blob is raw image content.
type Blob struct {
	Data        []byte
	ContentType string
}

// ListQuery selects one page of the teacher list.
type ListQuery struct {
	Page    int
	Size    int
	Keyword string
	Filter  map[string]any
}

type listRequest struct {
	Keyword string         `json:"keyword"`
	Filter  map[string]any `json:"filter"`
	Paging  pagingRequest  `json:"paging"`
}

type pagingRequest struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

type updateRequest struct {
	ID ID `json:"id"`
	Fields
}
