package rostercache

import (
	"strings"
	"unicode"

	"github.com/shaxzod-muhandis/Admin-Panel/cache"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

const (
	methodListPage  = "ListPage"
	methodGetOne    = "GetOne"
	methodListFaces = "ListFaces"
)

// Keys builds the query keys of one resource kind.
type Keys struct {
	namespace  string
	serializer cache.KeySerializer
}

// NewKeys returns the key builder for kind, e.g. "Teacher" -> "teacher::...".
func NewKeys(kind string) Keys {
	ns := toSnake(kind)
	if ns == "" {
		ns = "teacher"
	}
	return Keys{namespace: ns, serializer: cache.NewNamespacedKeySerializer(ns)}
}

// Namespace is the root segment shared by every key of this kind.
func (k Keys) Namespace() string { return k.namespace }

// ListPrefix covers every cached page regardless of paging or filter.
func (k Keys) ListPrefix() string {
	return cache.JoinKey(k.namespace, methodListPage)
}

// ListPage is the key of one page query.
func (k Keys) ListPage(q teachers.ListQuery) string {
	return k.serializer.SerializeKey(methodListPage, q.Page, q.Size, q.Keyword, q.Filter)
}

// Record is the key of a single-record read.
func (k Keys) Record(id teachers.ID) string {
	return k.serializer.SerializeKey(methodGetOne, id)
}

// Faces is the key of a record's face list.
func (k Keys) Faces(id teachers.ID) string {
	return k.serializer.SerializeKey(methodListFaces, id)
}

// toSnake lowercases s and separates words with '_'. Anything that is not a
// letter or digit becomes a separator so the namespace never contains the
// key separator.
func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	sep := false
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 && !sep {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			sep = false
		case unicode.IsLower(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			sep = false
		default:
			if b.Len() > 0 && !sep {
				b.WriteByte('_')
				sep = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
