package file

import (
	"path/filepath"
	"strings"
	"time"

	"mercator-hq/unistore/pkg/storage"
)

// Layout decides the directory a record is stored in.
type Layout string

const (
	LayoutFlat         Layout = "flat"
	LayoutByType       Layout = "by_type"
	LayoutByDate       Layout = "by_date"
	LayoutHierarchical Layout = "hierarchical"
)

// defaultTypeDir holds records without a type.
const defaultTypeDir = "default"

func (l Layout) valid() bool {
	switch l {
	case LayoutFlat, LayoutByType, LayoutByDate, LayoutHierarchical:
		return true
	}
	return false
}

// Dir returns the directory of rec relative to the store root. Records
// without created_at are placed by now.
func (l Layout) Dir(rec storage.Record, now time.Time) string {
	switch l {
	case LayoutByType:
		return typeDir(rec.Type())
	case LayoutByDate:
		return dateDir(rec.CreatedAt(), now)
	case LayoutHierarchical:
		return filepath.Join(typeDir(rec.Type()), dateDir(rec.CreatedAt(), now))
	}
	return ""
}

func typeDir(t string) string {
	if t == "" {
		return defaultTypeDir
	}
	// Types become path segments; strip anything that would escape one.
	t = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0 || r < 0x20:
			return '_'
		}
		return r
	}, t)
	if t == "." || t == ".." || strings.HasPrefix(t, ".") {
		t = "_" + strings.TrimLeft(t, ".")
	}
	return t
}

func dateDir(created, now time.Time) string {
	if created.IsZero() {
		created = now
	}
	return created.UTC().Format(filepath.Join("2006", "01", "02"))
}
