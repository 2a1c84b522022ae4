// Package model defines the CRUD capability controllers use to reach persisted
// records, together with in-memory, SQL and cached implementations.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	cerrors "github.com/ship-components/ceres-framework-sub000/internal/errors"
)

// Record is one persisted document.
type Record map[string]interface{}

// ID returns the record id as a string, or "" when absent.
func (r Record) ID() string {
	return idString(r["id"])
}

// Model is the uniform CRUD capability consumed by the default controller handlers.
type Model interface {
	ReadAll(ctx context.Context) ([]Record, error)
	// Read returns the records for key. A single-id key yields at most one record.
	Read(ctx context.Context, key Key) ([]Record, error)
	// Find returns the records whose fields equal every entry of query.
	Find(ctx context.Context, query Record) ([]Record, error)
	Create(ctx context.Context, body Record) (Record, error)
	Update(ctx context.Context, body Record, id string) (Record, error)
	UpdateAll(ctx context.Context, bodies []Record) ([]Record, error)
	Del(ctx context.Context, id string) error
}

// Key addresses one or more records.
type Key struct {
	IDs  []string
	Bulk bool
}

// ID addresses a single record.
func ID(id string) Key { return Key{IDs: []string{id}} }

// IDs addresses several records.
func IDs(ids ...string) Key { return Key{IDs: ids, Bulk: true} }

// Single reports whether the key addresses exactly one record.
func (k Key) Single() bool { return !k.Bulk && len(k.IDs) == 1 }

// KeyFrom accepts a raw id (string or number), an id wrapped in {"id": ...}
// or a list of ids.
func KeyFrom(v interface{}) (Key, error) {
	switch t := v.(type) {
	case Key:
		return t, nil
	case map[string]interface{}:
		return KeyFrom(t["id"])
	case Record:
		return KeyFrom(t["id"])
	case []string:
		return IDs(t...), nil
	case []interface{}:
		ids := make([]string, 0, len(t))
		for _, item := range t {
			id := idString(item)
			if id == "" {
				return Key{}, cerrors.BadRequest(fmt.Sprintf("invalid id %v", item))
			}
			ids = append(ids, id)
		}
		return IDs(ids...), nil
	default:
		id := idString(v)
		if id == "" {
			return Key{}, cerrors.BadRequest("id is required")
		}
		return ID(id), nil
	}
}

func idString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// matches reports whether r contains every field of query with an equal value.
func matches(r, query Record) bool {
	for k, want := range query {
		got, ok := r[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func notFound(name, id string) error {
	return cerrors.NotFound(fmt.Sprintf("%s %s", name, id))
}

func clone(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
