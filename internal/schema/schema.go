// Package schema holds the ordered, declarative history of the store layout.
//
// A Version lists every collection that exists at that version together with
// its unique and indexed fields, and optionally a set of pure transforms that
// rewrite existing records when the store advances to that version. Backends
// interpret the descriptors; nothing here touches storage.
package schema

import (
	"fmt"
	"math"
	"slices"

	"github.com/goccy/go-json"
)

// Record is one stored document. Keys are field names as persisted.
type Record map[string]any

// Clone returns a deep copy of r. Nested maps and slices are copied so a
// transform can never alias a record held by a backend.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []byte:
		return slices.Clone(t)
	default:
		return v
	}
}

const (
	Users         = "users"
	Products      = "products"
	Suppliers     = "suppliers"
	Customers     = "customers"
	Transactions  = "transactions"
	IncomingGoods = "incomingGoods"
	Settings      = "settings"
	Files         = "files"
)

// KeyField is the primary key field of every collection.
const KeyField = "id"

type Collection struct {
	Name string
	// AutoIncrement collections get int64 keys assigned by the store; the
	// others expect a caller supplied string key.
	AutoIncrement bool
	Unique        []string
	Indexed       []string
}

func (c Collection) IsUnique(field string) bool {
	return slices.Contains(c.Unique, field)
}

func (c Collection) IsIndexed(field string) bool {
	return slices.Contains(c.Indexed, field) || c.IsUnique(field)
}

// Transform rewrites one record of Collection. It must be pure and
// idempotent: applying it to a record already in the target shape returns an
// equivalent record.
type Transform struct {
	Collection string
	Name       string
	Apply      func(Record) (Record, error)
}

type Version struct {
	Number      int
	Collections []Collection
	Upgrade     []Transform
}

func (v Version) Collection(name string) (Collection, bool) {
	for _, c := range v.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// Validate checks that versions are ascending and contiguous from 1 and that
// every transform targets a collection declared by its version.
func Validate(versions []Version) error {
	if len(versions) == 0 {
		return fmt.Errorf("schema: no versions declared")
	}
	for i, v := range versions {
		if v.Number != i+1 {
			return fmt.Errorf("schema: version at position %d is %d, want %d", i, v.Number, i+1)
		}
		if len(v.Collections) == 0 {
			return fmt.Errorf("schema: version %d declares no collections", v.Number)
		}
		seen := make(map[string]struct{}, len(v.Collections))
		for _, c := range v.Collections {
			if c.Name == "" {
				return fmt.Errorf("schema: version %d has an unnamed collection", v.Number)
			}
			if _, dup := seen[c.Name]; dup {
				return fmt.Errorf("schema: version %d declares %q twice", v.Number, c.Name)
			}
			seen[c.Name] = struct{}{}
			if c.IsIndexed(KeyField) {
				return fmt.Errorf("schema: version %d indexes the primary key of %q", v.Number, c.Name)
			}
		}
		for _, t := range v.Upgrade {
			if t.Apply == nil {
				return fmt.Errorf("schema: version %d transform %q has no function", v.Number, t.Name)
			}
			if _, ok := seen[t.Collection]; !ok {
				return fmt.Errorf("schema: version %d transform %q targets undeclared collection %q", v.Number, t.Name, t.Collection)
			}
		}
	}
	return nil
}

// Versions returns the full history in ascending order.
func Versions() []Version {
	return slices.Clone(history)
}

func Latest() Version {
	return history[len(history)-1]
}

// Lookup returns the descriptor for version n.
func Lookup(n int) (Version, bool) {
	if n < 1 || n > len(history) {
		return Version{}, false
	}
	return history[n-1], true
}

// Normalize converts decoded JSON numbers in place: integral values become
// int64 and the rest float64. Backends call it on every record they decode so
// transforms and the codec see one numeric representation.
func Normalize(r Record) Record {
	for k, v := range r {
		r[k] = normalizeValue(v)
	}
	return r
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case map[string]any:
		return map[string]any(Normalize(Record(t)))
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	default:
		return v
	}
}
