package memory

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
)

type collection struct {
	spec    schema.Collection
	seq     int64
	records map[string]schema.Record
	unique  map[string]map[string]string
	index   map[string]map[string]map[string]struct{}
}

func newCollection(spec schema.Collection) *collection {
	c := &collection{
		spec:    spec,
		records: make(map[string]schema.Record),
	}
	c.resetIndexes()
	return c
}

func (c *collection) resetIndexes() {
	c.unique = make(map[string]map[string]string, len(c.spec.Unique))
	for _, field := range c.spec.Unique {
		c.unique[field] = make(map[string]string)
	}
	c.index = make(map[string]map[string]map[string]struct{}, len(c.spec.Indexed))
	for _, field := range c.spec.Indexed {
		c.index[field] = make(map[string]map[string]struct{})
	}
}

// keyOf converts a caller supplied key to the map key used internally.
func (c *collection) keyOf(key any) (string, error) {
	if c.spec.AutoIncrement {
		id, err := store.IntKey(key)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(id, 10), nil
	}
	s, ok := key.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s requires a string key", store.ErrInvalidTransaction, c.spec.Name)
	}
	return s, nil
}

func (c *collection) checkUnique(rec schema.Record, self string) error {
	for field, values := range c.unique {
		v, ok := store.IndexKey(rec[field])
		if !ok {
			continue
		}
		if owner, taken := values[v]; taken && owner != self {
			return fmt.Errorf("%w: %s.%s %q already exists", store.ErrConstraintViolation, c.spec.Name, field, v)
		}
	}
	return nil
}

func (c *collection) put(k string, rec schema.Record) {
	c.records[k] = rec
	for field, values := range c.unique {
		if v, ok := store.IndexKey(rec[field]); ok {
			values[v] = k
		}
	}
	for field, buckets := range c.index {
		v, ok := store.IndexKey(rec[field])
		if !ok {
			continue
		}
		bucket := buckets[v]
		if bucket == nil {
			bucket = make(map[string]struct{})
			buckets[v] = bucket
		}
		bucket[k] = struct{}{}
	}
}

func (c *collection) remove(k string) {
	rec, ok := c.records[k]
	if !ok {
		return
	}
	delete(c.records, k)
	for field, values := range c.unique {
		if v, ok := store.IndexKey(rec[field]); ok && values[v] == k {
			delete(values, v)
		}
	}
	for field, buckets := range c.index {
		if v, ok := store.IndexKey(rec[field]); ok {
			delete(buckets[v], k)
			if len(buckets[v]) == 0 {
				delete(buckets, v)
			}
		}
	}
}

// rebuild switches the collection to spec and re-derives every index from the
// stored records.
func (c *collection) rebuild(spec schema.Collection) error {
	c.spec = spec
	c.resetIndexes()
	for _, k := range c.sortedKeys() {
		rec := c.records[k]
		if err := c.checkUnique(rec, k); err != nil {
			return err
		}
		c.put(k, rec)
	}
	return nil
}

func (c *collection) sortedKeys() []string {
	keys := make([]string, 0, len(c.records))
	for k := range c.records {
		keys = append(keys, k)
	}
	c.sortKeys(keys)
	return keys
}

func (c *collection) sortKeys(keys []string) {
	if !c.spec.AutoIncrement {
		slices.Sort(keys)
		return
	}
	slices.SortFunc(keys, func(a, b string) int {
		ai, _ := strconv.ParseInt(a, 10, 64)
		bi, _ := strconv.ParseInt(b, 10, 64)
		return cmp.Compare(ai, bi)
	})
}

func (c *collection) find(q store.Query) []schema.Record {
	var candidates []string
	if q.Field != "" && c.spec.IsIndexed(q.Field) {
		v, ok := store.IndexKey(q.Value)
		if !ok {
			return nil
		}
		if values, isUnique := c.unique[q.Field]; isUnique {
			if k, found := values[v]; found {
				candidates = []string{k}
			}
		} else {
			for k := range c.index[q.Field][v] {
				candidates = append(candidates, k)
			}
			c.sortKeys(candidates)
		}
	} else {
		candidates = c.sortedKeys()
	}

	out := make([]schema.Record, 0, len(candidates))
	for _, k := range candidates {
		rec := c.records[k]
		if !q.Match(rec) {
			continue
		}
		out = append(out, rec.Clone())
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

func (c *collection) clone() *collection {
	cp := &collection{
		spec:    c.spec,
		seq:     c.seq,
		records: make(map[string]schema.Record, len(c.records)),
	}
	cp.resetIndexes()
	for k, rec := range c.records {
		cp.put(k, rec.Clone())
	}
	return cp
}
