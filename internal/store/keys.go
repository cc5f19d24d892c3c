package store

import (
	"fmt"
	"strconv"
	"strings"
)

// IndexKey renders an indexable value as a string. Missing values are not
// indexed and report ok=false.
func IndexKey(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return fmt.Sprint(t), true
	}
}

// ValueEqual compares two stored scalars by their index form, so int and
// int64 of the same value match.
func ValueEqual(a, b any) bool {
	ka, okA := IndexKey(a)
	kb, okB := IndexKey(b)
	return okA == okB && ka == kb
}

// IntKey converts an auto-increment key to int64.
func IntKey(key any) (int64, error) {
	switch t := key.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: key %q is not an integer", ErrNotFound, t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unsupported key type %T", ErrNotFound, key)
	}
}
