package cache

import (
	"reflect"
	"time"
)

// Entry is the value stored under a key in both tiers. The durable tier holds
// its JSON encoding.
type Entry[T any] struct {
	Data      T         `json:"data"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is stale at now. An entry is still valid
// at exactly ExpiresAt.
func (e Entry[T]) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// isEmpty guards Set against overwriting a good entry with nothing: nil
// pointers, interfaces, maps and slices, and zero-length collections and
// strings count as empty.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.Slice, reflect.Map:
		return rv.IsNil() || rv.Len() == 0
	case reflect.Array, reflect.String:
		return rv.Len() == 0
	default:
		return false
	}
}
