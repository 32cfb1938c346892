package morphz

import (
	"reflect"
	"sync"
)

var (
	// labelCache stores the string representation of types to avoid repeated reflection.
	labelCache = make(map[reflect.Type]string)
	// labelMu protects concurrent access to the label cache.
	labelMu sync.RWMutex
)

// typeLabel returns the cached string representation of a type T.
// The result is cached after the first call for each unique type,
// making subsequent calls efficient. This function is safe for concurrent use.
func typeLabel[T any]() string {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	labelMu.RLock()
	if name, ok := labelCache[typ]; ok {
		labelMu.RUnlock()
		return name
	}
	labelMu.RUnlock()

	labelMu.Lock()
	defer labelMu.Unlock()

	// Double-check after acquiring write lock
	if name, ok := labelCache[typ]; ok {
		return name
	}

	name := typ.String()
	labelCache[typ] = name
	return name
}
