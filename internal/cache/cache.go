// Package cache holds small in-process caches shared by the services.
package cache

// Cache is a string-keyed store of T values.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)

	// Len returns the number of live entries.
	Len() int
}

var _ Cache[bool] = (*LRU[bool])(nil)
