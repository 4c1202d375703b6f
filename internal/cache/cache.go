// Package cache is a small byte cache used to serve recent canonical metrics
// without re-hitting the providers.
package cache

import "time"

type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}
