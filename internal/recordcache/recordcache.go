// Package recordcache implements the Record Cache external collaborator
// interface (spec §4.E): get/put/mtime against a caller-opted-in cache of
// previously fetched row sets, plus a SQLite-backed reference
// implementation.
package recordcache

import (
	"strconv"
	"strings"
	"time"
)

// Cache is the collaborator interface the Request Gateway consults when a
// caller opts a query into caching (spec §4.E, §6 "Record cache:
// get(key, ttl), put(key, value), mtime(key)").
type Cache interface {
	Get(key string, ttl time.Duration) ([]byte, bool)
	Put(key string, value []byte) error
	MTime(key string) (time.Time, bool)
}

// ParseTTL parses the human duration strings the configuration surface
// accepts ("1s", "3d"). time.ParseDuration already covers every unit
// except the calendar day, so ParseTTL only special-cases a trailing "d"
// before delegating; no example repo ships a calendar-duration parser, so
// extending the stdlib parser locally is preferable to adding a dependency
// for one unit.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
