// Package ratelimit implements the two-bucket concurrency gate spec §4.B
// describes: independent read/write buckets that a request holds for its
// entire lifetime (acquire-at-dispatch, release-on-every-exit-path).
package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Direction selects which bucket a request draws from. GET/HEAD draw from
// the read bucket; every other method draws from the write bucket.
type Direction int

const (
	Read Direction = iota
	Write
)

const (
	// DefaultReadConcurrency is the default size of the read bucket.
	DefaultReadConcurrency = 40
	// DefaultWriteConcurrency is the default size of the write bucket.
	DefaultWriteConcurrency = 80
)

// bucket pairs a semaphore with an atomic counter of tokens currently held,
// so InUse can report a live count without racily probing the semaphore.
type bucket struct {
	sem    *semaphore.Weighted
	inUse  int64
}

func newBucket(capacity int64) *bucket {
	return &bucket{sem: semaphore.NewWeighted(capacity)}
}

func (b *bucket) acquire(ctx context.Context) (func(), error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	atomic.AddInt64(&b.inUse, 1)
	released := int32(0)
	return func() {
		if atomic.CompareAndSwapInt32(&released, 0, 1) {
			atomic.AddInt64(&b.inUse, -1)
			b.sem.Release(1)
		}
	}, nil
}

// Limiter holds the two independent token buckets. semaphore.Weighted is
// the direct fit for "acquire one token, hold it for the whole request,
// release on every exit path including errors and retries" (spec §4.B,
// §5): Acquire blocks until capacity frees up, and Release is safe to call
// from a defer alongside early-return error paths and retry loops.
type Limiter struct {
	read  *bucket
	write *bucket
}

// New creates a Limiter. A cap <= 0 falls back to the package default.
func New(readConcurrency, writeConcurrency int) *Limiter {
	if readConcurrency <= 0 {
		readConcurrency = DefaultReadConcurrency
	}
	if writeConcurrency <= 0 {
		writeConcurrency = DefaultWriteConcurrency
	}
	return &Limiter{
		read:  newBucket(int64(readConcurrency)),
		write: newBucket(int64(writeConcurrency)),
	}
}

// DirectionForMethod maps an HTTP method to its bucket, per spec §4.B.
func DirectionForMethod(method string) Direction {
	switch method {
	case "GET", "HEAD":
		return Read
	default:
		return Write
	}
}

// Acquire blocks until a token is available in the bucket for dir, or ctx is
// canceled. The returned release function must be called exactly once on
// every exit path (success, error, or retry) to free the token; it is safe
// to call more than once (subsequent calls are no-ops).
func (l *Limiter) Acquire(ctx context.Context, dir Direction) (release func(), err error) {
	return l.bucketFor(dir).acquire(ctx)
}

// InUse reports the live count of tokens currently held in the bucket for
// dir, for observability (spec §4.B "bucket exposes a live count").
func (l *Limiter) InUse(dir Direction) int64 {
	return atomic.LoadInt64(&l.bucketFor(dir).inUse)
}

func (l *Limiter) bucketFor(dir Direction) *bucket {
	if dir == Write {
		return l.write
	}
	return l.read
}
