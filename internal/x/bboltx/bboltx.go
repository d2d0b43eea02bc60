// Package bboltx provides BoltDB helpers that use panics for error handling
// within transaction closures.
package bboltx

import (
	"context"
	"os"

	"github.com/dogmatiq/linger"
	"go.etcd.io/bbolt"
)

// PanicSentinel identifies panics caused by the Must() function.
type PanicSentinel struct {
	// Cause is the error that caused the panic.
	Cause error
}

// Must panics if err is non-nil.
func Must(err error) {
	if err != nil {
		panic(PanicSentinel{err})
	}
}

// Recover recovers from a panic caused by Must().
//
// It is intended to be used in a defer statement. The error that caused the
// panic is assigned to *err. Unrelated panics are re-raised.
func Recover(err *error) {
	if err == nil {
		panic("err must be a non-nil pointer")
	}

	switch v := recover().(type) {
	case PanicSentinel:
		*err = v.Cause
	case nil:
	default:
		panic(v)
	}
}

// Open opens the database file at the given path.
//
// If mode is zero, 0600 is used. If the context deadline is sooner than the
// timeout in opts, the deadline is used as the file-lock timeout instead.
func Open(
	ctx context.Context,
	path string,
	mode os.FileMode,
	opts *bbolt.Options,
) (*bbolt.DB, error) {
	if mode == 0 {
		mode = 0600
	}

	if ctx.Err() != nil {
		// A non-positive timeout in the BoltDB options means "use the
		// default", so an already-ended context must be handled here.
		return nil, ctx.Err()
	}

	if timeout, ok := linger.FromContextDeadline(ctx); ok {
		if opts == nil {
			clone := *bbolt.DefaultOptions
			clone.Timeout = timeout
			opts = &clone
		} else if opts.Timeout == 0 || opts.Timeout > timeout {
			clone := *opts
			clone.Timeout = timeout
			opts = &clone
		}
	}

	db, err := bbolt.Open(path, mode, opts)

	if err != nil && err.Error() == "timeout" {
		err = context.DeadlineExceeded
	}

	return db, err
}

// CreateBucketIfNotExists creates nested buckets with names given by the
// elements of path, within the given transaction.
func CreateBucketIfNotExists(tx *bbolt.Tx, path ...[]byte) *bbolt.Bucket {
	if len(path) == 0 {
		panic("at least one path element must be provided")
	}

	b, err := tx.CreateBucketIfNotExists(path[0])
	Must(err)

	for _, n := range path[1:] {
		b, err = b.CreateBucketIfNotExists(n)
		Must(err)
	}

	return b
}

// Bucket gets nested buckets with names given by the elements of path, within
// the given transaction.
//
// It returns nil if any of the nested buckets does not exist.
func Bucket(tx *bbolt.Tx, path ...[]byte) *bbolt.Bucket {
	if len(path) == 0 {
		panic("at least one path element must be provided")
	}

	b := tx.Bucket(path[0])

	for _, n := range path[1:] {
		if b == nil {
			return nil
		}

		b = b.Bucket(n)
	}

	return b
}

// Put writes a value to a bucket.
func Put(b *bbolt.Bucket, k, v []byte) {
	Must(b.Put(k, v))
}
