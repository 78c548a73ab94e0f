package handles

import "github.com/pkg/errors"

// TooManyObjectsError is returned from Pool.Insert and Store.Insert when every
// slot in the pool currently holds a live value. The caller may free an object
// and retry.
var TooManyObjectsError error = errors.New("pool is full of live objects")

// ExhaustedError is returned from Pool.Insert when the pool has no free slots
// and cannot materialize new ones because the remaining capacity has been
// permanently retired. No amount of freeing will ever make Insert succeed
// again.
var ExhaustedError error = errors.New("pool has permanently exhausted its slots")
