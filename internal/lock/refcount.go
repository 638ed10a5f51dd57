package locking

// Pin count of a cached resource. A resource may only be evicted once its
// count is back to zero.

import (
	"fmt"
	"sync/atomic"
)

// RefCount is ready to use at zero.
type RefCount struct {
	count atomic.Int32
}

func (r *RefCount) Inc() int32 {
	return r.count.Add(1)
}

// Dec drops one reference and reports whether none are left. Going below
// zero means a resource was released more often than it was acquired.
func (r *RefCount) Dec() bool {
	n := r.count.Add(-1)
	if n < 0 {
		panic("refcount dropped below zero")
	}
	return n == 0
}

func (r *RefCount) Get() int32 {
	return r.count.Load()
}

func (r *RefCount) String() string {
	return fmt.Sprintf("RefCount: %d", r.Get())
}
