// Package idalloc issues strictly increasing 64-bit ids for Points and
// Segments within a single process (C8). It is not durable across
// restarts; callers that need restart safety seed the allocator from a
// boot-time scan of the KV store's existing id space (see
// hybridstore.New), which is this implementation's answer to
// SPEC_FULL.md §9 open question 1.
package idalloc

import "sync/atomic"

// Allocator issues monotonically increasing ids for two independent id
// spaces: Points and Segments.
type Allocator struct {
	pointSeq   atomic.Int64
	segmentSeq atomic.Int64
}

// New creates an allocator starting strictly above the given high-water
// marks. Pass 0 for a fresh process with no prior ids observed.
func New(pointHighWaterMark, segmentHighWaterMark int64) *Allocator {
	a := &Allocator{}
	a.pointSeq.Store(pointHighWaterMark)
	a.segmentSeq.Store(segmentHighWaterMark)
	return a
}

// NextPointID returns the next Point id, strictly greater than any id
// previously returned by this allocator instance.
func (a *Allocator) NextPointID() int64 {
	return a.pointSeq.Add(1)
}

// NextSegmentID returns the next Segment id, strictly greater than any id
// previously returned by this allocator instance.
func (a *Allocator) NextSegmentID() int64 {
	return a.segmentSeq.Add(1)
}
