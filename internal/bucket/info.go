// Package bucket implements a dense non-empty-bucket tracker: constant-time
// iteration over a hash table's occupied buckets, backed by a packed array
// and an index map kept in lockstep with it (the same "dense slice +
// position index" texture a container/heap-based index uses to keep its own
// bookkeeping in sync with Swap).
package bucket

import "go.uber.org/atomic"

// Entry is one non-empty bucket's tracked state.
type Entry struct {
	BucketIndex int
	Length      int
}

// Info tracks, for a hash table of nBuckets buckets, which buckets are
// currently non-empty, densely packed so FilledBuckets is O(filledCount).
type Info struct {
	nBuckets int
	buckets  []Entry // buckets[0:filledCount] are the non-empty ones
	indexMap []int   // indexMap[bucketIndex] -> position in buckets, or -1
	total    atomic.Int64
}

// New creates an Info for a hash table with nBuckets buckets.
func New(nBuckets int) *Info {
	b := &Info{nBuckets: nBuckets}
	b.ClearResize(nBuckets)
	return b
}

// Put creates the bucket's entry if absent, otherwise increments its length.
func (b *Info) Put(bucketIdx int) {
	if pos := b.indexMap[bucketIdx]; pos >= 0 {
		b.buckets[pos].Length++
	} else {
		b.create(bucketIdx)
	}
	b.total.Add(1)
}

// Create inserts a new entry for bucketIdx. It panics if the bucket is
// already tracked as non-empty.
func (b *Info) Create(bucketIdx int) {
	if b.indexMap[bucketIdx] >= 0 {
		panic("bucket: Create called on an already-non-empty bucket")
	}
	b.create(bucketIdx)
	b.total.Add(1)
}

func (b *Info) create(bucketIdx int) {
	pos := len(b.buckets)
	b.buckets = append(b.buckets, Entry{BucketIndex: bucketIdx, Length: 1})
	b.indexMap[bucketIdx] = pos
}

// Update increments an existing, already-non-empty bucket's length. It
// panics if the bucket is currently empty.
func (b *Info) Update(bucketIdx int) {
	pos := b.indexMap[bucketIdx]
	if pos < 0 {
		panic("bucket: Update called on an empty bucket")
	}
	b.buckets[pos].Length++
	b.total.Add(1)
}

// Remove decrements bucketIdx's length; once it reaches zero the entry is
// swap-removed from the dense array and indexMap is updated for whichever
// entry took its place.
func (b *Info) Remove(bucketIdx int) {
	pos := b.indexMap[bucketIdx]
	if pos < 0 {
		panic("bucket: Remove called on an empty bucket")
	}
	b.buckets[pos].Length--
	b.total.Add(-1)
	if b.buckets[pos].Length > 0 {
		return
	}

	last := len(b.buckets) - 1
	if pos != last {
		b.buckets[pos] = b.buckets[last]
		b.indexMap[b.buckets[pos].BucketIndex] = pos
	}
	b.buckets = b.buckets[:last]
	b.indexMap[bucketIdx] = -1
}

// Clear empties every bucket without changing the tracked bucket count.
func (b *Info) Clear() {
	b.buckets = b.buckets[:0]
	for i := range b.indexMap {
		b.indexMap[i] = -1
	}
	b.total.Store(0)
}

// ClearResize empties the tracker and resizes it to track n buckets.
func (b *Info) ClearResize(n int) {
	b.nBuckets = n
	b.buckets = make([]Entry, 0, n)
	b.indexMap = make([]int, n)
	for i := range b.indexMap {
		b.indexMap[i] = -1
	}
	b.total.Store(0)
}

// FilledBuckets returns the dense slice of currently non-empty buckets. The
// returned slice aliases internal storage and must not be retained across a
// mutating call.
func (b *Info) FilledBuckets() []Entry { return b.buckets }

// TotalElementCount returns the sum of all tracked buckets' lengths.
func (b *Info) TotalElementCount() int64 { return b.total.Load() }

// NumBuckets returns the total number of buckets this Info was sized for.
func (b *Info) NumBuckets() int { return b.nBuckets }
