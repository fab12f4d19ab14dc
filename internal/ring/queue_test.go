package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestConcreteWrapScenario drives a queue whose capacity is sized for
// exactly three 1-byte items, then wraps.
func TestConcreteWrapScenario(t *testing.T) {
	q := New(3 * PushSize(1))

	require.True(t, q.Push([]byte("1")))
	require.True(t, q.Push([]byte("2")))
	require.True(t, q.Push([]byte("3")))
	require.False(t, q.Push([]byte("4")), "queue is full, push must fail without modifying state")

	for _, want := range []string{"1", "2", "3"} {
		got, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, want, string(got))
	}
	require.True(t, q.IsEmpty())

	require.True(t, q.Push([]byte("a")))
	require.True(t, q.Push([]byte("b")))
	gotA, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "a", string(gotA))
	gotB, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "b", string(gotB))
}

// TestPushPopOrder checks that items pop in the order they were pushed.
func TestPushPopOrder(t *testing.T) {
	items := [][]byte{[]byte("hello"), []byte("world"), []byte("x"), []byte("yz")}
	total := 0
	for _, it := range items {
		total += PushSize(len(it))
	}
	q := New(total)
	for _, it := range items {
		require.True(t, q.Push(it))
	}
	for _, want := range items {
		got, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := q.Pop()
	require.False(t, ok)
}

// TestUsedFreeAccounting checks that UsedSpace and FreeSpace always sum to
// capacity and track pushes/pops correctly.
func TestUsedFreeAccounting(t *testing.T) {
	q := New(64)
	require.Equal(t, 0, q.UsedSpace())
	require.Equal(t, 64, q.FreeSpace())

	require.True(t, q.Push([]byte("abcde")))
	require.Equal(t, q.capacity, q.UsedSpace()+q.FreeSpace())
	require.Equal(t, PushSize(5), q.UsedSpace())

	_, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 0, q.UsedSpace())
	require.True(t, q.IsEmpty())
}

// TestNoSplitAcrossWrap drives a long interleaved push/pop sequence and
// checks every popped payload is intact (never split across the wrap
// boundary, which would corrupt the header or the payload bytes).
func TestNoSplitAcrossWrap(t *testing.T) {
	q := New(PushSize(4) * 3)
	var pending [][]byte

	push := func(s string) {
		b := []byte(s)
		if q.Push(b) {
			pending = append(pending, b)
		}
	}
	pop := func() {
		if len(pending) == 0 {
			return
		}
		got, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, pending[0], got)
		pending = pending[1:]
	}

	for i := 0; i < 50; i++ {
		push("abcd")
		push("ef")
		pop()
		push("g")
		pop()
	}
	for len(pending) > 0 {
		pop()
	}
	require.True(t, q.IsEmpty())
}

func TestPushRejectsEmptyOrOversize(t *testing.T) {
	q := New(16)
	require.False(t, q.Push(nil))
	require.False(t, q.Push([]byte{}))
	require.False(t, q.Push(make([]byte, 100)))
	require.Equal(t, 0, q.UsedSpace())
}

func TestClear(t *testing.T) {
	q := New(32)
	require.True(t, q.Push([]byte("abc")))
	q.Clear()
	require.True(t, q.IsEmpty())
	require.Equal(t, 0, q.Length())
	require.Equal(t, 32, q.FreeSpace())
}

func TestRestoreRoundTrip(t *testing.T) {
	q := New(32)
	require.True(t, q.Push([]byte("abc")))
	require.True(t, q.Push([]byte("de")))
	_, ok := q.Pop()
	require.True(t, ok)

	gap, writeTo, readFrom, itemCount := q.Cursors()
	r := Restore(gap, writeTo, readFrom, itemCount, q.Buffer())
	require.Equal(t, q.UsedSpace(), r.UsedSpace())
	require.Equal(t, q.Length(), r.Length())

	got, ok := r.Pop()
	require.True(t, ok)
	require.Equal(t, "de", string(got))
}
