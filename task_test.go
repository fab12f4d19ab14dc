package loopwire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTaskStartSuspendResumeTerminate(t *testing.T) {
	var trace []string
	task := NewTask(func(tk *Task) error {
		trace = append(trace, "a")
		if err := tk.Suspend(); err != nil {
			return err
		}
		trace = append(trace, "b")
		if err := tk.Suspend(); err != nil {
			return err
		}
		trace = append(trace, "c")
		return nil
	})

	require.Equal(t, StateFresh, task.State())
	suspended, err := task.Start()
	require.True(t, suspended)
	require.NoError(t, err)
	require.Equal(t, StateSuspended, task.State())
	require.Equal(t, []string{"a"}, trace)

	suspended, err = task.Resume(nil)
	require.True(t, suspended)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, trace)

	suspended, err = task.Resume(nil)
	require.False(t, suspended)
	require.NoError(t, err)
	require.Equal(t, StateTerminated, task.State())
	require.Equal(t, []string{"a", "b", "c"}, trace)
}

func TestTaskResumeAfterTerminatedIsLogicError(t *testing.T) {
	task := NewTask(func(tk *Task) error { return nil })
	_, err := task.Start()
	require.NoError(t, err)
	require.Equal(t, StateTerminated, task.State())

	require.PanicsWithValue(t, ErrTaskTerminated, func() {
		task.Resume(nil)
	})
}

func TestTaskStartRequiresFresh(t *testing.T) {
	task := NewTask(func(tk *Task) error {
		return tk.Suspend()
	})
	task.Start()
	require.Panics(t, func() { task.Start() })
	task.Cancel(NewError("test", KindTimeout, "cleanup"))
}

func TestTaskCancelUnparksSuspendedGoroutine(t *testing.T) {
	cancelFailure := NewError("test", KindTimeout, "cancelled")
	var observed error
	task := NewTask(func(tk *Task) error {
		for {
			if err := tk.Suspend(); err != nil {
				observed = err
				return err
			}
		}
	})
	task.Start()
	err := task.Cancel(cancelFailure)
	require.ErrorIs(t, err, cancelFailure)
	require.Equal(t, StateTerminated, task.State())
	require.Equal(t, cancelFailure, observed)
}

func TestTaskResetAllowsRestart(t *testing.T) {
	calls := 0
	body := func(tk *Task) error {
		calls++
		return nil
	}
	task := NewTask(body)
	task.Start()
	require.Equal(t, 1, calls)

	task.Reset(body)
	require.Equal(t, StateFresh, task.State())
	task.Start()
	require.Equal(t, 2, calls)
}

func TestTaskPanicInBodyIsDeliveredAsError(t *testing.T) {
	boom := NewError("body", KindInvariant, "boom")
	task := NewTask(func(tk *Task) error {
		panic(boom)
	})
	_, err := task.Start()
	require.True(t, errors.Is(err, boom))
}
