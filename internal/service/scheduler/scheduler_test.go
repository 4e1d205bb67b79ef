package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ludo-service/internal/service/game"
	"ludo-service/internal/service/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fire struct {
	sessionID string
	seq       int64
}

type recordingRunner struct {
	mu    sync.Mutex
	fires []fire
	done  chan fire
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{done: make(chan fire, 16)}
}

func (r *recordingRunner) Continue(_ context.Context, sessionID string, seq int64) error {
	r.mu.Lock()
	r.fires = append(r.fires, fire{sessionID, seq})
	r.mu.Unlock()
	r.done <- fire{sessionID, seq}
	return nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func fastDurations() scheduler.Durations {
	return scheduler.Durations{
		RollDeadline: 20 * time.Millisecond,
		MoveDeadline: 40 * time.Millisecond,
		AutoPlay:     5 * time.Millisecond,
	}
}

func TestArmFiresWithSeq(t *testing.T) {
	s := scheduler.New(fastDurations())
	runner := newRecordingRunner()
	s.Bind(runner)

	deadline := s.Arm("s-1", game.TimerRollDeadline, 7)
	assert.False(t, deadline.IsZero())
	_, kind, ok := s.Deadline("s-1")
	require.True(t, ok)
	assert.Equal(t, game.TimerRollDeadline, kind)

	select {
	case f := <-runner.done:
		assert.Equal(t, fire{"s-1", 7}, f)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	assert.Equal(t, 0, s.Pending())
}

func TestArmReplacesPreviousTimer(t *testing.T) {
	s := scheduler.New(fastDurations())
	runner := newRecordingRunner()
	s.Bind(runner)

	s.Arm("s-1", game.TimerMoveDeadline, 1)
	s.Arm("s-1", game.TimerAutoPlay, 2)
	assert.Equal(t, 1, s.Pending())

	select {
	case f := <-runner.done:
		assert.Equal(t, int64(2), f.seq)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, runner.count())
}

func TestArmKeepsNewerSeq(t *testing.T) {
	s := scheduler.New(fastDurations())
	runner := newRecordingRunner()
	s.Bind(runner)

	newer := s.Arm("s-1", game.TimerMoveDeadline, 5)
	assert.Equal(t, newer, s.Arm("s-1", game.TimerAutoPlay, 3))
	deadline, kind, ok := s.Deadline("s-1")
	require.True(t, ok)
	assert.Equal(t, game.TimerMoveDeadline, kind)
	assert.Equal(t, newer, deadline)

	select {
	case f := <-runner.done:
		assert.Equal(t, fire{"s-1", 5}, f)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, runner.count())
}

func TestDisarmCancels(t *testing.T) {
	s := scheduler.New(fastDurations())
	runner := newRecordingRunner()
	s.Bind(runner)

	s.Arm("s-1", game.TimerAutoPlay, 1)
	s.Disarm("s-1")
	_, _, ok := s.Deadline("s-1")
	assert.False(t, ok)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, runner.count())
}

func TestStopIgnoresLaterArms(t *testing.T) {
	s := scheduler.New(fastDurations())
	runner := newRecordingRunner()
	s.Bind(runner)

	s.Arm("s-1", game.TimerAutoPlay, 1)
	s.Stop()
	s.Arm("s-2", game.TimerAutoPlay, 1)
	assert.Zero(t, s.Pending())

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, runner.count())
}

func TestSessionsAreIndependent(t *testing.T) {
	s := scheduler.New(fastDurations())
	runner := newRecordingRunner()
	s.Bind(runner)

	s.Arm("s-1", game.TimerAutoPlay, 1)
	s.Arm("s-2", game.TimerAutoPlay, 1)
	s.Disarm("s-1")

	select {
	case f := <-runner.done:
		assert.Equal(t, "s-2", f.sessionID)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}
