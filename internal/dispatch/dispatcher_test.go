package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/atelierhq/atelier/internal/config"
	gendomain "github.com/atelierhq/atelier/internal/generation/domain"
	providerdomain "github.com/atelierhq/atelier/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedCaller struct {
	submitErr error
	polls     []providerdomain.JobPoll
	mu        sync.Mutex
	calls     int
}

func (c *scriptedCaller) Provider() string { return "stub" }

func (c *scriptedCaller) Submit(context.Context, string, map[string]any) (string, error) {
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return "job-1", nil
}

func (c *scriptedCaller) Poll(context.Context, string) (providerdomain.JobPoll, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	if idx >= len(c.polls) {
		idx = len(c.polls) - 1
	}
	c.calls++
	return c.polls[idx], nil
}

type singleCallerSource struct {
	caller providerdomain.JobCaller
}

func (s singleCallerSource) Caller(string) (providerdomain.JobCaller, error) {
	if s.caller == nil {
		return nil, providerdomain.ErrProviderNotFound
	}
	return s.caller, nil
}

type transition struct {
	state gendomain.TaskState
	kind  gendomain.ErrorKind
	msg   string
}

type recordingTracker struct {
	mu          sync.Mutex
	transitions map[snowflake.ID][]transition
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{transitions: map[snowflake.ID][]transition{}}
}

func (r *recordingTracker) MarkProcessing(_ context.Context, taskID snowflake.ID) error {
	r.record(taskID, transition{state: gendomain.TaskStateProcessing})
	return nil
}

func (r *recordingTracker) MarkSuccess(_ context.Context, taskID snowflake.ID, result *providerdomain.JobResult) error {
	r.record(taskID, transition{state: gendomain.TaskStateSuccess, msg: result.ModelURL})
	return nil
}

func (r *recordingTracker) MarkError(_ context.Context, taskID snowflake.ID, kind gendomain.ErrorKind, message string) error {
	r.record(taskID, transition{state: gendomain.TaskStateError, kind: kind, msg: message})
	return nil
}

func (r *recordingTracker) record(taskID snowflake.ID, tr transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions[taskID] = append(r.transitions[taskID], tr)
}

func (r *recordingTracker) last(taskID snowflake.ID) (transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trs := r.transitions[taskID]
	if len(trs) == 0 {
		return transition{}, false
	}
	return trs[len(trs)-1], true
}

func newTestDispatcher(caller providerdomain.JobCaller, tracker gendomain.Tracker, queueSize int) *Dispatcher {
	return newDispatcher(config.DispatchConfig{
		Workers:      2,
		QueueSize:    queueSize,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  250 * time.Millisecond,
	}, zap.NewNop(), singleCallerSource{caller: caller}, tracker)
}

func TestDispatcher_RunsJobToSuccess(t *testing.T) {
	caller := &scriptedCaller{polls: []providerdomain.JobPoll{
		{State: providerdomain.JobStatePending},
		{State: providerdomain.JobStateDone, Result: &providerdomain.JobResult{
			JobID:    "job-1",
			Format:   "glb",
			ModelURL: "https://files.example.com/a.glb",
		}},
	}}
	tracker := newRecordingTracker()
	d := newTestDispatcher(caller, tracker, 8)
	d.Start()
	defer d.Stop()

	taskID := snowflake.ID(1001)
	require.NoError(t, d.Enqueue(gendomain.DispatchJob{TaskID: taskID, Provider: "stub", Action: "text_to_model"}))

	require.Eventually(t, func() bool {
		last, ok := tracker.last(taskID)
		return ok && last.state == gendomain.TaskStateSuccess
	}, 2*time.Second, 5*time.Millisecond)

	last, _ := tracker.last(taskID)
	assert.Equal(t, "https://files.example.com/a.glb", last.msg)
}

func TestDispatcher_TimeoutMarksTask(t *testing.T) {
	caller := &scriptedCaller{polls: []providerdomain.JobPoll{{State: providerdomain.JobStatePending}}}
	tracker := newRecordingTracker()
	d := newTestDispatcher(caller, tracker, 8)
	d.Start()
	defer d.Stop()

	taskID := snowflake.ID(1002)
	require.NoError(t, d.Enqueue(gendomain.DispatchJob{TaskID: taskID, Provider: "stub"}))

	require.Eventually(t, func() bool {
		last, ok := tracker.last(taskID)
		return ok && last.state == gendomain.TaskStateError
	}, 2*time.Second, 5*time.Millisecond)

	last, _ := tracker.last(taskID)
	assert.Equal(t, gendomain.ErrorKindTimeout, last.kind)
}

func TestDispatcher_SubmitFailureClassified(t *testing.T) {
	caller := &scriptedCaller{
		submitErr: fmt.Errorf("%w: check your API key", providerdomain.ErrInvalidCredentials),
	}
	tracker := newRecordingTracker()
	d := newTestDispatcher(caller, tracker, 8)
	d.Start()
	defer d.Stop()

	taskID := snowflake.ID(1003)
	require.NoError(t, d.Enqueue(gendomain.DispatchJob{TaskID: taskID, Provider: "stub"}))

	require.Eventually(t, func() bool {
		last, ok := tracker.last(taskID)
		return ok && last.state == gendomain.TaskStateError
	}, 2*time.Second, 5*time.Millisecond)

	last, _ := tracker.last(taskID)
	assert.Equal(t, gendomain.ErrorKindInvalidCredentials, last.kind)
}

func TestDispatcher_QueueFull(t *testing.T) {
	// Not started: nothing drains the queue.
	d := newTestDispatcher(&scriptedCaller{}, newRecordingTracker(), 1)

	require.NoError(t, d.Enqueue(gendomain.DispatchJob{TaskID: 1, Provider: "stub"}))
	assert.ErrorIs(t, d.Enqueue(gendomain.DispatchJob{TaskID: 2, Provider: "stub"}), ErrQueueFull)
}

func TestDispatcher_StoppedRejects(t *testing.T) {
	d := newTestDispatcher(&scriptedCaller{}, newRecordingTracker(), 8)
	d.Start()
	d.Stop()

	assert.ErrorIs(t, d.Enqueue(gendomain.DispatchJob{TaskID: 3, Provider: "stub"}), ErrStopped)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want gendomain.ErrorKind
	}{
		{fmt.Errorf("%w: boom", providerdomain.ErrInvalidCredentials), gendomain.ErrorKindInvalidCredentials},
		{fmt.Errorf("%w: still running", providerdomain.ErrTimeout), gendomain.ErrorKindTimeout},
		{fmt.Errorf("%w: connection reset", providerdomain.ErrTransport), gendomain.ErrorKindTransport},
		{fmt.Errorf("%w: bad request", providerdomain.ErrProvider), gendomain.ErrorKindProvider},
		{context.Canceled, gendomain.ErrorKindServer},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, classify(tc.err), tc.err.Error())
	}
}
