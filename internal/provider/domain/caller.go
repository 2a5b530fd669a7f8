// Package domain defines the remote job calling contract shared by every
// generation provider.
package domain

import (
	"context"
	"fmt"
	"time"
)

// JobState is the normalized status of a remote job.
type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateDone    JobState = "done"
	JobStateFailed  JobState = "failed"
)

// JobResult is the provider-neutral shape of a finished job. The orchestrator
// never branches on provider identity beyond constructing the right caller.
type JobResult struct {
	JobID      string         `json:"job_id"`
	Format     string         `json:"format"`
	ModelURL   string         `json:"model_url"`
	PreviewURL string         `json:"preview_url,omitempty"`
	Usage      map[string]any `json:"usage,omitempty"`
}

// JobPoll is one poll observation. Result is set only when State is done,
// ErrorMessage only when State is failed.
type JobPoll struct {
	State        JobState
	Result       *JobResult
	ErrorMessage string
}

// JobCaller submits a remote job and reports its progress.
type JobCaller interface {
	Provider() string
	Submit(ctx context.Context, action string, payload map[string]any) (string, error)
	Poll(ctx context.Context, jobID string) (JobPoll, error)
}

// WaitForJob polls until the job reaches a terminal state or the wall-clock
// timeout elapses. A failed status is terminal and is never retried here.
func WaitForJob(ctx context.Context, caller JobCaller, jobID string, interval, timeout time.Duration) (*JobResult, error) {
	if interval <= 0 {
		interval = time.Second
	}

	timeoutC := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		poll, err := caller.Poll(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch poll.State {
		case JobStateDone:
			if poll.Result == nil {
				return nil, fmt.Errorf("%w: job %s reported done without a result", ErrProvider, jobID)
			}
			return poll.Result, nil
		case JobStateFailed:
			return nil, fmt.Errorf("%w: %s", ErrProvider, poll.ErrorMessage)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutC:
			return nil, fmt.Errorf("%w: job %s still running after %s", ErrTimeout, jobID, timeout)
		case <-ticker.C:
		}
	}
}
