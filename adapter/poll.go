package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/ferro-labs/videoforge/contract"
)

// RunPollingAdapter drives pa's submit-then-poll loop to completion: submit
// once, then poll on pa's own interval until the job reports a terminal
// state or the context is cancelled. The router uses this to drive every
// PollingAdapter without needing to know its submit/poll mechanics.
func RunPollingAdapter(ctx context.Context, t Transport, pa PollingAdapter, req contract.UnifiedRequest) ([]byte, error) {
	return runSubmitAndPoll(ctx, t, pa.Submit, pa.Poll, req, pa.PollInterval())
}

func runSubmitAndPoll(
	ctx context.Context,
	t Transport,
	submit func(ctx context.Context, t Transport, req contract.UnifiedRequest) (jobID string, err error),
	poll func(ctx context.Context, t Transport, jobID string) (done bool, result []byte, err error),
	req contract.UnifiedRequest,
	interval time.Duration,
) ([]byte, error) {
	jobID, err := submit(ctx, t, req)
	if err != nil {
		return nil, fmt.Errorf("submitting job: %w", err)
	}

	done, result, err := poll(ctx, t, jobID)
	if err != nil {
		return nil, fmt.Errorf("polling job %s: %w", jobID, err)
	}
	if done {
		return result, nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			done, result, err = poll(ctx, t, jobID)
			if err != nil {
				return nil, fmt.Errorf("polling job %s: %w", jobID, err)
			}
			if done {
				return result, nil
			}
		}
	}
}
