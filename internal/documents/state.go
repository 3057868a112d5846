package documents

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// State is a provider-neutral document lifecycle state.
type State string

const (
	StateCreated            State = "created"
	StateProcessing         State = "processing"
	StateReadyForCompletion State = "ready_for_completion"
	StateCompleted          State = "completed"
)

var transitions = map[State][]State{
	StateCreated:            {StateProcessing, StateReadyForCompletion, StateCompleted},
	StateProcessing:         {StateProcessing, StateReadyForCompletion, StateCompleted},
	StateReadyForCompletion: {StateCompleted},
}

// tracker enforces the document lifecycle for one workflow run.
type tracker struct {
	state State
}

func newTracker() *tracker {
	return &tracker{state: StateCreated}
}

func (t *tracker) advance(next State) error {
	for _, allowed := range transitions[t.state] {
		if allowed == next {
			t.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid document transition %s -> %s", t.state, next)
}

// poller bounds how long we wait for a provider to settle.
type poller struct {
	attempts int
	initial  time.Duration
	max      time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// wait calls check until it reports done, sleeping with backoff between calls.
func (p poller) wait(ctx context.Context, check func(ctx context.Context) (bool, error)) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for attempt := 1; attempt <= p.attempts; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == p.attempts {
			break
		}
		if err := sleep(ctx, backoffWithJitter(p.initial, p.max, attempt)); err != nil {
			return err
		}
	}
	return ErrWorkflowTimeout
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
