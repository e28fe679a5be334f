package jobs

import "context"

// RetryUnsentName identifies the retry-unsent job.
const RetryUnsentName = "retry-unsent"

// Sweeper retransmits every persisted message that is still unsent.
type Sweeper interface {
	RetryUnsentMessages(ctx context.Context) error
}

// RetryUnsentJob runs the coarse unsent-message sweep.
type RetryUnsentJob struct {
	Sweeper Sweeper
}

func (j RetryUnsentJob) Name() string { return RetryUnsentName }

// Run sweeps once; the scheduler retries it on error.
func (j RetryUnsentJob) Run(ctx context.Context) error {
	return j.Sweeper.RetryUnsentMessages(ctx)
}
