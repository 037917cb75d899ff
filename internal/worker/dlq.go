package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// Jobs that fail for good are buried in a dead letter list next to their
// queue ("dlq:jobs:email") and stay there until someone replays them by hand.
// The health endpoint reports the list lengths.

const deadLetterPrefix = "dlq:"

// DeadLetterKey is the redis list holding the dead jobs of queue.
func DeadLetterKey(queue string) string { return deadLetterPrefix + queue }

// DeadLetter is a buried job. Job keeps its envelope intact so it can be
// pushed back onto Queue unchanged.
type DeadLetter struct {
	Queue    string    `json:"queue"`
	Job      Job       `json:"job"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// bury moves job to the dead letter list of queue. A failure to bury is only
// logged; the job is lost either way.
func bury(ctx context.Context, q Queue, queue string, job Job, reason string) {
	data, err := json.Marshal(DeadLetter{Queue: queue, Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	if err == nil {
		err = q.LPush(ctx, DeadLetterKey(queue), data).Err()
	}
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Str("type", job.Type).Msg("worker: could not bury job")
		return
	}
	log.Warn().
		Str("queue", queue).
		Str("type", job.Type).
		Int("attempts", job.Attempts).
		Str("reason", reason).
		Msg("worker: job moved to dead letters")
}

// DeadLetters returns how many jobs of queue are buried.
func DeadLetters(ctx context.Context, q Queue, queue string) (int64, error) {
	return q.LLen(ctx, DeadLetterKey(queue)).Result()
}
