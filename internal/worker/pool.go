package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueSaleDetails = "jobs:sale_details"
	QueueEmail       = "jobs:email"

	JobSaleDetails = "sale_details"
	JobEmail       = "email"

	// DefaultMaxAttempts is how many times a job runs before it is moved to
	// the dead letter queue.
	DefaultMaxAttempts = 3
)

// Queue is the subset of go-redis the pool needs; *redis.Client satisfies it.
type Queue interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// Job is the generic envelope for all async tasks.
type Job struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts,omitempty"`
}

// SaleDetailsPayload asks for the details sheet of a saved sale.
type SaleDetailsPayload struct {
	SaleID string `json:"sale_id"`
}

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	q Queue
}

func NewDispatcher(q Queue) *Dispatcher {
	return &Dispatcher{q: q}
}

// EnqueueSaleDetails queues the details sheet of a sale saved on a token.
func (d *Dispatcher) EnqueueSaleDetails(ctx context.Context, saleID uuid.UUID) error {
	return d.enqueue(ctx, QueueSaleDetails, JobSaleDetails, SaleDetailsPayload{SaleID: saleID.String()})
}

// EnqueueEmail pushes an email job to Redis.
func (d *Dispatcher) EnqueueEmail(ctx context.Context, payload EmailJobPayload) error {
	return d.enqueue(ctx, QueueEmail, JobEmail, payload)
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return push(ctx, d.q, queue, Job{Type: jobType, Payload: data})
}

func push(ctx context.Context, q Queue, queue string, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.LPush(ctx, queue, encoded).Err()
}

// ── Pool ──────────────────────────────────────────────────────────────────────

// Processor runs one job payload. A returned error re-queues the job until
// the attempt limit; errors wrapped with Permanent go straight to the dead letters.
type Processor interface {
	Process(ctx context.Context, raw json.RawMessage) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error { return &permanentError{err: err} }

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Pool consumes the job queues and hands each job to the processor
// registered for its type.
type Pool struct {
	q           Queue
	processors  map[string]Processor
	queues      []string
	maxAttempts int
}

func NewPool(q Queue, maxAttempts int) *Pool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Pool{q: q, processors: make(map[string]Processor), maxAttempts: maxAttempts}
}

// Register binds jobType, read from queue, to p.
func (p *Pool) Register(queue, jobType string, proc Processor) {
	p.processors[jobType] = proc
	for _, q := range p.queues {
		if q == queue {
			return
		}
	}
	p.queues = append(p.queues, queue)
}

// Start launches numWorkers goroutines consuming every registered queue.
// Each goroutine blocks on BRPOP, so idle workers cost nothing.
func (p *Pool) Start(ctx context.Context, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go p.runWorker(ctx, i)
	}
	log.Info().Int("workers", numWorkers).Strs("queues", p.queues).Msg("worker pool started")
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("worker", id).Msg("worker shutting down")
			return
		default:
			// waits up to 5s then loops to check ctx
			result, err := p.q.BRPop(ctx, 5*time.Second, p.queues...).Result()
			if err != nil || len(result) < 2 {
				continue
			}
			p.handle(ctx, result[0], result[1])
		}
	}
}

// handle runs one raw job popped from queue.
func (p *Pool) handle(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		bury(ctx, p.q, queue, Job{Payload: json.RawMessage(raw)}, "invalid envelope: "+err.Error())
		return
	}
	proc, ok := p.processors[job.Type]
	if !ok {
		bury(ctx, p.q, queue, job, "no processor for job type")
		return
	}

	job.Attempts++
	err := proc.Process(ctx, job.Payload)
	if err == nil {
		log.Debug().Str("type", job.Type).Str("queue", queue).Msg("job done")
		return
	}

	if isPermanent(err) || job.Attempts >= p.maxAttempts {
		bury(ctx, p.q, queue, job, err.Error())
		return
	}
	log.Warn().Err(err).Str("type", job.Type).Int("attempt", job.Attempts).Msg("job failed, re-queued")
	if perr := push(ctx, p.q, queue, job); perr != nil {
		log.Error().Err(perr).Str("queue", queue).Msg("could not re-queue job")
		bury(ctx, p.q, queue, job, err.Error())
	}
}
