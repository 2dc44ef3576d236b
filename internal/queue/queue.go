// Package queue hands webhook envelopes to the reconciliation pipeline,
// either through a Redis-backed asynq queue or inline.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/reconcile"
)

const (
	TypeIngestEnvelope = "ingest:envelope"
	QueueIngest        = "ingest"

	maxRetry  = 5
	retention = 24 * time.Hour
)

// Dispatcher accepts an envelope for ingestion.
type Dispatcher interface {
	Dispatch(ctx context.Context, env channel.Envelope) error
}

// Ingester is the pipeline entry point used by both dispatchers.
type Ingester interface {
	Ingest(ctx context.Context, src reconcile.Source, env channel.Envelope) (reconcile.Result, error)
}

// TaskID makes redelivered webhooks collapse onto one queued task.
func TaskID(env channel.Envelope) string {
	return string(env.Channel) + ":" + env.ExternalMessageID
}

// Inline runs the pipeline in the caller's goroutine. The caller's context
// carries the deadline; the webhook handler shares one per delivery.
type Inline struct {
	ingester Ingester
}

func NewInline(ingester Ingester) *Inline {
	return &Inline{ingester: ingester}
}

func (d *Inline) Dispatch(ctx context.Context, env channel.Envelope) error {
	_, err := d.ingester.Ingest(ctx, reconcile.SourceWebhook, env)
	return err
}

// AsynqDispatcher enqueues envelopes for the Worker.
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(rdb redis.UniversalClient) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClientFromRedisClient(rdb)}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, env channel.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	task := asynq.NewTask(TypeIngestEnvelope, payload)
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.TaskID(TaskID(env)),
		asynq.Queue(QueueIngest),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// HandleIngestTask decodes a queued envelope and runs the pipeline. Payloads
// that cannot be decoded are not retried.
func HandleIngestTask(ingester Ingester) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var env channel.Envelope
		if err := json.Unmarshal(t.Payload(), &env); err != nil {
			return fmt.Errorf("decode envelope: %v: %w", err, asynq.SkipRetry)
		}
		if _, err := ingester.Ingest(ctx, reconcile.SourceWebhook, env); err != nil {
			return fmt.Errorf("ingest %s: %w", TaskID(env), err)
		}
		return nil
	}
}

// Worker consumes the ingest queue in-process.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(rdb redis.UniversalClient, ingester Ingester, concurrency int, log zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServerFromRedisClient(rdb, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueIngest: 1},
		Logger:      asynqLogger{log: log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			log.Error().Err(err).Str("task_type", task.Type()).Int("retried", retried).Msg("ingest task failed")
		}),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeIngestEnvelope, HandleIngestTask(ingester))
	return &Worker{server: srv, mux: mux}
}

// Run starts the worker and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start ingest worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
