package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/siteprobe/siteprobe-be/internal/worker/domain"
	"github.com/siteprobe/siteprobe-be/internal/worker/scanner"
	"github.com/siteprobe/siteprobe-be/internal/worker/storage"
	"github.com/siteprobe/siteprobe-be/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Storage           *storage.Storage
	Scanner           scanner.Scanner
	RabbitClient      *rabbitmq.Client
	QueueName         string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	StaleCheckEvery   time.Duration
}

// Worker consumes scan jobs from the broker and executes them
type Worker struct {
	logger            *slog.Logger
	storage           *storage.Storage
	scanner           scanner.Scanner
	rabbitClient      *rabbitmq.Client
	queueName         string
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	staleAfter        time.Duration
	staleCheckEvery   time.Duration
	jobsChan          chan *domain.ScanMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := uuid.New().String()

	return &Worker{
		logger:            cfg.Logger.With(slog.String("worker_id", workerID)),
		storage:           cfg.Storage,
		scanner:           cfg.Scanner,
		rabbitClient:      cfg.RabbitClient,
		queueName:         cfg.QueueName,
		workerID:          workerID,
		concurrency:       cfg.Concurrency,
		prefetchCount:     cfg.PrefetchCount,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		staleAfter:        cfg.StaleAfter,
		staleCheckEvery:   cfg.StaleCheckEvery,
		jobsChan:          make(chan *domain.ScanMessage),
		stopChan:          make(chan struct{}),
	}
}

// reconnectDelay is the pause between consumer re-registration attempts
// after the broker connection is lost.
const reconnectDelay = 5 * time.Second

// Start begins consuming and processing scan jobs. It blocks until the
// context is canceled; a lost broker connection is redialed, never a reason
// to stop consuming.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go w.recoveryLoop(ctx)

	w.consumeLoop(ctx)

	return nil
}

// consumeLoop keeps a consumer registered for the life of the process. The
// broker closes the delivery channel whenever the connection drops; the
// loop redials and re-registers indefinitely instead of giving up.
func (w *Worker) consumeLoop(ctx context.Context) {
	for {
		deliveries, err := w.setupConsumer(ctx)
		if err != nil {
			w.logger.Error("Failed to set up consumer, retrying",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", reconnectDelay),
			)
		} else {
			if dispatchErr := w.startMessageDispatcher(ctx, deliveries); dispatchErr == nil {
				// Shutdown, not a transport loss
				return
			}
			w.logger.Warn("Broker connection lost, re-registering consumer",
				slog.Duration("retry_in", reconnectDelay),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
