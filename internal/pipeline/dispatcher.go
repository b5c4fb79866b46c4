package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Executor runs the pipeline for one document. Satisfied by *Runner.
type Executor interface {
	Run(ctx context.Context, organizationID, documentID uuid.UUID) (*RunReport, error)
}

// Dispatcher decouples the upload request from pipeline execution. Each
// trigger schedules at most one background run per document id; delivery is
// at-least-once and the runner's idempotency makes duplicates safe. Dispatch
// never returns an error to the caller: a trigger that cannot be scheduled
// leaves the document reprocessable, and a human can recover it.
type Dispatcher struct {
	executor        Executor
	maxAttempts     int
	runTimeout      time.Duration
	bulkConcurrency int
	retryDelay      time.Duration

	wg     sync.WaitGroup
	active sync.Map // document id -> struct{}, suppresses overlapping runs
}

// NewDispatcher wires the in-process dispatcher.
func NewDispatcher(executor Executor, maxAttempts int, runTimeout time.Duration, bulkConcurrency int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	if bulkConcurrency <= 0 {
		bulkConcurrency = 4
	}
	return &Dispatcher{
		executor:        executor,
		maxAttempts:     maxAttempts,
		runTimeout:      runTimeout,
		bulkConcurrency: bulkConcurrency,
		retryDelay:      time.Second,
	}
}

// DocumentUploaded schedules a run for a freshly uploaded document.
func (d *Dispatcher) DocumentUploaded(trigger Uploaded) {
	d.launch(trigger.OrganizationID, trigger.DocumentID)
}

// DocumentReprocess schedules a fresh run for one document.
func (d *Dispatcher) DocumentReprocess(trigger Reprocess) {
	d.launch(trigger.OrganizationID, trigger.DocumentID)
}

// BulkReprocess fans out one independent run per document id with bounded
// concurrency. A failing document never aborts its siblings.
func (d *Dispatcher) BulkReprocess(trigger BulkReprocess) {
	ids := append([]uuid.UUID(nil), trigger.DocumentIDs...)
	if len(ids) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		group, ctx := errgroup.WithContext(context.Background())
		group.SetLimit(d.bulkConcurrency)
		for _, id := range ids {
			id := id
			group.Go(func() error {
				// Errors are absorbed per document so the group
				// context is never cancelled for siblings.
				d.execute(ctx, trigger.OrganizationID, id)
				return nil
			})
		}
		group.Wait()
	}()
}

// Drain blocks until all in-flight runs finish or ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) launch(organizationID, documentID uuid.UUID) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(context.Background(), organizationID, documentID)
	}()
}

// execute runs the pipeline with panic recovery and a bounded whole-run
// retry. Failure after the final attempt is surfaced in logs only; the
// document remains in a state a manual reprocess can recover.
func (d *Dispatcher) execute(ctx context.Context, organizationID, documentID uuid.UUID) {
	if _, loaded := d.active.LoadOrStore(documentID, struct{}{}); loaded {
		log.Printf("[pipeline] document %s already has an active run, skipping", documentID)
		return
	}
	defer d.active.Delete(documentID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[pipeline] panic while processing document %s: %v", documentID, rec)
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				log.Printf("[pipeline] run for document %s cancelled: %v", documentID, ctx.Err())
				return
			case <-time.After(time.Duration(attempt-1) * d.retryDelay):
			}
		}

		lastErr = d.runOnce(ctx, organizationID, documentID)
		if lastErr == nil {
			return
		}
		log.Printf("[pipeline] run attempt %d/%d for document %s failed: %v", attempt, d.maxAttempts, documentID, lastErr)
	}
	log.Printf("[pipeline] giving up on document %s after %d attempts: %v", documentID, d.maxAttempts, lastErr)
}

func (d *Dispatcher) runOnce(ctx context.Context, organizationID, documentID uuid.UUID) (err error) {
	runCtx, cancel := context.WithTimeout(ctx, d.runTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	_, err = d.executor.Run(runCtx, organizationID, documentID)
	return err
}
