package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/iamkroot/ilc-scraper/internal/domain"
)

// Runner downloads one job; implemented by the hls downloader.
type Runner interface {
	Download(ctx context.Context, job domain.DownloadJob) error
}

// Report aggregates per-job outcomes for one dispatch cycle.
type Report struct {
	Succeeded int
	Skipped   int
	Failed    []domain.JobResult
}

// HasFailures reports whether any job ended failed.
func (r Report) HasFailures() bool {
	return len(r.Failed) > 0
}

// failureCarrier lets classified download errors surface their job failure.
type failureCarrier interface {
	Failure() domain.JobFailure
}

// Dispatcher fans jobs out over a bounded worker pool.
//
// Jobs are fully independent (distinct output paths by construction), so the
// pool needs no shared state beyond the task and result channels. The per-job
// timeout is enforced here so one stalled download cannot hold a worker slot.
type Dispatcher struct {
	runner  Runner
	workers int
	timeout time.Duration
	events  *EventBus
	batchID string
}

// NewDispatcher builds a dispatcher; workers <= 0 means one per CPU core.
func NewDispatcher(runner Runner, workers int, timeout time.Duration, events *EventBus, batchID string) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Dispatcher{
		runner:  runner,
		workers: workers,
		timeout: timeout,
		events:  events,
		batchID: batchID,
	}
}

// Run executes all jobs and streams results to observe as they complete.
//
// Results complete out of submission order; Report.Failed is sorted by
// sequence number so downstream reporting is deterministic. On cancellation
// every in-flight subprocess is killed through its context, remaining jobs
// are marked failed, and the partial report is returned once the workers
// have drained.
func (d *Dispatcher) Run(ctx context.Context, jobs []domain.DownloadJob, skipped int, observe func(domain.JobResult)) Report {
	report := Report{Skipped: skipped}
	if len(jobs) == 0 {
		return report
	}

	tasks := make(chan domain.DownloadJob, len(jobs))
	results := make(chan domain.JobResult, len(jobs))
	for _, job := range jobs {
		tasks <- job
	}
	close(tasks)

	workers := d.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range tasks {
				if ctx.Err() != nil {
					results <- failedResult(job, domain.JobFailure{
						Kind:   domain.FailureInternal,
						Detail: "cancelled before start",
					})
					continue
				}
				results <- d.runOne(ctx, job)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for result := range results {
		switch result.Status {
		case domain.JobStatusSucceeded:
			report.Succeeded++
		case domain.JobStatusFailed:
			report.Failed = append(report.Failed, result)
		}
		d.publish(result)
		if observe != nil {
			observe(result)
		}
	}

	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].Job.Lecture.SeqNo < report.Failed[j].Job.Lecture.SeqNo
	})
	return report
}

// runOne executes a single job with the per-job timeout and panic fence.
func (d *Dispatcher) runOne(ctx context.Context, job domain.DownloadJob) (result domain.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			result = failedResult(job, domain.JobFailure{
				Kind:   domain.FailureInternal,
				Detail: fmt.Sprintf("worker panic: %v", r),
			})
		}
	}()

	jobCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	err := d.runner.Download(jobCtx, job)
	if err == nil {
		return domain.JobResult{Job: job, Status: domain.JobStatusSucceeded}
	}

	var carrier failureCarrier
	if errors.As(err, &carrier) {
		return failedResult(job, carrier.Failure())
	}
	return failedResult(job, domain.JobFailure{
		Kind:   domain.FailureInternal,
		Detail: err.Error(),
	})
}

// publish emits one completed-job event on the bus.
func (d *Dispatcher) publish(result domain.JobResult) {
	if d.events == nil {
		return
	}
	event := Event{
		BatchID:    d.batchID,
		Type:       EventTypeResult,
		JobStatus:  result.Status,
		LectureSeq: result.Job.Lecture.SeqNo,
		Path:       result.Job.OutputPath,
	}
	if result.Failure != nil {
		event.ExitCode = result.Failure.ExitCode
		event.Message = result.Failure.Detail
		if event.Message == "" {
			event.Message = string(result.Failure.Kind)
		}
	}
	d.events.Publish(event)
}

// failedResult wraps a job and its failure into a result record.
func failedResult(job domain.DownloadJob, failure domain.JobFailure) domain.JobResult {
	f := failure
	return domain.JobResult{Job: job, Status: domain.JobStatusFailed, Failure: &f}
}
