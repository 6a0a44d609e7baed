// Package queue serializes video renders through one in-process worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/store"
)

// Job is one scenario's complete render request.
type Job struct {
	ScenarioID string
	Scenario   scenario.Scenario
	OutputPath string
	// Duration is the physical length of the video; shorter jobs go first.
	Duration   float64
	EnqueuedAt time.Time
}

type Processor interface {
	Process(ctx context.Context, job Job) error
}

type StatusWriter interface {
	UpdateStatus(ctx context.Context, id string, status scenario.Status, videoPath string) error
}

// Recorder receives queue metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	IncJobsEnqueued()
	IncJobsReplaced()
	IncJobsCompleted()
	IncJobsFailed()
	SetQueueLength(n int)
	SetProcessing(busy bool)
	ObserveJobDuration(d time.Duration)
}

type Entry struct {
	ScenarioID   string  `json:"scenarioId"`
	Duration     float64 `json:"duration"`
	ScenarioName string  `json:"scenarioName"`
}

// Snapshot is the state reported by Inspect.
type Snapshot struct {
	QueueLength  int     `json:"queueLength"`
	IsProcessing bool    `json:"isProcessing"`
	Current      *Entry  `json:"current,omitempty"`
	Queue        []Entry `json:"queue"`
}

type Queue struct {
	mu      sync.Mutex
	jobs    []Job
	current *Job

	wake chan struct{}

	proc    Processor
	status  StatusWriter
	log     *slog.Logger
	metrics Recorder
}

func New(proc Processor, status StatusWriter, log *slog.Logger, rec Recorder) *Queue {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Queue{
		wake:    make(chan struct{}, 1),
		proc:    proc,
		status:  status,
		log:     log,
		metrics: rec,
	}
}

// Enqueue adds job, replacing a queued (not yet started) job of the same
// scenario. It never blocks on the worker.
func (q *Queue) Enqueue(job Job) (replaced bool) {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	for i := range q.jobs {
		if q.jobs[i].ScenarioID == job.ScenarioID {
			q.jobs[i] = job
			replaced = true
			break
		}
	}
	if !replaced {
		q.jobs = append(q.jobs, job)
	}
	n := len(q.jobs)
	q.mu.Unlock()

	if replaced {
		q.metrics.IncJobsReplaced()
	} else {
		q.metrics.IncJobsEnqueued()
	}
	q.metrics.SetQueueLength(n)
	q.log.Info("job enqueued", "scenario_id", job.ScenarioID, "duration", job.Duration, "replaced", replaced, "queue_length", n)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return replaced
}

// Remove drops a queued job. A job that is already rendering is not touched.
func (q *Queue) Remove(scenarioID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.jobs {
		if q.jobs[i].ScenarioID == scenarioID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			q.metrics.SetQueueLength(len(q.jobs))
			return true
		}
	}
	return false
}

// Busy reports whether a job for the scenario is queued or rendering.
func (q *Queue) Busy(scenarioID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil && q.current.ScenarioID == scenarioID {
		return true
	}
	for _, j := range q.jobs {
		if j.ScenarioID == scenarioID {
			return true
		}
	}
	return false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) Inspect() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Snapshot{
		QueueLength:  len(q.jobs),
		IsProcessing: q.current != nil,
		Queue:        make([]Entry, 0, len(q.jobs)),
	}
	if q.current != nil {
		e := entry(*q.current)
		s.Current = &e
	}
	for _, j := range q.jobs {
		s.Queue = append(s.Queue, entry(j))
	}
	return s
}

func entry(j Job) Entry {
	return Entry{ScenarioID: j.ScenarioID, Duration: j.Duration, ScenarioName: j.Scenario.Name}
}

// Run is the single worker. It sleeps until Enqueue wakes it and returns
// when ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		job, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}
		q.handle(ctx, job)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// next pops the shortest job. The sort is stable, so equal durations keep
// their enqueue order.
func (q *Queue) next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	sort.SliceStable(q.jobs, func(i, j int) bool { return q.jobs[i].Duration < q.jobs[j].Duration })
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.current = &job
	q.metrics.SetQueueLength(len(q.jobs))
	q.metrics.SetProcessing(true)
	return job, true
}

func (q *Queue) handle(ctx context.Context, job Job) {
	log := q.log.With("scenario_id", job.ScenarioID)
	log.Info("job started", "duration", job.Duration)
	start := time.Now()

	err := q.process(ctx, job)
	defer func() {
		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
		q.metrics.SetProcessing(false)
	}()

	if err != nil && ctx.Err() != nil {
		// остановка сервиса: запись остается generating до следующего запуска
		log.Warn("job interrupted", "error", err)
		return
	}

	if q.queued(job.ScenarioID) {
		// сценарий изменился во время рендера: результат устарел,
		// статус запишет следующая задача
		log.Info("job superseded by a newer render", "error", err)
		if err == nil {
			removeOutput(log, job.OutputPath)
		}
		return
	}

	status, path := scenario.StatusCompleted, job.OutputPath
	if err != nil {
		removeOutput(log, job.OutputPath)
		status, path = scenario.StatusFailed, ""
		q.metrics.IncJobsFailed()
		log.Error("job failed", "error", err, "elapsed", time.Since(start))
	} else {
		q.metrics.IncJobsCompleted()
		q.metrics.ObserveJobDuration(time.Since(start))
		log.Info("job completed", "output", job.OutputPath, "elapsed", time.Since(start))
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	uerr := q.status.UpdateStatus(wctx, job.ScenarioID, status, path)
	cancel()
	switch {
	case errors.Is(uerr, store.ErrNotFound):
		log.Info("scenario deleted while rendering")
		if err == nil {
			removeOutput(log, job.OutputPath)
		}
	case uerr != nil:
		log.Error("status update failed", "status", status, "error", uerr)
	}
}

// queued reports whether a job for id is waiting behind the current one.
func (q *Queue) queued(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.ContainsFunc(q.jobs, func(j Job) bool { return j.ScenarioID == id })
}

func removeOutput(log *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove stale video failed", "path", path, "error", err)
	}
}

// process isolates a job: a panic fails only that job.
func (q *Queue) process(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panic: %v", r)
		}
	}()
	return q.proc.Process(ctx, job)
}

type nopRecorder struct{}

func (nopRecorder) IncJobsEnqueued()                 {}
func (nopRecorder) IncJobsReplaced()                 {}
func (nopRecorder) IncJobsCompleted()                {}
func (nopRecorder) IncJobsFailed()                   {}
func (nopRecorder) SetQueueLength(int)               {}
func (nopRecorder) SetProcessing(bool)               {}
func (nopRecorder) ObserveJobDuration(time.Duration) {}
