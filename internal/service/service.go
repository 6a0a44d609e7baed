// Package service connects scenario records, the render queue and the video
// directory. HTTP handlers and the CLI go through it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/stopcast/internal/queue"
	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/store"
	"github.com/ivlev/stopcast/internal/timeline"
)

var (
	ErrInvalidScenario = errors.New("invalid scenario")
	// ErrStillGenerating means the video will exist once the queue gets to it.
	ErrStillGenerating = errors.New("video is still generating")
	// ErrVideoNotFound means no render will produce the video.
	ErrVideoNotFound = errors.New("video not found")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// JobQueue is the part of queue.Queue the service needs.
type JobQueue interface {
	Enqueue(job queue.Job) bool
	Remove(scenarioID string) bool
	Busy(scenarioID string) bool
	Inspect() queue.Snapshot
}

type Service struct {
	store    store.Store
	queue    JobQueue
	videoDir string
	log      *slog.Logger
	now      func() time.Time

	// Save и Delete меняют запись и очередь вместе
	mu sync.Mutex
}

func New(st store.Store, q JobQueue, videoDir string, log *slog.Logger) *Service {
	return &Service{
		store:    st,
		queue:    q,
		videoDir: videoDir,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// VideoPath is where the video of scenario id is written.
func (s *Service) VideoPath(id string) string {
	return filepath.Join(s.videoDir, scenario.VideoFileName(id))
}

// Save upserts sc. A render is queued only for new scenarios and when the
// render-relevant content changed; the stale video is removed first.
func (s *Service) Save(ctx context.Context, sc scenario.Scenario) (*scenario.Record, bool, error) {
	sc.Normalize()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if !validID.MatchString(sc.ID) {
		return nil, false, fmt.Errorf("%w: id %q", ErrInvalidScenario, sc.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.store.Get(ctx, sc.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	now := s.now()
	rec := &scenario.Record{Scenario: sc, VideoStatus: scenario.StatusPending, CreatedAt: now, UpdatedAt: now}
	changed := prev == nil
	if prev != nil {
		rec.CreatedAt = prev.CreatedAt
		rec.VideoStatus = prev.VideoStatus
		rec.VideoPath = prev.VideoPath
		changed = scenario.RenderChanged(&prev.Scenario, &sc)
	}

	out := s.VideoPath(sc.ID)
	if changed {
		if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("remove stale video failed", "scenario_id", sc.ID, "error", err)
		}
		rec.VideoStatus = scenario.StatusGenerating
		rec.VideoPath = ""
	}

	if err := s.store.Save(ctx, rec); err != nil {
		return nil, false, err
	}

	if changed {
		tl := timeline.Build(sc.Stops, sc.Emergencies)
		s.queue.Enqueue(queue.Job{
			ScenarioID: sc.ID,
			Scenario:   sc,
			OutputPath: out,
			Duration:   tl.PhysicalDuration,
			EnqueuedAt: now,
		})
	}
	return rec, changed, nil
}

// Delete removes the record, any queued render and the video.
// A render already in progress finishes and is discarded by the worker.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if s.queue.Remove(id) {
		s.log.Info("queued job dropped", "scenario_id", id)
	}
	if err := os.Remove(s.VideoPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("remove video failed", "scenario_id", id, "error", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*scenario.Record, error) {
	return s.store.Get(ctx, id)
}

// List returns all records, correcting statuses that disagree with the
// video directory. Scenarios with a queued or running job are left alone.
func (s *Service) List(ctx context.Context) ([]*scenario.Record, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		id := rec.Scenario.ID
		if s.queue.Busy(id) {
			continue
		}
		s.reconcile(ctx, rec)
	}
	return recs, nil
}

func (s *Service) reconcile(ctx context.Context, rec *scenario.Record) {
	id := rec.Scenario.ID
	path := s.VideoPath(id)
	exists := hasVideo(path)

	var status scenario.Status
	var videoPath string
	switch {
	case exists && rec.VideoStatus != scenario.StatusCompleted:
		status, videoPath = scenario.StatusCompleted, path
	case !exists && rec.VideoStatus == scenario.StatusCompleted:
		status = scenario.StatusFailed
	default:
		return
	}

	err := s.store.UpdateStatus(ctx, id, status, videoPath)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Warn("status reconciliation failed", "scenario_id", id, "error", err)
		return
	}
	s.log.Info("status reconciled", "scenario_id", id, "from", rec.VideoStatus, "to", status)
	rec.VideoStatus = status
	rec.VideoPath = videoPath
}

// Video returns the path of a finished video, ErrStillGenerating while a
// render is pending, or ErrVideoNotFound.
func (s *Service) Video(ctx context.Context, id string) (string, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if s.queue.Busy(id) || rec.VideoStatus == scenario.StatusGenerating {
		return "", ErrStillGenerating
	}
	path := s.VideoPath(id)
	if !hasVideo(path) {
		return "", ErrVideoNotFound
	}
	return path, nil
}

// Resume queues renders for records left generating by a previous process;
// the queue itself does not survive a restart.
func (s *Service) Resume(ctx context.Context) (int, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range recs {
		id := rec.Scenario.ID
		if rec.VideoStatus != scenario.StatusGenerating || s.queue.Busy(id) {
			continue
		}
		out := s.VideoPath(id)
		if hasVideo(out) {
			continue
		}
		tl := timeline.Build(rec.Scenario.Stops, rec.Scenario.Emergencies)
		s.queue.Enqueue(queue.Job{
			ScenarioID: id,
			Scenario:   rec.Scenario,
			OutputPath: out,
			Duration:   tl.PhysicalDuration,
			EnqueuedAt: s.now(),
		})
		n++
	}
	return n, nil
}

func (s *Service) QueueStatus() queue.Snapshot {
	return s.queue.Inspect()
}

// hasVideo reports a finished video: a regular, non-empty file.
func hasVideo(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
