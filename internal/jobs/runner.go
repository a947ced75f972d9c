package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"podfeed/internal/podcast"

	"github.com/charmbracelet/log"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned when the local runner cannot take another import.
var ErrQueueFull = errors.New("import queue is full")

type RunnerConfig struct {
	// BaseURL is where tracking updates are requested.
	BaseURL          string
	Secret           string
	Workers          int
	QueueSize        int
	TrackingInterval time.Duration
	Timeout          time.Duration
	Logger           *log.Logger
}

// LocalRunner runs import and tracking jobs inside the API process. It
// talks to the API over the same callbacks an external runner would use.
type LocalRunner struct {
	cfg       RunnerConfig
	parser    *gofeed.Parser
	callbacks *callbackClient
	queue     chan podcast.ImportJob
	logger    *log.Logger

	mu      sync.Mutex
	tracked map[string]struct{}
}

func NewLocalRunner(cfg RunnerConfig) *LocalRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * podcast.MaxImportBatch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}

	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "podfeed/1.0"

	return &LocalRunner{
		cfg:       cfg,
		parser:    parser,
		callbacks: &callbackClient{secret: cfg.Secret, client: client},
		queue:     make(chan podcast.ImportJob, cfg.QueueSize),
		logger:    cfg.Logger,
		tracked:   map[string]struct{}{},
	}
}

func (r *LocalRunner) DispatchImport(ctx context.Context, job podcast.ImportJob) error {
	select {
	case r.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (r *LocalRunner) DispatchTracking(ctx context.Context, podcastID string) error {
	r.Track(podcastID)
	return nil
}

// Track adds podcasts to the set polled for new episodes.
func (r *LocalRunner) Track(podcastIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range podcastIDs {
		r.tracked[id] = struct{}{}
	}
}

func (r *LocalRunner) Tracked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.tracked))
	for id := range r.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run processes jobs until ctx is cancelled.
func (r *LocalRunner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-r.queue:
					if err := r.runImport(ctx, job); err != nil {
						r.logger.Error("import job failed", "podcast", job.PodcastID, "source_id", job.SourceID, "err", err)
					}
				}
			}
		})
	}
	if r.cfg.TrackingInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(r.cfg.TrackingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					r.PollTracked(ctx)
				}
			}
		})
	}
	r.logger.Info("local job runner started", "workers", r.cfg.Workers, "tracking_interval", r.cfg.TrackingInterval)
	return g.Wait()
}

func (r *LocalRunner) runImport(ctx context.Context, job podcast.ImportJob) error {
	feed, err := r.parser.ParseURLWithContext(job.FeedURL, ctx)
	if err != nil {
		return fmt.Errorf("fetch feed %s: %w", job.FeedURL, err)
	}

	base := job.ResultCallbackURL
	if err := r.callbacks.postPodcast(ctx, base, job.TaskToken, podcastFromFeed(feed, job)); err != nil {
		return err
	}

	episodes := episodesFromFeed(feed, 0, 0)
	chunks := batches(episodes)
	for i, chunk := range chunks {
		isLast := i == len(chunks)-1
		if err := r.callbacks.postEpisodes(ctx, base, job.PodcastID, job.TaskToken, false, isLast, chunk); err != nil {
			return fmt.Errorf("post episode batch %d: %w", i, err)
		}
	}
	r.logger.Info("import job done", "podcast", job.PodcastID, "episodes", len(episodes))
	return nil
}

// PollTracked checks every tracked podcast for new episodes once.
func (r *LocalRunner) PollTracked(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for _, id := range r.Tracked() {
		g.Go(func() error {
			if err := r.update(ctx, id); err != nil {
				r.logger.Warn("tracking update failed", "podcast", id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *LocalRunner) update(ctx context.Context, podcastID string) error {
	ticket, err := r.callbacks.beginUpdate(ctx, r.cfg.BaseURL, podcastID)
	if err != nil {
		return err
	}
	feed, err := r.parser.ParseURLWithContext(ticket.FeedURL, ctx)
	if err != nil {
		return fmt.Errorf("fetch feed %s: %w", ticket.FeedURL, err)
	}

	since := ticket.LatestReleaseTimestamp
	if ticket.NextIndex == 0 {
		since = 0
	}
	fresh := episodesFromFeed(feed, ticket.NextIndex, since)
	chunks := batches(fresh)
	for i, chunk := range chunks {
		isLast := i == len(chunks)-1
		if err := r.callbacks.postEpisodes(ctx, r.cfg.BaseURL, podcastID, ticket.UpdateToken, true, isLast, chunk); err != nil {
			return fmt.Errorf("post update batch %d: %w", i, err)
		}
	}
	if len(fresh) > 0 {
		r.logger.Info("new episodes tracked", "podcast", podcastID, "count", len(fresh))
	}
	return nil
}
