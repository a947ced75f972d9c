package podcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"podfeed/internal/catalog"
	"podfeed/internal/store"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const dispatchConcurrency = 8

type Catalog interface {
	Lookup(ctx context.Context, ids []int64) ([]catalog.Entry, error)
}

type ImportResult struct {
	ExistingPodcasts []PodcastView `json:"existingPodcasts"`
	PodcastImports   []string      `json:"podcastImports"`
}

// EpisodeBatch is one callback from a job carrying episodes for a podcast.
type EpisodeBatch struct {
	PodcastID string
	Token     string
	IsUpdate  bool
	IsFinal   bool
	Episodes  []Episode
}

type Importer struct {
	store       store.Store
	catalog     Catalog
	lock        *ImportLock
	tokens      *TokenGuard
	episodes    *EpisodeBuffer
	dispatcher  Dispatcher
	callbackURL string
	logger      *log.Logger
	now         func() time.Time
}

type ImporterDeps struct {
	Store       store.Store
	Catalog     Catalog
	Lock        *ImportLock
	Tokens      *TokenGuard
	Episodes    *EpisodeBuffer
	Dispatcher  Dispatcher
	CallbackURL string
	Logger      *log.Logger
}

func NewImporter(d ImporterDeps) *Importer {
	return &Importer{
		store:       d.Store,
		catalog:     d.Catalog,
		lock:        d.Lock,
		tokens:      d.Tokens,
		episodes:    d.Episodes,
		dispatcher:  d.Dispatcher,
		callbackURL: d.CallbackURL,
		logger:      d.Logger,
		now:         time.Now,
	}
}

// StartImport imports every source id the catalog does not know yet. An
// empty accountID skips following.
func (im *Importer) StartImport(ctx context.Context, accountID string, sourceIDs []int64) (*ImportResult, error) {
	ids, err := validateSourceIDs(sourceIDs)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{ExistingPodcasts: []PodcastView{}, PodcastImports: []string{}}

	existing, err := im.store.GetPodcastsBySourceIDs(ctx, DefaultSource, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup catalogued podcasts: %w", err)
	}
	known := make(map[int64]bool, len(existing))
	existingIDs := make([]string, 0, len(existing))
	for _, p := range existing {
		known[p.SourceID] = true
		existingIDs = append(existingIDs, p.ID)
		result.ExistingPodcasts = append(result.ExistingPodcasts, FormatPodcast(p))
	}
	if accountID != "" {
		if err := im.follow(ctx, accountID, existingIDs); err != nil {
			return nil, err
		}
	}

	remaining := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !known[id] {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		return result, nil
	}

	entries, err := im.catalog.Lookup(ctx, remaining)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	feeds := make(map[int64]catalog.Entry, len(entries))
	for _, e := range entries {
		if e.FeedURL == "" {
			im.logger.Warn("catalog entry has no feed url", "source_id", e.CollectionID)
			continue
		}
		feeds[e.CollectionID] = e
	}

	owners := make(map[int64]string, len(remaining))
	resolvable := make([]int64, 0, len(remaining))
	for _, id := range remaining {
		if _, ok := feeds[id]; !ok {
			im.logger.Warn("source id not resolvable", "source_id", id)
			continue
		}
		owners[id] = uuid.NewString()
		resolvable = append(resolvable, id)
	}
	if len(resolvable) == 0 {
		return result, nil
	}

	acquired, err := im.lock.TryAcquire(ctx, owners)
	if err != nil {
		return nil, err
	}

	var winners, losers []int64
	for _, id := range resolvable {
		if acquired[id] {
			winners = append(winners, id)
		} else {
			losers = append(losers, id)
		}
	}

	holders := map[int64]string{}
	if len(losers) > 0 {
		holders, err = im.lock.Resolve(ctx, losers)
		if err != nil {
			return nil, err
		}
	}

	dispatched := im.dispatchAll(ctx, winners, owners, feeds)

	imports := make([]string, 0, len(resolvable))
	for _, id := range resolvable {
		if acquired[id] {
			if dispatched[id] {
				imports = append(imports, owners[id])
			}
			continue
		}
		podcastID, ok := holders[id]
		if !ok {
			im.logger.Warn("import in progress but holder not visible", "source_id", id)
			continue
		}
		imports = append(imports, podcastID)
	}

	if accountID != "" {
		if err := im.follow(ctx, accountID, imports); err != nil {
			return nil, err
		}
	}
	result.PodcastImports = imports

	im.logger.Info("import started",
		"account", accountID,
		"existing", len(result.ExistingPodcasts),
		"dispatched", len(winners),
		"in_progress", len(losers),
	)
	return result, nil
}

// dispatchAll issues a token and dispatches a job for every lock this call
// holds. Failures are logged and the lock is released.
func (im *Importer) dispatchAll(ctx context.Context, winners []int64, owners map[int64]string, feeds map[int64]catalog.Entry) map[int64]bool {
	ok := make([]bool, len(winners))

	var g errgroup.Group
	g.SetLimit(dispatchConcurrency)
	for i, sourceID := range winners {
		podcastID := owners[sourceID]
		entry := feeds[sourceID]
		g.Go(func() error {
			if err := im.dispatchOne(ctx, sourceID, podcastID, entry); err != nil {
				im.logger.Error("dispatch import failed", "source_id", sourceID, "podcast", podcastID, "err", err)
				if err := im.lock.Release(ctx, sourceID, podcastID); err != nil {
					im.logger.Warn("release import lock failed", "source_id", sourceID, "err", err)
				}
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[int64]bool, len(winners))
	for i, sourceID := range winners {
		out[sourceID] = ok[i]
	}
	return out
}

func (im *Importer) dispatchOne(ctx context.Context, sourceID int64, podcastID string, entry catalog.Entry) error {
	token, err := im.tokens.Issue(ctx, podcastID, false)
	if err != nil {
		return err
	}
	return im.dispatcher.DispatchImport(ctx, ImportJob{
		Source:            DefaultSource,
		SourceID:          sourceID,
		FeedURL:           entry.FeedURL,
		PodcastID:         podcastID,
		ResultCallbackURL: im.callbackURL,
		TaskToken:         token,
	})
}

func (im *Importer) follow(ctx context.Context, accountID string, podcastIDs []string) error {
	if len(podcastIDs) == 0 {
		return nil
	}
	if _, err := im.store.CreateFollows(ctx, accountID, podcastIDs, im.now()); err != nil {
		return fmt.Errorf("follow podcasts: %w", err)
	}
	return nil
}

// IngestEpisodes stores one batch posted back by a job. Every batch must
// carry the live token; only the final batch consumes it.
func (im *Importer) IngestEpisodes(ctx context.Context, batch EpisodeBatch) (int64, error) {
	if batch.PodcastID == "" {
		return 0, &ValidationError{Field: "podcastId", Message: "missing podcast id"}
	}
	for _, e := range batch.Episodes {
		if e.Index < 0 {
			return 0, &ValidationError{Field: "index", Message: "episode index must not be negative"}
		}
	}

	ok, err := im.tokens.Verify(ctx, batch.PodcastID, batch.Token, batch.IsUpdate)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInvalidToken
	}

	added, err := im.episodes.Append(ctx, batch.PodcastID, batch.Episodes)
	if err != nil {
		return 0, err
	}
	if !batch.IsFinal {
		return added, nil
	}

	ok, err = im.tokens.Consume(ctx, batch.PodcastID, batch.Token, batch.IsUpdate)
	if err != nil {
		return added, err
	}
	if !ok {
		return added, ErrInvalidToken
	}
	// tracked podcasts already have a tracking job
	if err := im.episodes.Commit(ctx, batch.PodcastID, !batch.IsUpdate); err != nil {
		return added, err
	}
	return added, nil
}

// IngestPodcast catalogues the podcast record a job read from the feed.
func (im *Importer) IngestPodcast(ctx context.Context, token string, p ImportedPodcast) (*PodcastView, error) {
	switch {
	case p.PodcastID == "":
		return nil, &ValidationError{Field: "podcastId", Message: "missing podcast id"}
	case p.Name == "":
		return nil, &ValidationError{Field: "name", Message: "missing name"}
	case p.FeedURL == "":
		return nil, &ValidationError{Field: "feedUrl", Message: "missing feed url"}
	case p.SourceID <= 0:
		return nil, &ValidationError{Field: "sourceId", Message: "must be a positive integer"}
	}

	ok, err := im.tokens.Verify(ctx, p.PodcastID, token, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidToken
	}
	if p.Source != "" && p.Source != DefaultSource {
		return nil, &ValidationError{Field: "source", Message: "unsupported source"}
	}
	// the token only proves the podcast id; the source id must be the one
	// whose import lock this podcast holds
	holders, err := im.lock.Resolve(ctx, []int64{p.SourceID})
	if err != nil {
		return nil, err
	}
	if holders[p.SourceID] != p.PodcastID {
		return nil, &ValidationError{Field: "sourceId", Message: "does not match the running import"}
	}

	now := im.now().UTC()
	record := &store.Podcast{
		ID:          p.PodcastID,
		Source:      DefaultSource,
		SourceID:    p.SourceID,
		Name:        p.Name,
		Description: p.Description,
		Author:      p.Author,
		AuthorURL:   p.AuthorURL,
		Genres:      p.Genres,
		Image:       p.Image,
		FeedURL:     p.FeedURL,
		SourceLink:  p.SourceLink,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := im.store.UpsertPodcast(ctx, record); err != nil {
		return nil, fmt.Errorf("store podcast %s: %w", p.PodcastID, err)
	}
	view := FormatPodcast(*record)
	return &view, nil
}

// BeginUpdate issues an update token for a tracked podcast and reports the
// index the next new episode must use.
func (im *Importer) BeginUpdate(ctx context.Context, podcastID string) (*UpdateTicket, error) {
	p, err := im.store.GetPodcast(ctx, podcastID)
	if err != nil {
		return nil, fmt.Errorf("load podcast %s: %w", podcastID, err)
	}

	ticket := &UpdateTicket{PodcastID: p.ID, FeedURL: p.FeedURL}
	highest, ok, err := im.episodes.Highest(ctx, podcastID)
	if err != nil {
		return nil, err
	}
	if ok {
		ticket.NextIndex = highest + 1
		latest, err := im.episodes.Get(ctx, podcastID, highest)
		if err != nil && !errors.Is(err, ErrEpisodeNotFound) {
			return nil, err
		}
		if latest != nil {
			ticket.LatestReleaseTimestamp = latest.ReleaseTimestamp
		}
	}

	ticket.UpdateToken, err = im.tokens.Issue(ctx, podcastID, true)
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func validateSourceIDs(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "podcastSourceIds", Message: "at least one id is required"}
	}
	if len(ids) > MaxImportBatch {
		return nil, &ValidationError{Field: "podcastSourceIds", Message: fmt.Sprintf("at most %d ids are allowed", MaxImportBatch)}
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, &ValidationError{Field: "podcastSourceIds", Message: "ids must be positive integers"}
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
