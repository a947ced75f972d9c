package podcast

import (
	"context"
	"fmt"

	"podfeed/internal/cache"

	"github.com/charmbracelet/log"
)

type episodeCache interface {
	ZAddNew(ctx context.Context, key string, members []cache.Scored) (int64, error)
	ZRevRangeBelow(ctx context.Context, key string, below *int64, limit int) ([]cache.Scored, error)
	ZRangeAbove(ctx context.Context, key string, above int64, limit int) ([]cache.Scored, error)
	ZByScore(ctx context.Context, key string, score int64) (string, bool, error)
	ZMaxScore(ctx context.Context, key string) (int64, bool, error)
}

// Dispatcher hands work to the job runner. Both calls are fire and forget.
type Dispatcher interface {
	DispatchImport(ctx context.Context, job ImportJob) error
	DispatchTracking(ctx context.Context, podcastID string) error
}

// EpisodeBuffer stores a podcast's episodes in a sorted set scored by
// episode index.
type EpisodeBuffer struct {
	cache      episodeCache
	dispatcher Dispatcher
	logger     *log.Logger
}

func NewEpisodeBuffer(c episodeCache, d Dispatcher, logger *log.Logger) *EpisodeBuffer {
	return &EpisodeBuffer{cache: c, dispatcher: d, logger: logger}
}

// Append stores episodes under podcastID. An index that is already taken
// keeps its episode. It returns how many episodes were added.
func (b *EpisodeBuffer) Append(ctx context.Context, podcastID string, episodes []Episode) (int64, error) {
	if len(episodes) == 0 {
		return 0, nil
	}
	members := make([]cache.Scored, 0, len(episodes))
	for _, e := range episodes {
		e.PodcastID = podcastID
		member, err := encodeEpisode(e)
		if err != nil {
			return 0, err
		}
		members = append(members, cache.Scored{Score: e.Index, Member: member})
	}

	added, err := b.cache.ZAddNew(ctx, episodesKey(podcastID), members)
	if err != nil {
		return 0, fmt.Errorf("append episodes: %w", err)
	}
	if added != int64(len(episodes)) {
		b.logger.Warn("episode count mismatch", "podcast", podcastID, "received", len(episodes), "added", added)
	}
	return added, nil
}

// Commit closes a batch. The final batch of an import starts continuous
// tracking of the podcast.
func (b *EpisodeBuffer) Commit(ctx context.Context, podcastID string, isFinal bool) error {
	if !isFinal {
		return nil
	}
	if err := b.dispatcher.DispatchTracking(ctx, podcastID); err != nil {
		return fmt.Errorf("dispatch tracking for %s: %w", podcastID, err)
	}
	b.logger.Info("tracking started", "podcast", podcastID)
	return nil
}

// Newest returns up to limit episodes with an index strictly below before,
// newest first. A nil before starts from the newest episode.
func (b *EpisodeBuffer) Newest(ctx context.Context, podcastID string, before *int64, limit int) ([]Episode, error) {
	zs, err := b.cache.ZRevRangeBelow(ctx, episodesKey(podcastID), before, limit)
	if err != nil {
		return nil, fmt.Errorf("read episodes: %w", err)
	}
	return decodeEpisodes(zs)
}

// After returns up to limit episodes with an index strictly above after,
// oldest first.
func (b *EpisodeBuffer) After(ctx context.Context, podcastID string, after int64, limit int) ([]Episode, error) {
	zs, err := b.cache.ZRangeAbove(ctx, episodesKey(podcastID), after, limit)
	if err != nil {
		return nil, fmt.Errorf("read episodes: %w", err)
	}
	return decodeEpisodes(zs)
}

func (b *EpisodeBuffer) Get(ctx context.Context, podcastID string, index int64) (*Episode, error) {
	member, ok, err := b.cache.ZByScore(ctx, episodesKey(podcastID), index)
	if err != nil {
		return nil, fmt.Errorf("read episode: %w", err)
	}
	if !ok {
		return nil, ErrEpisodeNotFound
	}
	e, err := decodeEpisode(member)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Highest returns the largest index stored for the podcast.
func (b *EpisodeBuffer) Highest(ctx context.Context, podcastID string) (int64, bool, error) {
	index, ok, err := b.cache.ZMaxScore(ctx, episodesKey(podcastID))
	if err != nil {
		return 0, false, fmt.Errorf("read highest episode: %w", err)
	}
	return index, ok, nil
}

func decodeEpisodes(zs []cache.Scored) ([]Episode, error) {
	out := make([]Episode, 0, len(zs))
	for _, z := range zs {
		e, err := decodeEpisode(z.Member)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
