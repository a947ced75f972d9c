package api

import (
	"context"
	"fmt"

	"podfeed/internal/podcast"
	"podfeed/internal/rss"
)

// RSSEpisodeLimit caps how many episodes an exported feed carries.
const RSSEpisodeLimit = 100

type podcastReader interface {
	Podcast(ctx context.Context, podcastID string) (*podcast.PodcastView, error)
}

type episodeReader interface {
	Newest(ctx context.Context, podcastID string, before *int64, limit int) ([]podcast.Episode, error)
}

// PodcastFeedService renders a catalogued podcast and its newest episodes
// as RSS.
type PodcastFeedService struct {
	Podcasts podcastReader
	Episodes episodeReader
	// BaseURL is the public address the rendered feed links back to.
	BaseURL string
}

func (s PodcastFeedService) Build(ctx context.Context, podcastID string) ([]byte, error) {
	p, err := s.Podcasts.Podcast(ctx, podcastID)
	if err != nil {
		return nil, err
	}
	episodes, err := s.Episodes.Newest(ctx, podcastID, nil, RSSEpisodeLimit)
	if err != nil {
		return nil, fmt.Errorf("load episodes: %w", err)
	}

	return rss.Render(rss.Feed{
		Podcast:  *p,
		Episodes: episodes,
		Link:     fmt.Sprintf("%s/podcast/%s/rss", s.BaseURL, podcastID),
	})
}
