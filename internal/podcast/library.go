package podcast

import (
	"context"
	"fmt"
	"time"

	"podfeed/internal/cursor"
	"podfeed/internal/store"

	"github.com/google/uuid"
)

type PodcastPage struct {
	Result    []PodcastView `json:"result"`
	NextToken *string       `json:"nextToken"`
}

type EpisodePage struct {
	Result    []Episode `json:"result"`
	NextToken *string   `json:"nextToken"`
}

// EpisodeQuery selects a page of one podcast's episodes. Token wins over
// the index bounds; SmallestIndex returns newer episodes oldest first for
// clients catching up.
type EpisodeQuery struct {
	PodcastID     string
	BiggestIndex  *int64
	SmallestIndex *int64
	Token         string
}

// Library serves catalogued podcasts, follow lists and episode listings.
type Library struct {
	store    store.Store
	episodes *EpisodeBuffer
	now      func() time.Time
}

func NewLibrary(s store.Store, episodes *EpisodeBuffer) *Library {
	return &Library{store: s, episodes: episodes, now: time.Now}
}

func (l *Library) Podcast(ctx context.Context, podcastID string) (*PodcastView, error) {
	p, err := l.store.GetPodcast(ctx, podcastID)
	if err != nil {
		return nil, err
	}
	view := FormatPodcast(*p)
	return &view, nil
}

func (l *Library) Follow(ctx context.Context, accountID, podcastID string) error {
	if err := validatePodcastID(podcastID); err != nil {
		return err
	}
	if _, err := l.store.CreateFollows(ctx, accountID, []string{podcastID}, l.now()); err != nil {
		return fmt.Errorf("follow podcast: %w", err)
	}
	return nil
}

func (l *Library) Unfollow(ctx context.Context, accountID, podcastID string) error {
	if err := validatePodcastID(podcastID); err != nil {
		return err
	}
	return l.store.DeleteFollow(ctx, accountID, podcastID)
}

// Followed pages through the account's follows, most recently followed
// first. Podcasts still being imported are left out.
func (l *Library) Followed(ctx context.Context, accountID, token string) (*PodcastPage, error) {
	var pos cursor.Followed
	present, err := cursor.Decode(token, cursor.KindFollowed, &pos)
	if err != nil {
		return nil, err
	}
	var olderThan *int64
	if present {
		olderThan = &pos.OldestFollowTimestamp
	}

	follows, err := l.store.ListFollows(ctx, accountID, olderThan, PageSize)
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	ids := make([]string, len(follows))
	followedAt := make(map[string]int64, len(follows))
	for i, f := range follows {
		ids[i] = f.PodcastID
		followedAt[f.PodcastID] = f.FollowTimestamp
	}
	podcasts, err := l.store.GetPodcasts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load followed podcasts: %w", err)
	}

	page := &PodcastPage{Result: make([]PodcastView, 0, len(podcasts))}
	for _, p := range podcasts {
		view := FormatPodcast(p)
		view.FollowTimestamp = followedAt[p.ID]
		page.Result = append(page.Result, view)
	}
	if len(follows) == PageSize {
		next, err := cursor.Encode(cursor.KindFollowed, cursor.Followed{
			OldestFollowTimestamp: follows[len(follows)-1].FollowTimestamp,
		})
		if err != nil {
			return nil, err
		}
		page.NextToken = &next
	}
	return page, nil
}

func (l *Library) Episodes(ctx context.Context, q EpisodeQuery) (*EpisodePage, error) {
	var pos cursor.Episodes
	present, err := cursor.Decode(q.Token, cursor.KindEpisodes, &pos)
	if err != nil {
		return nil, err
	}
	podcastID := q.PodcastID
	if present {
		if podcastID != "" && podcastID != pos.PodcastID {
			return nil, fmt.Errorf("%w: token belongs to another podcast", cursor.ErrInvalid)
		}
		podcastID = pos.PodcastID
	}
	if err := validatePodcastID(podcastID); err != nil {
		return nil, err
	}

	var episodes []Episode
	switch {
	case present:
		episodes, err = l.episodes.Newest(ctx, podcastID, &pos.Index, PageSize)
	case q.SmallestIndex != nil:
		episodes, err = l.episodes.After(ctx, podcastID, *q.SmallestIndex, PageSize)
		if err != nil {
			return nil, err
		}
		return &EpisodePage{Result: episodes}, nil
	default:
		episodes, err = l.episodes.Newest(ctx, podcastID, q.BiggestIndex, PageSize)
	}
	if err != nil {
		return nil, err
	}

	page := &EpisodePage{Result: episodes}
	if n := len(episodes); n == PageSize && episodes[n-1].Index > 0 {
		next, err := cursor.Encode(cursor.KindEpisodes, cursor.Episodes{PodcastID: podcastID, Index: episodes[n-1].Index})
		if err != nil {
			return nil, err
		}
		page.NextToken = &next
	}
	return page, nil
}

func (l *Library) Episode(ctx context.Context, episodeID string) (*Episode, error) {
	podcastID, index, err := ParseEpisodeID(episodeID)
	if err != nil {
		return nil, err
	}
	return l.episodes.Get(ctx, podcastID, index)
}

func validatePodcastID(id string) error {
	if _, err := uuid.Parse(id); err != nil || len(id) != podcastIDLength {
		return &ValidationError{Field: "podcastId", Message: "must be a uuid"}
	}
	return nil
}
