package podcast

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"podfeed/internal/cursor"
	"podfeed/internal/store"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	PageTypeFeed    = "feed"
	PageTypeTopList = "toplist"

	fetchConcurrency = 8
)

// FeedStage is where a client stands while paging its feed.
type FeedStage int

const (
	// StageColdStart is a request without a token. It resets the overflow
	// window and reads the newest follows.
	StageColdStart FeedStage = iota
	// StageFollowPage reads the next page of follows plus overflow.
	StageFollowPage
	// StageOverflowPage reads only the overflow window.
	StageOverflowPage
	// StageExhausted has nothing left to read.
	StageExhausted
)

func (s FeedStage) String() string {
	switch s {
	case StageColdStart:
		return "cold_start"
	case StageFollowPage:
		return "follow_page"
	case StageOverflowPage:
		return "overflow_page"
	case StageExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// FeedPage is one page of the episode feed, or of the top list when there
// is nothing to show.
type FeedPage struct {
	Type        string
	Episodes    []Episode
	Podcasts    []PodcastView
	NextToken   *string
	IsFirstPage bool
}

func (p FeedPage) MarshalJSON() ([]byte, error) {
	var result any = p.Episodes
	if p.Type == PageTypeTopList {
		result = p.Podcasts
	}
	return json.Marshal(struct {
		Type        string  `json:"type"`
		Result      any     `json:"result"`
		NextToken   *string `json:"nextToken"`
		IsFirstPage bool    `json:"isFirstPage"`
	}{p.Type, result, p.NextToken, p.IsFirstPage})
}

type feedCache interface {
	Delete(ctx context.Context, keys ...string) (int64, error)
	PopFront(ctx context.Context, key string, n int) ([]string, error)
	RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error
	Len(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

type followLister interface {
	ListFollows(ctx context.Context, accountID string, olderThan *int64, limit int) ([]store.Follow, error)
}

// overflowEntry names a podcast and the last episode index already shown.
type overflowEntry struct {
	PodcastID          string `json:"PID"`
	LastDeliveredIndex int64  `json:"INDEX"`
}

type contributor struct {
	podcastID string
	before    *int64
}

// FeedAssembler builds the "new episodes" feed of an account from its
// follow list and a cached overflow window of podcasts that had more
// episodes than fit on earlier pages.
type FeedAssembler struct {
	follows  followLister
	cache    feedCache
	episodes *EpisodeBuffer
	topList  *TopList
	ttl      time.Duration
	logger   *log.Logger
}

func NewFeedAssembler(follows followLister, c feedCache, episodes *EpisodeBuffer, topList *TopList, logger *log.Logger) *FeedAssembler {
	return &FeedAssembler{
		follows:  follows,
		cache:    c,
		episodes: episodes,
		topList:  topList,
		ttl:      FeedOverflowTTL,
		logger:   logger,
	}
}

// GetPage returns the page the token points at. An empty token starts a
// fresh view of the feed.
func (f *FeedAssembler) GetPage(ctx context.Context, accountID, token string) (*FeedPage, error) {
	if token != "" {
		kind, err := cursor.Peek(token)
		if err != nil {
			return nil, err
		}
		if kind == cursor.KindTopList {
			return f.topList.Page(token)
		}
	}

	var pos cursor.Feed
	present, err := cursor.Decode(token, cursor.KindFeed, &pos)
	if err != nil {
		return nil, err
	}
	stage := StageColdStart
	switch {
	case !present:
	case pos.OldestFollowTimestamp != nil:
		stage = StageFollowPage
	default:
		stage = StageOverflowPage
	}

	key := overflowKey(accountID)
	var follows []store.Follow
	switch stage {
	case StageColdStart:
		if _, err := f.cache.Delete(ctx, key); err != nil {
			return nil, err
		}
		follows, err = f.follows.ListFollows(ctx, accountID, nil, PageSize)
	case StageFollowPage:
		follows, err = f.follows.ListFollows(ctx, accountID, pos.OldestFollowTimestamp, PageSize)
	}
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}

	overflow, err := f.popOverflow(ctx, key, PageSize-len(follows))
	if err != nil {
		return nil, err
	}

	if len(follows) == 0 && len(overflow) == 0 {
		f.logger.Debug("feed empty, serving top list", "account", accountID, "stage", stage)
		page, err := f.topList.Page("")
		if err != nil {
			return nil, err
		}
		page.IsFirstPage = stage == StageColdStart
		return page, nil
	}

	contributors := make([]contributor, 0, len(follows)+len(overflow))
	for _, fl := range follows {
		contributors = append(contributors, contributor{podcastID: fl.PodcastID})
	}
	for _, o := range overflow {
		before := o.LastDeliveredIndex
		contributors = append(contributors, contributor{podcastID: o.PodcastID, before: &before})
	}

	fetched, err := f.fetch(ctx, contributors)
	if err != nil {
		return nil, err
	}
	alloc := allocate(fetched, perPodcast(len(contributors)))

	episodes := make([]Episode, 0, PageSize)
	var pushBack []string
	for i, c := range contributors {
		n := alloc[i]
		if n == 0 {
			continue
		}
		delivered := fetched[i][:n]
		episodes = append(episodes, delivered...)

		oldest := delivered[n-1].Index
		hasMore := n < len(fetched[i]) || len(fetched[i]) == PageSize
		if oldest > 0 && hasMore {
			b, err := json.Marshal(overflowEntry{PodcastID: c.podcastID, LastDeliveredIndex: oldest})
			if err != nil {
				return nil, fmt.Errorf("marshal overflow entry: %w", err)
			}
			pushBack = append(pushBack, string(b))
		}
	}

	if len(pushBack) > 0 {
		if err := f.cache.RPush(ctx, key, f.ttl, pushBack...); err != nil {
			return nil, err
		}
	} else if err := f.cache.Expire(ctx, key, f.ttl); err != nil {
		return nil, err
	}

	sort.SliceStable(episodes, func(i, j int) bool {
		if episodes[i].ReleaseTimestamp != episodes[j].ReleaseTimestamp {
			return episodes[i].ReleaseTimestamp > episodes[j].ReleaseTimestamp
		}
		return episodes[i].Index > episodes[j].Index
	})

	next := StageExhausted
	if len(follows) == PageSize {
		next = StageFollowPage
	} else {
		remaining, err := f.cache.Len(ctx, key)
		if err != nil {
			return nil, err
		}
		if remaining > 0 {
			next = StageOverflowPage
		}
	}

	page := &FeedPage{Type: PageTypeFeed, Episodes: episodes, IsFirstPage: stage == StageColdStart}
	switch next {
	case StageFollowPage:
		oldest := follows[len(follows)-1].FollowTimestamp
		tok, err := cursor.Encode(cursor.KindFeed, cursor.Feed{OldestFollowTimestamp: &oldest})
		if err != nil {
			return nil, err
		}
		page.NextToken = &tok
	case StageOverflowPage:
		tok, err := cursor.Encode(cursor.KindFeed, cursor.Feed{})
		if err != nil {
			return nil, err
		}
		page.NextToken = &tok
	}
	return page, nil
}

func (f *FeedAssembler) popOverflow(ctx context.Context, key string, n int) ([]overflowEntry, error) {
	raw, err := f.cache.PopFront(ctx, key, n)
	if err != nil {
		return nil, err
	}
	entries := make([]overflowEntry, 0, len(raw))
	for _, r := range raw {
		var e overflowEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			f.logger.Warn("dropping malformed overflow entry", "key", key, "err", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// fetch reads up to a full page of undelivered episodes per contributor.
func (f *FeedAssembler) fetch(ctx context.Context, contributors []contributor) ([][]Episode, error) {
	out := make([][]Episode, len(contributors))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, c := range contributors {
		g.Go(func() error {
			eps, err := f.episodes.Newest(ctx, c.podcastID, c.before, PageSize)
			if err != nil {
				return fmt.Errorf("fetch episodes of %s: %w", c.podcastID, err)
			}
			out[i] = eps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func perPodcast(contributors int) int {
	if contributors <= 0 {
		return PageSize
	}
	return max(1, int(math.Round(float64(PageSize)/float64(contributors))))
}

// allocate gives every contributor up to per episodes, then hands slots left
// over by short contributors to the others one at a time until the page is
// full or nobody has more.
func allocate(fetched [][]Episode, per int) []int {
	alloc := make([]int, len(fetched))
	total := 0
	for i, eps := range fetched {
		alloc[i] = min(per, len(eps))
		total += alloc[i]
	}
	for total < PageSize {
		grew := false
		for i, eps := range fetched {
			if total >= PageSize {
				break
			}
			if alloc[i] < len(eps) {
				alloc[i]++
				total++
				grew = true
			}
		}
		if !grew {
			break
		}
	}
	return alloc
}
