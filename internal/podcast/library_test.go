package podcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"podfeed/internal/cursor"
	"podfeed/internal/store"

	"github.com/google/uuid"
)

func TestLibrary_FollowedPagesNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 25; i++ {
		p := env.catalogPodcast(t, int64(1000+i))
		ids = append(ids, p.ID)
	}
	// one follow for a podcast that is still importing
	ids = append(ids, uuid.NewString())
	if _, err := env.store.CreateFollows(ctx, "acc", ids, time.Now()); err != nil {
		t.Fatalf("follow: %v", err)
	}

	first, err := env.library.Followed(ctx, "acc", "")
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	// the newest follow is the importing podcast, so one row is dropped
	if len(first.Result) != PageSize-1 {
		t.Fatalf("expected %d podcasts, got %d", PageSize-1, len(first.Result))
	}
	if first.Result[0].PodcastID != ids[24] {
		t.Errorf("expected most recent catalogued follow first, got %s", first.Result[0].PodcastID)
	}
	for i := 1; i < len(first.Result); i++ {
		if first.Result[i].FollowTimestamp >= first.Result[i-1].FollowTimestamp {
			t.Fatalf("expected strictly decreasing follow timestamps")
		}
	}
	if first.NextToken == nil {
		t.Fatalf("expected a next token")
	}

	second, err := env.library.Followed(ctx, "acc", *first.NextToken)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(second.Result) != 6 || second.NextToken != nil {
		t.Fatalf("expected final page of 6, got %d (token %v)", len(second.Result), second.NextToken)
	}
	if second.Result[5].PodcastID != ids[0] {
		t.Errorf("expected the first follow last")
	}
}

func TestLibrary_FollowUnfollow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.catalogPodcast(t, 42)

	if err := env.library.Follow(ctx, "acc", p.ID); err != nil {
		t.Fatalf("follow: %v", err)
	}
	// following twice keeps a single follow
	if err := env.library.Follow(ctx, "acc", p.ID); err != nil {
		t.Fatalf("follow again: %v", err)
	}
	if n, _ := env.store.CountFollows(ctx, "acc"); n != 1 {
		t.Fatalf("expected one follow, got %d", n)
	}

	if err := env.library.Unfollow(ctx, "acc", p.ID); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	if err := env.library.Unfollow(ctx, "acc", p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var verr *ValidationError
	if err := env.library.Follow(ctx, "acc", "not-a-uuid"); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLibrary_EpisodesPaging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	podcastID := uuid.NewString()
	env.seedEpisodes(t, podcastID, 45, 0)

	first, err := env.library.Episodes(ctx, EpisodeQuery{PodcastID: podcastID})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(first.Result) != PageSize || first.Result[0].Index != 44 || first.NextToken == nil {
		t.Fatalf("unexpected page 1: %d episodes", len(first.Result))
	}

	// the token alone is enough to continue
	second, err := env.library.Episodes(ctx, EpisodeQuery{Token: *first.NextToken})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if second.Result[0].Index != 24 {
		t.Fatalf("expected page 2 to start at 24, got %d", second.Result[0].Index)
	}
	third, err := env.library.Episodes(ctx, EpisodeQuery{Token: *second.NextToken})
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(third.Result) != 5 || third.NextToken != nil {
		t.Fatalf("expected final page of 5, got %d", len(third.Result))
	}

	biggest := int64(10)
	bounded, err := env.library.Episodes(ctx, EpisodeQuery{PodcastID: podcastID, BiggestIndex: &biggest})
	if err != nil {
		t.Fatalf("bounded: %v", err)
	}
	if len(bounded.Result) != 10 || bounded.Result[0].Index != 9 {
		t.Fatalf("expected 9..0, got %d episodes", len(bounded.Result))
	}

	smallest := int64(40)
	newer, err := env.library.Episodes(ctx, EpisodeQuery{PodcastID: podcastID, SmallestIndex: &smallest})
	if err != nil {
		t.Fatalf("newer: %v", err)
	}
	if len(newer.Result) != 4 || newer.Result[0].Index != 41 || newer.NextToken != nil {
		t.Fatalf("expected 41..44 ascending, got %+v", newer.Result)
	}
}

func TestLibrary_EpisodesRejectsForeignToken(t *testing.T) {
	env := newTestEnv(t)
	token, _ := cursor.Encode(cursor.KindEpisodes, cursor.Episodes{PodcastID: uuid.NewString(), Index: 5})

	_, err := env.library.Episodes(context.Background(), EpisodeQuery{PodcastID: uuid.NewString(), Token: token})
	if !errors.Is(err, cursor.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLibrary_Episode(t *testing.T) {
	env := newTestEnv(t)
	podcastID := uuid.NewString()
	env.seedEpisodes(t, podcastID, 3, 0)

	e, err := env.library.Episode(context.Background(), EpisodeID(podcastID, 2))
	if err != nil {
		t.Fatalf("episode: %v", err)
	}
	if e.Index != 2 || e.PodcastID != podcastID {
		t.Fatalf("unexpected episode: %+v", e)
	}
	if _, err := env.library.Episode(context.Background(), EpisodeID(podcastID, 3)); !errors.Is(err, ErrEpisodeNotFound) {
		t.Fatalf("expected ErrEpisodeNotFound, got %v", err)
	}
}

func TestLibrary_FollowUsesInjectedClock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.catalogPodcast(t, 43)

	fixed := time.Unix(1_700_000_000, 0)
	env.library.now = func() time.Time { return fixed }
	if err := env.library.Follow(ctx, "acc", p.ID); err != nil {
		t.Fatalf("follow: %v", err)
	}

	follows, err := env.store.ListFollows(ctx, "acc", nil, PageSize)
	if err != nil {
		t.Fatalf("list follows: %v", err)
	}
	if len(follows) != 1 || follows[0].FollowTimestamp != store.FollowTimestamp(fixed, 0) {
		t.Fatalf("expected follow stamped at %d, got %+v", store.FollowTimestamp(fixed, 0), follows)
	}
}
