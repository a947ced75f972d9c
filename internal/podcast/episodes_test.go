package podcast

import (
	"context"
	"errors"
	"testing"
)

func TestEpisodeBuffer_IndexNeverReassigned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	added, err := env.episodes.Append(ctx, "pod", []Episode{{Index: 0, Name: "original"}})
	if err != nil || added != 1 {
		t.Fatalf("append: %d %v", added, err)
	}
	added, err = env.episodes.Append(ctx, "pod", []Episode{
		{Index: 0, Name: "replacement"},
		{Index: 1, Name: "next"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected only the new index to be added, got %d", added)
	}

	e, err := env.episodes.Get(ctx, "pod", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Name != "original" {
		t.Errorf("expected original episode at index 0, got %q", e.Name)
	}
	if e.PodcastID != "pod" || e.EpisodeID != "pod0" {
		t.Errorf("unexpected ids: %+v", e)
	}

	if _, err := env.episodes.Get(ctx, "pod", 5); !errors.Is(err, ErrEpisodeNotFound) {
		t.Fatalf("expected ErrEpisodeNotFound, got %v", err)
	}
}

func TestEpisodeBuffer_PagesNeverRepeatOrSkip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisodes(t, "pod", 47, 1_600_000_000)

	var (
		seen   = map[int64]bool{}
		before *int64
		last   = int64(47)
	)
	for {
		page, err := env.episodes.Newest(ctx, "pod", before, PageSize)
		if err != nil {
			t.Fatalf("newest: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			if e.Index >= last {
				t.Fatalf("expected strictly decreasing indices, got %d after %d", e.Index, last)
			}
			if seen[e.Index] {
				t.Fatalf("episode %d returned twice", e.Index)
			}
			seen[e.Index] = true
			last = e.Index
		}
		oldest := page[len(page)-1].Index
		before = &oldest
	}
	if len(seen) != 47 {
		t.Fatalf("expected all 47 episodes, got %d", len(seen))
	}
}

func TestEpisodeBuffer_AfterAndHighest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, ok, _ := env.episodes.Highest(ctx, "pod"); ok {
		t.Fatalf("expected empty buffer to have no highest index")
	}
	env.seedEpisodes(t, "pod", 5, 0)

	high, ok, err := env.episodes.Highest(ctx, "pod")
	if err != nil || !ok || high != 4 {
		t.Fatalf("expected highest 4, got %d %v %v", high, ok, err)
	}

	newer, err := env.episodes.After(ctx, "pod", 2, PageSize)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(newer) != 2 || newer[0].Index != 3 || newer[1].Index != 4 {
		t.Fatalf("unexpected episodes after 2: %+v", newer)
	}
}

func TestEpisodeBuffer_CommitDispatchesTrackingOnFinal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.episodes.Commit(ctx, "pod", false); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(env.dispatcher.tracking) != 0 {
		t.Fatalf("expected no tracking for a non-final batch")
	}
	if err := env.episodes.Commit(ctx, "pod", true); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(env.dispatcher.tracking) != 1 || env.dispatcher.tracking[0] != "pod" {
		t.Fatalf("expected tracking for pod, got %v", env.dispatcher.tracking)
	}
}

func TestStoredEpisodeKeys(t *testing.T) {
	member, err := encodeEpisode(Episode{PodcastID: "p", Index: 3, Name: "n", ReleaseTimestamp: 10, Duration: 20, AudioURL: "u"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"PID":"p","INDEX":3,"NAME":"n","DESC":"","RLSTS":10,"DUR":20,"AUDIOURL":"u"}`
	if member != want {
		t.Fatalf("expected %s, got %s", want, member)
	}
}

func TestParseEpisodeID(t *testing.T) {
	id := EpisodeID("9f80db8d-6ba9-4e8c-8128-5779e74aa314", 204)
	podcastID, index, err := ParseEpisodeID(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if podcastID != "9f80db8d-6ba9-4e8c-8128-5779e74aa314" || index != 204 {
		t.Fatalf("unexpected parse: %s %d", podcastID, index)
	}

	for _, bad := range []string{"", "short", "9f80db8d-6ba9-4e8c-8128-5779e74aa314", "9f80db8d-6ba9-4e8c-8128-5779e74aa314x"} {
		var verr *ValidationError
		if _, _, err := ParseEpisodeID(bad); !errors.As(err, &verr) {
			t.Errorf("%q: expected ValidationError, got %v", bad, err)
		}
	}
}
