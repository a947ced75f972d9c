package podcast

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"podfeed/internal/cache"
	"podfeed/internal/catalog"
	"podfeed/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	imports  []ImportJob
	tracking []string
	failFor  map[int64]bool
}

func (d *fakeDispatcher) DispatchImport(ctx context.Context, job ImportJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFor[job.SourceID] {
		return errors.New("runner unavailable")
	}
	d.imports = append(d.imports, job)
	return nil
}

func (d *fakeDispatcher) DispatchTracking(ctx context.Context, podcastID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracking = append(d.tracking, podcastID)
	return nil
}

func (d *fakeDispatcher) importsFor(sourceID int64) []ImportJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []ImportJob
	for _, j := range d.imports {
		if j.SourceID == sourceID {
			out = append(out, j)
		}
	}
	return out
}

type fakeCatalog struct {
	mu      sync.Mutex
	entries map[int64]catalog.Entry
	calls   int
	lastIDs []int64
	err     error
}

func (c *fakeCatalog) Lookup(ctx context.Context, ids []int64) ([]catalog.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastIDs = append([]int64(nil), ids...)
	if c.err != nil {
		return nil, c.err
	}
	var out []catalog.Entry
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

type testEnv struct {
	mr         *miniredis.Miniredis
	cache      *cache.Cache
	store      *store.SQLStore
	catalog    *fakeCatalog
	dispatcher *fakeDispatcher
	lock       *ImportLock
	tokens     *TokenGuard
	episodes   *EpisodeBuffer
	importer   *Importer
	topList    *TopList
	feed       *FeedAssembler
	library    *Library
	clips      *Clips
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	c := cache.NewFromClient(rdb)

	s, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	env := &testEnv{
		mr:         mr,
		cache:      c,
		store:      s,
		catalog:    &fakeCatalog{entries: map[int64]catalog.Entry{}},
		dispatcher: &fakeDispatcher{failFor: map[int64]bool{}},
	}
	logger := discardLogger()
	env.lock = NewImportLock(c)
	env.tokens = NewTokenGuard(c)
	env.episodes = NewEpisodeBuffer(c, env.dispatcher, logger)
	env.importer = NewImporter(ImporterDeps{
		Store:       s,
		Catalog:     env.catalog,
		Lock:        env.lock,
		Tokens:      env.tokens,
		Episodes:    env.episodes,
		Dispatcher:  env.dispatcher,
		CallbackURL: "http://localhost:8080",
		Logger:      logger,
	})
	env.topList = NewTopList([]PodcastView{
		{PodcastID: "top-1", Name: "First"},
		{PodcastID: "top-2", Name: "Second"},
	})
	env.feed = NewFeedAssembler(s, c, env.episodes, env.topList, logger)
	env.library = NewLibrary(s, env.episodes)
	env.clips = NewClips(s, env.episodes)
	return env
}

func (e *testEnv) addCatalogEntry(sourceID int64) {
	e.catalog.entries[sourceID] = catalog.Entry{
		CollectionID: sourceID,
		Name:         "Show",
		FeedURL:      "https://example.com/feed.xml",
	}
}

// seedEpisodes stores n episodes with indices 0..n-1, newer episodes
// released later.
func (e *testEnv) seedEpisodes(t *testing.T, podcastID string, n int, releaseBase int64) {
	t.Helper()
	eps := make([]Episode, n)
	for i := range eps {
		eps[i] = Episode{
			Index:            int64(i),
			Name:             "episode",
			ReleaseTimestamp: releaseBase + int64(i)*60,
			AudioURL:         "https://example.com/a.mp3",
		}
	}
	if _, err := e.episodes.Append(context.Background(), podcastID, eps); err != nil {
		t.Fatalf("seed episodes: %v", err)
	}
}
