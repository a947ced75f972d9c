package podcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"podfeed/internal/catalog"
	"podfeed/internal/store"

	"github.com/google/uuid"
)

func (e *testEnv) catalogPodcast(t *testing.T, sourceID int64) store.Podcast {
	t.Helper()
	now := time.Now().UTC()
	p := store.Podcast{
		ID:        uuid.NewString(),
		Source:    DefaultSource,
		SourceID:  sourceID,
		Name:      "Known",
		FeedURL:   "https://example.com/known.xml",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.UpsertPodcast(context.Background(), &p); err != nil {
		t.Fatalf("upsert podcast: %v", err)
	}
	return p
}

func TestStartImport_SplitsKnownAndNew(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	known := env.catalogPodcast(t, 111)
	env.addCatalogEntry(222)

	res, err := env.importer.StartImport(ctx, "acc", []int64{111, 222, 222})
	if err != nil {
		t.Fatalf("start import: %v", err)
	}
	if len(res.ExistingPodcasts) != 1 || res.ExistingPodcasts[0].PodcastID != known.ID {
		t.Fatalf("expected %s as existing, got %+v", known.ID, res.ExistingPodcasts)
	}
	if len(res.PodcastImports) != 1 {
		t.Fatalf("expected one import, got %v", res.PodcastImports)
	}

	jobs := env.dispatcher.importsFor(222)
	if len(jobs) != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", len(jobs))
	}
	job := jobs[0]
	if job.PodcastID != res.PodcastImports[0] || job.FeedURL == "" || job.TaskToken == "" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(env.dispatcher.importsFor(111)) != 0 {
		t.Fatalf("expected no dispatch for a catalogued podcast")
	}
	if got := env.catalog.lastIDs; len(got) != 1 || got[0] != 222 {
		t.Fatalf("expected catalog lookup for 222 only, got %v", got)
	}

	follows, err := env.store.ListFollows(ctx, "acc", nil, PageSize)
	if err != nil {
		t.Fatalf("list follows: %v", err)
	}
	followed := map[string]bool{}
	for _, f := range follows {
		followed[f.PodcastID] = true
	}
	if !followed[known.ID] || !followed[job.PodcastID] {
		t.Fatalf("expected account to follow both podcasts, got %v", followed)
	}
}

func TestStartImport_ConcurrentCallersShareOneImport(t *testing.T) {
	env := newTestEnv(t)
	env.addCatalogEntry(333)

	const callers = 8
	results := make([]*ImportResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.importer.StartImport(context.Background(), "", []int64{333})
			if err != nil {
				t.Errorf("start import: %v", err)
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()

	if n := len(env.dispatcher.importsFor(333)); n != 1 {
		t.Fatalf("expected one dispatch, got %d", n)
	}
	want := env.dispatcher.importsFor(333)[0].PodcastID
	for i, res := range results {
		if res == nil {
			continue
		}
		if len(res.PodcastImports) != 1 || res.PodcastImports[0] != want {
			t.Errorf("caller %d: expected %s, got %v", i, want, res.PodcastImports)
		}
	}
}

func TestStartImport_Validation(t *testing.T) {
	env := newTestEnv(t)

	tooMany := make([]int64, MaxImportBatch+1)
	for i := range tooMany {
		tooMany[i] = int64(i + 1)
	}
	tests := []struct {
		name string
		ids  []int64
	}{
		{"empty", nil},
		{"too many", tooMany},
		{"negative", []int64{5, -1}},
		{"zero", []int64{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.importer.StartImport(context.Background(), "acc", tt.ids)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if env.catalog.calls != 0 {
		t.Fatalf("expected no catalog calls for invalid input")
	}
}

func TestStartImport_DispatchFailureReleasesLock(t *testing.T) {
	env := newTestEnv(t)
	env.addCatalogEntry(444)
	env.addCatalogEntry(445)
	env.dispatcher.failFor[444] = true

	res, err := env.importer.StartImport(context.Background(), "", []int64{444, 445})
	if err != nil {
		t.Fatalf("start import: %v", err)
	}
	if len(res.PodcastImports) != 1 {
		t.Fatalf("expected only the dispatched import, got %v", res.PodcastImports)
	}
	if env.mr.Exists("IMPORT-444") {
		t.Fatalf("expected failed dispatch to release its lock")
	}
	if !env.mr.Exists("IMPORT-445") {
		t.Fatalf("expected successful dispatch to keep its lock")
	}

	// a retry can take the released lock
	env.dispatcher.failFor[444] = false
	res, err = env.importer.StartImport(context.Background(), "", []int64{444})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(res.PodcastImports) != 1 || len(env.dispatcher.importsFor(444)) != 1 {
		t.Fatalf("expected retry to dispatch, got %v", res.PodcastImports)
	}
}

func TestStartImport_SkipsUnresolvableIDs(t *testing.T) {
	env := newTestEnv(t)
	// 555 has no feed url, 556 is unknown to the catalog
	env.catalog.entries[555] = catalog.Entry{CollectionID: 555, Name: "No feed"}

	res, err := env.importer.StartImport(context.Background(), "", []int64{555, 556})
	if err != nil {
		t.Fatalf("start import: %v", err)
	}
	if len(res.PodcastImports) != 0 || len(env.dispatcher.imports) != 0 {
		t.Fatalf("expected nothing imported, got %v", res.PodcastImports)
	}
	if env.mr.Exists("IMPORT-555") || env.mr.Exists("IMPORT-556") {
		t.Fatalf("expected no locks for unresolvable ids")
	}
}

func TestStartImport_CatalogFailure(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.err = errors.New("catalog down")

	if _, err := env.importer.StartImport(context.Background(), "", []int64{1}); err == nil {
		t.Fatalf("expected error when the catalog is unreachable")
	}
}

func startOne(t *testing.T, env *testEnv, sourceID int64) ImportJob {
	t.Helper()
	env.addCatalogEntry(sourceID)
	if _, err := env.importer.StartImport(context.Background(), "", []int64{sourceID}); err != nil {
		t.Fatalf("start import: %v", err)
	}
	jobs := env.dispatcher.importsFor(sourceID)
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	return jobs[0]
}

func TestIngest_FullImportFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := startOne(t, env, 777)

	view, err := env.importer.IngestPodcast(ctx, job.TaskToken, ImportedPodcast{
		PodcastID: job.PodcastID,
		SourceID:  job.SourceID,
		Name:      "Imported",
		FeedURL:   job.FeedURL,
		Genres:    []string{"Technology"},
	})
	if err != nil {
		t.Fatalf("ingest podcast: %v", err)
	}
	if view.SourceID != "777" || view.Source != DefaultSource {
		t.Fatalf("unexpected view: %+v", view)
	}

	batch := EpisodeBatch{PodcastID: job.PodcastID, Token: job.TaskToken}
	batch.Episodes = []Episode{{Index: 0, Name: "first"}, {Index: 1, Name: "second"}}
	if added, err := env.importer.IngestEpisodes(ctx, batch); err != nil || added != 2 {
		t.Fatalf("first batch: %d %v", added, err)
	}
	if len(env.dispatcher.tracking) != 0 {
		t.Fatalf("expected no tracking before the final batch")
	}

	batch.Episodes = []Episode{{Index: 2, Name: "third"}}
	batch.IsFinal = true
	if _, err := env.importer.IngestEpisodes(ctx, batch); err != nil {
		t.Fatalf("final batch: %v", err)
	}
	if len(env.dispatcher.tracking) != 1 || env.dispatcher.tracking[0] != job.PodcastID {
		t.Fatalf("expected tracking after final batch, got %v", env.dispatcher.tracking)
	}

	if _, err := env.importer.IngestEpisodes(ctx, batch); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected replayed final batch to be rejected, got %v", err)
	}

	stored, err := env.store.GetPodcast(ctx, job.PodcastID)
	if err != nil {
		t.Fatalf("get podcast: %v", err)
	}
	if stored.Name != "Imported" || len(stored.Genres) != 1 {
		t.Fatalf("unexpected stored podcast: %+v", stored)
	}

	// the imported podcast is now catalogued
	res, err := env.importer.StartImport(ctx, "", []int64{777})
	if err != nil {
		t.Fatalf("start import: %v", err)
	}
	if len(res.ExistingPodcasts) != 1 || len(res.PodcastImports) != 0 {
		t.Fatalf("expected 777 as existing, got %+v", res)
	}
}

func TestIngestPodcast_RejectsForeignSourceID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := startOne(t, env, 555)
	other := startOne(t, env, 556)

	meta := ImportedPodcast{
		PodcastID: job.PodcastID,
		SourceID:  other.SourceID,
		Name:      "Hijack",
		FeedURL:   job.FeedURL,
	}
	var verr *ValidationError
	if _, err := env.importer.IngestPodcast(ctx, job.TaskToken, meta); !errors.As(err, &verr) || verr.Field != "sourceId" {
		t.Fatalf("expected sourceId ValidationError, got %v", err)
	}

	// a source id nobody is importing is refused too
	meta.SourceID = 999
	if _, err := env.importer.IngestPodcast(ctx, job.TaskToken, meta); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unlocked source id, got %v", err)
	}

	meta.SourceID = job.SourceID
	meta.Source = "spotify"
	if _, err := env.importer.IngestPodcast(ctx, job.TaskToken, meta); !errors.As(err, &verr) || verr.Field != "source" {
		t.Fatalf("expected source ValidationError, got %v", err)
	}

	if _, err := env.store.GetPodcast(ctx, job.PodcastID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected nothing stored, got %v", err)
	}

	meta.Source = ""
	if _, err := env.importer.IngestPodcast(ctx, job.TaskToken, meta); err != nil {
		t.Fatalf("expected matching source id to be accepted, got %v", err)
	}
}

func TestIngestEpisodes_Rejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := startOne(t, env, 888)

	if _, err := env.importer.IngestEpisodes(ctx, EpisodeBatch{PodcastID: job.PodcastID, Token: "wrong"}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong token, got %v", err)
	}
	if _, err := env.importer.IngestEpisodes(ctx, EpisodeBatch{PodcastID: job.PodcastID, Token: job.TaskToken, IsUpdate: true}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected import token to be refused for updates, got %v", err)
	}
	var verr *ValidationError
	if _, err := env.importer.IngestEpisodes(ctx, EpisodeBatch{Token: job.TaskToken}); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for missing podcast id, got %v", err)
	}
	bad := EpisodeBatch{PodcastID: job.PodcastID, Token: job.TaskToken, Episodes: []Episode{{Index: -1}}}
	if _, err := env.importer.IngestEpisodes(ctx, bad); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for negative index, got %v", err)
	}

	env.mr.FastForward(ImportTokenTTL)
	if _, err := env.importer.IngestEpisodes(ctx, EpisodeBatch{PodcastID: job.PodcastID, Token: job.TaskToken}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}
}

func TestBeginUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	known := env.catalogPodcast(t, 999)
	env.seedEpisodes(t, known.ID, 4, 1_700_000_000)

	ticket, err := env.importer.BeginUpdate(ctx, known.ID)
	if err != nil {
		t.Fatalf("begin update: %v", err)
	}
	if ticket.NextIndex != 4 || ticket.LatestReleaseTimestamp != 1_700_000_180 {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
	if ticket.FeedURL != known.FeedURL {
		t.Fatalf("expected feed url %s, got %s", known.FeedURL, ticket.FeedURL)
	}

	batch := EpisodeBatch{
		PodcastID: known.ID,
		Token:     ticket.UpdateToken,
		IsUpdate:  true,
		IsFinal:   true,
		Episodes:  []Episode{{Index: ticket.NextIndex, Name: "fresh"}},
	}
	if added, err := env.importer.IngestEpisodes(ctx, batch); err != nil || added != 1 {
		t.Fatalf("update batch: %d %v", added, err)
	}
	if len(env.dispatcher.tracking) != 0 {
		t.Fatalf("expected updates not to start tracking again")
	}

	if _, err := env.importer.BeginUpdate(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
