package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"podfeed/internal/api"
	"podfeed/internal/cache"
	"podfeed/internal/catalog"
	"podfeed/internal/config"
	"podfeed/internal/jobs"
	"podfeed/internal/logging"
	"podfeed/internal/podcast"
	"podfeed/internal/search"
	"podfeed/internal/store"

	"github.com/charmbracelet/log"
	"github.com/clerk/clerk-sdk-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/go-libsql"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

const secretBytes = 32

type app struct {
	config   *config.Config
	logger   *log.Logger
	store    store.Store
	cache    *cache.Cache
	importer *podcast.Importer
	library  *podcast.Library
	episodes *podcast.EpisodeBuffer
	feed     *podcast.FeedAssembler
	clips    *podcast.Clips
	topList  *podcast.TopList
	search   *search.Service
	handlers *api.Handlers
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", "err", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal("init logger", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", "err", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	s, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	c, err := cache.New(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer c.Close()

	topList, err := podcast.LoadTopList(cfg.TopList.Path)
	if err != nil {
		logger.Warn("top list unavailable, cold start pages will be empty", "path", cfg.TopList.Path, "err", err)
		topList = podcast.NewTopList(nil)
	}

	var (
		dispatcher podcast.Dispatcher
		runner     *jobs.LocalRunner
	)
	if cfg.Jobs.RunnerURL != "" {
		dispatcher = jobs.NewHTTPDispatcher(cfg.Jobs.RunnerURL, cfg.Auth.ImportSecret, cfg.Catalog.Timeout)
		logger.Info("dispatching jobs to remote runner", "url", cfg.Jobs.RunnerURL)
	} else {
		if cfg.Auth.ImportSecret == "" {
			// the local runner authenticates its callbacks like a remote one
			secret, err := generateSecret()
			if err != nil {
				return fmt.Errorf("generate import secret: %w", err)
			}
			cfg.Auth.ImportSecret = secret
		}
		runner = jobs.NewLocalRunner(jobs.RunnerConfig{
			BaseURL:          cfg.Server.PublicBaseURL,
			Secret:           cfg.Auth.ImportSecret,
			Workers:          cfg.Jobs.Workers,
			TrackingInterval: cfg.Jobs.TrackingInterval,
			Logger:           logger.WithPrefix("jobs"),
		})
		ids, err := s.ListPodcastIDs(ctx)
		if err != nil {
			return fmt.Errorf("list tracked podcasts: %w", err)
		}
		runner.Track(ids...)
		dispatcher = runner
	}

	if cfg.Auth.ClerkSecretKey != "" {
		clerk.SetKey(cfg.Auth.ClerkSecretKey)
		logger.Info("clerk authentication enabled")
	}

	app := newApp(cfg, logger, s, c, topList, dispatcher)
	if cfg.Search.URL != "" {
		index := search.NewClient(cfg.Search.URL, cfg.Search.RPS, cfg.Server.HandlerTimeout)
		app.search = search.NewService(index, s, app.episodes, logger.WithPrefix("search"))
	}

	g, ctx := errgroup.WithContext(ctx)
	if runner != nil {
		g.Go(func() error { return runner.Run(ctx) })
	}
	g.Go(func() error { return app.serve(ctx) })
	return g.Wait()
}

// newApp wires the podcast services on top of a store and a cache.
func newApp(cfg *config.Config, logger *log.Logger, s store.Store, c *cache.Cache, topList *podcast.TopList, dispatcher podcast.Dispatcher) *app {
	episodes := podcast.NewEpisodeBuffer(c, dispatcher, logger.WithPrefix("episodes"))
	library := podcast.NewLibrary(s, episodes)

	importer := podcast.NewImporter(podcast.ImporterDeps{
		Store:       s,
		Catalog:     catalog.New(cfg.Catalog.LookupURL, cfg.Catalog.RPS, cfg.Catalog.Timeout),
		Lock:        podcast.NewImportLock(c),
		Tokens:      podcast.NewTokenGuard(c),
		Episodes:    episodes,
		Dispatcher:  dispatcher,
		CallbackURL: cfg.Server.PublicBaseURL,
		Logger:      logger.WithPrefix("import"),
	})

	rssService := api.PodcastFeedService{
		Podcasts: library,
		Episodes: episodes,
		BaseURL:  cfg.Server.PublicBaseURL,
	}

	return &app{
		config:   cfg,
		logger:   logger,
		store:    s,
		cache:    c,
		importer: importer,
		library:  library,
		episodes: episodes,
		feed:     podcast.NewFeedAssembler(s, c, episodes, topList, logger.WithPrefix("feed")),
		clips:    podcast.NewClips(s, episodes),
		topList:  topList,
		handlers: api.NewHandlers(rssService, api.NewCache(cfg.Cache.RSSTTL)),
	}
}

func generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
