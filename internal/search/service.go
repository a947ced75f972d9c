package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"podfeed/internal/cursor"
	"podfeed/internal/podcast"
	"podfeed/internal/store"

	"github.com/charmbracelet/log"
)

const (
	PageSize        = 20
	SuggestionsSize = 10
	maxTermLength   = 20

	podcastsIndex = "podcasts"
	episodesIndex = "episodes"
)

type Searcher interface {
	Search(ctx context.Context, index string, query any) ([]Hit, error)
}

type PodcastSource interface {
	GetPodcasts(ctx context.Context, ids []string) ([]store.Podcast, error)
}

type EpisodeSource interface {
	Get(ctx context.Context, podcastID string, index int64) (*podcast.Episode, error)
}

// Service answers search requests from the index and hydrates hits from
// the store and the episode buffer.
type Service struct {
	index    Searcher
	podcasts PodcastSource
	episodes EpisodeSource
	logger   *log.Logger
}

func NewService(index Searcher, podcasts PodcastSource, episodes EpisodeSource, logger *log.Logger) *Service {
	return &Service{index: index, podcasts: podcasts, episodes: episodes, logger: logger}
}

func (s *Service) Podcasts(ctx context.Context, term, token string) (*podcast.PodcastPage, error) {
	page := &podcast.PodcastPage{Result: []podcast.PodcastView{}}
	term = SanitizeTerm(term)
	if term == "" {
		return page, nil
	}
	from, err := startOffset(term, token)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, podcastsIndex, pageQuery(term, from))
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return page, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	found, err := s.podcasts.GetPodcasts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load podcasts: %w", err)
	}
	for _, p := range found {
		page.Result = append(page.Result, podcast.FormatPodcast(p))
	}

	page.NextToken, err = nextToken(term, from, len(hits))
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (s *Service) Episodes(ctx context.Context, term, token string) (*podcast.EpisodePage, error) {
	page := &podcast.EpisodePage{Result: []podcast.Episode{}}
	term = SanitizeTerm(term)
	if term == "" {
		return page, nil
	}
	from, err := startOffset(term, token)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, episodesIndex, pageQuery(term, from))
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		podcastID, index, ok := splitEpisodeDocID(h.ID)
		if !ok {
			s.logger.Warn("skipping malformed episode document id", "id", h.ID)
			continue
		}
		e, err := s.episodes.Get(ctx, podcastID, index)
		if errors.Is(err, podcast.ErrEpisodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		page.Result = append(page.Result, *e)
	}

	page.NextToken, err = nextToken(term, from, len(hits))
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Suggestions returns podcast names starting with the term.
func (s *Service) Suggestions(ctx context.Context, term string) ([]string, error) {
	names := []string{}
	term = SanitizeTerm(term)
	if term == "" {
		return names, nil
	}
	hits, err := s.index.Search(ctx, podcastsIndex, map[string]any{
		"size": SuggestionsSize,
		"query": map[string]any{
			"match_phrase_prefix": map[string]any{"NAME_UA": term},
		},
	})
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		var doc struct {
			Name string `json:"NAME"`
		}
		if err := json.Unmarshal(h.Source, &doc); err != nil || doc.Name == "" {
			continue
		}
		names = append(names, doc.Name)
	}
	return names, nil
}

var specialChars = strings.NewReplacer(
	"+", "", "-", "", "=", "", "&", "", "|", "", "!", "", "(", "", ")", "",
	"{", "", "}", "", "[", "", "]", "", "^", "", "'", "", `"`, "", "~", "",
	"*", "", "<", "", ">", "", "?", "", ":", "", ";", "", `\`, "", "/", "",
)

// SanitizeTerm lowercases the term, keeps its first 20 characters and
// strips query syntax characters.
func SanitizeTerm(term string) string {
	term = strings.ToLower(term)
	if r := []rune(term); len(r) > maxTermLength {
		term = string(r[:maxTermLength])
	}
	return strings.TrimSpace(specialChars.Replace(term))
}

// startOffset honours a token only when it was minted for the same term.
func startOffset(term, token string) (int, error) {
	var pos cursor.Search
	present, err := cursor.Decode(token, cursor.KindSearch, &pos)
	if err != nil {
		return 0, err
	}
	if !present || pos.Term != term || pos.From < 0 {
		return 0, nil
	}
	return pos.From, nil
}

func nextToken(term string, from, hits int) (*string, error) {
	if hits < PageSize {
		return nil, nil
	}
	tok, err := cursor.Encode(cursor.KindSearch, cursor.Search{Term: term, From: from + PageSize})
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func pageQuery(term string, from int) map[string]any {
	return map[string]any{
		"from": from,
		"size": PageSize,
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{"match": map[string]any{
						"NAME": map[string]any{"query": term, "minimum_should_match": "75%"},
					}},
				},
				"should": []any{
					map[string]any{"term": map[string]any{"NAME_UA": term}},
					map[string]any{"fuzzy": map[string]any{"NAME_UA": term}},
					map[string]any{"match_phrase": map[string]any{"NAME_UA": term}},
				},
			},
		},
	}
}

// splitEpisodeDocID reads "<podcastId>+<index>" document ids.
func splitEpisodeDocID(id string) (string, int64, bool) {
	podcastID, rawIndex, ok := strings.Cut(id, "+")
	if !ok || podcastID == "" {
		return "", 0, false
	}
	index, err := strconv.ParseInt(rawIndex, 10, 64)
	if err != nil || index < 0 {
		return "", 0, false
	}
	return podcastID, index, true
}
