package podcast

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"podfeed/internal/store"

	"github.com/google/uuid"
)

const (
	// PageSize is the target length of every paginated listing.
	PageSize = 20
	// MaxImportBatch is the most source ids one import call may carry.
	MaxImportBatch = 25

	ImportLockTTL   = 900 * time.Second
	ImportTokenTTL  = 300 * time.Second
	FeedOverflowTTL = 86400 * time.Second
	DefaultSource   = "itunes"
	podcastIDLength = 36
)

func importLockKey(sourceID int64) string {
	return "IMPORT-" + strconv.FormatInt(sourceID, 10)
}

func importTokenKey(podcastID string, isUpdate bool) string {
	if isUpdate {
		return "EUPDATETOKEN-" + podcastID
	}
	return "EIMPORTTOKEN-" + podcastID
}

func episodesKey(podcastID string) string {
	return "EPISODES-" + podcastID
}

func overflowKey(accountID string) string {
	return "NEW_EPISODES_FEED_" + accountID
}

// Episode is one release of a podcast. Index is assigned by the importer,
// starts at 0 for the oldest release and never changes.
type Episode struct {
	EpisodeID        string `json:"episodeId"`
	PodcastID        string `json:"podcastId"`
	Index            int64  `json:"index"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	ReleaseTimestamp int64  `json:"releaseTimestamp"` // unix seconds
	Duration         int64  `json:"duration"`         // seconds
	AudioURL         string `json:"audioUrl"`
}

// EpisodeID builds the public episode id: the podcast id followed by the
// episode index.
func EpisodeID(podcastID string, index int64) string {
	return podcastID + strconv.FormatInt(index, 10)
}

// ParseEpisodeID splits an id built by EpisodeID.
func ParseEpisodeID(id string) (string, int64, error) {
	if len(id) <= podcastIDLength {
		return "", 0, &ValidationError{Field: "episodeId", Message: "malformed episode id"}
	}
	podcastID := id[:podcastIDLength]
	if _, err := uuid.Parse(podcastID); err != nil {
		return "", 0, &ValidationError{Field: "episodeId", Message: "malformed episode id"}
	}
	index, err := strconv.ParseInt(id[podcastIDLength:], 10, 64)
	if err != nil || index < 0 {
		return "", 0, &ValidationError{Field: "episodeId", Message: "malformed episode index"}
	}
	return podcastID, index, nil
}

// storedEpisode is the cache representation of an Episode.
type storedEpisode struct {
	PodcastID        string `json:"PID"`
	Index            int64  `json:"INDEX"`
	Name             string `json:"NAME"`
	Description      string `json:"DESC"`
	ReleaseTimestamp int64  `json:"RLSTS"`
	Duration         int64  `json:"DUR"`
	AudioURL         string `json:"AUDIOURL"`
}

func encodeEpisode(e Episode) (string, error) {
	b, err := json.Marshal(storedEpisode{
		PodcastID:        e.PodcastID,
		Index:            e.Index,
		Name:             e.Name,
		Description:      e.Description,
		ReleaseTimestamp: e.ReleaseTimestamp,
		Duration:         e.Duration,
		AudioURL:         e.AudioURL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal episode: %w", err)
	}
	return string(b), nil
}

func decodeEpisode(member string) (Episode, error) {
	var s storedEpisode
	if err := json.Unmarshal([]byte(member), &s); err != nil {
		return Episode{}, fmt.Errorf("unmarshal episode: %w", err)
	}
	return Episode{
		EpisodeID:        EpisodeID(s.PodcastID, s.Index),
		PodcastID:        s.PodcastID,
		Index:            s.Index,
		Name:             s.Name,
		Description:      s.Description,
		ReleaseTimestamp: s.ReleaseTimestamp,
		Duration:         s.Duration,
		AudioURL:         s.AudioURL,
	}, nil
}

// PodcastView is the public shape of a catalogued podcast.
type PodcastView struct {
	PodcastID       string   `json:"podcastId"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Author          string   `json:"author"`
	AuthorURL       string   `json:"authorUrl"`
	Genres          []string `json:"genre"`
	Image           string   `json:"image"`
	Source          string   `json:"source"`
	SourceID        string   `json:"sourceId"`
	SourceLink      string   `json:"sourceLink"`
	FeedURL         string   `json:"feedUrl,omitempty"`
	FollowTimestamp int64    `json:"followTimestamp,omitempty"`
}

func FormatPodcast(p store.Podcast) PodcastView {
	genres := p.Genres
	if genres == nil {
		genres = []string{}
	}
	return PodcastView{
		PodcastID:   p.ID,
		Name:        p.Name,
		Description: p.Description,
		Author:      p.Author,
		AuthorURL:   p.AuthorURL,
		Genres:      genres,
		Image:       p.Image,
		Source:      p.Source,
		SourceID:    strconv.FormatInt(p.SourceID, 10),
		SourceLink:  p.SourceLink,
		FeedURL:     p.FeedURL,
	}
}

// ImportJob is the payload handed to the job runner for one podcast.
type ImportJob struct {
	Source            string `json:"source"`
	SourceID          int64  `json:"sourceId"`
	FeedURL           string `json:"feedUrl"`
	PodcastID         string `json:"podcastId"`
	ResultCallbackURL string `json:"resultCallbackUrl"`
	TaskToken         string `json:"taskToken"`
}

// ImportedPodcast is the podcast record a job posts back once it has read
// the feed.
type ImportedPodcast struct {
	PodcastID   string   `json:"podcastId"`
	Source      string   `json:"source"`
	SourceID    int64    `json:"sourceId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	AuthorURL   string   `json:"authorUrl"`
	Genres      []string `json:"genre"`
	Image       string   `json:"image"`
	FeedURL     string   `json:"feedUrl"`
	SourceLink  string   `json:"sourceLink"`
}

// UpdateTicket authorises one incremental episode import for a tracked
// podcast.
type UpdateTicket struct {
	PodcastID              string `json:"podcastId"`
	FeedURL                string `json:"feedUrl"`
	UpdateToken            string `json:"updateToken"`
	NextIndex              int64  `json:"nextIndex"`
	LatestReleaseTimestamp int64  `json:"latestReleaseTimestamp"`
}
