package podcast

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"podfeed/internal/cursor"
	"podfeed/internal/store"
)

const clipAttempts = 5

// ClipInput is the client supplied part of a new clip. Times are seconds
// into the episode.
type ClipInput struct {
	Title     string `json:"title"`
	Notes     string `json:"notes"`
	StartTime *int64 `json:"startTime"`
	EndTime   *int64 `json:"endTime"`
}

// ClipChange carries the fields a clip owner may edit. Nil keeps the
// stored value.
type ClipChange struct {
	Title *string `json:"title"`
	Notes *string `json:"notes"`
}

// ClipView is the public shape of a clip.
type ClipView struct {
	ClipID            string `json:"clipId"`
	CreatorAccountID  string `json:"creatorAccountId"`
	EpisodeID         string `json:"episodeId"`
	CreationTimestamp int64  `json:"creationTimestamp"`
	StartTime         int64  `json:"startTime"`
	EndTime           int64  `json:"endTime"`
	Title             string `json:"title"`
	Notes             string `json:"notes"`
}

type ClipPage struct {
	Result    []ClipView `json:"result"`
	NextToken *string    `json:"nextToken"`
}

// ClipID builds the public clip id: episode id, creator and per-episode
// index joined by "+".
func ClipID(episodeID, accountID string, index int64) string {
	return episodeID + "+" + accountID + "+" + strconv.FormatInt(index, 10)
}

// ParseClipID splits an id built by ClipID.
func ParseClipID(id string) (episodeID, accountID string, index int64, err error) {
	first := strings.Index(id, "+")
	last := strings.LastIndex(id, "+")
	if first <= 0 || last <= first+1 {
		return "", "", 0, &ValidationError{Field: "clipId", Message: "malformed clip id"}
	}
	episodeID, accountID = id[:first], id[first+1:last]
	if _, _, err := ParseEpisodeID(episodeID); err != nil {
		return "", "", 0, &ValidationError{Field: "clipId", Message: "malformed episode id"}
	}
	index, err = strconv.ParseInt(id[last+1:], 10, 64)
	if err != nil || index < 0 {
		return "", "", 0, &ValidationError{Field: "clipId", Message: "malformed clip index"}
	}
	return episodeID, accountID, index, nil
}

func FormatClip(c store.Clip) ClipView {
	return ClipView{
		ClipID:            ClipID(c.EpisodeID, c.AccountID, c.Index),
		CreatorAccountID:  c.AccountID,
		EpisodeID:         c.EpisodeID,
		CreationTimestamp: c.CreatedTimestamp,
		StartTime:         c.StartTime,
		EndTime:           c.EndTime,
		Title:             c.Title,
		Notes:             c.Notes,
	}
}

type episodeGetter interface {
	Get(ctx context.Context, podcastID string, index int64) (*Episode, error)
}

// Clips stores the time ranges accounts mark in episodes.
type Clips struct {
	store    store.Store
	episodes episodeGetter
	now      func() time.Time
}

func NewClips(s store.Store, episodes episodeGetter) *Clips {
	return &Clips{store: s, episodes: episodes, now: time.Now}
}

// Create saves a clip of an existing episode. The clip gets the next index
// of the account's clips of that episode and a creation timestamp above
// every other clip of the account.
func (c *Clips) Create(ctx context.Context, accountID, episodeID string, in ClipInput) (*ClipView, error) {
	if episodeID == "" {
		return nil, &ValidationError{Field: "episodeId", Message: "is required"}
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Message: "is required"}
	}
	if in.StartTime == nil || in.EndTime == nil {
		return nil, &ValidationError{Field: "startTime", Message: "start and end time are required"}
	}
	if *in.StartTime < 0 || *in.StartTime >= *in.EndTime {
		return nil, &ValidationError{Field: "startTime", Message: "must be at least zero and below end time"}
	}

	podcastID, index, err := ParseEpisodeID(episodeID)
	if err != nil {
		return nil, err
	}
	if _, err := c.episodes.Get(ctx, podcastID, index); err != nil {
		if errors.Is(err, ErrEpisodeNotFound) {
			return nil, &ValidationError{Field: "episodeId", Message: "episode does not exist"}
		}
		return nil, fmt.Errorf("load episode: %w", err)
	}

	clip := store.Clip{
		EpisodeID: episodeID,
		AccountID: accountID,
		StartTime: *in.StartTime,
		EndTime:   *in.EndTime,
		Title:     title,
		Notes:     in.Notes,
	}
	// concurrent creates race for the index and the timestamp; the loser
	// rereads both
	for attempt := 0; ; attempt++ {
		if err := c.assign(ctx, &clip); err != nil {
			return nil, err
		}
		err := c.store.CreateClip(ctx, &clip)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrAlreadyExists) || attempt == clipAttempts-1 {
			return nil, fmt.Errorf("create clip: %w", err)
		}
	}
	view := FormatClip(clip)
	return &view, nil
}

func (c *Clips) assign(ctx context.Context, clip *store.Clip) error {
	last, err := c.store.ListClipsByEpisode(ctx, clip.AccountID, clip.EpisodeID, nil, 1)
	if err != nil {
		return fmt.Errorf("load last clip: %w", err)
	}
	clip.Index = 0
	if len(last) > 0 {
		clip.Index = last[0].Index + 1
	}

	newest, ok, err := c.store.NewestClipTimestamp(ctx, clip.AccountID)
	if err != nil {
		return err
	}
	clip.CreatedTimestamp = c.now().Unix()
	if ok && newest >= clip.CreatedTimestamp {
		clip.CreatedTimestamp = newest + 1
	}
	return nil
}

// Change edits the title or notes of one of the account's clips. Clips of
// other accounts are reported as not found.
func (c *Clips) Change(ctx context.Context, accountID, clipID string, change ClipChange) (*ClipView, error) {
	episodeID, owner, index, err := ParseClipID(clipID)
	if err != nil {
		return nil, err
	}
	if owner != accountID {
		return nil, store.ErrNotFound
	}
	if change.Title == nil && change.Notes == nil {
		return nil, &ValidationError{Field: "changedClipData", Message: "title or notes required"}
	}

	clip, err := c.store.GetClip(ctx, episodeID, accountID, index)
	if err != nil {
		return nil, err
	}
	if change.Title != nil {
		title := strings.TrimSpace(*change.Title)
		if title == "" {
			return nil, &ValidationError{Field: "title", Message: "must not be empty"}
		}
		clip.Title = title
	}
	if change.Notes != nil {
		clip.Notes = *change.Notes
	}
	if err := c.store.UpdateClip(ctx, clip); err != nil {
		return nil, err
	}
	view := FormatClip(*clip)
	return &view, nil
}

// ByAccount lists the account's clips newest first.
func (c *Clips) ByAccount(ctx context.Context, accountID, token string) (*ClipPage, error) {
	var pos cursor.Clips
	present, err := cursor.Decode(token, cursor.KindClips, &pos)
	if err != nil {
		return nil, err
	}
	var olderThan *int64
	if present {
		olderThan = &pos.OldestCreationTimestamp
	}

	clips, err := c.store.ListClipsByAccount(ctx, accountID, olderThan, PageSize)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	page := &ClipPage{Result: formatClips(clips)}
	if len(clips) == PageSize {
		next, err := cursor.Encode(cursor.KindClips, cursor.Clips{
			OldestCreationTimestamp: clips[len(clips)-1].CreatedTimestamp,
		})
		if err != nil {
			return nil, err
		}
		page.NextToken = &next
	}
	return page, nil
}

// ByEpisode lists the account's clips of one episode, latest first.
func (c *Clips) ByEpisode(ctx context.Context, accountID, episodeID, token string) (*ClipPage, error) {
	var pos cursor.EpisodeClips
	present, err := cursor.Decode(token, cursor.KindEpisodeClips, &pos)
	if err != nil {
		return nil, err
	}
	var below *int64
	if present {
		if episodeID != "" && episodeID != pos.EpisodeID {
			return nil, fmt.Errorf("%w: token belongs to another episode", cursor.ErrInvalid)
		}
		episodeID = pos.EpisodeID
		below = &pos.Index
	}
	if _, _, err := ParseEpisodeID(episodeID); err != nil {
		return nil, err
	}

	clips, err := c.store.ListClipsByEpisode(ctx, accountID, episodeID, below, PageSize)
	if err != nil {
		return nil, fmt.Errorf("list episode clips: %w", err)
	}
	page := &ClipPage{Result: formatClips(clips)}
	if n := len(clips); n == PageSize && clips[n-1].Index > 0 {
		next, err := cursor.Encode(cursor.KindEpisodeClips, cursor.EpisodeClips{EpisodeID: episodeID, Index: clips[n-1].Index})
		if err != nil {
			return nil, err
		}
		page.NextToken = &next
	}
	return page, nil
}

func formatClips(clips []store.Clip) []ClipView {
	out := make([]ClipView, len(clips))
	for i, c := range clips {
		out[i] = FormatClip(c)
	}
	return out
}
