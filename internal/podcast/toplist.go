package podcast

import (
	"encoding/json"
	"fmt"
	"os"

	"podfeed/internal/cursor"
)

// TopList is the static ranking served to accounts with nothing to show.
type TopList struct {
	entries []PodcastView
}

func NewTopList(entries []PodcastView) *TopList {
	return &TopList{entries: entries}
}

// LoadTopList reads a JSON array of podcasts, best ranked first.
func LoadTopList(path string) (*TopList, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read top list: %w", err)
	}
	var entries []PodcastView
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse top list: %w", err)
	}
	return NewTopList(entries), nil
}

func (t *TopList) Len() int {
	return len(t.entries)
}

// Page returns the slice of the ranking the token points at.
func (t *TopList) Page(token string) (*FeedPage, error) {
	pos := cursor.TopList{Index: 0, Size: PageSize}
	present, err := cursor.Decode(token, cursor.KindTopList, &pos)
	if err != nil {
		return nil, err
	}
	if pos.Index < 0 {
		return nil, fmt.Errorf("%w: negative top list index", cursor.ErrInvalid)
	}
	if pos.Size <= 0 || pos.Size > PageSize {
		pos.Size = PageSize
	}

	page := &FeedPage{Type: PageTypeTopList, Podcasts: []PodcastView{}, IsFirstPage: !present}
	if pos.Index >= len(t.entries) {
		return page, nil
	}
	end := min(pos.Index+pos.Size, len(t.entries))
	page.Podcasts = t.entries[pos.Index:end]

	if end < len(t.entries) {
		next, err := cursor.Encode(cursor.KindTopList, cursor.TopList{Index: end, Size: pos.Size})
		if err != nil {
			return nil, err
		}
		page.NextToken = &next
	}
	return page, nil
}
