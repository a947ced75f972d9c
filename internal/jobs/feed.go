package jobs

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"podfeed/internal/podcast"

	"github.com/mmcdole/gofeed"
)

// EpisodeBatchSize is the most episodes posted in one callback.
const EpisodeBatchSize = 50

func podcastFromFeed(feed *gofeed.Feed, job podcast.ImportJob) podcast.ImportedPodcast {
	p := podcast.ImportedPodcast{
		PodcastID:   job.PodcastID,
		Source:      job.Source,
		SourceID:    job.SourceID,
		Name:        strings.TrimSpace(feed.Title),
		Description: feed.Description,
		FeedURL:     job.FeedURL,
		SourceLink:  feed.Link,
		Genres:      []string{},
	}
	if len(feed.Authors) > 0 && feed.Authors[0] != nil {
		p.Author = feed.Authors[0].Name
	}
	if feed.Image != nil {
		p.Image = feed.Image.URL
	}

	if it := feed.ITunesExt; it != nil {
		if p.Author == "" {
			p.Author = it.Author
		}
		if p.Image == "" {
			p.Image = it.Image
		}
		if p.Description == "" {
			p.Description = it.Summary
		}
		for _, c := range it.Categories {
			if c != nil && c.Text != "" {
				p.Genres = append(p.Genres, c.Text)
			}
		}
	}
	if len(p.Genres) == 0 {
		p.Genres = append(p.Genres, feed.Categories...)
	}
	return p
}

// episodesFromFeed returns the feed's playable items oldest first, indexed
// from firstIndex. Items released at or before since are skipped.
func episodesFromFeed(feed *gofeed.Feed, firstIndex, since int64) []podcast.Episode {
	type dated struct {
		item    *gofeed.Item
		release int64
	}
	items := make([]dated, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil || audioURL(it) == "" {
			continue
		}
		items = append(items, dated{item: it, release: releaseOf(it)})
	}
	// feeds list newest first; undated items keep that order reversed
	slices.Reverse(items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].release < items[j].release })

	out := make([]podcast.Episode, 0, len(items))
	for _, d := range items {
		if since > 0 && d.release <= since {
			continue
		}
		it := d.item
		desc := it.Description
		if desc == "" {
			desc = it.Content
		}
		e := podcast.Episode{
			Index:            firstIndex + int64(len(out)),
			Name:             strings.TrimSpace(it.Title),
			Description:      desc,
			ReleaseTimestamp: d.release,
			AudioURL:         audioURL(it),
		}
		if it.ITunesExt != nil {
			e.Duration = parseDuration(it.ITunesExt.Duration)
		}
		out = append(out, e)
	}
	return out
}

func releaseOf(it *gofeed.Item) int64 {
	switch {
	case it.PublishedParsed != nil:
		return it.PublishedParsed.Unix()
	case it.UpdatedParsed != nil:
		return it.UpdatedParsed.Unix()
	default:
		return 0
	}
}

func audioURL(it *gofeed.Item) string {
	for _, enc := range it.Enclosures {
		if enc != nil && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

// parseDuration reads itunes:duration, which is either seconds or
// [[HH:]MM:]SS.
func parseDuration(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	var total int64
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// batches splits episodes into callback sized chunks. An empty input yields
// one empty batch so the final callback is always sent.
func batches(episodes []podcast.Episode) [][]podcast.Episode {
	if len(episodes) == 0 {
		return [][]podcast.Episode{{}}
	}
	var out [][]podcast.Episode
	for start := 0; start < len(episodes); start += EpisodeBatchSize {
		out = append(out, episodes[start:min(start+EpisodeBatchSize, len(episodes))])
	}
	return out
}
