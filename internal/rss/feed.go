package rss

import (
	"path"
	"strings"
	"time"

	"podfeed/internal/podcast"

	"github.com/gorilla/feeds"
)

// Feed is a podcast with the episodes to publish, newest first.
type Feed struct {
	Podcast  podcast.PodcastView
	Episodes []podcast.Episode
	// Link is the public URL of the rendered feed.
	Link string
}

// Render writes the feed as RSS 2.0 with one audio enclosure per episode.
func Render(f Feed) ([]byte, error) {
	out := &feeds.Feed{
		Title:       f.Podcast.Name,
		Link:        &feeds.Link{Href: f.Podcast.SourceLink},
		Description: f.Podcast.Description,
		Id:          f.Link,
	}
	if f.Podcast.Author != "" {
		out.Author = &feeds.Author{Name: f.Podcast.Author}
	}
	if f.Podcast.Image != "" {
		out.Image = &feeds.Image{Url: f.Podcast.Image, Title: f.Podcast.Name, Link: f.Podcast.SourceLink}
	}
	if len(f.Episodes) > 0 {
		out.Updated = time.Unix(f.Episodes[0].ReleaseTimestamp, 0).UTC()
	}

	for _, e := range f.Episodes {
		item := &feeds.Item{
			Title:       e.Name,
			Description: e.Description,
			Id:          e.EpisodeID,
			IsPermaLink: "false",
			Created:     time.Unix(e.ReleaseTimestamp, 0).UTC(),
		}
		if e.AudioURL != "" {
			item.Link = &feeds.Link{Href: e.AudioURL}
			item.Enclosure = &feeds.Enclosure{
				Url:    e.AudioURL,
				Type:   audioType(e.AudioURL),
				Length: "0",
			}
		}
		out.Add(item)
	}

	s, err := out.ToRss()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func audioType(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	switch strings.ToLower(path.Ext(url)) {
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}
