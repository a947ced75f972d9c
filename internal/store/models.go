package store

import "time"

type Account struct {
	ID              string
	Email           string
	AuthProvider    *string // "clerk", "gateway"..etc..
	ProviderSubject *string // provider's user ID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Podcast struct {
	ID          string
	Source      string // catalog the podcast was imported from, e.g. "itunes"
	SourceID    int64
	Name        string
	Description string
	Author      string
	AuthorURL   string
	Genres      []string
	Image       string
	FeedURL     string
	SourceLink  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Follow struct {
	AccountID       string
	PodcastID       string
	FollowTimestamp int64
}

// Clip is a titled time range of an episode saved by an account. Index
// numbers an account's clips of one episode from 0.
type Clip struct {
	EpisodeID        string
	AccountID        string
	Index            int64
	CreatedTimestamp int64 // unix seconds, strictly increasing per account
	StartTime        int64 // seconds into the episode
	EndTime          int64
	Title            string
	Notes            string
}
