// Package cursor encodes the opaque continuation tokens handed to clients by
// every paginated endpoint.
//
// A token is base64 of a small JSON object. Each producer owns one Kind; the
// kind and a version number travel inside the token so a token minted by one
// endpoint is rejected by another instead of being misread.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const version = 1

// Kind tags which producer minted a token.
type Kind string

const (
	KindFeed     Kind = "feed"
	KindFollowed Kind = "followed"
	KindEpisodes Kind = "episodes"
	KindTopList  Kind = "toplist"
	KindSearch   Kind = "search"
	KindClips    Kind = "clips"

	KindEpisodeClips Kind = "episodeclips"
)

// ErrInvalid is returned for tokens that cannot be decoded or were minted for
// a different endpoint.
var ErrInvalid = errors.New("invalid continuation token")

// Feed is the "new episodes" feed position. A nil OldestFollowTimestamp
// means the follow list is exhausted and only the overflow window remains.
type Feed struct {
	OldestFollowTimestamp *int64 `json:"oldestFollowTimestamp,omitempty"`
}

// Followed pages through the followed podcasts list.
type Followed struct {
	OldestFollowTimestamp int64 `json:"oldestFollowTimestamp"`
}

// Episodes pages through a single podcast's episodes, newest first.
type Episodes struct {
	PodcastID string `json:"PID"`
	Index     int64  `json:"INDEX"`
}

// TopList pages through the static top list.
type TopList struct {
	Index int `json:"index"`
	Size  int `json:"size"`
}

// Search pages through search results for one term.
type Search struct {
	Term string `json:"term"`
	From int    `json:"from"`
}

// Clips pages through an account's clips, newest first.
type Clips struct {
	OldestCreationTimestamp int64 `json:"oldestCreationTimestamp"`
}

// EpisodeClips pages through an account's clips of one episode.
type EpisodeClips struct {
	EpisodeID string `json:"EID"`
	Index     int64  `json:"INDEX"`
}

type envelope struct {
	V    int             `json:"v"`
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Encode serialises v under the given kind.
func Encode(kind Kind, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	raw, err := json.Marshal(envelope{V: version, Kind: kind, Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal cursor envelope: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Peek reports the kind of a token without decoding its payload.
func Peek(token string) (Kind, error) {
	env, err := open(token)
	if err != nil {
		return "", err
	}
	return env.Kind, nil
}

// Decode fills out from token. An empty token is the first page and leaves
// out untouched; the returned bool reports whether a token was present.
func Decode(token string, kind Kind, out any) (bool, error) {
	if token == "" {
		return false, nil
	}
	env, err := open(token)
	if err != nil {
		return false, err
	}
	if env.Kind != kind {
		return false, fmt.Errorf("%w: expected %s token, got %s", ErrInvalid, kind, env.Kind)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return true, nil
}

func open(token string) (envelope, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		// tokens pasted into query strings sometimes lose their padding
		raw, err = base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return envelope{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if env.V == 0 || env.V > version || env.Kind == "" {
		return envelope{}, fmt.Errorf("%w: unsupported version %d", ErrInvalid, env.V)
	}
	return env, nil
}
