package cursor

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestDecode_EmptyTokenIsFirstPage(t *testing.T) {
	var f Feed
	present, err := Decode("", KindFeed, &f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if present {
		t.Fatalf("expected no token to be present")
	}
}

func TestDecode_FeedWithoutFollowCursor(t *testing.T) {
	tok, err := Encode(KindFeed, Feed{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var f Feed
	present, err := Decode(tok, KindFeed, &f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !present {
		t.Fatalf("expected token to be present")
	}
	if f.OldestFollowTimestamp != nil {
		t.Errorf("expected nil follow cursor, got %d", *f.OldestFollowTimestamp)
	}
}

func TestDecode_FeedFollowCursor(t *testing.T) {
	ts := int64(172000000012)
	tok, err := Encode(KindFeed, Feed{OldestFollowTimestamp: &ts})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var f Feed
	if _, err := Decode(tok, KindFeed, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.OldestFollowTimestamp == nil || *f.OldestFollowTimestamp != ts {
		t.Fatalf("expected follow cursor %d, got %v", ts, f.OldestFollowTimestamp)
	}
}

func TestDecode_KindMismatch(t *testing.T) {
	tok, err := Encode(KindTopList, TopList{Index: 20, Size: 20})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var s Search
	_, err = Decode(tok, KindSearch, &s)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestDecode_Garbage(t *testing.T) {
	cases := []string{
		"not base64 at all!",
		base64.URLEncoding.EncodeToString([]byte("{not json")),
		base64.URLEncoding.EncodeToString([]byte(`{"v":99,"kind":"feed","data":{}}`)),
		base64.URLEncoding.EncodeToString([]byte(`{"data":{}}`)),
	}
	for _, tok := range cases {
		var f Feed
		if _, err := Decode(tok, KindFeed, &f); !errors.Is(err, ErrInvalid) {
			t.Errorf("token %q: expected ErrInvalid, got %v", tok, err)
		}
	}
}

func TestDecode_UnpaddedToken(t *testing.T) {
	tok, err := Encode(KindEpisodes, Episodes{PodcastID: "p1", Index: 7})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, _ := base64.URLEncoding.DecodeString(tok)
	unpadded := base64.RawURLEncoding.EncodeToString(raw)

	var e Episodes
	if _, err := Decode(unpadded, KindEpisodes, &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.PodcastID != "p1" || e.Index != 7 {
		t.Errorf("unexpected cursor: %+v", e)
	}
}

func TestPeek(t *testing.T) {
	tok, _ := Encode(KindSearch, Search{Term: "news", From: 20})
	kind, err := Peek(tok)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if kind != KindSearch {
		t.Errorf("expected %s, got %s", KindSearch, kind)
	}
}

func TestDecode_ClipKindsAreDistinct(t *testing.T) {
	tok, err := Encode(KindClips, Clips{OldestCreationTimestamp: 1_700_000_000})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var c Clips
	if _, err := Decode(tok, KindClips, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.OldestCreationTimestamp != 1_700_000_000 {
		t.Fatalf("expected 1700000000, got %d", c.OldestCreationTimestamp)
	}

	var ec EpisodeClips
	if _, err := Decode(tok, KindEpisodeClips, &ec); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for a clips token on the episode listing, got %v", err)
	}
}
