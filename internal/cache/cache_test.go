package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewFromClient(rdb), m
}

func TestSetNXMany_OnlyFirstWriterWins(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()

	first, err := c.SetNXMany(ctx, map[string]string{"a": "1", "b": "1"}, time.Minute)
	if err != nil {
		t.Fatalf("first setnx: %v", err)
	}
	if !first["a"] || !first["b"] {
		t.Fatalf("expected both keys created, got %v", first)
	}

	second, err := c.SetNXMany(ctx, map[string]string{"a": "2", "c": "2"}, time.Minute)
	if err != nil {
		t.Fatalf("second setnx: %v", err)
	}
	if second["a"] {
		t.Errorf("expected a to be held by first writer")
	}
	if !second["c"] {
		t.Errorf("expected c to be created")
	}

	got, _ := m.Get("a")
	if got != "1" {
		t.Errorf("expected a=1, got %q", got)
	}
	if ttl := m.TTL("a"); ttl != time.Minute {
		t.Errorf("expected ttl 1m, got %v", ttl)
	}
}

func TestSetNXMany_Concurrent(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := c.SetNXMany(ctx, map[string]string{"lock": "x"}, time.Minute)
			if err != nil {
				t.Errorf("setnx: %v", err)
				return
			}
			if created["lock"] {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestMGet_SkipsMissing(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()
	m.Set("x", "1")

	got, err := c.MGet(ctx, "x", "y")
	if err != nil {
		t.Fatalf("mget: %v", err)
	}
	if len(got) != 1 || got["x"] != "1" {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestCompareAndDelete(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()
	m.Set("tok", "abc")

	ok, err := c.CompareAndDelete(ctx, "tok", "wrong")
	if err != nil {
		t.Fatalf("cad: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch to keep the key")
	}

	ok, err = c.CompareAndDelete(ctx, "tok", "abc")
	if err != nil {
		t.Fatalf("cad: %v", err)
	}
	if !ok {
		t.Fatalf("expected delete on match")
	}
	if m.Exists("tok") {
		t.Fatalf("expected key to be gone")
	}

	ok, _ = c.CompareAndDelete(ctx, "tok", "abc")
	if ok {
		t.Fatalf("expected second delete to fail")
	}
}

func TestZAddNew_KeepsExistingScores(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	n, err := c.ZAddNew(ctx, "z", []Scored{{0, "a"}, {1, "b"}})
	if err != nil {
		t.Fatalf("zadd: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 added, got %d", n)
	}

	n, err = c.ZAddNew(ctx, "z", []Scored{{1, "b2"}, {2, "c"}, {2, "c2"}})
	if err != nil {
		t.Fatalf("zadd: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 added, got %d", n)
	}

	member, ok, err := c.ZByScore(ctx, "z", 1)
	if err != nil || !ok {
		t.Fatalf("zbyscore: %v %v", ok, err)
	}
	if member != "b" {
		t.Errorf("expected original member at score 1, got %q", member)
	}
	member, _, _ = c.ZByScore(ctx, "z", 2)
	if member != "c" {
		t.Errorf("expected first member at score 2, got %q", member)
	}
}

func TestZRanges(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var members []Scored
	for i := int64(0); i < 10; i++ {
		members = append(members, Scored{Score: i, Member: string(rune('a' + i))})
	}
	if _, err := c.ZAddNew(ctx, "z", members); err != nil {
		t.Fatalf("zadd: %v", err)
	}

	top, err := c.ZRevRangeBelow(ctx, "z", nil, 3)
	if err != nil {
		t.Fatalf("zrevrange: %v", err)
	}
	if len(top) != 3 || top[0].Score != 9 || top[2].Score != 7 {
		t.Fatalf("unexpected top: %+v", top)
	}

	below := int64(7)
	next, err := c.ZRevRangeBelow(ctx, "z", &below, 3)
	if err != nil {
		t.Fatalf("zrevrange: %v", err)
	}
	if len(next) != 3 || next[0].Score != 6 || next[2].Score != 4 {
		t.Fatalf("unexpected next page: %+v", next)
	}

	above, err := c.ZRangeAbove(ctx, "z", 7, 5)
	if err != nil {
		t.Fatalf("zrange: %v", err)
	}
	if len(above) != 2 || above[0].Score != 8 || above[1].Score != 9 {
		t.Fatalf("unexpected ascending page: %+v", above)
	}

	high, ok, err := c.ZMaxScore(ctx, "z")
	if err != nil || !ok || high != 9 {
		t.Fatalf("expected max 9, got %d %v %v", high, ok, err)
	}

	_, ok, err = c.ZMaxScore(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("expected empty set to report no max, got %v %v", ok, err)
	}
}

func TestPopFront(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()

	if err := c.RPush(ctx, "l", time.Hour, "1", "2", "3"); err != nil {
		t.Fatalf("rpush: %v", err)
	}
	if ttl := m.TTL("l"); ttl != time.Hour {
		t.Errorf("expected ttl 1h, got %v", ttl)
	}

	got, err := c.PopFront(ctx, "l", 2)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("unexpected pop: %v", got)
	}
	if n, _ := c.Len(ctx, "l"); n != 1 {
		t.Fatalf("expected 1 remaining, got %d", n)
	}

	got, _ = c.PopFront(ctx, "l", 5)
	if len(got) != 1 || got[0] != "3" {
		t.Fatalf("unexpected second pop: %v", got)
	}

	got, _ = c.PopFront(ctx, "l", 5)
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}

func TestSetExpiry(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	m.FastForward(11 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected key to expire")
	}

	_ = c.Set(ctx, "k", "v", 0)
	if err := c.Expire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if ttl := m.TTL("k"); ttl != time.Minute {
		t.Errorf("expected 1m, got %v", ttl)
	}
}
