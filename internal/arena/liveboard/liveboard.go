// Package liveboard mirrors the position of every running match into Redis.
package liveboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"botarena/internal/common/cache"
	appErr "botarena/pkg/errors"
)

const (
	liveSetKey = "arena:matches:live"
	// DefaultTTL bounds how long a snapshot survives a crashed orchestrator.
	DefaultTTL = 10 * time.Minute
)

func snapshotKey(matchID int64) string {
	return fmt.Sprintf("arena:match:%d:live", matchID)
}

// Snapshot is the latest state of a running match.
type Snapshot struct {
	MatchID   int64  `json:"match_id"`
	WhiteID   int64  `json:"white_id"`
	BlackID   int64  `json:"black_id"`
	Position  string `json:"position"`
	WhiteMS   int64  `json:"white_ms"`
	BlackMS   int64  `json:"black_ms"`
	LastMove  string `json:"last_move,omitempty"`
	Ply       int    `json:"ply"`
	UpdatedAt int64  `json:"updated_at"`
}

// Board reads and writes snapshots.
type Board struct {
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

func New(c cache.Cache, ttl time.Duration) *Board {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Board{cache: c, ttl: ttl, now: time.Now}
}

// Publish stores snap and marks its match live.
func (b *Board) Publish(ctx context.Context, snap Snapshot) error {
	snap.UpdatedAt = b.now().UnixMilli()
	data, err := json.Marshal(snap)
	if err != nil {
		return appErr.Wrap(err, appErr.CacheSetFailed)
	}
	err = b.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.Set(snapshotKey(snap.MatchID), string(data), cache.JitterTTL(b.ttl)); err != nil {
			return err
		}
		return pipe.SAdd(liveSetKey, snap.MatchID)
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "publish live board for match %d", snap.MatchID)
	}
	return nil
}

// Get returns the snapshot of matchID, or false if the match is not live.
func (b *Board) Get(ctx context.Context, matchID int64) (Snapshot, bool, error) {
	raw, err := b.cache.Get(ctx, snapshotKey(matchID))
	if err != nil {
		return Snapshot{}, false, appErr.Wrap(err, appErr.CacheError)
	}
	if raw == "" {
		return Snapshot{}, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, false, appErr.Wrap(err, appErr.CacheError)
	}
	return snap, true, nil
}

// Remove clears matchID from the board.
func (b *Board) Remove(ctx context.Context, matchID int64) error {
	err := b.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.Del(snapshotKey(matchID)); err != nil {
			return err
		}
		return pipe.SRem(liveSetKey, matchID)
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "remove live board for match %d", matchID)
	}
	return nil
}

// Live lists the ids of live matches, pruning ids whose snapshot has expired.
func (b *Board) Live(ctx context.Context) ([]int64, error) {
	members, err := b.cache.SMembers(ctx, liveSetKey)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CacheError)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			_ = b.cache.SRem(ctx, liveSetKey, m)
			continue
		}
		n, err := b.cache.Exists(ctx, snapshotKey(id))
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CacheError)
		}
		if n == 0 {
			_ = b.cache.SRem(ctx, liveSetKey, m)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
