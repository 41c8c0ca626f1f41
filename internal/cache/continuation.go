package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const continuationPrefix = "llm:continuation:"

// Handle is the cached conversation state for one category.
type Handle struct {
	CategoryID int64  `json:"categoryId"`
	HandleID   string `json:"conversationHandleId"`
	Tokens     int    `json:"tokensConsumedSoFar"`
}

// Continuations maps a category to the conversation it last generated in,
// so successive generations reuse context until the token ceiling is hit.
// Concurrent writers for one category are last-writer-wins.
type Continuations struct {
	kv      KV
	ttl     time.Duration
	ceiling int
}

func NewContinuations(kv KV, ttl time.Duration, ceiling int) *Continuations {
	return &Continuations{kv: kv, ttl: ttl, ceiling: ceiling}
}

func continuationKey(categoryID int64) string {
	return continuationPrefix + strconv.FormatInt(categoryID, 10)
}

// Lookup returns the live handle for the category, or nil when a fresh
// conversation must start. A handle at or over the ceiling is evicted.
func (c *Continuations) Lookup(ctx context.Context, categoryID int64) (*Handle, error) {
	raw, err := c.kv.Get(ctx, continuationKey(categoryID))
	if errors.Is(err, ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var h Handle
	if err := json.Unmarshal(raw, &h); err != nil || h.HandleID == "" {
		// unreadable entries are dropped rather than reused
		_ = c.Evict(ctx, categoryID)
		return nil, nil
	}
	if h.Tokens >= c.ceiling {
		if err := c.Evict(ctx, categoryID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &h, nil
}

// Commit records the handle produced by the latest call. prev is the handle
// the call continued from (nil for a fresh conversation); its tokens carry
// over. A conversation whose total crosses the ceiling is evicted instead.
func (c *Continuations) Commit(ctx context.Context, categoryID int64, prev *Handle, handleID string, tokens int) (*Handle, error) {
	h := Handle{CategoryID: categoryID, HandleID: handleID, Tokens: tokens}
	if prev != nil {
		h.Tokens += prev.Tokens
	}
	if handleID == "" || h.Tokens >= c.ceiling {
		if err := c.Evict(ctx, categoryID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal continuation: %w", err)
	}
	if err := c.kv.Set(ctx, continuationKey(categoryID), raw, c.ttl); err != nil {
		return nil, err
	}
	return &h, nil
}

// Evict drops the category's handle.
func (c *Continuations) Evict(ctx context.Context, categoryID int64) error {
	return c.kv.Del(ctx, continuationKey(categoryID))
}

// TTL is the retention window applied to handles.
func (c *Continuations) TTL() time.Duration { return c.ttl }
