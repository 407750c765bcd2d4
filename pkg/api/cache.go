package api

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errCacheStopped = errors.New("image cache stopped")

type imageRequest struct {
	ctx    context.Context
	key    string
	render func(context.Context) ([]byte, error)
	reply  chan imageResponse
}

type imageResponse struct {
	data []byte
	err  error
}

type imageEntry struct {
	data    []byte
	expires time.Time
}

// ImageCache keeps rendered QR images for a short while so a page that is
// shared around does not re-encode the same URL on every scan. One goroutine
// owns the map; handlers talk to it over a channel.
type ImageCache struct {
	ttl      time.Duration
	limit    int
	requests chan imageRequest
	quit     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewImageCache starts the cache goroutine. A non-positive ttl returns nil,
// which renders every request directly.
func NewImageCache(ttl time.Duration, limit int) *ImageCache {
	if ttl <= 0 {
		return nil
	}
	if limit <= 0 {
		limit = 256
	}
	c := &ImageCache{
		ttl:      ttl,
		limit:    limit,
		requests: make(chan imageRequest),
		quit:     make(chan struct{}),
		now:      time.Now,
	}
	go c.loop()
	return c
}

// Close stops the cache goroutine. Safe to call more than once and from
// several goroutines.
func (c *ImageCache) Close() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() { close(c.quit) })
}

// Get returns the cached image for key, calling render on a miss.
func (c *ImageCache) Get(ctx context.Context, key string, render func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil {
		return render(ctx)
	}
	req := imageRequest{ctx: ctx, key: key, render: render, reply: make(chan imageResponse, 1)}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case c.requests <- req:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case resp := <-req.reply:
		return resp.data, resp.err
	}
}

func (c *ImageCache) loop() {
	store := make(map[string]imageEntry)
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.requests:
			now := c.now()
			if e, ok := store[req.key]; ok && now.Before(e.expires) {
				req.reply <- imageResponse{data: e.data}
				continue
			}
			data, err := req.render(req.ctx)
			if err != nil {
				delete(store, req.key)
				req.reply <- imageResponse{err: err}
				continue
			}
			if len(store) >= c.limit {
				evictExpired(store, now)
			}
			if len(store) < c.limit {
				store[req.key] = imageEntry{data: data, expires: now.Add(c.ttl)}
			}
			// Entries are never mutated after insertion, so sharing the slice is fine.
			req.reply <- imageResponse{data: data}
		}
	}
}

func evictExpired(store map[string]imageEntry, now time.Time) {
	for k, e := range store {
		if !now.Before(e.expires) {
			delete(store, k)
		}
	}
}
