// Package imageproxy fetches game art from an upstream asset host and keeps
// it in memory with a TTL and a total byte budget.
package imageproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotImage = errors.New("imageproxy: upstream did not return an image")
	ErrTooLarge = errors.New("imageproxy: image exceeds size limit")
	ErrNotFound = errors.New("imageproxy: image not found upstream")
	ErrBadPath  = errors.New("imageproxy: invalid path")
)

// Config holds proxy settings.
type Config struct {
	Upstream   string
	TTL        time.Duration
	MaxBytes   int64 // per image
	CacheBytes int64 // whole cache
	Timeout    time.Duration
}

// Image is a cached upstream response.
type Image struct {
	Body        []byte
	ContentType string
	FetchedAt   time.Time
}

// Stats are reported by the admin metrics endpoint.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Proxy is an in-memory TTL cache in front of the upstream host.
type Proxy struct {
	cfg    Config
	base   *url.URL
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	items map[string]*Image
	bytes int64

	sf     singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a proxy for cfg.Upstream.
func New(cfg Config, logger *zap.Logger) (*Proxy, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.Upstream, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("imageproxy: invalid upstream %q", cfg.Upstream)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 5 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
		items:  make(map[string]*Image),
	}, nil
}

// clean normalises a request path and rejects traversal outside the root.
func clean(p string) (string, error) {
	if p == "" || p == "/" {
		return "", ErrBadPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrBadPath
		}
	}
	return path.Clean("/" + strings.TrimPrefix(p, "/")), nil
}

func (p *Proxy) lookup(key string) (*Image, bool) {
	p.mu.RLock()
	img, ok := p.items[key]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if p.now().Sub(img.FetchedAt) > p.cfg.TTL {
		p.mu.Lock()
		if cur, ok := p.items[key]; ok && cur == img {
			delete(p.items, key)
			p.bytes -= int64(len(img.Body))
		}
		p.mu.Unlock()
		return nil, false
	}
	return img, true
}

// store caches img unless it would push the cache over its byte budget.
func (p *Proxy) store(key string, img *Image) bool {
	size := int64(len(img.Body))
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.items[key]; ok {
		p.bytes -= int64(len(old.Body))
		delete(p.items, key)
	}
	if p.cfg.CacheBytes > 0 && p.bytes+size > p.cfg.CacheBytes {
		return false
	}
	p.items[key] = img
	p.bytes += size
	return true
}

// Get returns the image at path, fetching it on a miss. hit reports whether
// it was served from memory.
func (p *Proxy) Get(ctx context.Context, rawPath string) (img *Image, hit bool, err error) {
	key, err := clean(rawPath)
	if err != nil {
		return nil, false, err
	}
	if img, ok := p.lookup(key); ok {
		p.hits.Add(1)
		return img, true, nil
	}
	p.misses.Add(1)

	// Collapsed callers share one fetch, bounded by the client timeout
	// rather than the first caller's request.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := p.sf.Do(key, func() (interface{}, error) {
		img, err := p.fetch(fetchCtx, key)
		if err != nil {
			return nil, err
		}
		if !p.store(key, img) {
			p.logger.Debug("image not cached, budget full",
				zap.String("path", key), zap.Int("bytes", len(img.Body)))
		}
		return img, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Image), false, nil
}

func (p *Proxy) fetch(ctx context.Context, key string) (*Image, error) {
	u := *p.base
	u.Path = strings.TrimSuffix(u.Path, "/") + key
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imageproxy: fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("imageproxy: upstream status %d for %s", resp.StatusCode, key)
	}

	ct := resp.Header.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil || !strings.HasPrefix(mt, "image/") {
		return nil, ErrNotImage
	}
	if resp.ContentLength > p.cfg.MaxBytes {
		return nil, ErrTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("imageproxy: read %s: %w", key, err)
	}
	if int64(len(body)) > p.cfg.MaxBytes {
		return nil, ErrTooLarge
	}
	return &Image{Body: body, ContentType: ct, FetchedAt: p.now()}, nil
}

// Sweep removes stale entries and returns how many were dropped.
func (p *Proxy) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for k, img := range p.items {
		if now.Sub(img.FetchedAt) > p.cfg.TTL {
			p.bytes -= int64(len(img.Body))
			delete(p.items, k)
			n++
		}
	}
	return n
}

func (p *Proxy) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Entries: len(p.items),
		Bytes:   p.bytes,
		Hits:    p.hits.Load(),
		Misses:  p.misses.Load(),
	}
}

// TTL is how long a fetched image stays fresh.
func (p *Proxy) TTL() time.Duration { return p.cfg.TTL }
