package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DocumentChunkSizeDefault = 1000
	DocumentChunkSizeMin     = 500
	DocumentChunkSizeMax     = 2000
	DocumentReaderRateLimit  = 5
	DocumentReaderRateWindow = time.Minute
	WebSearchHTTPTimeout     = 10 * time.Second
)

type toolSessionContextKey struct{}

type toolRateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	hits   map[string][]time.Time
}

func newToolRateLimiter(limit int, window time.Duration) *toolRateLimiter {
	return &toolRateLimiter{limit: limit, window: window, hits: make(map[string][]time.Time)}
}

func (l *toolRateLimiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.hits[key]
	cutoff := now.Add(-l.window)
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	queue = queue[idx:]
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false
	}
	l.hits[key] = append(queue, now)
	return true
}

// WithToolSession records which session's document tools may read.
func WithToolSession(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, toolSessionContextKey{}, sessionID)
}

func ToolSessionFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(toolSessionContextKey{}).(string)
	return sessionID, ok && sessionID != ""
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	if w.httpClient == nil {
		w.httpClient = &http.Client{Timeout: WebSearchHTTPTimeout}
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "LegalEase-WebSearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}

	const maxBodySize = 512 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
