package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	BaseURL   string
	Bucket    string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	// MaxBytes caps a single download. Zero means 100 MiB.
	MaxBytes int64
}

// HTTPStore downloads objects from a Supabase-compatible storage API:
// GET {base}/storage/v1/object/{bucket}/{path}.
type HTTPStore struct {
	config  HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	base    *url.URL
}

func NewHTTPStore(config HTTPConfig) (*HTTPStore, error) {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 100 << 20
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid storage base URL %q", config.BaseURL)
	}

	return &HTTPStore{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		base:    base,
	}, nil
}

func (s *HTTPStore) objectURL(path string) string {
	segments := []string{"storage", "v1", "object", s.config.Bucket}
	for _, p := range strings.Split(strings.Trim(path, "/"), "/") {
		if p != "" {
			segments = append(segments, p)
		}
	}
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segments, "/")
	return u.String()
}

func (s *HTTPStore) Download(ctx context.Context, path string) ([]byte, error) {
	if strings.Trim(path, "/ ") == "" {
		return nil, fmt.Errorf("%w: empty path", ErrStorage)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
		req.Header.Set("apikey", s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: downloading %s: %v", ErrStorage, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: received status code %d for %s", ErrStorage, resp.StatusCode, path)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStorage, path, err)
	}
	if int64(len(data)) > s.config.MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrStorage, path, s.config.MaxBytes)
	}
	return data, nil
}
