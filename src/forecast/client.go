package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/airsense-india/airsense/src/core"
	"github.com/airsense-india/airsense/src/webclient"
)

const (
	DefaultHours = 48
	MaxHours     = 168
	DefaultTTL   = time.Hour
)

var (
	// ErrNotConfigured is returned when no forecast service URL is set.
	ErrNotConfigured = errors.New("forecast service not configured")
	// ErrUnavailable wraps failures talking to the forecast service.
	ErrUnavailable = errors.New("forecast service unavailable")
)

// Prediction is one hourly point of a forecast.
type Prediction struct {
	Hour         int       `json:"hour"`
	Timestamp    time.Time `json:"timestamp"`
	PredictedAQI float64   `json:"predicted_aqi"`
	LowerBound   float64   `json:"lower_bound"`
	UpperBound   float64   `json:"upper_bound"`
	Confidence   float64   `json:"confidence"`
}

// Forecast is the ML service's answer for one city.
type Forecast struct {
	City          string       `json:"city"`
	Predictions   []Prediction `json:"predictions"`
	ModelAccuracy float64      `json:"model_accuracy,omitempty"`
}

// Cache stores encoded forecasts between calls.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	HTTPClient   *http.Client
	Attempts     int
	InitialDelay time.Duration
	Cache        Cache
	TTL          time.Duration
	Logger       *zap.Logger
}

// Client fetches predictions from the external ML service.
type Client struct {
	baseURL  string
	hc       *http.Client
	attempts int
	delay    time.Duration
	cache    Cache
	ttl      time.Duration
	log      *zap.Logger
}

// New returns a client for the service at baseURL. An empty baseURL yields a
// client whose calls fail with ErrNotConfigured.
func New(baseURL string, opts Options) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		hc:       opts.HTTPClient,
		attempts: opts.Attempts,
		delay:    opts.InitialDelay,
		cache:    opts.Cache,
		ttl:      opts.TTL,
		log:      opts.Logger,
	}
	if c.hc == nil {
		c.hc = webclient.NewDefault(10 * time.Second)
	}
	if c.attempts <= 0 {
		c.attempts = 3
	}
	if c.delay <= 0 {
		c.delay = 500 * time.Millisecond
	}
	if c.cache == nil {
		c.cache = NewMemoryCache()
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

func cacheKey(city string, hours int) string {
	return "forecast:" + strings.ToLower(city) + ":" + strconv.Itoa(hours)
}

// Predict returns the forecast for city over the next hours. Answers are
// cached per (city, hours) for the configured TTL.
func (c *Client) Predict(ctx context.Context, city string, hours int) (Forecast, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return Forecast{}, &core.ValidationError{Field: "city", Reason: "required"}
	}
	if hours == 0 {
		hours = DefaultHours
	}
	if hours < 1 || hours > MaxHours {
		return Forecast{}, &core.ValidationError{Field: "hours", Reason: fmt.Sprintf("%d outside [1, %d]", hours, MaxHours)}
	}
	if c.baseURL == "" {
		return Forecast{}, ErrNotConfigured
	}

	key := cacheKey(city, hours)
	if raw, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("forecast cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var f Forecast
		if err := json.Unmarshal(raw, &f); err == nil {
			return f, nil
		}
	}

	q := url.Values{}
	q.Set("city", city)
	q.Set("hours", strconv.Itoa(hours))
	var f Forecast
	if err := webclient.GetJSON(ctx, c.hc, c.baseURL+"/predict?"+q.Encode(), c.attempts, c.delay, &f); err != nil {
		return Forecast{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if f.City == "" {
		f.City = city
	}

	if raw, err := json.Marshal(f); err == nil {
		if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
			c.log.Warn("forecast cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return f, nil
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	val     []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{val: val, expires: m.now().Add(ttl)}
	return nil
}
