package locations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"meldung/internal"
	"meldung/internal/config"
	"meldung/internal/util"
)

const (
	clientPageSize    = 100
	clientMaxAttempts = 5
)

// Client reads the location registry from the incident backend's
// paginated /locations/ endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	pageSize   int
}

type apiLocation struct {
	ID         json.Number `json:"id"`
	Name       string      `json:"name"`
	City       string      `json:"city"`
	State      string      `json:"state"`
	PostalCode *string     `json:"postal_code"`
	Address    *string     `json:"address"`
}

func NewClient(cfg config.Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.LocationAPIBaseURL,
		token:      cfg.LocationAPIToken,
		httpClient: &http.Client{Timeout: time.Duration(cfg.LocationTimeoutMs) * time.Millisecond},
		limiter:    newLimiter(cfg.LocationRateLimitRPS),
		logger:     logger,
		pageSize:   clientPageSize,
	}
}

// newLimiter spaces requests evenly; a burst of one keeps the first call
// immediate and every later one a full interval apart.
func newLimiter(requestsPerSecond int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ListLocations walks all pages. A page shorter than the page size ends the walk.
func (c *Client) ListLocations(ctx context.Context) ([]internal.LocationRecord, error) {
	all := make([]internal.LocationRecord, 0)
	seen := map[int]struct{}{}

	for skip := 0; ; skip += c.pageSize {
		body, err := c.fetchJSON(ctx, "locations/", map[string]string{
			"skip":  strconv.Itoa(skip),
			"limit": strconv.Itoa(c.pageSize),
		})
		if err != nil {
			return nil, err
		}

		var page []apiLocation
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode locations page skip=%d: %w", skip, err)
		}

		added := 0
		for _, raw := range page {
			rec, err := raw.toRecord()
			if err != nil {
				c.logger.Debug("skipping location", zap.Error(err))
				continue
			}
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			all = append(all, rec)
			added++
		}

		// added==0 guards against a backend that ignores skip.
		if len(page) < c.pageSize || added == 0 {
			break
		}
	}

	c.logger.Debug("locations fetched", zap.Int("count", len(all)))
	return all, nil
}

func (c *Client) fetchJSON(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	baseURL := strings.TrimRight(c.baseURL, "/") + "/"
	u, err := url.Parse(baseURL + endpoint)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 1; attempt <= clientMaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(c.token) != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < clientMaxAttempts {
				backoff := time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
				c.logger.Warn("location api retry",
					zap.Int("status", resp.StatusCode),
					zap.Int("attempt", attempt),
					zap.Duration("backoff", backoff))
				lastErr = fmt.Errorf("location api status %d", resp.StatusCode)
				if err := sleepCtx(ctx, backoff); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("location api error: status=%d body=%s", resp.StatusCode, util.TruncateRunes(string(body), 200))
		}
		return body, nil
	}

	if lastErr == nil {
		lastErr = errors.New("location api request failed")
	}
	return nil, lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (a apiLocation) toRecord() (internal.LocationRecord, error) {
	id, err := a.ID.Int64()
	if err != nil {
		return internal.LocationRecord{}, fmt.Errorf("location id %q: %w", a.ID, err)
	}
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return internal.LocationRecord{}, fmt.Errorf("location %d has no name", id)
	}
	return internal.LocationRecord{
		ID:         int(id),
		Name:       name,
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: trimmedPtr(a.PostalCode),
		Address:    trimmedPtr(a.Address),
	}, nil
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return util.StringPtr(s)
}
