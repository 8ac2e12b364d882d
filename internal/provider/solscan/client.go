// Package solscan reads recent DeFi activities for a token from the
// Solscan Pro v2 API.
package solscan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/poller"
	"solana-swap-watch/internal/provider"
)

// Default configuration values.
const (
	DefaultBaseURL    = "https://pro-api.solscan.io/v2.0"
	DefaultPageSize   = 20
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
)

// Client implements poller.DataSource over token/defi/activities.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	client   *http.Client
	retry    provider.Retry
	logger   logrus.FieldLogger
}

// Compile-time interface check.
var _ poller.DataSource = (*Client)(nil)

// Option configures Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithPageSize sets how many activities one poll requests.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithMaxRetries sets retry attempts for 429 and 5xx responses.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.retry.MaxRetries = n }
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retry.InitialDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Solscan client authenticated with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		pageSize: DefaultPageSize,
		client:   &http.Client{Timeout: DefaultTimeout},
		retry:    provider.Retry{MaxRetries: DefaultMaxRetries, InitialDelay: DefaultRetryDelay},
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "solscan")
	return c
}

type activitiesResponse struct {
	Success bool              `json:"success"`
	Data    []json.RawMessage `json:"data"`
}

type activity struct {
	BlockTime    int64       `json:"block_time"`
	ActivityType string      `json:"activity_type"`
	TransID      string      `json:"trans_id"`
	FromAddress  string      `json:"from_address"`
	Routers      *routers    `json:"routers"`
	Platform     platformSet `json:"platform"`
}

type routers struct {
	Token1         string      `json:"token1"`
	Token1Decimals *int        `json:"token1_decimals"`
	Amount1        json.Number `json:"amount1"`
	Token2         string      `json:"token2"`
	Token2Decimals *int        `json:"token2_decimals"`
	Amount2        json.Number `json:"amount2"`
}

// platformSet accepts either a single program id or a list of them.
type platformSet []string

func (p *platformSet) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*p = platformSet{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	*p = many
	return nil
}

// FetchRecent returns the newest page of DeFi activities for target.
// Errors wrap domain.ErrAuth for 401/403 and domain.ErrFetch otherwise.
func (c *Client) FetchRecent(ctx context.Context, target string) ([]domain.RawActivity, error) {
	q := url.Values{}
	q.Set("address", target)
	q.Set("page", "1")
	q.Set("page_size", strconv.Itoa(c.pageSize))
	q.Set("sort_by", "block_time")
	q.Set("sort_order", "desc")
	endpoint := c.baseURL + "/token/defi/activities?" + q.Encode()

	body, err := c.retry.Do(ctx, c.client, "solscan", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("token", c.apiKey)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var resp activitiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode activities: %v", domain.ErrFetch, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: solscan reported success=false", domain.ErrFetch)
	}

	out := make([]domain.RawActivity, 0, len(resp.Data))
	for i, raw := range resp.Data {
		var a activity
		if err := json.Unmarshal(raw, &a); err != nil {
			// Keep the slot so the pipeline counts it as malformed.
			c.logger.WithError(err).WithField("index", i).Warn("Undecodable activity")
			out = append(out, domain.RawActivity{ActivityType: domain.ActivityAggTokenSwap})
			continue
		}
		out = append(out, a.toRaw())
	}
	return out, nil
}

func (a activity) toRaw() domain.RawActivity {
	raw := domain.RawActivity{
		ActivityType: a.ActivityType,
		TxID:         a.TransID,
		BlockTime:    a.BlockTime,
		FromAddress:  a.FromAddress,
		Platform:     []string(a.Platform),
	}
	if a.Routers != nil {
		raw.Routers = &domain.RouterLegs{
			Token1:         a.Routers.Token1,
			Token1Decimals: a.Routers.Token1Decimals,
			Amount1:        a.Routers.Amount1.String(),
			Token2:         a.Routers.Token2,
			Token2Decimals: a.Routers.Token2Decimals,
			Amount2:        a.Routers.Amount2.String(),
		}
	}
	return raw
}
