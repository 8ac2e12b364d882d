// Package bitquery reads recent Solana DEX trades for a token from the
// Bitquery streaming GraphQL API.
package bitquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/poller"
	"solana-swap-watch/internal/provider"
)

// Default configuration values.
const (
	DefaultEndpoint   = "https://streaming.bitquery.io/eap"
	DefaultTokenURL   = "https://oauth2.bitquery.io/oauth2/token"
	DefaultLookback   = 30 * time.Second
	DefaultLimit      = 10
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
)

// Config holds Bitquery credentials and query parameters.
type Config struct {
	ClientID     string
	ClientSecret string
	Endpoint     string
	TokenURL     string
	Lookback     time.Duration
	Limit        int
	MinAmountUSD string // optional AmountInUSD lower bound
	MaxRetries   int
	RetryDelay   time.Duration
	HTTPClient   *http.Client
	Logger       logrus.FieldLogger
}

// Client implements poller.DataSource and poller.Reauthenticator.
type Client struct {
	cfg    Config
	oauth  clientcredentials.Config
	client *http.Client
	retry  provider.Retry
	now    func() time.Time
	logger logrus.FieldLogger

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// Compile-time interface checks.
var (
	_ poller.DataSource      = (*Client)(nil)
	_ poller.Reauthenticator = (*Client)(nil)
)

// New creates a client and obtains an access token.
// A token failure is returned wrapped in domain.ErrAuth.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: bitquery client id and secret are required", domain.ErrAuth)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Client{
		cfg: cfg,
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       []string{"api"},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		client: cfg.HTTPClient,
		retry:  provider.Retry{MaxRetries: cfg.MaxRetries, InitialDelay: cfg.RetryDelay},
		now:    time.Now,
		logger: logger.WithField("component", "bitquery"),
	}

	if err := c.Reauthenticate(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Reauthenticate discards the cached token and requests a new one.
func (c *Client) Reauthenticate(ctx context.Context) error {
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.client)
	ts := c.oauth.TokenSource(tokenCtx)
	if _, err := ts.Token(); err != nil {
		return fmt.Errorf("%w: bitquery token: %v", domain.ErrAuth, err)
	}

	c.mu.Lock()
	c.tokens = ts
	c.mu.Unlock()

	c.logger.Info("Obtained Bitquery access token")
	return nil
}

func (c *Client) token() (*oauth2.Token, error) {
	c.mu.Lock()
	ts := c.tokens
	c.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh bitquery token: %v", domain.ErrAuth, err)
	}
	return tok, nil
}

func (c *Client) minAmountUSD() string {
	if c.cfg.MinAmountUSD == "" {
		return "0"
	}
	return c.cfg.MinAmountUSD
}

const tradesQuery = `query RecentTrades($mint: String!, $since: DateTime!, $limit: Int!, $minUSD: String!) {
  Solana {
    DEXTradeByTokens(
      where: {
        Trade: {Currency: {MintAddress: {is: $mint}}, AmountInUSD: {gt: $minUSD}}
        Transaction: {Result: {Success: true}}
        Block: {Time: {since: $since}}
      }
      orderBy: {descending: Block_Time}
      limit: {count: $limit}
    ) {
      Block { Time }
      Transaction { Signature Signer }
      Trade {
        Amount
        Currency { MintAddress Decimals }
        Side {
          Amount
          Currency { MintAddress Decimals }
        }
        Dex { ProtocolName }
      }
    }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data struct {
		Solana struct {
			DEXTradeByTokens []dexTrade `json:"DEXTradeByTokens"`
		} `json:"Solana"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type currency struct {
	MintAddress string `json:"MintAddress"`
	Decimals    *int   `json:"Decimals"`
}

type dexTrade struct {
	Block struct {
		Time string `json:"Time"`
	} `json:"Block"`
	Transaction struct {
		Signature string `json:"Signature"`
		Signer    string `json:"Signer"`
	} `json:"Transaction"`
	Trade struct {
		Amount   string   `json:"Amount"`
		Currency currency `json:"Currency"`
		Side     struct {
			Amount   string   `json:"Amount"`
			Currency currency `json:"Currency"`
		} `json:"Side"`
		Dex struct {
			ProtocolName string `json:"ProtocolName"`
		} `json:"Dex"`
	} `json:"Trade"`
}

// FetchRecent returns trades of target within the lookback window.
func (c *Client) FetchRecent(ctx context.Context, target string) ([]domain.RawActivity, error) {
	minUSD := c.minAmountUSD()
	payload, err := json.Marshal(graphqlRequest{
		Query: tradesQuery,
		Variables: map[string]any{
			"mint":   target,
			"since":  c.now().UTC().Add(-c.cfg.Lookback).Format(time.RFC3339),
			"limit":  c.cfg.Limit,
			"minUSD": minUSD,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	tok, err := c.token()
	if err != nil {
		return nil, err
	}

	body, err := c.retry.Do(ctx, c.client, "bitquery", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		tok.SetAuthHeader(req)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode graphql response: %v", domain.ErrFetch, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("%w: graphql: %s", domain.ErrFetch, strings.Join(msgs, "; "))
	}

	trades := resp.Data.Solana.DEXTradeByTokens
	out := make([]domain.RawActivity, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.toRaw(c.logger))
	}
	return out, nil
}

// toRaw maps a trade onto the aggregated-swap record shape. Amounts come
// back in token units and are shifted to raw integers by the currency
// decimals; an amount that cannot be converted is left empty so the
// pipeline drops the record as malformed.
func (t dexTrade) toRaw(logger logrus.FieldLogger) domain.RawActivity {
	raw := domain.RawActivity{
		ActivityType: domain.ActivityAggTokenSwap,
		TxID:         t.Transaction.Signature,
		FromAddress:  t.Transaction.Signer,
		Routers: &domain.RouterLegs{
			Token1:         t.Trade.Currency.MintAddress,
			Token1Decimals: t.Trade.Currency.Decimals,
			Amount1:        rawAmount(t.Trade.Amount, t.Trade.Currency.Decimals),
			Token2:         t.Trade.Side.Currency.MintAddress,
			Token2Decimals: t.Trade.Side.Currency.Decimals,
			Amount2:        rawAmount(t.Trade.Side.Amount, t.Trade.Side.Currency.Decimals),
		},
	}
	if t.Trade.Dex.ProtocolName != "" {
		raw.Platform = []string{t.Trade.Dex.ProtocolName}
	}

	if ts, err := time.Parse(time.RFC3339, t.Block.Time); err == nil {
		raw.BlockTime = ts.Unix()
	} else {
		logger.WithError(err).WithField("tx_id", raw.TxID).Warn("Unparseable block time")
	}
	return raw
}

func rawAmount(amount string, decimals *int) string {
	if amount == "" || decimals == nil || *decimals < 0 || *decimals > domain.MaxDecimals {
		return ""
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return ""
	}
	// Digits past the token precision cannot exist on chain.
	return d.Shift(int32(*decimals)).Truncate(0).String()
}
