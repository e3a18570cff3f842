package moralis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tokengate/internal/config"
	"github.com/tokengate/internal/domain"
)

// transferLookbackBlocks bounds how far back FindTransfer searches for the
// ownership-proof transfer. 800 blocks is roughly 2.5 hours on mainnet.
const transferLookbackBlocks = 800

// defaultDecimals is assumed when token metadata carries no decimals field.
const defaultDecimals = 18

var errRateLimited = errors.New("chain api rate limited")

// Transfer is one on-chain token transfer matched by FindTransfer.
type Transfer struct {
	Hash string
	From string
	To   string
}

// Client talks to the Moralis EVM REST API. All calls go through a shared
// rate limiter and retry transient failures with exponential backoff.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	chain      string
	limiter    *rate.Limiter
	maxTries   uint

	mu       sync.Mutex
	decimals map[string]int32
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.ChainCallTimeout},
		baseURL:    strings.TrimRight(cfg.ChainAPIBase, "/"),
		apiKey:     cfg.ChainAPIKey,
		chain:      cfg.ChainID,
		limiter:    rate.NewLimiter(rate.Limit(cfg.ChainRPS), cfg.ChainRPS),
		maxTries:   uint(cfg.ChainMaxRetries),
		decimals:   make(map[string]int32),
	}
}

type tokenBalance struct {
	TokenAddress string `json:"token_address"`
	Balance      string `json:"balance"`
	Decimals     int32  `json:"decimals"`
}

// GetBalance returns the wallet's balance of the given token, normalized by
// the token's decimals. A wallet that never held the token reports zero.
func (c *Client) GetBalance(ctx context.Context, tokenAddress, wallet string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("chain", c.chain)
	q.Add("token_addresses[]", tokenAddress)

	var balances []tokenBalance
	if err := c.getJSON(ctx, "/"+wallet+"/erc20", q, &balances); err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if strings.EqualFold(b.TokenAddress, tokenAddress) {
			raw, err := decimal.NewFromString(b.Balance)
			if err != nil {
				return decimal.Zero, fmt.Errorf("parse balance %q: %w", b.Balance, err)
			}
			return raw.Shift(-b.Decimals), nil
		}
	}
	return decimal.Zero, nil
}

type transferItem struct {
	Address         string `json:"address"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Value           string `json:"value"`
	TransactionHash string `json:"transaction_hash"`
}

// FindTransfer looks for a recent transfer of exactly one token (within one
// smallest unit) of tokenAddress from the given wallet to the verifier
// address. Only the last transferLookbackBlocks blocks are searched.
// Returns ErrNotFound when no matching transfer has landed yet.
func (c *Client) FindTransfer(ctx context.Context, tokenAddress, from, to string) (*Transfer, error) {
	block, err := c.currentBlock(ctx)
	if err != nil {
		return nil, err
	}
	dec, err := c.tokenDecimals(ctx, tokenAddress)
	if err != nil {
		return nil, err
	}
	fromBlock := block - transferLookbackBlocks
	if fromBlock < 0 {
		fromBlock = 0
	}

	q := url.Values{}
	q.Set("chain", c.chain)
	q.Set("from_block", strconv.FormatInt(fromBlock, 10))
	q.Set("to_block", strconv.FormatInt(block, 10))
	q.Add("contract_addresses[]", tokenAddress)
	q.Set("to_address", to)
	q.Set("limit", "10")

	var out struct {
		Result []transferItem `json:"result"`
	}
	if err := c.getJSON(ctx, "/"+from+"/erc20/transfers", q, &out); err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	tolerance := decimal.New(1, -dec)
	for _, t := range out.Result {
		if !strings.EqualFold(t.ToAddress, to) || !strings.EqualFold(t.Address, tokenAddress) {
			continue
		}
		raw, err := decimal.NewFromString(t.Value)
		if err != nil {
			continue
		}
		amount := raw.Shift(-dec)
		if amount.Sub(one).Abs().LessThanOrEqual(tolerance) {
			return &Transfer{
				Hash: t.TransactionHash,
				From: t.FromAddress,
				To:   t.ToAddress,
			}, nil
		}
	}
	return nil, fmt.Errorf("ownership transfer not seen: %w", domain.ErrNotFound)
}

// tokenDecimals resolves a token's decimals via metadata, caching the result
// for the lifetime of the client. Tokens are immutable, so the cache never
// needs invalidation.
func (c *Client) tokenDecimals(ctx context.Context, tokenAddress string) (int32, error) {
	key := strings.ToLower(tokenAddress)
	c.mu.Lock()
	if d, ok := c.decimals[key]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	q := url.Values{}
	q.Set("chain", c.chain)
	q.Add("addresses[]", tokenAddress)

	var meta []struct {
		Decimals string `json:"decimals"`
	}
	if err := c.getJSON(ctx, "/erc20/metadata", q, &meta); err != nil {
		return 0, err
	}
	decimals := int32(defaultDecimals)
	if len(meta) > 0 {
		if d, err := strconv.Atoi(meta[0].Decimals); err == nil {
			decimals = int32(d)
		}
	}

	c.mu.Lock()
	c.decimals[key] = decimals
	c.mu.Unlock()
	return decimals, nil
}

func (c *Client) currentBlock(ctx context.Context) (int64, error) {
	q := url.Values{}
	q.Set("chain", c.chain)
	q.Set("date", time.Now().UTC().Format(time.RFC3339))

	var out struct {
		Block int64 `json:"block"`
	}
	if err := c.getJSON(ctx, "/dateToBlock", q, &out); err != nil {
		return 0, err
	}
	return out.Block, nil
}

// getJSON performs a rate-limited GET with retries and decodes the body.
// 429 and 5xx responses are retried; other non-200s fail immediately.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	op := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return io.ReadAll(resp.Body)
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
				return nil, backoff.RetryAfter(secs)
			}
			return nil, errRateLimited
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("chain api returned %d", resp.StatusCode)
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, backoff.Permanent(fmt.Errorf("chain api returned %d: %s: %w",
				resp.StatusCode, strings.TrimSpace(string(body)), domain.ErrBadRequest))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second

	body, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		var ra *backoff.RetryAfterError
		switch {
		case errors.Is(err, errRateLimited) || errors.As(err, &ra):
			return fmt.Errorf("chain api rate limited: %w", domain.ErrRateLimited)
		case errors.Is(err, domain.ErrBadRequest):
			return err
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			return fmt.Errorf("chain api unavailable: %v: %w", err, domain.ErrUnavailable)
		}
	}
	return json.Unmarshal(body, out)
}
