// Package esi provides the EVE Swagger Interface market data client with
// error-budget tracking, retry with backoff, and a circuit breaker.
package esi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
)

const (
	defaultBaseURL = "https://esi.evetech.net/latest"
	headerPages    = "X-Pages"

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// Config holds client settings.
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// Status is the combined health view exposed on the upstream status endpoint.
type Status struct {
	Reachable bool            `json:"reachable"`
	Players   int             `json:"players,omitempty"`
	RateLimit RateLimitState  `json:"rate_limit"`
	Circuit   CircuitSnapshot `json:"circuit"`
}

// Client talks to the ESI market endpoints. All calls share one rate-limit
// tracker and one circuit breaker, so a degraded upstream is detected once
// and respected by every caller.
type Client struct {
	baseURL    string
	userAgent  string
	client     *http.Client
	maxRetries int
	rateLimit  *RateLimitTracker
	circuit    *CircuitBreaker
	log        zerolog.Logger
}

// NewClient creates an ESI client. ESI requires a descriptive User-Agent;
// requests without one may be blocked.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		rateLimit:  NewRateLimitTracker(),
		circuit:    NewCircuitBreaker(defaultFailureThreshold),
		log:        log.With().Str("client", "esi").Logger(),
	}
}

type esiOrder struct {
	OrderID      int64     `json:"order_id"`
	Price        float64   `json:"price"`
	VolumeRemain int64     `json:"volume_remain"`
	VolumeTotal  int64     `json:"volume_total"`
	LocationID   int64     `json:"location_id"`
	IsBuyOrder   bool      `json:"is_buy_order"`
	Issued       time.Time `json:"issued"`
}

type esiHistoryPoint struct {
	Date       string  `json:"date"`
	Highest    float64 `json:"highest"`
	Lowest     float64 `json:"lowest"`
	Average    float64 `json:"average"`
	Volume     int64   `json:"volume"`
	OrderCount int64   `json:"order_count"`
}

// FetchOrderBook retrieves all market orders for one type in one region,
// following X-Pages pagination, and aggregates them into an order book.
func (c *Client) FetchOrderBook(ctx context.Context, key domain.Key) (*domain.OrderBook, error) {
	var all []esiOrder

	page := 1
	for {
		url := fmt.Sprintf("%s/markets/%d/orders/?order_type=all&type_id=%d&page=%d",
			c.baseURL, key.RegionID, key.TypeID, page)

		var orders []esiOrder
		pages, err := c.getJSON(ctx, url, &orders)
		if err != nil {
			return nil, err
		}
		all = append(all, orders...)

		if page >= pages {
			break
		}
		page++
	}

	book := buildOrderBook(key, all)

	c.log.Debug().
		Str("key", key.String()).
		Int("orders", len(all)).
		Int("pages", page).
		Msg("Fetched order book")

	return book, nil
}

// FetchHistory retrieves daily price history for one type in one region.
// ESI returns oldest-first; the result is re-sorted newest-first.
func (c *Client) FetchHistory(ctx context.Context, key domain.Key) ([]domain.HistoryPoint, error) {
	url := fmt.Sprintf("%s/markets/%d/history/?type_id=%d", c.baseURL, key.RegionID, key.TypeID)

	var raw []esiHistoryPoint
	if _, err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, err
	}

	points := make([]domain.HistoryPoint, 0, len(raw))
	for _, p := range raw {
		points = append(points, domain.HistoryPoint{
			Date:       p.Date,
			Highest:    p.Highest,
			Lowest:     p.Lowest,
			Average:    p.Average,
			Volume:     p.Volume,
			OrderCount: p.OrderCount,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date > points[j].Date })

	c.log.Debug().
		Str("key", key.String()).
		Int("points", len(points)).
		Msg("Fetched history")

	return points, nil
}

// Status pings the ESI status endpoint and returns the combined upstream
// view. A ping failure still returns the rate-limit and circuit state.
func (c *Client) Status(ctx context.Context) Status {
	status := Status{
		RateLimit: c.rateLimit.Snapshot(),
		Circuit:   c.circuit.Snapshot(),
	}

	var body struct {
		Players int `json:"players"`
	}
	if _, err := c.getJSON(ctx, c.baseURL+"/status/", &body); err != nil {
		c.log.Warn().Err(err).Msg("Upstream status ping failed")
		return status
	}
	status.Reachable = true
	status.Players = body.Players
	return status
}

// State returns the current rate-limit and circuit snapshots without any
// network activity.
func (c *Client) State() (RateLimitState, CircuitSnapshot) {
	return c.rateLimit.Snapshot(), c.circuit.Snapshot()
}

// getJSON performs a GET with retry, rate-limit pacing and circuit breaker
// accounting, then decodes the body into out. Returns the X-Pages value (1
// when absent) so callers can paginate. The breaker sees one failure per
// call, not per attempt: retries are in-process and only a call whose
// retry budget ran out counts against the circuit.
func (c *Client) getJSON(ctx context.Context, url string, out any) (int, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.log.Debug().
				Str("url", url).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying upstream request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}

		pages, err := c.doOnce(ctx, url, out)
		if err == nil {
			return pages, nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}

	c.recordCircuitOutcome(lastErr)
	return 0, lastErr
}

// recordCircuitOutcome registers a finished failed call with the breaker
// when the final error is the kind that should trip it.
func (c *Client) recordCircuitOutcome(err error) {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.CountsTowardCircuit() {
		c.circuit.RecordFailure()
	}
}

// doOnce performs a single request attempt. It consults the breaker and
// rate-limit tracker before sending and reports success to the breaker;
// failure accounting is done per call in getJSON.
func (c *Client) doOnce(ctx context.Context, url string, out any) (int, error) {
	if err := c.circuit.Allow(); err != nil {
		return 0, err
	}

	if err := c.rateLimit.WaitIfExhausted(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &UpstreamError{Kind: KindClient, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &UpstreamError{Kind: KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	c.rateLimit.UpdateFromHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, c.classifyStatus(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, &UpstreamError{Kind: KindUnavailable, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("decode response: %w", err)}
	}

	c.circuit.RecordSuccess()
	return pagesFromHeader(resp.Header), nil
}

// classifyStatus maps a non-200 response to an UpstreamError and updates
// the rate-limit tracker accordingly.
func (c *Client) classifyStatus(resp *http.Response) error {
	status := resp.StatusCode
	err := &UpstreamError{
		StatusCode: status,
		Err:        errors.New(http.StatusText(status)),
	}

	switch {
	case status == 420 || status == http.StatusTooManyRequests:
		err.Kind = KindRateLimited
		// A 420 without headers still means the error budget is gone.
		if resp.Header.Get(headerErrorLimitRemain) == "" {
			c.rateLimit.MarkExhausted(60 * time.Second)
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err.Kind = KindAuth
	case status >= 500:
		err.Kind = KindUnavailable
	default:
		err.Kind = KindClient
	}

	return err
}

func pagesFromHeader(h http.Header) int {
	if v := h.Get(headerPages); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// backoffDelay returns the exponential delay before the given retry attempt.
func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay << uint(attempt-1)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

// buildOrderBook splits raw orders into buy/sell sides and computes the
// aggregates the rest of the service reads.
func buildOrderBook(key domain.Key, orders []esiOrder) *domain.OrderBook {
	book := &domain.OrderBook{
		Key:         key,
		LastUpdated: time.Now().UTC(),
	}

	var priceVolume float64
	for _, o := range orders {
		order := domain.Order{
			OrderID:      o.OrderID,
			Price:        o.Price,
			VolumeRemain: o.VolumeRemain,
			VolumeTotal:  o.VolumeTotal,
			LocationID:   o.LocationID,
			IsBuyOrder:   o.IsBuyOrder,
			Issued:       o.Issued,
		}
		if order.IsBuyOrder {
			book.BuyOrders = append(book.BuyOrders, order)
		} else {
			book.SellOrders = append(book.SellOrders, order)
		}
		book.TotalVolume += o.VolumeRemain
		priceVolume += o.Price * float64(o.VolumeRemain)
	}

	if book.TotalVolume > 0 {
		book.AvgPrice = priceVolume / float64(book.TotalVolume)
	}

	// Buy side best-first is highest price, sell side lowest.
	sort.Slice(book.BuyOrders, func(i, j int) bool {
		return book.BuyOrders[i].Price > book.BuyOrders[j].Price
	})
	sort.Slice(book.SellOrders, func(i, j int) bool {
		return book.SellOrders[i].Price < book.SellOrders[j].Price
	})

	return book
}
