package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Price service defaults.
const (
	// DefaultPriceURL is the CoinGecko simple-price endpoint.
	DefaultPriceURL = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"

	// priceTimeout bounds one upstream request.
	priceTimeout = 10 * time.Second

	// priceCacheTTL is how long a fetched price is served without a new
	// upstream call.
	priceCacheTTL = time.Minute
)

// PriceUnavailable is the reply sent when no price can be produced.
// The gateway degrades to this text instead of surfacing an error to
// radio users.
const PriceUnavailable = "₿ Bitcoin price is currently unavailable. Please try again later."

// PriceService fetches the Bitcoin spot price for the !btc command.
//
// Upstream calls are rate limited and cached. Any failure degrades to a
// static reply, never an error: the caller always gets a sendable string.
type PriceService struct {
	url    string
	client *http.Client
	logger *slog.Logger

	// limiter gates upstream calls so a chatty mesh cannot hammer the
	// free API tier.
	limiter *rate.Limiter

	mu        sync.Mutex
	cached    string
	fetchedAt time.Time
}

// NewPriceService creates a price service against the default endpoint.
func NewPriceService(logger *slog.Logger) *PriceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceService{
		url:     DefaultPriceURL,
		client:  &http.Client{Timeout: priceTimeout},
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 2),
	}
}

// BitcoinPrice returns a formatted price line, serving from cache when the
// last fetch is fresh enough.
func (s *PriceService) BitcoinPrice(ctx context.Context) string {
	s.mu.Lock()
	if s.cached != "" && time.Since(s.fetchedAt) < priceCacheTTL {
		cached := s.cached
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	if !s.limiter.Allow() {
		return s.lastKnownOrUnavailable()
	}

	price, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("bitcoin price fetch failed", "error", err)
		return s.lastKnownOrUnavailable()
	}

	formatted := fmt.Sprintf("₿ Bitcoin: $%s USD", formatUSD(price))

	s.mu.Lock()
	s.cached = formatted
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	return formatted
}

// fetch performs one upstream request.
func (s *PriceService) fetch(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Bitcoin struct {
			USD float64 `json:"usd"`
		} `json:"bitcoin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if payload.Bitcoin.USD <= 0 {
		return 0, fmt.Errorf("missing price in response")
	}

	return payload.Bitcoin.USD, nil
}

// lastKnownOrUnavailable serves a stale cached price over the static
// fallback, even past the cache TTL.
func (s *PriceService) lastKnownOrUnavailable() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" {
		return s.cached
	}
	return PriceUnavailable
}

// formatUSD renders a dollar amount with thousands separators and two
// decimal places, e.g. 97251.3 -> "97,251.30".
func formatUSD(v float64) string {
	raw := strconv.FormatFloat(v, 'f', 2, 64)

	intPart, fracPart, _ := strings.Cut(raw, ".")
	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	b.WriteByte('.')
	b.WriteString(fracPart)
	return b.String()
}
