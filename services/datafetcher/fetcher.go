package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"crypto_dashboard/logger"
	"crypto_dashboard/models"

	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	DefaultTimeout = 30 * time.Second

	// upper bound on the response body we are willing to decode
	maxBodyBytes = 4 << 20
)

// FetchError is returned for every fetch failure: transport, status or payload
type FetchError struct {
	Cause string
	Err   error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch market data: %s: %v", e.Cause, e.Err)
	}
	return "fetch market data: " + e.Cause
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DataFetcher fetches top coins by market cap from CoinGecko
type DataFetcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Entry
}

// NewDataFetcher creates a fetcher. An empty baseURL selects the public API.
func NewDataFetcher(baseURL, apiKey string, timeout time.Duration) *DataFetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DataFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logger.GetLogger().WithComponent("datafetcher"),
	}
}

// coinMarket is one element of the /coins/markets response
type coinMarket struct {
	ID                       string              `json:"id"`
	Symbol                   string              `json:"symbol"`
	Name                     string              `json:"name"`
	Image                    string              `json:"image"`
	CurrentPrice             decimal.NullDecimal `json:"current_price"`
	MarketCap                decimal.NullDecimal `json:"market_cap"`
	MarketCapRank            *int                `json:"market_cap_rank"`
	TotalVolume              decimal.NullDecimal `json:"total_volume"`
	PriceChangePercentage24h decimal.NullDecimal `json:"price_change_percentage_24h"`
}

// FetchTop returns exactly n quotes ordered by market cap, or a *FetchError
func (df *DataFetcher) FetchTop(ctx context.Context, n int) ([]models.Quote, error) {
	if n <= 0 {
		return nil, &FetchError{Cause: fmt.Sprintf("invalid count %d", n)}
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(n))
	params.Set("page", "1")
	params.Set("sparkline", "false")
	params.Set("price_change_percentage", "24h")
	endpoint := df.baseURL + "/coins/markets?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Cause: "failed to build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if df.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", df.apiKey)
	}

	df.log.WithField("count", n).Info("Fetching top cryptocurrencies from CoinGecko")
	start := time.Now()

	resp, err := df.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Cause: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Cause: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Cause: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))}
	}

	var markets []coinMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, &FetchError{Cause: "failed to parse response", Err: err}
	}

	quotes, err := normalize(markets, n)
	if err != nil {
		return nil, err
	}

	df.log.WithField("count", len(quotes)).LogDuration("fetch_top", time.Since(start))
	return quotes, nil
}

// normalize validates the payload and converts it into quotes. It is
// all-or-nothing: one bad entry rejects the whole list.
func normalize(markets []coinMarket, n int) ([]models.Quote, error) {
	if len(markets) != n {
		return nil, &FetchError{Cause: fmt.Sprintf("expected %d coins, got %d", n, len(markets))}
	}

	quotes := make([]models.Quote, 0, len(markets))
	seen := make(map[string]bool, len(markets))
	for i, m := range markets {
		switch {
		case m.ID == "":
			return nil, &FetchError{Cause: fmt.Sprintf("coin #%d has no id", i+1)}
		case m.Name == "" || m.Symbol == "":
			return nil, &FetchError{Cause: fmt.Sprintf("coin %q is missing name or symbol", m.ID)}
		case !m.CurrentPrice.Valid:
			return nil, &FetchError{Cause: fmt.Sprintf("coin %q has no current price", m.ID)}
		case m.MarketCapRank == nil || *m.MarketCapRank <= 0:
			return nil, &FetchError{Cause: fmt.Sprintf("coin %q has no market cap rank", m.ID)}
		case seen[m.ID]:
			return nil, &FetchError{Cause: fmt.Sprintf("coin %q appears twice", m.ID)}
		}
		seen[m.ID] = true

		quotes = append(quotes, models.Quote{
			ID:                    m.ID,
			Name:                  m.Name,
			Symbol:                strings.ToUpper(m.Symbol),
			PriceUSD:              m.CurrentPrice.Decimal,
			MarketCapUSD:          orZero(m.MarketCap),
			Volume24hUSD:          orZero(m.TotalVolume),
			PriceChange24hPercent: orZero(m.PriceChangePercentage24h),
			MarketCapRank:         *m.MarketCapRank,
			ImageURL:              m.Image,
		})
	}
	return quotes, nil
}

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

// truncate cuts s to at most max bytes without splitting a rune
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
