package rates

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"tally/internal/core"

	"github.com/shopspring/decimal"
)

// DefaultECBURL serves the last ninety days of reference rates, enough for
// any reasonable backfill window.
const DefaultECBURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-hist-90d.xml"

// ECBClient reads the European Central Bank's euro foreign exchange
// reference rates. Quotes are expressed as units of currency per 1 EUR.
type ECBClient struct {
	url    string
	client *http.Client
}

func NewECBClient(url string, timeout time.Duration) *ECBClient {
	if url == "" {
		url = DefaultECBURL
	}
	return &ECBClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *ECBClient) Name() core.RateSource {
	return core.SourceECB
}

type ecbEnvelope struct {
	Days []ecbDay `xml:"Cube>Cube"`
}

type ecbDay struct {
	Time  string    `xml:"time,attr"`
	Rates []ecbRate `xml:"Cube"`
}

type ecbRate struct {
	Currency string `xml:"currency,attr"`
	Rate     string `xml:"rate,attr"`
}

// FetchRates returns the newest ECB rate set dated on or before the given
// day. The feed publishes one Cube per trading day; weekends and holidays
// resolve to the preceding trading day's set.
func (c *ECBClient) FetchRates(ctx context.Context, on core.Date) (RateSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return RateSet{}, fmt.Errorf("build ecb request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return RateSet{}, fmt.Errorf("fetch ecb rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RateSet{}, fmt.Errorf("ecb responded %d: %s", resp.StatusCode, body)
	}

	var envelope ecbEnvelope
	if err := xml.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return RateSet{}, fmt.Errorf("parse ecb xml: %w", err)
	}

	var (
		best      core.Date
		bestRates map[string]decimal.Decimal
	)
	for _, day := range envelope.Days {
		cubeDate, err := core.ParseDate(day.Time)
		if err != nil || cubeDate.After(on) {
			continue
		}
		if bestRates != nil && !cubeDate.After(best) {
			continue
		}

		rates := map[string]decimal.Decimal{"EUR": decimal.NewFromInt(1)}
		for _, r := range day.Rates {
			if r.Currency == "" || r.Rate == "" {
				continue
			}
			value, err := decimal.NewFromString(r.Rate)
			if err != nil {
				continue
			}
			rates[r.Currency] = value
		}
		if len(rates) <= 1 {
			continue
		}
		best = cubeDate
		bestRates = rates
	}

	if bestRates == nil {
		return RateSet{}, fmt.Errorf("no ecb rates found for date <= %s", on)
	}
	return RateSet{Date: best, Rates: bestRates}, nil
}
