package rates

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tally/internal/core"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// DefaultCBRURL is the Central Bank of Russia's official daily XML feed.
const DefaultCBRURL = "https://www.cbr.ru/scripts/XML_daily.asp"

// CBRClient reads the Central Bank of Russia's daily quotes. Quotes are
// expressed as RUB per 1 unit of currency after dividing out the nominal
// (some currencies are quoted per 10, 100 or 10000 units).
type CBRClient struct {
	url    string
	client *http.Client
}

func NewCBRClient(url string, timeout time.Duration) *CBRClient {
	if url == "" {
		url = DefaultCBRURL
	}
	return &CBRClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *CBRClient) Name() core.RateSource {
	return core.SourceCBR
}

type cbrValCurs struct {
	Date    string      `xml:"Date,attr"`
	Valutes []cbrValute `xml:"Valute"`
}

type cbrValute struct {
	CharCode string `xml:"CharCode"`
	Nominal  string `xml:"Nominal"`
	Value    string `xml:"Value"`
}

// FetchRates asks the feed for a specific day; the bank answers with the
// set effective on that day (published the preceding business day).
func (c *CBRClient) FetchRates(ctx context.Context, on core.Date) (RateSet, error) {
	// The feed wants dd/mm/yyyy.
	u := fmt.Sprintf("%s?date_req=%s", c.url, url.QueryEscape(on.Format("02/01/2006")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return RateSet{}, fmt.Errorf("build cbr request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return RateSet{}, fmt.Errorf("fetch cbr rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RateSet{}, fmt.Errorf("cbr responded %d: %s", resp.StatusCode, body)
	}

	// The feed declares windows-1251.
	decoder := xml.NewDecoder(resp.Body)
	decoder.CharsetReader = cbrCharset

	var payload cbrValCurs
	if err := decoder.Decode(&payload); err != nil {
		return RateSet{}, fmt.Errorf("parse cbr xml: %w", err)
	}

	rates := map[string]decimal.Decimal{"RUB": decimal.NewFromInt(1)}
	for _, v := range payload.Valutes {
		code := strings.ToUpper(strings.TrimSpace(v.CharCode))
		if code == "" || v.Value == "" {
			continue
		}
		nominal, err := parseRuDecimal(v.Nominal)
		if err != nil || nominal.IsZero() {
			continue
		}
		value, err := parseRuDecimal(v.Value)
		if err != nil {
			continue
		}
		rates[code] = value.Div(nominal)
	}
	if len(rates) <= 1 {
		return RateSet{}, fmt.Errorf("no currency rates in cbr response")
	}

	effective := on
	if d, err := time.Parse("02.01.2006", payload.Date); err == nil {
		effective = core.DateOf(d)
	}
	return RateSet{Date: effective, Rates: rates}, nil
}

// parseRuDecimal handles the feed's comma decimal separator.
func parseRuDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		s = "1"
	}
	return decimal.NewFromString(s)
}

func cbrCharset(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "windows-1251", "cp1251":
		return charmap.Windows1251.NewDecoder().Reader(input), nil
	case "utf-8", "":
		return input, nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
}
