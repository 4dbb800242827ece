// Package oracle validates externally supplied price quotes before the
// ledger consumes them. The external feed sits behind the Feed interface;
// the Gateway applies the freshness and confidence gates.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Quote is a raw, unvalidated observation from a feed.
type Quote struct {
	PriceID     string
	Price       int64 // Signed mantissa
	Confidence  uint64
	Exponent    int32
	PublishTime time.Time
}

// ErrNoQuote is returned by a Feed when it has no observation for a price id.
var ErrNoQuote = errors.New("no quote for price id")

// Feed supplies the latest observation for a price id. Fetching may block on
// external I/O; implementations must honor ctx.
type Feed interface {
	Latest(ctx context.Context, priceID string) (Quote, error)
}

// HTTPFeed polls a Hermes-style JSON price endpoint.
type HTTPFeed struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFeed(baseURL string, timeout time.Duration) *HTTPFeed {
	return &HTTPFeed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// hermesResponse mirrors the upstream JSON shape. Mantissa and confidence
// arrive as decimal strings.
type hermesResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// Latest fetches the newest published quote for priceID.
func (f *HTTPFeed) Latest(ctx context.Context, priceID string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/v2/updates/price/latest?ids[]=%s", f.baseURL, url.QueryEscape(priceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var body hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("decode feed response: %w", err)
	}

	for _, p := range body.Parsed {
		if p.ID != priceID {
			continue
		}
		price, err := strconv.ParseInt(p.Price.Price, 10, 64)
		if err != nil {
			return Quote{}, fmt.Errorf("parse feed price: %w", err)
		}
		conf, err := strconv.ParseUint(p.Price.Conf, 10, 64)
		if err != nil {
			return Quote{}, fmt.Errorf("parse feed confidence: %w", err)
		}
		return Quote{
			PriceID:     priceID,
			Price:       price,
			Confidence:  conf,
			Exponent:    p.Price.Expo,
			PublishTime: time.Unix(p.Price.PublishTime, 0),
		}, nil
	}

	return Quote{}, fmt.Errorf("%w: %s", ErrNoQuote, priceID)
}
