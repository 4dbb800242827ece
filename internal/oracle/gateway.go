package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CoverLedger/internal/ledger"
	"CoverLedger/internal/pricemath"
)

// Gateway gates raw feed quotes behind an allow-list, a freshness window,
// and a minimum confidence before handing validated snapshots to the
// ledger. Admin updates may race reads, so parameters sit behind a lock.
type Gateway struct {
	feed Feed

	mu            sync.RWMutex
	maxAge        time.Duration
	minConfidence uint64
	supported     map[string]bool

	nowFn func() time.Time
}

func NewGateway(feed Feed, maxAge time.Duration, minConfidence uint64) *Gateway {
	return &Gateway{
		feed:          feed,
		maxAge:        maxAge,
		minConfidence: minConfidence,
		supported:     make(map[string]bool),
		nowFn:         time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (g *Gateway) SetClock(nowFn func() time.Time) {
	g.nowFn = nowFn
}

// SetPriceIDSupport adds or removes a price id from the allow-list.
func (g *Gateway) SetPriceIDSupport(priceID string, supported bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if supported {
		g.supported[priceID] = true
	} else {
		delete(g.supported, priceID)
	}
}

// SetParams replaces the freshness window and minimum confidence.
func (g *Gateway) SetParams(maxAge time.Duration, minConfidence uint64) error {
	if maxAge <= 0 {
		return fmt.Errorf("max age must be positive, got %s", maxAge)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxAge = maxAge
	g.minConfidence = minConfidence
	return nil
}

// MaxAge reports the current freshness window.
func (g *Gateway) MaxAge() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.maxAge
}

// MinConfidence reports the current confidence floor.
func (g *Gateway) MinConfidence() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.minConfidence
}

// Supported reports whether priceID is on the allow-list.
func (g *Gateway) Supported(priceID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.supported[priceID]
}

// SupportedPriceIDs returns a copy of the allow-list.
func (g *Gateway) SupportedPriceIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.supported))
	for id := range g.supported {
		ids = append(ids, id)
	}
	return ids
}

// Fetch returns a validated, normalized snapshot for priceID. The feed call
// is bounded by the freshness window: a quote that takes longer than maxAge
// to arrive would be stale on delivery anyway.
func (g *Gateway) Fetch(ctx context.Context, priceID string) (pricemath.Snapshot, error) {
	g.mu.RLock()
	maxAge := g.maxAge
	minConf := g.minConfidence
	supported := g.supported[priceID]
	g.mu.RUnlock()

	if !supported {
		return pricemath.Snapshot{}, fmt.Errorf("%w: %s", ledger.ErrInvalidPriceID, priceID)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, maxAge)
	defer cancel()

	quote, err := g.feed.Latest(fetchCtx, priceID)
	if err != nil {
		if errors.Is(err, ErrNoQuote) {
			return pricemath.Snapshot{}, fmt.Errorf("%w: %s", ledger.ErrInvalidPriceID, priceID)
		}
		return pricemath.Snapshot{}, fmt.Errorf("fetch quote %s: %w", priceID, err)
	}

	return g.validate(quote, maxAge, minConf)
}

func (g *Gateway) validate(quote Quote, maxAge time.Duration, minConf uint64) (pricemath.Snapshot, error) {
	now := g.nowFn()

	if pricemath.IsStale(quote.PublishTime, now, maxAge) {
		return pricemath.Snapshot{}, fmt.Errorf("%w: %s published %s ago",
			ledger.ErrPriceStale, quote.PriceID, now.Sub(quote.PublishTime))
	}
	if quote.Confidence < minConf {
		return pricemath.Snapshot{}, fmt.Errorf("%w: %s confidence %d below %d",
			ledger.ErrPriceConfidenceTooLow, quote.PriceID, quote.Confidence, minConf)
	}

	normalized, err := pricemath.Normalize(quote.Price, quote.Exponent)
	if err != nil {
		return pricemath.Snapshot{}, fmt.Errorf("normalize %s: %w", quote.PriceID, err)
	}

	return pricemath.Snapshot{
		PriceID:     quote.PriceID,
		Price:       quote.Price,
		Confidence:  quote.Confidence,
		Exponent:    quote.Exponent,
		Normalized:  normalized,
		PublishTime: quote.PublishTime,
	}, nil
}
