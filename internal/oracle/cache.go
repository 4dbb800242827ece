package oracle

import (
	"context"
	"fmt"
	"sync"
)

// CacheFeed serves quotes from an in-memory cache fed by the streaming
// ingestion path. Reads never block on external I/O.
type CacheFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewCacheFeed() *CacheFeed {
	return &CacheFeed{quotes: make(map[string]Quote)}
}

// Update stores q as the latest observation for its price id. Older
// publishes than the cached one are ignored so out-of-order delivery
// cannot roll the cache backwards.
func (c *CacheFeed) Update(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.quotes[q.PriceID]; ok && q.PublishTime.Before(cur.PublishTime) {
		return
	}
	c.quotes[q.PriceID] = q
}

func (c *CacheFeed) Latest(_ context.Context, priceID string) (Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[priceID]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoQuote, priceID)
	}
	return q, nil
}

// Size reports the number of cached price ids.
func (c *CacheFeed) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
