package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"CoverLedger/internal/oracle"
)

// PriceMessage is the wire format for streamed price updates on
// cover.prices.{price_id}.
type PriceMessage struct {
	PriceID     string `json:"price_id"`
	Price       int64  `json:"price"`
	Confidence  uint64 `json:"conf"`
	Exponent    int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"` // Unix seconds
}

// ParsePriceMessage decodes and sanity-checks a price update.
func ParsePriceMessage(data []byte) (oracle.Quote, error) {
	var msg PriceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return oracle.Quote{}, fmt.Errorf("decode price message: %w", err)
	}
	if msg.PriceID == "" {
		return oracle.Quote{}, fmt.Errorf("price message missing price_id")
	}
	if msg.PublishTime <= 0 {
		return oracle.Quote{}, fmt.Errorf("price message %s missing publish_time", msg.PriceID)
	}

	return oracle.Quote{
		PriceID:     msg.PriceID,
		Price:       msg.Price,
		Confidence:  msg.Confidence,
		Exponent:    msg.Exponent,
		PublishTime: time.Unix(msg.PublishTime, 0),
	}, nil
}

// DedupKey is the stable identity of one price publication.
func (m PriceMessage) DedupKey() string {
	return fmt.Sprintf("%s:%d", m.PriceID, m.PublishTime)
}

func dedupKey(q oracle.Quote) string {
	return fmt.Sprintf("%s:%d", q.PriceID, q.PublishTime.Unix())
}
