package event

import (
	"fmt"
	"strconv"
	"strings"
)

// PriceUpdate is a price observation from an external feed.
type PriceUpdate struct {
	Source   string // feed identity, taken from the subject suffix
	Price    string // decimal integer, debt units per collateral unit
	Sequence int64  // monotonic per source; zero when the feed is unsequenced
}

const priceKeyInfix = ":price:"

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s%s%d", p.Source, priceKeyInfix, p.Sequence)
}

// ParsePriceKey splits a request ID built by IdempotencyKey back into its
// source and sequence. ok is false for any other request ID.
func ParsePriceKey(requestID string) (source string, sequence int64, ok bool) {
	i := strings.LastIndex(requestID, priceKeyInfix)
	if i <= 0 {
		return "", 0, false
	}
	seq, err := strconv.ParseInt(requestID[i+len(priceKeyInfix):], 10, 64)
	if err != nil || seq <= 0 {
		return "", 0, false
	}
	return requestID[:i], seq, true
}
