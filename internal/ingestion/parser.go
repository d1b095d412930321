package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"VaultLedger/internal/event"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
)

// PriceSubjectPrefix is the subject namespace of the price feed. The token
// after the prefix names the feed source.
const PriceSubjectPrefix = "vault.prices."

var ErrMalformedPrice = errors.New("ingestion: malformed price message")

// priceJSON accepts the price either as a JSON string or a bare number so
// feeds can publish values wider than float64 without loss.
type priceJSON struct {
	Source   string          `json:"source"`
	Price    json.RawMessage `json:"price"`
	Sequence int64           `json:"sequence"`
}

// ParsePriceUpdate decodes a price feed message. The source defaults to the
// subject suffix when the payload does not carry one.
func ParsePriceUpdate(raw RawEvent) (*event.PriceUpdate, *big.Int, error) {
	var j priceJSON
	dec := json.NewDecoder(bytes.NewReader(raw.Data))
	dec.UseNumber()
	if err := dec.Decode(&j); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPrice, err)
	}
	if len(j.Price) == 0 {
		return nil, nil, fmt.Errorf("%w: missing price", ErrMalformedPrice)
	}
	if j.Sequence < 0 {
		return nil, nil, fmt.Errorf("%w: negative sequence %d", ErrMalformedPrice, j.Sequence)
	}

	text := strings.Trim(string(j.Price), `"`)
	price, err := vmath.Parse(text)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPrice, err)
	}
	if err := oracle.ValidatePrice(price); err != nil {
		return nil, nil, err
	}

	source := j.Source
	if source == "" {
		source = SourceFromSubject(raw.Subject)
	}
	return &event.PriceUpdate{
		Source:   source,
		Price:    price.String(),
		Sequence: j.Sequence,
	}, price, nil
}

// SourceFromSubject extracts the feed source from a price subject,
// e.g. "vault.prices.chainlink" -> "chainlink".
func SourceFromSubject(subject string) string {
	source := strings.TrimPrefix(subject, PriceSubjectPrefix)
	if source == "" || source == subject {
		return "default"
	}
	return source
}
