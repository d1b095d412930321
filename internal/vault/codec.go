package vault

import (
	"encoding/json"
	"fmt"
	"sort"

	vmath "VaultLedger/internal/math"
)

// VaultsSlot is the store key holding the encoded account → vault mapping.
const VaultsSlot = "vaults"

type bookRecord struct {
	Version  int                    `json:"version"`
	Accounts map[string]vaultRecord `json:"accounts"`
}

type vaultRecord struct {
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

const bookFormatVersion = 1

// EncodeBook serializes the ledger image. Amounts are decimal strings so no
// consumer loses precision.
func EncodeBook(b Book) ([]byte, error) {
	rec := bookRecord{Version: bookFormatVersion, Accounts: make(map[string]vaultRecord, len(b))}
	for account, v := range b {
		if err := v.checkInvariant(); err != nil {
			return nil, fmt.Errorf("encode %s: %w", account, err)
		}
		rec.Accounts[string(account)] = vaultRecord{
			Collateral: vmath.Clone(v.Collateral).String(),
			Debt:       vmath.Clone(v.Debt).String(),
		}
	}
	return json.Marshal(rec)
}

// DecodeBook parses a stored image. An empty input is an empty ledger.
func DecodeBook(data []byte) (Book, error) {
	book := make(Book)
	if len(data) == 0 {
		return book, nil
	}
	var rec bookRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if rec.Version != bookFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptState, rec.Version)
	}
	for account, vr := range rec.Accounts {
		collateral, err := vmath.Parse(vr.Collateral)
		if err != nil {
			return nil, fmt.Errorf("%w: %s collateral: %v", ErrCorruptState, account, err)
		}
		debt, err := vmath.Parse(vr.Debt)
		if err != nil {
			return nil, fmt.Errorf("%w: %s debt: %v", ErrCorruptState, account, err)
		}
		v := Vault{Collateral: collateral, Debt: debt}
		if err := v.checkInvariant(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, account, err)
		}
		book[Account(account)] = v
	}
	return book, nil
}

// Accounts returns the book's keys in sorted order.
func (b Book) Accounts() []Account {
	out := make([]Account, 0, len(b))
	for a := range b {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
