package model

import "time"

type AccountKind string

const (
	LiquidityAsset           AccountKind = "LIQUIDITY_ASSET"
	LiquidityPeer            AccountKind = "LIQUIDITY_PEER"
	LiquidityIncoming        AccountKind = "LIQUIDITY_INCOMING"
	LiquidityOutgoing        AccountKind = "LIQUIDITY_OUTGOING"
	LiquidityWebMonetization AccountKind = "LIQUIDITY_WEB_MONETIZATION"
	Settlement               AccountKind = "SETTLEMENT"
)

// IsValid reports whether k is one of the known account kinds.
func (k AccountKind) IsValid() bool {
	switch k {
	case LiquidityAsset, LiquidityPeer, LiquidityIncoming, LiquidityOutgoing, LiquidityWebMonetization, Settlement:
		return true
	}
	return false
}

// IsLiquidity reports whether k is one of the liquidity kinds.
func (k AccountKind) IsLiquidity() bool {
	return k.IsValid() && k != Settlement
}

// IsSettlement reports whether k is the settlement kind. Settlement accounts
// mark the boundary where value enters and leaves the system and are exempt
// from the ordinary source-sufficiency check.
func (k AccountKind) IsSettlement() bool {
	return k == Settlement
}

// Asset is the registry entry an account's ledger number points at.
type Asset struct {
	ID        int64                  `json:"-"`
	AssetID   string                 `json:"asset_id"`
	Code      string                 `json:"code"`
	Ledger    uint32                 `json:"ledger"`
	Scale     uint8                  `json:"scale"`
	CreatedAt time.Time              `json:"created_at"`
	MetaData  map[string]interface{} `json:"meta_data,omitempty"`
}

// LedgerAccount is one balance-holding entity. Rows are created once per
// (accountRef, kind) pair and never mutated or deleted.
type LedgerAccount struct {
	ID         int64                  `json:"-"`
	AccountID  string                 `json:"account_id"`
	AccountRef string                 `json:"account_ref"`
	Ledger     uint32                 `json:"ledger"`
	Kind       AccountKind            `json:"kind"`
	CreatedAt  time.Time              `json:"created_at"`
	MetaData   map[string]interface{} `json:"meta_data,omitempty"`
}
