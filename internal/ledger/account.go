package ledger

import (
	"fmt"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeParticipant AccountScope = iota
	AccountScopeTreasury
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Participant sub-types
	SubTypeWallet AccountSubType = iota

	// Treasury sub-types
	SubTypeTreasuryCustody

	// External sub-types
	SubTypeExternalFunding
	SubTypeExternalMint
)

// AssetID maps asset strings to numeric IDs
type AssetID uint16

const (
	AssetSOL  AssetID = 1
	AssetVote AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"SOL":  AssetSOL,
		"VOTE": AssetVote,
	}
	idToAsset = map[AssetID]string{
		AssetSOL:  "SOL",
		AssetVote: "VOTE",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Entity  string // participant or treasury authority; empty for external accounts
	SubType AccountSubType
	AssetID AssetID
}

// NewParticipantAccountKey creates a key for a participant wallet
func NewParticipantAccountKey(participant string, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeParticipant,
		Entity:  participant,
		SubType: SubTypeWallet,
		AssetID: assetID,
	}
}

// NewTreasuryAccountKey creates a key for the custody account of a treasury
func NewTreasuryAccountKey(authority string, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeTreasury,
		Entity:  authority,
		SubType: SubTypeTreasuryCustody,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeParticipant:
		return fmt.Sprintf("participant:%s:%s:%s", k.Entity, k.subTypeName(), assetName)
	case AccountScopeTreasury:
		return fmt.Sprintf("treasury:%s:%s:%s", k.Entity, k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeTreasuryCustody:
		return "custody"
	case SubTypeExternalFunding:
		return "funding"
	case SubTypeExternalMint:
		return "mint"
	default:
		return "unknown"
	}
}

// ParseAccountPath is the inverse of AccountPath
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	asset := parts[len(parts)-1]
	assetID, ok := GetAssetID(asset)
	if !ok {
		return AccountKey{}, fmt.Errorf("account path %q: unknown asset %q", path, asset)
	}

	switch {
	case len(parts) == 4 && parts[0] == "participant" && parts[2] == "wallet":
		return NewParticipantAccountKey(parts[1], assetID), nil
	case len(parts) == 4 && parts[0] == "treasury" && parts[2] == "custody":
		return NewTreasuryAccountKey(parts[1], assetID), nil
	case len(parts) == 3 && parts[0] == "external" && parts[1] == "funding":
		return NewExternalAccountKey(SubTypeExternalFunding, assetID), nil
	case len(parts) == 3 && parts[0] == "external" && parts[1] == "mint":
		return NewExternalAccountKey(SubTypeExternalMint, assetID), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}
