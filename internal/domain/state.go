package domain

import (
	"fmt"
	"strings"
	"time"
)

// AssetKey identifies one asset within one tenant.
type AssetKey struct {
	TenantID string `json:"tenant_id" validate:"required"`
	AssetID  string `json:"asset_id" validate:"required"`
}

func (k AssetKey) String() string {
	return fmt.Sprintf("tenant:%s:asset:%s", k.TenantID, k.AssetID)
}

// CacheKey is the mirror key for the asset's snapshot. Dots are used as
// separators so the key is valid in JetStream KV buckets; ids are escaped so
// distinct assets never share a key.
func (k AssetKey) CacheKey() string {
	return "tenant." + escapeToken(k.TenantID) + ".asset." + escapeToken(k.AssetID) + ".state"
}

// escapeToken keeps [A-Za-z0-9_-] and writes every other byte as =XX.
func escapeToken(s string) string {
	if strings.IndexFunc(s, func(r rune) bool { return !plainTokenByte(r) }) < 0 {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if plainTokenByte(rune(c)) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "=%02X", c)
	}
	return b.String()
}

func plainTokenByte(r rune) bool {
	return r == '-' || r == '_' ||
		('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}

// AssetReliabilityState is the authoritative reliability snapshot of one asset.
type AssetReliabilityState struct {
	TenantID           string         `json:"tenant_id"`
	AssetID            string         `json:"asset_id"`
	CumulativeDamage   float64        `json:"cumulative_damage"`
	CurrentLoad        float64        `json:"current_load"`
	CurrentTemperature float64        `json:"current_temp"`
	RUL                float64        `json:"current_rul"`
	Confidence         float64        `json:"confidence_score"`
	LastSequence       uint64         `json:"last_sequence"`
	Version            uint64         `json:"version"`
	UpdatedAt          time.Time      `json:"updated_at"`
	LastPayload        map[string]any `json:"last_update,omitempty"`
}

// NewAssetState returns the zero-damage snapshot used for an asset that has
// never been seen before.
func NewAssetState(key AssetKey, now time.Time) AssetReliabilityState {
	return AssetReliabilityState{
		TenantID:   key.TenantID,
		AssetID:    key.AssetID,
		Confidence: 1.0,
		UpdatedAt:  now,
	}
}

// Key returns the asset key of the snapshot.
func (s AssetReliabilityState) Key() AssetKey {
	return AssetKey{TenantID: s.TenantID, AssetID: s.AssetID}
}

// CacheFields renders the snapshot as the flat string map written to the cache mirror.
func (s AssetReliabilityState) CacheFields() map[string]string {
	return map[string]string{
		"damage":     fmt.Sprintf("%g", s.CumulativeDamage),
		"rul":        fmt.Sprintf("%g", s.RUL),
		"confidence": fmt.Sprintf("%g", s.Confidence),
		"load":       fmt.Sprintf("%g", s.CurrentLoad),
		"temp":       fmt.Sprintf("%g", s.CurrentTemperature),
		"version":    fmt.Sprintf("%d", s.Version),
		"sequence":   fmt.Sprintf("%d", s.LastSequence),
		"timestamp":  s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
