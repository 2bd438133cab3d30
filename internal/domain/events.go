package domain

import "time"

// Topics published after every committed update.
const (
	TopicDamageUpdated   = "damage-updated"
	TopicRULRecalculated = "rul-recalculated"
)

// DamageUpdated is the payload of TopicDamageUpdated.
type DamageUpdated struct {
	TenantID  string    `json:"tenant_id"`
	AssetID   string    `json:"asset_id"`
	Version   uint64    `json:"version"`
	Sequence  uint64    `json:"sequence"`
	Damage    float64   `json:"damage"`
	Increment float64   `json:"increment"`
	Timestamp time.Time `json:"timestamp"`
}

// RULRecalculated is the payload of TopicRULRecalculated.
type RULRecalculated struct {
	TenantID   string    `json:"tenant_id"`
	AssetID    string    `json:"asset_id"`
	Version    uint64    `json:"version"`
	Sequence   uint64    `json:"sequence"`
	RUL        float64   `json:"rul"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}
