package domain

import "time"

const (
	AuditEntityAsset     = "AssetRel"
	AuditActionProcessed = "telemetry_processed"
)

// AuditValue is the reliability triple captured before and after a transition.
type AuditValue struct {
	Damage     float64 `json:"damage"`
	RUL        float64 `json:"rul"`
	Confidence float64 `json:"confidence"`
}

// AuditRecord is an immutable log entry for one applied reading. It is written
// in the same transaction as the state it describes.
type AuditRecord struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Action       string         `json:"action"`
	OldValue     AuditValue     `json:"old_value"`
	NewValue     AuditValue     `json:"new_value"`
	Metadata     map[string]any `json:"metadata_info,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	StateVersion uint64         `json:"state_version"`
}

// AuditValueOf extracts the audited fields of a snapshot.
func AuditValueOf(s AssetReliabilityState) AuditValue {
	return AuditValue{Damage: s.CumulativeDamage, RUL: s.RUL, Confidence: s.Confidence}
}
