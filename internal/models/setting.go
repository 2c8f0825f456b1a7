package models

import "time"

// SettingMaintenanceMode is the fixed key of the maintenance flag.
const SettingMaintenanceMode = "maintenance_mode"

// Setting represents a persisted server setting. The maintenance flag is
// one such entry; last-writer-wins, no versioning.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedBy *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
