package types

import "time"

// DeviceDescriptor identifies the device found by the last connectivity check
type DeviceDescriptor struct {
	Model  string `json:"model"`
	Serial string `json:"serial"`
}

// RemovalStatus is the heuristic verdict on an uninstall attempt
type RemovalStatus string

const (
	RemovalRemoved RemovalStatus = "removed"
	RemovalFailed  RemovalStatus = "failed"
)

// RemovalOutcome is the result of an uninstall request.
// adb reports uninstall status only as human-readable text, so Status is derived
// from the presence of "Success" in the output and can be wrong in both directions.
type RemovalOutcome struct {
	Package string        `json:"package"`
	Status  RemovalStatus `json:"status"`
	Output  string        `json:"output,omitempty"` // raw tool output, kept for diagnostics on failure
}

// Removed reports whether the tool claimed success
func (o RemovalOutcome) Removed() bool {
	return o.Status == RemovalRemoved
}

// Inventory is a serializable snapshot of the manager state
type Inventory struct {
	Device   *DeviceDescriptor `json:"device,omitempty"`
	Packages []string          `json:"packages"`
	Total    int               `json:"total"`
	SyncedAt *time.Time        `json:"syncedAt,omitempty"` // last successful refresh
}
