package tracking

import (
	"encoding/json"
	"time"
)

const (
	DefaultCarrier = "Unknown"
	DefaultStatus  = "Created"
)

// Package is a tracked shipment.
type Package struct {
	TrackingNumber  string
	Carrier         string
	Status          string
	LastLocationLat *float64
	LastLocationLng *float64
	LastUpdated     time.Time
	OwnerUserID     *string
}

// HasLocation reports whether both coordinates are known.
func (p Package) HasLocation() bool {
	return p.LastLocationLat != nil && p.LastLocationLng != nil
}

type packageJSON struct {
	TrackingNumber  string   `json:"trackingNumber"`
	Carrier         string   `json:"carrier"`
	Status          string   `json:"status"`
	LastLocationLat *float64 `json:"lastLocationLat"`
	LastLocationLng *float64 `json:"lastLocationLng"`
	LastUpdated     int64    `json:"lastUpdated"`
	OwnerUserID     *string  `json:"ownerUserId"`
}

// MarshalJSON encodes lastUpdated as Unix milliseconds.
func (p Package) MarshalJSON() ([]byte, error) {
	return json.Marshal(packageJSON{
		TrackingNumber:  p.TrackingNumber,
		Carrier:         p.Carrier,
		Status:          p.Status,
		LastLocationLat: p.LastLocationLat,
		LastLocationLng: p.LastLocationLng,
		LastUpdated:     p.LastUpdated.UnixMilli(),
		OwnerUserID:     p.OwnerUserID,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Package) UnmarshalJSON(data []byte) error {
	var raw packageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Package{
		TrackingNumber:  raw.TrackingNumber,
		Carrier:         raw.Carrier,
		Status:          raw.Status,
		LastLocationLat: raw.LastLocationLat,
		LastLocationLng: raw.LastLocationLng,
		LastUpdated:     time.UnixMilli(raw.LastUpdated).UTC(),
		OwnerUserID:     raw.OwnerUserID,
	}
	return nil
}

// CreateInput is the payload of a create request. Nil fields take defaults.
type CreateInput struct {
	TrackingNumber  string
	Carrier         *string
	Status          *string
	LastLocationLat *float64
	LastLocationLng *float64
	OwnerUserID     *string
}

// Patch lists the fields an update may change. Nil fields keep their prior value.
type Patch struct {
	Carrier         *string
	Status          *string
	LastLocationLat *float64
	LastLocationLng *float64
}
