package models

import "time"

// LocationSample is a single device fix.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	SampledAt time.Time `json:"sampledAt"`
}
