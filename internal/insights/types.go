// Package insights turns provider-native metrics into one canonical shape.
// Everything here is computed per request; nothing durable lives in this
// package beyond the optional response cache.
package insights

import "time"

// Profile carries the canonical account-level identity fields. Followers
// and ItemCount are pointers so a consumer can tell "zero" from "the
// provider did not report this".
type Profile struct {
	Identifier  string   `json:"identifier"`
	DisplayName string   `json:"display_name"`
	Followers   *float64 `json:"followers"`
	ItemCount   *float64 `json:"item_count"`
	PictureURL  string   `json:"picture_url,omitempty"`
}

// Item is one piece of recent content with its canonical metric map.
// Metrics is nil when the per-item enrichment call failed.
type Item struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Result is the canonical response shape, identical across platforms.
// MetricsPresence has an entry for every canonical account metric the
// platform can report; false means the value was unavailable this time.
type Result struct {
	AccountID       string             `json:"account_id"`
	Platform        string             `json:"platform"`
	Demo            bool               `json:"demo,omitempty"`
	Profile         Profile            `json:"profile"`
	Metrics         map[string]float64 `json:"metrics"`
	MetricsPresence map[string]bool    `json:"metrics_presence"`
	Items           []Item             `json:"items"`
	FetchedAt       time.Time          `json:"fetched_at"`
}
