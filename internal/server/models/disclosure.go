package models

import (
	"encoding/json"
	"time"
)

// Disclosure is the latest data another company has shared with us for one
// fact. Key is the canonical domain key text of the fact.
type Disclosure struct {
	StaticID      string          `json:"staticId"`
	OwnerStaticID string          `json:"ownerStaticId"`
	FeatureType   string          `json:"featureType"`
	Key           string          `json:"key"`
	SourceID      string          `json:"sourceId"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
