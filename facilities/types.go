package facilities

import (
	"time"

	"github.com/connectedhealth/careengine/geo"
)

// Category classifies a facility.
type Category string

const (
	CategoryHospital Category = "Hospital"
	CategoryRHC      Category = "RHC"
	CategoryBHU      Category = "BHU"
)

// StockLevel is the coarse stock status of an inventory item.
type StockLevel string

const (
	StockAdequate StockLevel = "adequate"
	StockLow      StockLevel = "low"
	StockOut      StockLevel = "out"
)

// InventoryItem is one tracked item at a facility.
type InventoryItem struct {
	Name        string     `json:"itemName" yaml:"itemName"`
	Category    string     `json:"itemType" yaml:"itemType"`
	StockLevel  StockLevel `json:"stockLevel" yaml:"stockLevel"`
	LastUpdated time.Time  `json:"lastUpdated" yaml:"lastUpdated"`
}

// Facility is reference data describing a health facility.
type Facility struct {
	ID           int64             `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Category     Category          `json:"type" yaml:"type"`
	District     string            `json:"district" yaml:"district"`
	SubDistrict  string            `json:"tehsil" yaml:"tehsil"`
	Location     *geo.Coordinate   `json:"location,omitempty" yaml:"location,omitempty"`
	Services     []string          `json:"services" yaml:"services"`
	OpeningHours map[string]string `json:"openingHours,omitempty" yaml:"openingHours,omitempty"`
	Contact      string            `json:"contact" yaml:"contact"`
	Inventory    []InventoryItem   `json:"inventory" yaml:"inventory"`
}

// Filter is a facility search request. Unset fields are wildcards.
type Filter struct {
	District         string   `json:"district,omitempty"`
	SubDistrict      string   `json:"tehsil,omitempty"`
	Lat              *float64 `json:"lat,omitempty"`
	Lng              *float64 `json:"lng,omitempty"`
	RequiredServices []string `json:"requiredServices,omitempty"`
}

// Origin returns the search origin, or nil unless both lat and lng are set.
func (f Filter) Origin() *geo.Coordinate {
	if f.Lat == nil || f.Lng == nil {
		return nil
	}
	return &geo.Coordinate{Lat: *f.Lat, Lng: *f.Lng}
}

// Match is one ranked facility recommendation.
type Match struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Category        Category `json:"type"`
	DistanceKm      *float64 `json:"distanceKm,omitempty"`
	IsOpen          bool     `json:"isOpen"`
	ServicesSummary []string `json:"servicesSummary"`
	StockAlerts     []string `json:"stockAlerts"`
	MatchesRequired bool     `json:"matchesRequired"`
}
