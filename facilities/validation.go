package facilities

import (
	"fmt"
	"strings"
)

// Validate checks a facility record loaded from storage or a seed file.
// Malformed reference data is rejected here rather than during matching.
func Validate(f Facility) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("facility %d: name cannot be empty", f.ID)
	}

	if !isValidCategory(f.Category) {
		return fmt.Errorf("facility %q has invalid type %q (must be one of: Hospital, RHC, BHU)", f.Name, f.Category)
	}

	if f.Location != nil {
		if err := f.Location.Validate(); err != nil {
			return fmt.Errorf("facility %q: %w", f.Name, err)
		}
	}

	for i, service := range f.Services {
		if strings.TrimSpace(service) == "" {
			return fmt.Errorf("facility %q: service tag %d is empty", f.Name, i)
		}
	}

	if daily, ok := f.OpeningHours["daily"]; ok {
		if _, err := ParseHours(daily); err != nil {
			return fmt.Errorf("facility %q: %w", f.Name, err)
		}
	}

	for _, item := range f.Inventory {
		if err := ValidateItem(item); err != nil {
			return fmt.Errorf("facility %q: %w", f.Name, err)
		}
	}

	return nil
}

// ValidateItem checks a single inventory item.
func ValidateItem(item InventoryItem) error {
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("inventory item name cannot be empty")
	}
	if _, err := ParseStockLevel(string(item.StockLevel)); err != nil {
		return fmt.Errorf("inventory item %q: %w", item.Name, err)
	}
	return nil
}

// ParseStockLevel normalises a stock level string. Matching is case-insensitive.
func ParseStockLevel(s string) (StockLevel, error) {
	switch level := StockLevel(strings.ToLower(strings.TrimSpace(s))); level {
	case StockAdequate, StockLow, StockOut:
		return level, nil
	default:
		return "", fmt.Errorf("invalid stock level %q (must be one of: adequate, low, out)", s)
	}
}

func isValidCategory(c Category) bool {
	switch c {
	case CategoryHospital, CategoryRHC, CategoryBHU:
		return true
	}
	return false
}
