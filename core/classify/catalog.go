package classify

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/kilianp07/movedispatch/core/model"
)

//go:embed default_catalog.toml
var defaultCatalog []byte

// CatalogItem describes a known inventory item.
type CatalogItem struct {
	ID       string     `toml:"id" json:"id"`
	Name     string     `toml:"name" json:"name"`
	WeightKg float64    `toml:"weight_kg" json:"weight_kg"`
	Points   *float64   `toml:"points" json:"points,omitempty"`
	MinTier  model.Tier `toml:"min_tier" json:"min_tier,omitempty"`
}

// Catalog indexes catalog items by id.
type Catalog map[string]CatalogItem

// Table holds the tunable scoring parameters.
type Table struct {
	LightMaxPoints        float64 `toml:"light_max_points" json:"light_max_points"`
	RegularMaxPoints      float64 `toml:"regular_max_points" json:"regular_max_points"`
	DefaultItemPoints     float64 `toml:"default_item_points" json:"default_item_points"`
	CustomItemPoints      float64 `toml:"custom_item_points" json:"custom_item_points"`
	DefaultCustomWeightKg float64 `toml:"default_custom_weight_kg" json:"default_custom_weight_kg"`
}

// TierFor maps aggregate points to a tier. Limits are inclusive.
func (t Table) TierFor(points float64) model.Tier {
	switch {
	case points <= t.LightMaxPoints:
		return model.TierLight
	case points <= t.RegularMaxPoints:
		return model.TierRegular
	default:
		return model.TierPremium
	}
}

// Validate checks that the thresholds are ordered and non-negative.
func (t Table) Validate() error {
	if t.LightMaxPoints < 0 || t.RegularMaxPoints < t.LightMaxPoints {
		return fmt.Errorf("thresholds must satisfy 0 <= light_max_points <= regular_max_points")
	}
	if t.DefaultItemPoints < 0 || t.CustomItemPoints < 0 || t.DefaultCustomWeightKg < 0 {
		return fmt.Errorf("default points and weights must not be negative")
	}
	return nil
}

// Rules bundles a catalog with its scoring table.
type Rules struct {
	Table   Table
	Catalog Catalog
}

type rulesFile struct {
	Thresholds Table         `toml:"thresholds"`
	Items      []CatalogItem `toml:"items"`
}

// Parse decodes rules from TOML.
func Parse(data []byte) (*Rules, error) {
	var f rulesFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := f.Thresholds.Validate(); err != nil {
		return nil, err
	}
	cat := make(Catalog, len(f.Items))
	for _, it := range f.Items {
		if it.ID == "" {
			return nil, fmt.Errorf("catalog item without id")
		}
		if _, dup := cat[it.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog item %q", it.ID)
		}
		if it.MinTier != "" && !it.MinTier.Valid() {
			return nil, fmt.Errorf("item %q: unknown min_tier %q", it.ID, it.MinTier)
		}
		cat[it.ID] = it
	}
	return &Rules{Table: f.Thresholds, Catalog: cat}, nil
}

// Load reads rules from path, or returns the embedded defaults when path
// is empty.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Classify runs Classify with r's catalog and table.
func (r *Rules) Classify(selections map[string]int, custom []CustomItem, current model.Tier) Result {
	return Classify(selections, custom, current, r.Catalog, r.Table)
}
