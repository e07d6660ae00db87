package license

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"
)

// TierDef describes one entitlement level: display name, activation
// capacity, and the feature set it unlocks.
type TierDef struct {
	Name           string   `yaml:"name"`
	DisplayName    string   `yaml:"display_name"`
	MaxActivations int      `yaml:"max_activations"`
	Features       []string `yaml:"features"`
}

// Catalog is the immutable tier table, loaded once at process start and
// passed by injection. It is never mutated at runtime, so no lock is
// needed around it.
type Catalog struct {
	tiers map[string]TierDef
	// overrides maps product ID -> tier name -> override definition.
	overrides map[string]map[string]TierDef
}

// DefaultTiers returns the built-in tier table.
func DefaultTiers() map[string]TierDef {
	return map[string]TierDef{
		"free": {
			Name:           "free",
			DisplayName:    "Free",
			MaxActivations: 1,
			Features:       []string{"core"},
		},
		"pro": {
			Name:           "pro",
			DisplayName:    "Professional",
			MaxActivations: 3,
			Features:       []string{"core", "priority-support", "advanced-widgets"},
		},
		"agency": {
			Name:           "agency",
			DisplayName:    "Agency",
			MaxActivations: 25,
			Features:       []string{"core", "priority-support", "advanced-widgets", "white-label", "multisite"},
		},
	}
}

// NewCatalog builds a catalog from a tier table and optional per-product
// overrides. Capacities must be strictly increasing across the default
// free/pro/agency ordering.
func NewCatalog(tiers map[string]TierDef, overrides map[string]map[string]TierDef) (*Catalog, error) {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	if err := validateCapacities(tiers); err != nil {
		return nil, err
	}
	if overrides == nil {
		overrides = make(map[string]map[string]TierDef)
	}
	return &Catalog{tiers: tiers, overrides: overrides}, nil
}

// NewDefaultCatalog builds a catalog with the built-in tiers and no
// overrides. Panics are confined to programmer error in the defaults.
func NewDefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultTiers(), nil)
	if err != nil {
		panic(fmt.Sprintf("default tier table invalid: %v", err))
	}
	return c
}

// LoadOverrides reads a per-product override table from a YAML file.
func LoadOverrides(path string) (map[string]map[string]TierDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier overrides: %w", err)
	}
	var overrides map[string]map[string]TierDef
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse tier overrides: %w", err)
	}
	return overrides, nil
}

func validateCapacities(tiers map[string]TierDef) error {
	ordered := []string{"free", "pro", "agency"}
	caps := make([]int, 0, len(ordered))
	for _, name := range ordered {
		if def, ok := tiers[name]; ok {
			if def.MaxActivations < 1 {
				return fmt.Errorf("tier %q must allow at least one activation", name)
			}
			caps = append(caps, def.MaxActivations)
		}
	}
	if !sort.IntsAreSorted(caps) {
		return fmt.Errorf("tier capacities must be strictly increasing")
	}
	for i := 1; i < len(caps); i++ {
		if caps[i] == caps[i-1] {
			return fmt.Errorf("tier capacities must be strictly increasing")
		}
	}
	return nil
}

// Resolve returns the effective tier definition for (tier, product).
// Product overrides win; unknown products or tiers fall back to the
// default table. Unknown tiers everywhere resolve to free.
func (c *Catalog) Resolve(tier, productID string) TierDef {
	if productID != "" {
		if byTier, ok := c.overrides[productID]; ok {
			if def, ok := byTier[tier]; ok {
				return def
			}
		}
	}
	if def, ok := c.tiers[tier]; ok {
		return def
	}
	return c.tiers["free"]
}

// MaxActivations returns the activation capacity for a license,
// honoring a per-license override when set.
func (c *Catalog) MaxActivations(lic *License) int {
	if lic.MaxActivations > 0 {
		return lic.MaxActivations
	}
	return c.Resolve(lic.Tier, lic.ProductID).MaxActivations
}

// HasFeature is a membership test against the resolved feature set.
func (c *Catalog) HasFeature(feature, tier, productID string) bool {
	for _, f := range c.Resolve(tier, productID).Features {
		if f == feature {
			return true
		}
	}
	return false
}
