package entitlement

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultWarningThreshold is the share of the limit at which clients start
// showing the near-limit warning.
const DefaultWarningThreshold = 0.9

// FeatureDefinition is the static configuration of a metered feature.
// A zero limit disables the feature for that tier.
type FeatureDefinition struct {
	ID               FeatureID `yaml:"id" json:"id"`
	Name             string    `yaml:"name" json:"name"`
	FreeLimit        int64     `yaml:"free_limit" json:"freeLimit"`
	ProLimit         int64     `yaml:"pro_limit" json:"proLimit"`
	WarningThreshold float64   `yaml:"warning_threshold" json:"warningThreshold"`
}

// LimitFor returns the daily limit for the given effective tier.
func (d FeatureDefinition) LimitFor(t Tier) int64 {
	if t == TierPro {
		return d.ProLimit
	}
	return d.FreeLimit
}

// Catalog is an immutable set of feature definitions.
type Catalog struct {
	features map[FeatureID]FeatureDefinition
}

// NewCatalog validates defs and builds a catalog.
// Missing warning thresholds default to DefaultWarningThreshold.
func NewCatalog(defs ...FeatureDefinition) (*Catalog, error) {
	features := make(map[FeatureID]FeatureDefinition, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return nil, errors.Join(ErrInvalidCatalog, errors.New("feature id is empty"))
		}
		if _, dup := features[d.ID]; dup {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duplicate feature %q", d.ID))
		}
		if d.FreeLimit < 0 || d.ProLimit < 0 {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("feature %q: limits must not be negative", d.ID))
		}
		if d.WarningThreshold == 0 {
			d.WarningThreshold = DefaultWarningThreshold
		}
		if d.WarningThreshold < 0 || d.WarningThreshold > 1 {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("feature %q: warning threshold must be within (0, 1]", d.ID))
		}
		if d.Name == "" {
			d.Name = string(d.ID)
		}
		features[d.ID] = d
	}
	if len(features) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("no features defined"))
	}
	return &Catalog{features: features}, nil
}

// DefaultCatalog returns the built-in feature table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		FeatureDefinition{ID: FeatureSearch, Name: "Search", FreeLimit: 20, ProLimit: 100},
		FeatureDefinition{ID: FeatureAnalysis, Name: "Analysis", FreeLimit: 5, ProLimit: 50},
	)
	if err != nil {
		panic(err)
	}
	return c
}

type catalogFile struct {
	Features []FeatureDefinition `yaml:"features"`
}

// LoadCatalog decodes a YAML feature table:
//
//	features:
//	  - id: search
//	    free_limit: 20
//	    pro_limit: 100
//	    warning_threshold: 0.9
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	return NewCatalog(file.Features...)
}

// LoadCatalogFile reads the feature table from path.
// An empty path yields DefaultCatalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// Get returns the definition of id.
func (c *Catalog) Get(id FeatureID) (FeatureDefinition, bool) {
	d, ok := c.features[id]
	return d, ok
}

// IDs returns all feature ids in lexical order.
func (c *Catalog) IDs() []FeatureID {
	return slices.Sorted(maps.Keys(c.features))
}

// Definitions returns all definitions ordered by id.
func (c *Catalog) Definitions() []FeatureDefinition {
	ids := c.IDs()
	out := make([]FeatureDefinition, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.features[id])
	}
	return out
}
