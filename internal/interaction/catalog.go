package interaction

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type HCPProfile struct {
	Specialty   string `yaml:"specialty"`
	Preferences string `yaml:"preferences"`
}

// SpecialtyRule adds Action when the HCP has Specialty and the lowercased
// topics contain Keyword.
type SpecialtyRule struct {
	Specialty string `yaml:"specialty"`
	Keyword   string `yaml:"keyword"`
	Action    string `yaml:"action"`
}

// TopicRule maps a topic keyword to a product whose materials are suggested
// when no discussed product is known.
type TopicRule struct {
	Keyword string `yaml:"keyword"`
	Product string `yaml:"product"`
}

// Catalog holds the static lookup tables. It is read-only after load.
type Catalog struct {
	HCPs             map[string]HCPProfile `yaml:"hcps"`
	Materials        map[string][]string   `yaml:"materials"`
	SpecialtyRules   []SpecialtyRule       `yaml:"specialty_rules"`
	TopicRules       []TopicRule           `yaml:"topic_rules"`
	DefaultResources []string              `yaml:"default_resources"`
}

func DefaultCatalog() *Catalog {
	return &Catalog{
		HCPs: map[string]HCPProfile{
			"Dr. Patel":   {Specialty: "Oncology", Preferences: "Prefers morning meetings"},
			"Dr. Smith":   {Specialty: "Cardiology", Preferences: "Likes clinical data"},
			"Dr. Johnson": {Specialty: "Neurology", Preferences: "Interested in new trials"},
		},
		Materials: map[string][]string{
			"OncoBoost":  {"Phase III trial results", "Patient selection guide", "Dosing information"},
			"CardioPlus": {"Efficacy data", "Comparison chart", "Safety profile"},
			"NeuroCalm":  {"Clinical outcomes", "Patient case studies", "Administration guide"},
		},
		SpecialtyRules: []SpecialtyRule{
			{Specialty: "Oncology", Keyword: "oncoboost", Action: "Share the latest patient outcomes data for OncoBoost in similar cancer types"},
			{Specialty: "Cardiology", Keyword: "cardio", Action: "Provide comparative efficacy data for CardioPlus vs. standard of care"},
			{Specialty: "Neurology", Keyword: "neuro", Action: "Follow up with new clinical trial enrollment information"},
		},
		TopicRules: []TopicRule{
			{Keyword: "oncoboost", Product: "OncoBoost"},
			{Keyword: "cardio", Product: "CardioPlus"},
			{Keyword: "neuro", Product: "NeuroCalm"},
		},
		DefaultResources: []string{
			"Company overview brochure",
			"Product catalog",
			"Recent publications list",
		},
	}
}

// LoadCatalog reads a YAML catalog. Sections missing from the file keep the
// built-in values.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file Catalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c := DefaultCatalog()
	if file.HCPs != nil {
		c.HCPs = file.HCPs
	}
	if file.Materials != nil {
		c.Materials = file.Materials
	}
	if file.SpecialtyRules != nil {
		c.SpecialtyRules = file.SpecialtyRules
	}
	if file.TopicRules != nil {
		c.TopicRules = file.TopicRules
	}
	if file.DefaultResources != nil {
		c.DefaultResources = file.DefaultResources
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Validate() error {
	for i, r := range c.SpecialtyRules {
		if strings.TrimSpace(r.Keyword) == "" || strings.TrimSpace(r.Action) == "" {
			return fmt.Errorf("specialty_rules[%d]: keyword and action are required", i)
		}
	}
	for i, r := range c.TopicRules {
		if strings.TrimSpace(r.Keyword) == "" {
			return fmt.Errorf("topic_rules[%d]: keyword is required", i)
		}
		if _, ok := c.Materials[r.Product]; !ok {
			return fmt.Errorf("topic_rules[%d]: unknown product %q", i, r.Product)
		}
	}
	return nil
}

func (c *Catalog) HCP(name string) (HCPProfile, bool) {
	p, ok := c.HCPs[name]
	return p, ok
}

func (c *Catalog) MaterialsFor(product string) ([]string, bool) {
	m, ok := c.Materials[product]
	return m, ok
}
