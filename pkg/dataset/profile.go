// Package dataset loads the tabular data that both backends answer from.
package dataset

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes one dataset: where it lives and how its columns are used.
type Profile struct {
	ID               string   `yaml:"id" json:"id"`
	Description      string   `yaml:"description,omitempty" json:"description,omitempty"`
	DataFile         string   `yaml:"data_file" json:"data_file"`
	Language         string   `yaml:"language,omitempty" json:"language,omitempty"`
	RequiredColumns  []string `yaml:"required_columns" json:"required_columns"`
	TextColumns      []string `yaml:"text_columns,omitempty" json:"text_columns,omitempty"`
	DateColumns      []string `yaml:"date_columns,omitempty" json:"date_columns,omitempty"`
	NumericColumns   []string `yaml:"numeric_columns,omitempty" json:"numeric_columns,omitempty"`
	SensitiveColumns []string `yaml:"sensitive_columns,omitempty" json:"sensitive_columns,omitempty"`
	MetadataColumns  []string `yaml:"metadata_columns,omitempty" json:"metadata_columns,omitempty"`
	IDColumn         string   `yaml:"id_column,omitempty" json:"id_column,omitempty"`
	SampleSize       int      `yaml:"sample_size,omitempty" json:"sample_size,omitempty"`
}

// Collection names the vector collection built from this profile.
func (p Profile) Collection() string {
	return p.ID + "_data"
}

// IsDate reports whether col is declared as a date column.
func (p Profile) IsDate(col string) bool {
	return containsFold(p.DateColumns, col)
}

// IsNumeric reports whether col is declared as a numeric column.
func (p Profile) IsNumeric(col string) bool {
	return containsFold(p.NumericColumns, col)
}

// IsSensitive reports whether col must be masked.
func (p Profile) IsSensitive(col string) bool {
	return containsFold(p.SensitiveColumns, col)
}

// Validate checks the profile is usable.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	if strings.ContainsAny(p.ID, "/\\ ") {
		return fmt.Errorf("profile id %q must not contain spaces or path separators", p.ID)
	}
	if p.SampleSize < 0 {
		return fmt.Errorf("profile %s: sample_size must not be negative", p.ID)
	}
	return nil
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DefaultProfile describes the bundled fridge sales dataset.
func DefaultProfile() Profile {
	return Profile{
		ID:          "default",
		Description: "Fridge sales with customer feedback",
		DataFile:    "data/fridge_sales.csv",
		Language:    "English",
		RequiredColumns: []string{
			"ID", "CUSTOMER_ID", "FRIDGE_MODEL", "BRAND", "CAPACITY_LITERS",
			"PRICE", "SALES_DATE", "STORE_NAME", "STORE_ADDRESS", "CUSTOMER_FEEDBACK",
		},
		TextColumns:      []string{"CUSTOMER_FEEDBACK"},
		DateColumns:      []string{"SALES_DATE"},
		NumericColumns:   []string{"CAPACITY_LITERS", "PRICE"},
		SensitiveColumns: []string{"CUSTOMER_ID"},
		MetadataColumns:  []string{"ID", "FRIDGE_MODEL", "BRAND", "CAPACITY_LITERS", "PRICE", "STORE_NAME", "STORE_ADDRESS"},
		IDColumn:         "ID",
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
