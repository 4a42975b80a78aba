package api

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog describes every table and view the store provisions.
// It replaces hand-written DDL: dimension, bridge and custom tables are
// generated from it for the configured locales.
type Catalog struct {
	// Version of the catalog format.
	Version string `json:"version" yaml:"version"`
	// Dimensions are entity tables with an id, an href and localized names.
	Dimensions []Dimension `json:"dimensions" yaml:"dimensions"`
	// Bridges are many-to-many tables holding only <dimension>_id columns.
	Bridges []Bridge `json:"bridges" yaml:"bridges"`
	// Tables are free-form fact and bookkeeping tables.
	Tables []Table `json:"tables,omitempty" yaml:"tables,omitempty"`
	// Views are filtered, column-renamed projections of a source table.
	Views []View `json:"views,omitempty" yaml:"views,omitempty"`
}

// Dimension is an entity table. Besides <name>_id, <name>_href and one
// <name>_name_<locale> column per locale it carries Columns.
type Dimension struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []Column `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// Bridge is an association table between dimensions (or views of them).
type Bridge struct {
	Name string `json:"name" yaml:"name"`
	// Refs name the referenced entities; each becomes a <ref>_id column.
	Refs []string `json:"refs" yaml:"refs"`
}

// Table is a custom table.
type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []Column `json:"columns" yaml:"columns"`
	// Persistent tables survive Provision: created if missing, never dropped.
	Persistent bool `json:"persistent,omitempty" yaml:"persistent,omitempty"`
}

// Column is one column definition.
type Column struct {
	Name string `json:"name" yaml:"name"`
	// Type is a portable SQL type: INTEGER, REAL or TEXT.
	Type string `json:"type" yaml:"type"`
	// Localized columns expand to <name>_<locale> for every locale.
	Localized bool `json:"localized,omitempty" yaml:"localized,omitempty"`
}

// View projects Source, renaming the <source>_ column prefix to <name>_.
type View struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source" yaml:"source"`
	// Filter is an optional WHERE clause over the source columns.
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file. An empty path yields the built-in one.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML (or JSON) catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks name uniqueness and that views and bridges point at
// something the catalog defines.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool)
	claim := func(name string) error {
		if name == "" {
			return fmt.Errorf("catalog: empty table name")
		}
		if seen[name] {
			return fmt.Errorf("catalog: %q defined twice", name)
		}
		seen[name] = true
		return nil
	}
	for _, d := range c.Dimensions {
		if err := claim(d.Name); err != nil {
			return err
		}
	}
	for _, t := range c.Tables {
		if err := claim(t.Name); err != nil {
			return err
		}
		if len(t.Columns) == 0 {
			return fmt.Errorf("catalog: table %q has no columns", t.Name)
		}
	}
	for _, v := range c.Views {
		if err := claim(v.Name); err != nil {
			return err
		}
		if c.Dimension(v.Source) == nil {
			return fmt.Errorf("catalog: view %q reads unknown dimension %q", v.Name, v.Source)
		}
	}
	for _, b := range c.Bridges {
		if err := claim(b.Name); err != nil {
			return err
		}
		if len(b.Refs) < 2 {
			return fmt.Errorf("catalog: bridge %q needs at least two refs", b.Name)
		}
		for _, r := range b.Refs {
			if !seen[r] {
				return fmt.Errorf("catalog: bridge %q references unknown %q", b.Name, r)
			}
		}
	}
	return nil
}

// Dimension returns the named dimension or nil.
func (c *Catalog) Dimension(name string) *Dimension {
	for i := range c.Dimensions {
		if c.Dimensions[i].Name == name {
			return &c.Dimensions[i]
		}
	}
	return nil
}

// Bridge returns the named bridge or nil.
func (c *Catalog) Bridge(name string) *Bridge {
	for i := range c.Bridges {
		if c.Bridges[i].Name == name {
			return &c.Bridges[i]
		}
	}
	return nil
}

// Table returns the named custom table or nil.
func (c *Catalog) Table(name string) *Table {
	for i := range c.Tables {
		if c.Tables[i].Name == name {
			return &c.Tables[i]
		}
	}
	return nil
}
