// Package fixtures loads warehouses, products, stock and clients from YAML so
// local and demo environments start from a known state.
package fixtures

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/angelmondragon/warehouse-allocator/pkg/security"
)

type File struct {
	Clients    []Client    `yaml:"clients"`
	Warehouses []Warehouse `yaml:"warehouses"`
	Products   []Product   `yaml:"products"`
	Stock      []Stock     `yaml:"stock"`
}

// Client may pin an API key for development. Without one a key is generated
// at load time.
type Client struct {
	Name   string `yaml:"name"`
	Admin  bool   `yaml:"admin"`
	APIKey string `yaml:"apiKey"`
}

// Warehouse ids are fixed so allocation tie-breaks are predictable.
type Warehouse struct {
	ID       uuid.UUID `yaml:"id"`
	Code     string    `yaml:"code"`
	Name     string    `yaml:"name"`
	Location string    `yaml:"location"`
}

type Product struct {
	SKU  string `yaml:"sku"`
	Name string `yaml:"name"`
}

type Stock struct {
	Warehouse string `yaml:"warehouse"`
	SKU       string `yaml:"sku"`
	Quantity  int    `yaml:"quantity"`
}

// ReadFile parses and validates the fixture file at path.
func ReadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return Parse(bytes.NewReader(raw))
}

// Parse decodes strictly: unknown keys are errors.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks references and uniqueness without touching the database.
func (f *File) Validate() error {
	var problems []string

	clients := map[string]struct{}{}
	for i, c := range f.Clients {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			problems = append(problems, fmt.Sprintf("clients[%d]: name required", i))
			continue
		}
		if _, dup := clients[name]; dup {
			problems = append(problems, fmt.Sprintf("clients[%d]: duplicate name %q", i, name))
		}
		clients[name] = struct{}{}
		if c.APIKey != "" {
			if _, _, err := security.SplitAPIKey(c.APIKey); err != nil {
				problems = append(problems, fmt.Sprintf("clients[%d]: apiKey must be <prefix>.<secret>", i))
			}
		}
	}

	warehouses := map[string]struct{}{}
	ids := map[uuid.UUID]struct{}{}
	for i, w := range f.Warehouses {
		if w.Code == "" {
			problems = append(problems, fmt.Sprintf("warehouses[%d]: code required", i))
			continue
		}
		if _, dup := warehouses[w.Code]; dup {
			problems = append(problems, fmt.Sprintf("warehouses[%d]: duplicate code %q", i, w.Code))
		}
		warehouses[w.Code] = struct{}{}
		if w.ID != uuid.Nil {
			if _, dup := ids[w.ID]; dup {
				problems = append(problems, fmt.Sprintf("warehouses[%d]: duplicate id %s", i, w.ID))
			}
			ids[w.ID] = struct{}{}
		}
	}

	products := map[string]struct{}{}
	for i, p := range f.Products {
		if p.SKU == "" {
			problems = append(problems, fmt.Sprintf("products[%d]: sku required", i))
			continue
		}
		if _, dup := products[p.SKU]; dup {
			problems = append(problems, fmt.Sprintf("products[%d]: duplicate sku %q", i, p.SKU))
		}
		products[p.SKU] = struct{}{}
	}

	type pair struct{ warehouse, sku string }
	seen := map[pair]struct{}{}
	for i, s := range f.Stock {
		if _, ok := warehouses[s.Warehouse]; !ok {
			problems = append(problems, fmt.Sprintf("stock[%d]: unknown warehouse %q", i, s.Warehouse))
		}
		if _, ok := products[s.SKU]; !ok {
			problems = append(problems, fmt.Sprintf("stock[%d]: unknown sku %q", i, s.SKU))
		}
		if s.Quantity < 0 {
			problems = append(problems, fmt.Sprintf("stock[%d]: quantity must not be negative", i))
		}
		key := pair{s.Warehouse, s.SKU}
		if _, dup := seen[key]; dup {
			problems = append(problems, fmt.Sprintf("stock[%d]: duplicate %s/%s", i, s.Warehouse, s.SKU))
		}
		seen[key] = struct{}{}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid fixtures: %s", strings.Join(problems, "; "))
	}
	return nil
}
