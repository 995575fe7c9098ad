// Package catalog holds the static reference content of the app: regions and
// their languages, FAQ prompts, myths, localized notices and the free product
// location directory. The content is embedded as TOML and read-only.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var embedded []byte

// Notices are the fixed user-facing strings the chat flow falls back to.
type Notices struct {
	OfflineTitle   string `toml:"offline_title" json:"offlineTitle"`
	OfflineMessage string `toml:"offline_message" json:"offlineMessage"`
	NotUnderstood  string `toml:"not_understood" json:"notUnderstood"`
	Apology        string `toml:"apology" json:"apology"`
	Superseded     string `toml:"superseded" json:"superseded"`
}

type Myth struct {
	Myth    string `toml:"myth" json:"myth"`
	Reality string `toml:"reality" json:"reality"`
}

type Region struct {
	Key       string            `toml:"-" json:"key"`
	Name      string            `toml:"name" json:"name"`
	Languages []string          `toml:"languages" json:"languages"`
	FAQs      []string          `toml:"faqs" json:"faqs"`
	Myths     []Myth            `toml:"myths" json:"myths"`
	UI        map[string]string `toml:"ui" json:"ui"`
}

type Location struct {
	ID                   int      `toml:"id" json:"id"`
	Name                 string   `toml:"name" json:"name"`
	Address              string   `toml:"address" json:"address"`
	AvailableProducts    []string `toml:"available_products" json:"availableProducts"`
	OpenHours            string   `toml:"open_hours" json:"openHours"`
	Contact              string   `toml:"contact" json:"contact,omitempty"`
	WheelchairAccessible bool     `toml:"wheelchair_accessible" json:"wheelchairAccessible"`
	VerifiedBy           string   `toml:"verified_by" json:"verifiedBy"`
}

// LocationFilter narrows the location directory. Products must all be
// available at a location for it to match.
type LocationFilter struct {
	Search         string
	Products       []string
	AccessibleOnly bool
}

type Catalog struct {
	WorkingLanguage string             `toml:"working_language"`
	DefaultRegion   string             `toml:"default_region"`
	Languages       map[string]string  `toml:"languages"`
	Notices         map[string]Notices `toml:"notices"`
	Regions         map[string]Region  `toml:"regions"`
	Locations       []Location         `toml:"locations"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(embedded)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	for key, r := range c.Regions {
		r.Key = key
		c.Regions[key] = r
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if strings.TrimSpace(c.WorkingLanguage) == "" {
		return errors.New("catalog: working_language must not be empty")
	}
	if _, ok := c.Notices[c.WorkingLanguage]; !ok {
		return fmt.Errorf("catalog: notices missing for working language %q", c.WorkingLanguage)
	}
	if _, ok := c.Regions[c.DefaultRegion]; !ok {
		return fmt.Errorf("catalog: default region %q is not defined", c.DefaultRegion)
	}
	for key, r := range c.Regions {
		if len(r.Languages) == 0 {
			return fmt.Errorf("catalog: region %q has no languages", key)
		}
		for _, lang := range r.Languages {
			if _, ok := c.Languages[lang]; !ok {
				return fmt.Errorf("catalog: region %q uses unknown language %q", key, lang)
			}
		}
	}
	return nil
}

func (c *Catalog) Region(key string) (Region, bool) {
	r, ok := c.Regions[key]
	return r, ok
}

// RegionKeys returns the defined region keys in stable order.
func (c *Catalog) RegionKeys() []string {
	keys := make([]string, 0, len(c.Regions))
	for k := range c.Regions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultLanguage returns the first language listed for the region, or the
// working language for an unknown region.
func (c *Catalog) DefaultLanguage(region string) string {
	r, ok := c.Regions[region]
	if !ok {
		return c.WorkingLanguage
	}
	return r.Languages[0]
}

func (c *Catalog) SupportsLanguage(region, language string) bool {
	r, ok := c.Regions[region]
	if !ok {
		return false
	}
	for _, l := range r.Languages {
		if l == language {
			return true
		}
	}
	return false
}

// KnownLanguage reports whether any region offers the language.
func (c *Catalog) KnownLanguage(language string) bool {
	_, ok := c.Languages[language]
	return ok
}

// Notice returns the notices for a language. ok is false when the catalog has
// no localized copy, in which case the working-language notices are returned.
func (c *Catalog) Notice(language string) (Notices, bool) {
	if n, ok := c.Notices[language]; ok {
		return n, true
	}
	return c.Notices[c.WorkingLanguage], false
}

// FilterLocations returns the locations matching every criterion of f, in
// catalog order.
func (c *Catalog) FilterLocations(f LocationFilter) []Location {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]Location, 0, len(c.Locations))
	for _, loc := range c.Locations {
		if search != "" &&
			!strings.Contains(strings.ToLower(loc.Name), search) &&
			!strings.Contains(strings.ToLower(loc.Address), search) {
			continue
		}
		if f.AccessibleOnly && !loc.WheelchairAccessible {
			continue
		}
		if !hasAll(loc.AvailableProducts, f.Products) {
			continue
		}
		out = append(out, loc)
	}
	return out
}

func hasAll(available, wanted []string) bool {
	for _, w := range wanted {
		found := false
		for _, a := range available {
			if a == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
