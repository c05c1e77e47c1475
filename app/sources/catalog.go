// Package sources loads the bundled source catalog and derives the feed
// host allow-list from it.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/trustfetch/app/safety"
)

// Catalog is immutable after Load.
type Catalog struct {
	descriptors  []Descriptor
	community    Community
	allowedHosts []string
}

// Load reads and validates the catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	catalog, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid sources file %s: %w", path, err)
	}

	return catalog, nil
}

// Parse builds a Catalog from YAML bytes.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validate(&f); err != nil {
		return nil, err
	}

	return New(f.Sources, f.Community), nil
}

// New builds a Catalog from already validated values.
func New(descriptors []Descriptor, community Community) *Catalog {
	c := &Catalog{
		descriptors: slices.Clone(descriptors),
		community:   community,
	}
	c.allowedHosts = deriveAllowedHosts(c.descriptors)
	return c
}

// All returns every descriptor in declaration order.
func (c *Catalog) All() []Descriptor {
	return slices.Clone(c.descriptors)
}

// Eligible returns the verified descriptors that carry a feed URL, in
// declaration order.
func (c *Catalog) Eligible() []Descriptor {
	var eligible []Descriptor
	for _, d := range c.descriptors {
		if d.Eligible() {
			eligible = append(eligible, d)
		}
	}
	return eligible
}

// AllowedHosts is the lowercased set of hosts appearing in any feed URL.
func (c *Catalog) AllowedHosts() []string {
	return slices.Clone(c.allowedHosts)
}

func (c *Catalog) Community() Community {
	return c.community
}

func (c *Catalog) Len() int {
	return len(c.descriptors)
}

func (d Descriptor) Eligible() bool {
	return d.Verified && strings.TrimSpace(d.FeedURL) != ""
}

func deriveAllowedHosts(descriptors []Descriptor) []string {
	var hosts []string
	for _, d := range descriptors {
		if d.FeedURL == "" {
			continue
		}
		u, err := url.Parse(d.FeedURL)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := safety.AllowListHost(u.Hostname())
		if host != "" && !slices.Contains(hosts, host) {
			hosts = append(hosts, host)
		}
	}
	slices.Sort(hosts)
	return hosts
}

var validate = newValidator()

func newValidator() func(*file) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return func(f *file) error {
		if err := v.Struct(f); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				return validationError(verrs)
			}
			return err
		}
		return checkRules(f)
	}
}

func validationError(verrs validator.ValidationErrors) error {
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fe.Namespace()))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be an absolute URL", fe.Namespace()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s]", fe.Namespace(), fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, ", "))
}

func checkRules(f *file) error {
	seen := make(map[string]bool, len(f.Sources))
	for i, d := range f.Sources {
		key := strings.ToLower(d.Name)
		if seen[key] {
			return fmt.Errorf("duplicate source name %q at index %d", d.Name, i)
		}
		seen[key] = true

		for j, filter := range d.Filters {
			if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
				return fmt.Errorf("source %q: filter at index %d must have at least one include or exclude rule", d.Name, j)
			}
		}
	}

	if c := f.Community; c.Enabled {
		required := map[string]string{
			"community name":     c.Name,
			"community url":      c.URL,
			"community post_url": c.PostURL,
		}
		for fieldName, fieldValue := range required {
			if fieldValue == "" {
				return fmt.Errorf("%s is required when community is enabled", fieldName)
			}
		}
	}

	return nil
}
