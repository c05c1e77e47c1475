package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Manifest is the identity document served at /.well-known/agent.json.
type Manifest struct {
	Name         string   `json:"name"`
	Handle       string   `json:"handle,omitempty"`
	Description  string   `json:"description,omitempty"`
	Avatar       string   `json:"avatar,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Contact      *Contact `json:"contact,omitempty"`
	Version      string   `json:"version,omitempty"`
}

type Contact struct {
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// ParseManifest requires a JSON object with a string name. Optional fields
// that fail to decode are dropped.
func ParseManifest(data []byte) (*Manifest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, errors.New("manifest is not a JSON object")
	}

	name, ok := optional[string](fields, "name")
	if !ok || bytes.Equal(bytes.TrimSpace(fields["name"]), []byte("null")) {
		return nil, errors.New("manifest is missing a string name")
	}

	m := &Manifest{Name: name}
	m.Handle, _ = optional[string](fields, "handle")
	m.Description, _ = optional[string](fields, "description")
	m.Avatar, _ = optional[string](fields, "avatar")
	m.Capabilities, _ = optional[[]string](fields, "capabilities")

	if contact, ok := optional[Contact](fields, "contact"); ok && contact != (Contact{}) {
		m.Contact = &contact
	}

	if version, ok := optional[string](fields, "version"); ok {
		m.Version = version
	} else if num, ok := optional[json.Number](fields, "version"); ok {
		m.Version = num.String()
	}

	m.Handle = strings.TrimSpace(m.Handle)
	return m, nil
}

func optional[T any](fields map[string]json.RawMessage, key string) (T, bool) {
	var v T
	raw, ok := fields[key]
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}
