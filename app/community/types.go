package community

import (
	"cmp"
	"encoding/json"
	"strings"
)

// Post is one entry returned by the community API. Only ID and Title are
// required for mapping.
type Post struct {
	ID           flexString `json:"id"`
	Author       Author     `json:"author"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	SafeText     string     `json:"safe_text"`
	Tags         []string   `json:"tags"`
	CreatedAt    string     `json:"created_at"`
	UpdatedAt    string     `json:"updated_at"`
	Upvotes      flexInt    `json:"upvotes"`
	CommentCount flexInt    `json:"comment_count"`
	Status       string     `json:"status"`
}

// Author accepts either a bare string or an object with a name-like field.
type Author struct {
	Name string
}

func (a *Author) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		a.Name = strings.TrimSpace(name)
		return nil
	}

	var obj struct {
		DisplayName string `json:"display_name"`
		Name        string `json:"name"`
		Handle      string `json:"handle"`
		Username    string `json:"username"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	a.Name = strings.TrimSpace(cmp.Or(obj.DisplayName, obj.Name, obj.Handle, obj.Username))
	return nil
}

// flexString accepts JSON strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = flexString(num.String())
	}
	return nil
}

// flexInt ignores values that are not integers.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err == nil {
		*n = flexInt(v)
	}
	return nil
}

type envelope struct {
	Posts []json.RawMessage `json:"posts"`
}
