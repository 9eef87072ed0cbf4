// Package uimap defines the shared vocabulary between the perception
// service and the healing/drift core: a point-in-time description of a
// screen's detected elements, their positions, and directional adjacency.
//
// A UIMap is an immutable snapshot. Element ids are unique within one map
// but carry no identity across maps produced at different times: the
// perception step assigns them in detection order, so "E012" on Monday and
// "E012" on Tuesday are unrelated unless healing says otherwise.
package uimap

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role classifies a detected element. Closed set; anything the perception
// step cannot classify arrives as RoleUnknown.
type Role string

const (
	RoleButton   Role = "button"
	RoleInput    Role = "input"
	RoleLink     Role = "link"
	RoleText     Role = "text"
	RoleIcon     Role = "icon"
	RoleMenu     Role = "menu"
	RoleCheckbox Role = "checkbox"
	RoleRadio    Role = "radio"
	RoleSelect   Role = "select"
	RoleTextarea Role = "textarea"
	RoleImage    Role = "image"
	RoleCard     Role = "card"
	RoleModal    Role = "modal"
	RoleTab      Role = "tab"
	RoleTable    Role = "table"
	RoleUnknown  Role = "unknown"
)

var validRoles = map[Role]bool{
	RoleButton: true, RoleInput: true, RoleLink: true, RoleText: true,
	RoleIcon: true, RoleMenu: true, RoleCheckbox: true, RoleRadio: true,
	RoleSelect: true, RoleTextarea: true, RoleImage: true, RoleCard: true,
	RoleModal: true, RoleTab: true, RoleTable: true, RoleUnknown: true,
}

// Valid reports whether r is in the closed role set.
func (r Role) Valid() bool { return validRoles[r] }

// BoundingBox is an axis-aligned rectangle in screen pixels, origin
// top-left. A zero-area box is legal (degenerate detection) but scores
// poorly against anything.
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Center returns the box center in pixel coordinates.
func (b BoundingBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.Width)/2, float64(b.Y) + float64(b.Height)/2
}

// MarshalJSON encodes the box as the wire tuple [x, y, width, height] used
// by the perception service.
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X, b.Y, b.Width, b.Height})
}

// UnmarshalJSON accepts the wire tuple [x, y, width, height].
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var tuple [4]int
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("uimap: bbox: %w", err)
	}
	b.X, b.Y, b.Width, b.Height = tuple[0], tuple[1], tuple[2], tuple[3]
	return nil
}

// Neighbors holds directional adjacency as judged by the perception step.
// Ids may reference elements not present in the same UIMap (the map may
// have been filtered after neighbor computation); lookups on dangling ids
// simply yield no element.
type Neighbors struct {
	Left  []string `json:"left,omitempty"`
	Right []string `json:"right,omitempty"`
	Above []string `json:"above,omitempty"`
	Below []string `json:"below,omitempty"`
}

// Pooled returns all neighbor ids in left, right, above, below order,
// without deduplication. The order matters downstream: signature building
// truncates this list, deliberately favouring horizontal anchors.
func (n Neighbors) Pooled() []string {
	out := make([]string, 0, len(n.Left)+len(n.Right)+len(n.Above)+len(n.Below))
	out = append(out, n.Left...)
	out = append(out, n.Right...)
	out = append(out, n.Above...)
	out = append(out, n.Below...)
	return out
}

// Element is one detected UI component.
type Element struct {
	ID           string      `json:"id"`
	BBox         BoundingBox `json:"bbox"`
	Role         Role        `json:"role"`
	Text         string      `json:"text"`
	Caption      string      `json:"caption"`
	Confidence   float64     `json:"confidence"`
	Interactable bool        `json:"interactable"`
	Neighbors    Neighbors   `json:"neighbors"`
}

// Screen is the metadata of one captured frame. Hash is an opaque content
// fingerprint computed by the capture side; it is never recomputed here.
type Screen struct {
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
}

// UIMap is a complete parsed screenshot. Element order carries no meaning.
type UIMap struct {
	Screen        Screen    `json:"screen"`
	Elements      []Element `json:"elements"`
	ParserVersion string    `json:"parserVersion"`
}

// Index builds an id→element lookup local to this map. Neighbor references
// that point outside the map resolve to ok=false rather than a nil deref.
func (m *UIMap) Index() map[string]Element {
	idx := make(map[string]Element, len(m.Elements))
	for _, el := range m.Elements {
		idx[el.ID] = el
	}
	return idx
}

// Lookup returns the element with the given id, if present.
func (m *UIMap) Lookup(id string) (Element, bool) {
	for _, el := range m.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return Element{}, false
}

// Validate checks the structural invariants of the map. Perception output
// that fails validation is still usable by the core (malformed elements
// just score zero), so callers typically log and continue.
func (m *UIMap) Validate() error {
	if m.Screen.Width <= 0 || m.Screen.Height <= 0 {
		return fmt.Errorf("uimap: screen dimensions %dx%d, want positive", m.Screen.Width, m.Screen.Height)
	}
	seen := make(map[string]bool, len(m.Elements))
	for i, el := range m.Elements {
		if el.ID == "" {
			return fmt.Errorf("uimap: element %d has empty id", i)
		}
		if seen[el.ID] {
			return fmt.Errorf("uimap: duplicate element id %q", el.ID)
		}
		seen[el.ID] = true
		if el.BBox.Width < 0 || el.BBox.Height < 0 {
			return fmt.Errorf("uimap: element %q has negative bbox %dx%d", el.ID, el.BBox.Width, el.BBox.Height)
		}
		if el.Confidence < 0 || el.Confidence > 1 {
			return fmt.Errorf("uimap: element %q confidence %v outside [0,1]", el.ID, el.Confidence)
		}
		if !el.Role.Valid() {
			return fmt.Errorf("uimap: element %q has unknown role %q", el.ID, el.Role)
		}
	}
	return nil
}
