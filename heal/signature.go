package heal

import "github.com/okralabs/uiheal/uimap"

// maxNeighborTexts bounds the anchor list captured in a signature.
const maxNeighborTexts = 4

// Signature is a portable, UIMap-independent description of one element at
// the time it was last known good. All fields are optional: a nil field is
// excluded from scoring entirely, which is not the same as an empty string
// or zero box.
type Signature struct {
	Text          *string            `json:"text,omitempty"`
	Caption       *string            `json:"caption,omitempty"`
	Role          *uimap.Role        `json:"role,omitempty"`
	BBox          *uimap.BoundingBox `json:"bbox,omitempty"`
	NeighborTexts []string           `json:"neighborTexts,omitempty"`
}

// BuildSignature captures a signature of el as observed in m. Text,
// caption, role, and bbox are copied verbatim. Neighbor texts pool the four
// directional id lists in left, right, above, below order (no
// deduplication), resolve each id against m, discard unresolved ids and
// elements without text, and keep the first four texts remaining. The
// order-dependent truncation is intentional: when more than four anchors
// exist, horizontal neighbors win over vertical ones.
func BuildSignature(el uimap.Element, m *uimap.UIMap) Signature {
	text := el.Text
	caption := el.Caption
	role := el.Role
	bbox := el.BBox

	sig := Signature{
		Text:    &text,
		Caption: &caption,
		Role:    &role,
		BBox:    &bbox,
	}

	idx := m.Index()
	for _, id := range el.Neighbors.Pooled() {
		neighbor, ok := idx[id]
		if !ok || neighbor.Text == "" {
			continue
		}
		sig.NeighborTexts = append(sig.NeighborTexts, neighbor.Text)
		if len(sig.NeighborTexts) == maxNeighborTexts {
			break
		}
	}

	return sig
}
