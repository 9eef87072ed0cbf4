package uimap

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// ParserVersion identifies the detection pipeline that produced a map.
const ParserVersion = "omniparser-v1"

// NeighborThreshold is the maximum center distance, in pixels, for two
// elements to be considered adjacent.
const NeighborThreshold = 100

// Detection is one raw detector output before it becomes an Element.
// BBox uses detector convention (x1, y1, x2, y2), not width/height.
type Detection struct {
	BBox       [4]int  `json:"bbox"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text,omitempty"`
	Caption    string  `json:"caption,omitempty"`
}

// ScreenHash fingerprints a raw screenshot. SHA-256 hex, matching the
// perception service so cache keys agree across the process boundary.
func ScreenHash(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// RoleFromLabel maps a free-form detector label to a Role and whether the
// element is interactable. Keyword matching is ordered: the first matching
// family wins.
func RoleFromLabel(label string) (Role, bool) {
	l := strings.ToLower(label)

	contains := func(kws ...string) bool {
		for _, kw := range kws {
			if strings.Contains(l, kw) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("button", "btn", "submit", "cancel", "ok", "close"):
		return RoleButton, true
	case contains("input", "textbox", "text field", "search", "password"):
		return RoleInput, true
	case contains("link", "href", "anchor"):
		return RoleLink, true
	case contains("checkbox"):
		return RoleCheckbox, true
	case contains("radio"):
		return RoleRadio, true
	case contains("select", "dropdown", "combo"):
		return RoleSelect, true
	case contains("menu", "nav"):
		return RoleMenu, true
	case contains("icon"):
		return RoleIcon, true
	case contains("tab"):
		return RoleTab, true
	case contains("modal", "dialog", "popup"):
		return RoleModal, false
	case contains("table"):
		return RoleTable, false
	case contains("card"):
		return RoleCard, false
	case contains("image", "img", "picture", "photo"):
		return RoleImage, false
	case contains("text", "label", "heading", "title", "paragraph"):
		return RoleText, false
	}
	return RoleUnknown, false
}

// ComputeNeighbors fills in directional adjacency for all elements. Two
// elements are neighbors when their center distance on the dominant axis is
// within threshold; the dominant axis (larger absolute delta) decides the
// direction. Lists keep element order, matching the perception service.
func ComputeNeighbors(elements []Element, threshold int) {
	th := float64(threshold)
	for i := range elements {
		cx, cy := elements[i].BBox.Center()
		for j := range elements {
			if i == j {
				continue
			}
			ox, oy := elements[j].BBox.Center()
			dx, dy := ox-cx, oy-cy
			if math.Abs(dx) > th && math.Abs(dy) > th {
				continue
			}
			if math.Abs(dx) > math.Abs(dy) {
				switch {
				case dx < 0 && math.Abs(dx) <= th:
					elements[i].Neighbors.Left = append(elements[i].Neighbors.Left, elements[j].ID)
				case dx > 0 && math.Abs(dx) <= th:
					elements[i].Neighbors.Right = append(elements[i].Neighbors.Right, elements[j].ID)
				}
			} else {
				switch {
				case dy < 0 && math.Abs(dy) <= th:
					elements[i].Neighbors.Above = append(elements[i].Neighbors.Above, elements[j].ID)
				case dy > 0 && math.Abs(dy) <= th:
					elements[i].Neighbors.Below = append(elements[i].Neighbors.Below, elements[j].ID)
				}
			}
		}
	}
}

// FromDetections assembles a UIMap from raw detector output. Ids are
// assigned in detection order ("E000", "E001", ...) and adjacency is
// computed with the default threshold.
func FromDetections(dets []Detection, width, height int, image []byte, pageURL, title string) *UIMap {
	elements := make([]Element, 0, len(dets))
	for i, d := range dets {
		x1, y1, x2, y2 := d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]
		role, interactable := RoleFromLabel(d.Label)
		caption := d.Caption
		if caption == "" {
			caption = d.Label
		}
		elements = append(elements, Element{
			ID:           fmt.Sprintf("E%03d", i),
			BBox:         BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1},
			Role:         role,
			Text:         d.Text,
			Caption:      caption,
			Confidence:   d.Confidence,
			Interactable: interactable,
		})
	}

	ComputeNeighbors(elements, NeighborThreshold)

	return &UIMap{
		Screen: Screen{
			Width:     width,
			Height:    height,
			Timestamp: time.Now().UTC(),
			Hash:      ScreenHash(image),
			URL:       pageURL,
			Title:     title,
		},
		Elements:      elements,
		ParserVersion: ParserVersion,
	}
}
