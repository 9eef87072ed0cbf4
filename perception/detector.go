// Package perception talks to the vision service that turns screenshots
// into UIMaps, and provides an in-process stand-in for environments where
// the real detector is unavailable.
//
// The core treats perception output as an opaque oracle: this package only
// constrains the wire shape, never the detection quality.
package perception

import "github.com/okralabs/uiheal/uimap"

// Detector produces raw detections from an encoded screenshot. The real
// implementation lives behind the HTTP service; MockDetector covers tests
// and offline development.
type Detector interface {
	Detect(image []byte, width, height int) []uimap.Detection
}

// MockDetector returns deterministic detections shaped like a small admin
// panel: header, navigation buttons, a search form, and table headers, plus
// one table row when the frame is tall enough. Deterministic output keeps
// healing and drift tests reproducible.
type MockDetector struct{}

// Detect ignores the image content and keys only on dimensions.
func (MockDetector) Detect(_ []byte, _ int, height int) []uimap.Detection {
	dets := []uimap.Detection{
		{BBox: [4]int{20, 20, 200, 60}, Label: "text", Confidence: 0.95, Text: "Poker Admin", Caption: "header title"},
		{BBox: [4]int{20, 80, 180, 120}, Label: "button", Confidence: 0.92, Text: "Dashboard", Caption: "navigation button"},
		{BBox: [4]int{20, 130, 180, 170}, Label: "button", Confidence: 0.91, Text: "Players", Caption: "navigation button"},
		{BBox: [4]int{20, 180, 180, 220}, Label: "button", Confidence: 0.90, Text: "Tournaments", Caption: "navigation button"},
		{BBox: [4]int{220, 100, 500, 140}, Label: "input", Confidence: 0.88, Text: "", Caption: "search input field"},
		{BBox: [4]int{510, 100, 590, 140}, Label: "button", Confidence: 0.93, Text: "Search", Caption: "search button"},
		{BBox: [4]int{220, 160, 320, 200}, Label: "text", Confidence: 0.85, Text: "Name", Caption: "table header"},
		{BBox: [4]int{330, 160, 430, 200}, Label: "text", Confidence: 0.85, Text: "Status", Caption: "table header"},
		{BBox: [4]int{440, 160, 540, 200}, Label: "text", Confidence: 0.85, Text: "Balance", Caption: "table header"},
	}

	if height > 400 {
		dets = append(dets,
			uimap.Detection{BBox: [4]int{220, 210, 320, 250}, Label: "text", Confidence: 0.87, Text: "John Doe", Caption: "player name"},
			uimap.Detection{BBox: [4]int{330, 210, 430, 250}, Label: "text", Confidence: 0.86, Text: "Active", Caption: "player status"},
			uimap.Detection{BBox: [4]int{440, 210, 540, 250}, Label: "text", Confidence: 0.84, Text: "$1,500", Caption: "player balance"},
			uimap.Detection{BBox: [4]int{550, 210, 620, 250}, Label: "button", Confidence: 0.89, Text: "Edit", Caption: "edit button"},
		)
	}

	return dets
}
