package heal

import (
	"math"

	"github.com/okralabs/uiheal/uimap"
)

// Proximity scores how close two bounding boxes are on a screen of the
// given dimensions, in [0,1]. Center deltas are normalised per axis by the
// screen size, so the score is resolution-independent, then combined as a
// Euclidean norm and mapped through max(0, 1 − 2·distance). The 2×
// multiplier zeroes out anything more than half the normalised diagonal
// away: element jitter across re-renders is a few percent of screen size,
// so strict locality is the right bias.
func Proximity(expected, actual uimap.BoundingBox, screenW, screenH int) float64 {
	if screenW <= 0 || screenH <= 0 {
		return 0
	}

	ex, ey := expected.Center()
	ax, ay := actual.Center()

	dx := (ax - ex) / float64(screenW)
	dy := (ay - ey) / float64(screenH)
	dist := math.Hypot(dx, dy)

	score := 1 - 2*dist
	if score < 0 {
		return 0
	}
	return score
}

// centerDistance is the raw pixel distance between two box centers,
// unnormalised. Drift checks use it directly against pixel thresholds.
func centerDistance(a, b uimap.BoundingBox) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot(bx-ax, by-ay)
}

// CenterDistance exposes the raw pixel distance between two box centers.
func CenterDistance(a, b uimap.BoundingBox) float64 {
	return centerDistance(a, b)
}

// neighborAnchorScore is the fraction of expected neighbor texts that find
// at least one sufficiently similar text among the candidate's actual
// neighbors (all four directions pooled). Zero expected texts means no
// signal, scored 0; callers must exclude the factor entirely in that case
// rather than treat it as a perfect match.
func neighborAnchorScore(expectedTexts []string, actualNeighborTexts []string) float64 {
	if len(expectedTexts) == 0 {
		return 0
	}

	const anchorSimilarityThreshold = 0.7

	matched := 0
	for _, want := range expectedTexts {
		for _, got := range actualNeighborTexts {
			if TextSimilarity(want, got) > anchorSimilarityThreshold {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(expectedTexts))
}
