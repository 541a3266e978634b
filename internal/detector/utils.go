package detector

import (
	"sort"
)

// filterDetections keeps detections at or above minConf.
func filterDetections(dets []Detection, minConf float32) []Detection {
	var filtered []Detection
	for _, d := range dets {
		if d.Confidence >= minConf {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// sortedByConfidence returns indices of dets ordered by confidence, descending.
// Equal confidences keep their input order.
func sortedByConfidence(dets []Detection) []int {
	indices := make([]int, len(dets))
	for i := range indices {
		indices[i] = i
	}

	sort.SliceStable(indices, func(i, j int) bool {
		return dets[indices[i]].Confidence > dets[indices[j]].Confidence
	})

	return indices
}

// sortByConfidenceDesc sorts dets in place, descending by confidence.
func sortByConfidenceDesc(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
}

// cloneDetections returns an owned copy so stages never share backing arrays.
func cloneDetections(dets []Detection) []Detection {
	if dets == nil {
		return nil
	}
	out := make([]Detection, len(dets))
	copy(out, dets)
	return out
}
