package detector

import (
	"sort"
	"strconv"
	"strings"
)

// SortByCenterX returns a copy of dets ordered left to right.
// Equal centers keep their input order.
func SortByCenterX(dets []Detection) []Detection {
	out := cloneDetections(dets)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CenterX < out[j].CenterX
	})
	return out
}

// AssembleSequence concatenates class ids left to right. An empty result means no reading.
func AssembleSequence(dets []Detection) string {
	if len(dets) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(dets))
	for _, d := range SortByCenterX(dets) {
		sb.WriteString(strconv.Itoa(d.ClassID))
	}
	return sb.String()
}
