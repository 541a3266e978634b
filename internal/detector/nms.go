package detector

import (
	"github.com/MeKo-Tech/meterread/internal/mempool"
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
)

const (
	NMSMethodHard     = "hard"
	NMSMethodGaussian = "gaussian"
	NMSMethodLinear   = "linear"
)

// DefaultIoUThreshold is the overlap above which the weaker of two boxes is suppressed.
const DefaultIoUThreshold float32 = 0.5

const (
	// spatialIndexMin is the list size from which candidate lookup goes through flatbush.
	spatialIndexMin = 64
	// gridScale maps normalized coordinates onto the integer index grid.
	gridScale = 1 << 14
)

// NonMaxSuppression performs greedy hard NMS and returns the kept detections
// ordered by descending confidence. The input slice is not modified.
func NonMaxSuppression(dets []Detection, iouThreshold float32) []Detection {
	if len(dets) <= 1 {
		return cloneDetections(dets)
	}

	order := sortedByConfidence(dets)
	suppressed := mempool.GetBool(len(dets))
	defer mempool.PutBool(suppressed)
	kept := make([]Detection, 0, len(dets))

	if len(dets) >= spatialIndexMin && iouThreshold >= 0 {
		rank := make([]int, len(dets))
		for r, idx := range order {
			rank[idx] = r
		}
		fb := buildIndex(dets)
		var nearby []int
		for _, a := range order {
			if suppressed[a] {
				continue
			}
			kept = append(kept, dets[a])

			x1, y1, x2, y2 := gridBounds(dets[a])
			nearby = fb.SearchFast(x1, y1, x2, y2, nearby)
			for _, b := range nearby {
				if suppressed[b] || rank[b] <= rank[a] {
					continue
				}
				if IoU(dets[a], dets[b]) > iouThreshold {
					suppressed[b] = true
				}
			}
		}
		return kept
	}

	for i, a := range order {
		if suppressed[a] {
			continue
		}
		kept = append(kept, dets[a])

		// Suppress lower ranked detections that overlap the kept one
		for _, b := range order[i+1:] {
			if suppressed[b] {
				continue
			}
			if IoU(dets[a], dets[b]) > iouThreshold {
				suppressed[b] = true
			}
		}
	}

	return kept
}

// buildIndex creates a flatbush index over the detections, in input order.
func buildIndex(dets []Detection) *flatbush.Flatbush[int32] {
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(dets))
	for _, d := range dets {
		fb.Add(gridBounds(d))
	}
	fb.Finish()
	return fb
}

// gridBounds returns the integer grid cell bounds that enclose a detection.
func gridBounds(d Detection) (int32, int32, int32, int32) {
	x1, y1, x2, y2 := d.Bounds()
	return int32(math32.Floor(x1 * gridScale)), int32(math32.Floor(y1 * gridScale)),
		int32(math32.Ceil(x2 * gridScale)), int32(math32.Ceil(y2 * gridScale))
}

// SoftNonMaxSuppression decays the confidence of overlapping detections instead
// of discarding them, then drops everything below scoreThresh.
func SoftNonMaxSuppression(dets []Detection, method string,
	iouThreshold, sigma, scoreThresh float32,
) []Detection {
	if len(dets) <= 1 {
		return filterDetections(dets, scoreThresh)
	}

	work := cloneDetections(dets)
	for i := range work {
		best := i
		for j := i + 1; j < len(work); j++ {
			if work[j].Confidence > work[best].Confidence {
				best = j
			}
		}
		work[i], work[best] = work[best], work[i]

		for j := i + 1; j < len(work); j++ {
			iou := IoU(work[i], work[j])
			work[j].Confidence *= softNMSWeight(iou, iouThreshold, sigma, method)
		}
	}

	kept := filterDetections(work, scoreThresh)
	sortByConfidenceDesc(kept)
	return kept
}

// Suppress dispatches to hard or soft NMS by method name.
func Suppress(dets []Detection, method string, iouThreshold, sigma, scoreThresh float32) []Detection {
	switch method {
	case NMSMethodLinear, NMSMethodGaussian:
		return SoftNonMaxSuppression(dets, method, iouThreshold, sigma, scoreThresh)
	default:
		return NonMaxSuppression(dets, iouThreshold)
	}
}

func softNMSWeight(iou, iouThreshold, sigma float32, method string) float32 {
	switch method {
	case NMSMethodLinear:
		if iou >= iouThreshold {
			return 1 - iou
		}
		return 1
	case NMSMethodGaussian:
		if sigma <= 0 {
			return 1
		}
		return math32.Exp(-(iou * iou) / sigma)
	default:
		if iou > iouThreshold {
			return 0
		}
		return 1
	}
}
