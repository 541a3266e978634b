package detector

import (
	"github.com/chewxy/math32"
)

// Line fit defaults. Digits of a meter display sit on one row.
const (
	DefaultLineFitIterations         = 30
	DefaultLineFitDistance   float32 = 0.05
)

// RandSource is the random generator the line fit draws sample indices from.
// *math/rand/v2.Rand satisfies it; tests pass a seeded one.
type RandSource interface {
	IntN(n int) int
}

// LineFitConfig controls the RANSAC outlier filter.
type LineFitConfig struct {
	Iterations        int     `json:"iterations"`
	DistanceThreshold float32 `json:"distance_threshold"`
}

// DefaultLineFitConfig returns the calibrated defaults.
func DefaultLineFitConfig() LineFitConfig {
	return LineFitConfig{
		Iterations:        DefaultLineFitIterations,
		DistanceThreshold: DefaultLineFitDistance,
	}
}

// Line is a 2D line in normal form A*x + B*y + C = 0 with A²+B²=1.
type Line struct {
	A, B, C float32
}

// Distance returns the perpendicular distance of (x, y) from the line.
func (l Line) Distance(x, y float32) float32 {
	return math32.Abs(l.A*x + l.B*y + l.C)
}

// lineThrough returns the normalized line through two points.
// ok is false when the points coincide.
func lineThrough(x1, y1, x2, y2 float32) (Line, bool) {
	a := y2 - y1
	b := x1 - x2
	norm := math32.Sqrt(a*a + b*b)
	if norm == 0 || math32.IsNaN(norm) {
		return Line{}, false
	}
	a /= norm
	b /= norm
	return Line{A: a, B: b, C: -(a*x1 + b*y1)}, true
}

// LineFitResult describes the outcome of one RANSAC run.
type LineFitResult struct {
	Line       Line
	Found      bool
	Inliers    []int
	Iterations []int
}

// FitLine runs RANSAC over detection centers and returns the best line with
// the indices of its inliers in input order. Iterations holds the inlier count
// of every sampled line. With fewer than two detections nothing is sampled.
func FitLine(dets []Detection, cfg LineFitConfig, rng RandSource) LineFitResult {
	var res LineFitResult
	n := len(dets)
	if n < 2 || cfg.Iterations <= 0 {
		return res
	}

	res.Iterations = make([]int, 0, cfg.Iterations)
	bestCount := -1
	for range cfg.Iterations {
		i := rng.IntN(n)
		j := rng.IntN(n)
		for j == i {
			j = rng.IntN(n)
		}

		line, ok := lineThrough(dets[i].CenterX, dets[i].CenterY, dets[j].CenterX, dets[j].CenterY)
		if !ok {
			res.Iterations = append(res.Iterations, 0)
			continue
		}

		count := 0
		for _, d := range dets {
			if line.Distance(d.CenterX, d.CenterY) <= cfg.DistanceThreshold {
				count++
			}
		}
		res.Iterations = append(res.Iterations, count)

		if count > bestCount {
			bestCount = count
			res.Line = line
			res.Found = true
		}
	}

	if res.Found {
		for k, d := range dets {
			if res.Line.Distance(d.CenterX, d.CenterY) <= cfg.DistanceThreshold {
				res.Inliers = append(res.Inliers, k)
			}
		}
	}
	return res
}

// FilterOutliers keeps the detections whose centers lie on the best RANSAC
// line, in input order. Lists shorter than two, or whose centers all
// coincide, are returned unchanged.
func FilterOutliers(dets []Detection, cfg LineFitConfig, rng RandSource) []Detection {
	res := FitLine(dets, cfg, rng)
	if !res.Found {
		return cloneDetections(dets)
	}

	out := make([]Detection, 0, len(res.Inliers))
	for _, k := range res.Inliers {
		out = append(out, dets[k])
	}
	return out
}
