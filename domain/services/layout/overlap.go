package layout

import (
	"canvaschat/domain/config"
)

// separationSlack is added to every push so floating point rounding cannot
// leave two boxes touching by a hair.
const separationSlack = 0.5

// OverlapResult reports how a resolution pass ended.
type OverlapResult struct {
	Rounds   int
	Resolved bool
}

// ResolveOverlaps pushes apart every pair of boxes whose padded bounds
// intersect. Each pair moves along the axis with the smaller intrusion, the
// push split evenly between the two and directed by their relative centres.
// A pinned box never moves; its partner takes the whole push. Passes repeat
// until a pass finds nothing to fix or maxRounds is spent. This is a
// heuristic and may give up on dense inputs, reported by Resolved=false.
func ResolveOverlaps(boxes []Box, pinned []bool, padding float64, maxRounds int) OverlapResult {
	isPinned := func(i int) bool { return i < len(pinned) && pinned[i] }

	for round := 1; round <= maxRounds; round++ {
		moved := false
		for i := 0; i < len(boxes); i++ {
			for j := i + 1; j < len(boxes); j++ {
				if isPinned(i) && isPinned(j) {
					continue
				}
				a, b := boxes[i].Padded(padding), boxes[j].Padded(padding)
				if !a.Intersects(b) {
					continue
				}
				dx, dy := a.overlap(b)
				shiftA, shiftB := split(isPinned(i), isPinned(j))

				if dx <= dy {
					push := dx + separationSlack
					dir := 1.0
					if a.centerX() <= b.centerX() {
						dir = -1
					}
					boxes[i].X += dir * push * shiftA
					boxes[j].X -= dir * push * shiftB
				} else {
					push := dy + separationSlack
					dir := 1.0
					if a.centerY() <= b.centerY() {
						dir = -1
					}
					boxes[i].Y += dir * push * shiftA
					boxes[j].Y -= dir * push * shiftB
				}
				moved = true
			}
		}
		if !moved {
			return OverlapResult{Rounds: round, Resolved: true}
		}
	}
	return OverlapResult{Rounds: maxRounds, Resolved: !anyOverlap(boxes, pinned, padding)}
}

func split(pinnedA, pinnedB bool) (float64, float64) {
	switch {
	case pinnedA:
		return 0, 1
	case pinnedB:
		return 1, 0
	default:
		return 0.5, 0.5
	}
}

func anyOverlap(boxes []Box, pinned []bool, padding float64) bool {
	for i := range boxes {
		for j := i + 1; j < len(boxes); j++ {
			if i < len(pinned) && j < len(pinned) && pinned[i] && pinned[j] {
				continue
			}
			if boxes[i].Padded(padding).Intersects(boxes[j].Padded(padding)) {
				return true
			}
		}
	}
	return false
}

// PlaceNear picks a spot for a new box of size w×h: to the right of its
// parents at their mean y, or below everything when it has none. The spot is
// then cleared of overlaps with the existing boxes, which stay put.
func PlaceNear(w, h float64, parents, others []Box, cfg *config.DomainConfig) (Box, OverlapResult) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	candidate := Box{X: cfg.RootOriginX, Y: cfg.RootOriginY, W: w, H: h}
	switch {
	case len(parents) > 0:
		var right, sumY float64
		for i, p := range parents {
			if i == 0 || p.right() > right {
				right = p.right()
			}
			sumY += p.Y
		}
		candidate.X = right + cfg.AutoPositionGap
		candidate.Y = sumY / float64(len(parents))
	case len(others) > 0:
		minX := others[0].X
		for _, o := range others[1:] {
			minX = minf(minX, o.X)
		}
		candidate.X = minX
		candidate.Y = lowestBottom(others, cfg.RootOriginY) + cfg.AutoPositionGap
	}

	boxes := make([]Box, 0, len(others)+1)
	pinned := make([]bool, 0, len(others)+1)
	boxes = append(boxes, candidate)
	pinned = append(pinned, false)
	for _, o := range others {
		boxes = append(boxes, o)
		pinned = append(pinned, true)
	}
	res := ResolveOverlaps(boxes, pinned, cfg.NodePadding, cfg.MaxOverlapRounds)
	return boxes[0], res
}
