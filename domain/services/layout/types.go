// Package layout places canvas nodes so that they do not overlap. It works
// on plain boxes and links and never touches rendered sizes itself; the
// caller supplies each node's footprint.
package layout

import (
	"time"

	"canvaschat/domain/core/valueobjects"
)

// Item is one node as seen by the layout algorithms.
type Item struct {
	ID        valueobjects.NodeID
	CreatedAt time.Time
	X, Y      float64
	Width     float64
	Height    float64
}

// Link is a directed edge between two items.
type Link struct {
	Source valueobjects.NodeID
	Target valueobjects.NodeID
}

// Box is an axis-aligned rectangle with its top-left at X/Y.
type Box struct {
	X, Y, W, H float64
}

func (it Item) box() Box {
	return Box{X: it.X, Y: it.Y, W: it.Width, H: it.Height}
}

// Padded grows the box by half the padding on every side, so two padded
// boxes that do not intersect are at least padding apart.
func (b Box) Padded(padding float64) Box {
	half := padding / 2
	return Box{X: b.X - half, Y: b.Y - half, W: b.W + padding, H: b.H + padding}
}

// Intersects reports a strictly positive area of overlap.
func (b Box) Intersects(o Box) bool {
	return b.X < o.X+o.W && o.X < b.X+b.W && b.Y < o.Y+o.H && o.Y < b.Y+b.H
}

// OverlapsHorizontally reports whether the x ranges overlap.
func (b Box) OverlapsHorizontally(o Box) bool {
	return b.X < o.X+o.W && o.X < b.X+b.W
}

// overlap returns how far the boxes intrude into each other along each axis.
func (b Box) overlap(o Box) (dx, dy float64) {
	dx = minf(b.X+b.W, o.X+o.W) - maxf(b.X, o.X)
	dy = minf(b.Y+b.H, o.Y+o.H) - maxf(b.Y, o.Y)
	return dx, dy
}

func (b Box) centerX() float64 { return b.X + b.W/2 }
func (b Box) centerY() float64 { return b.Y + b.H/2 }
func (b Box) bottom() float64 { return b.Y + b.H }
func (b Box) right() float64 { return b.X + b.W }

// Positions is the output of a layout run: new top-left corners by node id.
type Positions map[valueobjects.NodeID]valueobjects.Position

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
