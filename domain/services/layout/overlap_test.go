package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"canvaschat/domain/config"
)

func TestResolveOverlaps_IdenticalBoxes(t *testing.T) {
	const padding = 20.0
	boxes := []Box{{X: 0, Y: 0, W: 300, H: 100}, {X: 0, Y: 0, W: 300, H: 100}}

	res := ResolveOverlaps(boxes, nil, padding, 50)

	assert.True(t, res.Resolved)
	assert.False(t, boxes[0].Padded(padding).Intersects(boxes[1].Padded(padding)))
	// Smaller intrusion is vertical, so the boxes split along y.
	assert.Equal(t, boxes[0].X, boxes[1].X)
	assert.Less(t, boxes[0].Y, boxes[1].Y)
}

func TestResolveOverlaps_PushesAlongSmallerAxis(t *testing.T) {
	boxes := []Box{{X: 0, Y: 0, W: 100, H: 100}, {X: 90, Y: 10, W: 100, H: 100}}

	ResolveOverlaps(boxes, nil, 0, 10)

	assert.Equal(t, 0.0, boxes[0].Y)
	assert.Equal(t, 10.0, boxes[1].Y)
	assert.Less(t, boxes[0].X, 0.0)
	assert.Greater(t, boxes[1].X, 90.0)
	assert.InDelta(t, -boxes[0].X, boxes[1].X-90, 1e-9, "push is split evenly")
}

func TestResolveOverlaps_PinnedBoxStays(t *testing.T) {
	boxes := []Box{{X: 0, Y: 0, W: 100, H: 100}, {X: 10, Y: 0, W: 100, H: 300}}

	res := ResolveOverlaps(boxes, []bool{true, false}, 10, 10)

	assert.True(t, res.Resolved)
	assert.Equal(t, Box{X: 0, Y: 0, W: 100, H: 100}, boxes[0])
	assert.False(t, boxes[0].Padded(10).Intersects(boxes[1].Padded(10)))
}

func TestResolveOverlaps_Cluster(t *testing.T) {
	var boxes []Box
	for i := 0; i < 12; i++ {
		boxes = append(boxes, Box{X: float64(i%3) * 150, Y: float64(i/3) * 60, W: 200, H: 80})
	}
	res := ResolveOverlaps(boxes, nil, 20, 500)

	assert.True(t, res.Resolved)
	assert.False(t, anyOverlap(boxes, nil, 20))
}

func TestResolveOverlaps_NoWorkOnCleanInput(t *testing.T) {
	boxes := []Box{{X: 0, Y: 0, W: 10, H: 10}, {X: 100, Y: 0, W: 10, H: 10}}
	res := ResolveOverlaps(boxes, nil, 20, 5)
	assert.Equal(t, OverlapResult{Rounds: 1, Resolved: true}, res)
}

func TestPlaceNear(t *testing.T) {
	cfg := config.DefaultDomainConfig()
	parent := Box{X: 100, Y: 100, W: 300, H: 100}
	sibling := Box{X: 480, Y: 100, W: 300, H: 100}

	placed, res := PlaceNear(300, 100, []Box{parent}, []Box{parent, sibling}, cfg)

	assert.True(t, res.Resolved)
	assert.GreaterOrEqual(t, placed.X, parent.right())
	assert.False(t, placed.Padded(cfg.NodePadding).Intersects(sibling.Padded(cfg.NodePadding)))
	assert.False(t, placed.Padded(cfg.NodePadding).Intersects(parent.Padded(cfg.NodePadding)))
}

func TestPlaceNear_NoParentsGoesBelow(t *testing.T) {
	cfg := config.DefaultDomainConfig()
	existing := Box{X: 50, Y: 100, W: 300, H: 100}

	placed, _ := PlaceNear(200, 50, nil, []Box{existing}, cfg)
	assert.Equal(t, 50.0, placed.X)
	assert.Equal(t, existing.bottom()+cfg.AutoPositionGap, placed.Y)
}
