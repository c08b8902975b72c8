package layout

import (
	"canvaschat/domain/config"
	"canvaschat/domain/core/valueobjects"
)

// HierarchicalResult carries the positions plus the bookkeeping the engine logs.
type HierarchicalResult struct {
	Positions Positions
	Order     []valueobjects.NodeID
	Layers    map[valueobjects.NodeID]int
	Stranded  []valueobjects.NodeID
	Fallbacks int
}

// Hierarchical lays items out left to right by depth. Each item's layer is
// one more than its deepest parent; x follows from the layer. y starts at the
// mean y of the already placed parents and is probed up and down in fixed
// steps until the padded box is clear of every placed item it shares
// horizontal space with. When no probe succeeds the item goes below the
// lowest placed item.
func Hierarchical(items []Item, links []Link, cfg *config.DomainConfig) HierarchicalResult {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	order, stranded := TopologicalSort(items, links)

	byID := make(map[valueobjects.NodeID]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	parents := make(map[valueobjects.NodeID][]valueobjects.NodeID)
	for _, l := range links {
		if _, ok := byID[l.Source]; !ok {
			continue
		}
		if _, ok := byID[l.Target]; !ok {
			continue
		}
		parents[l.Target] = append(parents[l.Target], l.Source)
	}

	res := HierarchicalResult{
		Positions: make(Positions, len(order)),
		Order:     order,
		Layers:    make(map[valueobjects.NodeID]int, len(order)),
		Stranded:  stranded,
	}
	placed := make([]Box, 0, len(order))
	boxes := make(map[valueobjects.NodeID]Box, len(order))

	for _, id := range order {
		it := byID[id]

		layer := 0
		var sumY float64
		nParents := 0
		for _, p := range parents[id] {
			pl, ok := res.Layers[p]
			if !ok {
				// Parent not placed yet, only possible inside a cycle.
				continue
			}
			if pl+1 > layer {
				layer = pl + 1
			}
			sumY += boxes[p].Y
			nParents++
		}
		res.Layers[id] = layer

		x := cfg.RootOriginX + float64(layer)*cfg.LayerSpacing
		startY := cfg.RootOriginY
		if nParents > 0 {
			startY = sumY / float64(nParents)
		}

		y, ok := probeY(x, startY, it.Width, it.Height, placed, cfg)
		if !ok {
			res.Fallbacks++
			y = lowestBottom(placed, cfg.RootOriginY) + cfg.NodePadding
		}

		b := Box{X: x, Y: y, W: it.Width, H: it.Height}
		placed = append(placed, b)
		boxes[id] = b
		pos, err := valueobjects.NewPosition(x, y)
		if err != nil {
			pos = valueobjects.Origin()
		}
		res.Positions[id] = pos
	}
	return res
}

// probeY tries startY, startY+step, startY-step, startY+2*step, ... and
// returns the first clear candidate.
func probeY(x, startY, w, h float64, placed []Box, cfg *config.DomainConfig) (float64, bool) {
	for attempt := 0; attempt < cfg.MaxProbeAttempts; attempt++ {
		y := startY + float64(probeOffset(attempt))*cfg.ProbeStep
		candidate := Box{X: x, Y: y, W: w, H: h}.Padded(cfg.NodePadding)
		if !collides(candidate, placed, cfg.NodePadding) {
			return y, true
		}
	}
	return 0, false
}

// probeOffset maps 0,1,2,3,4,... onto 0,+1,-1,+2,-2,...
func probeOffset(attempt int) int {
	if attempt == 0 {
		return 0
	}
	k := (attempt + 1) / 2
	if attempt%2 == 1 {
		return k
	}
	return -k
}

func collides(candidate Box, placed []Box, padding float64) bool {
	for _, p := range placed {
		pp := p.Padded(padding)
		if !candidate.OverlapsHorizontally(pp) {
			continue
		}
		if candidate.Intersects(pp) {
			return true
		}
	}
	return false
}

func lowestBottom(placed []Box, floor float64) float64 {
	lowest := floor
	for _, p := range placed {
		if p.bottom() > lowest {
			lowest = p.bottom()
		}
	}
	return lowest
}
