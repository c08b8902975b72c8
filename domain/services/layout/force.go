package layout

import (
	"math"
	"math/rand"

	"canvaschat/domain/config"
	"canvaschat/domain/core/valueobjects"
)

// ForceResult carries the positions of a force-directed run.
type ForceResult struct {
	Positions Positions
	Overlap   OverlapResult
}

// ForceDirected runs a Fruchterman-Reingold simulation over item centres for
// a fixed number of iterations: every pair repels, every link attracts, and
// the step size cools linearly. The random source is seeded from the config
// so a given graph always lands the same way. The result is shifted back to
// the layout origin and finished with an overlap pass.
func ForceDirected(items []Item, links []Link, cfg *config.DomainConfig) ForceResult {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	n := len(items)
	res := ForceResult{Positions: make(Positions, n)}
	if n == 0 {
		res.Overlap = OverlapResult{Resolved: true}
		return res
	}

	rng := rand.New(rand.NewSource(cfg.ForceSeed))
	index := make(map[valueobjects.NodeID]int, n)
	px := make([]float64, n)
	py := make([]float64, n)
	for i, it := range items {
		index[it.ID] = i
		px[i] = it.X + it.Width/2
		py[i] = it.Y + it.Height/2
	}
	// Nodes stacked on the same spot have no direction to repel along.
	spread := cfg.ForceIdealLength
	seen := make(map[[2]float64]bool, n)
	for i := range items {
		key := [2]float64{px[i], py[i]}
		if seen[key] {
			px[i] += (rng.Float64() - 0.5) * spread
			py[i] += (rng.Float64() - 0.5) * spread
		}
		seen[[2]float64{px[i], py[i]}] = true
	}

	type pair struct{ a, b int }
	var springs []pair
	for _, l := range links {
		a, okA := index[l.Source]
		b, okB := index[l.Target]
		if okA && okB && a != b {
			springs = append(springs, pair{a, b})
		}
	}

	k := cfg.ForceIdealLength
	temperature := k * math.Sqrt(float64(n))
	cooling := temperature / float64(cfg.ForceIterations+1)
	dx := make([]float64, n)
	dy := make([]float64, n)

	for iter := 0; iter < cfg.ForceIterations; iter++ {
		for i := range dx {
			dx[i], dy[i] = 0, 0
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				vx, vy := px[i]-px[j], py[i]-py[j]
				d := math.Hypot(vx, vy)
				if d < 0.01 {
					vx, vy = rng.Float64()-0.5, rng.Float64()-0.5
					d = 0.01
				}
				f := k * k / d
				fx, fy := vx/d*f, vy/d*f
				dx[i] += fx
				dy[i] += fy
				dx[j] -= fx
				dy[j] -= fy
			}
		}
		for _, s := range springs {
			vx, vy := px[s.a]-px[s.b], py[s.a]-py[s.b]
			d := math.Hypot(vx, vy)
			if d < 0.01 {
				continue
			}
			f := d * d / k
			fx, fy := vx/d*f, vy/d*f
			dx[s.a] -= fx
			dy[s.a] -= fy
			dx[s.b] += fx
			dy[s.b] += fy
		}
		for i := 0; i < n; i++ {
			d := math.Hypot(dx[i], dy[i])
			if d < 1e-9 {
				continue
			}
			step := math.Min(d, temperature)
			px[i] += dx[i] / d * step
			py[i] += dy[i] / d * step
		}
		temperature -= cooling
		if temperature < 1 {
			temperature = 1
		}
	}

	boxes := make([]Box, n)
	minX, minY := math.Inf(1), math.Inf(1)
	for i, it := range items {
		boxes[i] = Box{X: px[i] - it.Width/2, Y: py[i] - it.Height/2, W: it.Width, H: it.Height}
		minX = math.Min(minX, boxes[i].X)
		minY = math.Min(minY, boxes[i].Y)
	}
	for i := range boxes {
		boxes[i].X += cfg.RootOriginX - minX
		boxes[i].Y += cfg.RootOriginY - minY
	}
	res.Overlap = ResolveOverlaps(boxes, nil, cfg.NodePadding, cfg.MaxOverlapRounds)

	for i, it := range items {
		pos, err := valueobjects.NewPosition(boxes[i].X, boxes[i].Y)
		if err != nil {
			pos = valueobjects.Origin()
		}
		res.Positions[it.ID] = pos
	}
	return res
}
