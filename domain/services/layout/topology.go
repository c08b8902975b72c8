package layout

import (
	"sort"

	"canvaschat/domain/core/valueobjects"
)

// TopologicalSort orders items so that every item comes after its parents,
// using in-degree counting. Roots are seeded oldest first and children are
// released in creation order, which makes the result deterministic.
//
// Items caught in a cycle never reach in-degree zero; they are appended at
// the end in creation order and also returned as stranded so the caller can
// report them. Links to unknown ids are ignored.
func TopologicalSort(items []Item, links []Link) (order, stranded []valueobjects.NodeID) {
	byID := make(map[valueobjects.NodeID]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	less := func(a, b valueobjects.NodeID) bool {
		ia, ib := byID[a], byID[b]
		if !ia.CreatedAt.Equal(ib.CreatedAt) {
			return ia.CreatedAt.Before(ib.CreatedAt)
		}
		return a.String() < b.String()
	}

	inDegree := make(map[valueobjects.NodeID]int, len(items))
	children := make(map[valueobjects.NodeID][]valueobjects.NodeID)
	seenLink := make(map[Link]struct{}, len(links))
	for _, l := range links {
		if _, ok := byID[l.Source]; !ok {
			continue
		}
		if _, ok := byID[l.Target]; !ok {
			continue
		}
		if _, dup := seenLink[l]; dup {
			continue
		}
		seenLink[l] = struct{}{}
		inDegree[l.Target]++
		children[l.Source] = append(children[l.Source], l.Target)
	}
	for id := range children {
		kids := children[id]
		sort.Slice(kids, func(i, j int) bool { return less(kids[i], kids[j]) })
	}

	var queue []valueobjects.NodeID
	for _, it := range items {
		if inDegree[it.ID] == 0 {
			queue = append(queue, it.ID)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return less(queue[i], queue[j]) })

	placed := make(map[valueobjects.NodeID]struct{}, len(items))
	order = make([]valueobjects.NodeID, 0, len(items))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		placed[id] = struct{}{}
		for _, child := range children[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) < len(byID) {
		for _, it := range items {
			if _, ok := placed[it.ID]; !ok {
				stranded = append(stranded, it.ID)
				placed[it.ID] = struct{}{}
			}
		}
		sort.Slice(stranded, func(i, j int) bool { return less(stranded[i], stranded[j]) })
		order = append(order, stranded...)
	}
	return order, stranded
}
