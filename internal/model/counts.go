package model

// CountMap holds per-parent, per-child counts scanned out of one counter
// bucket family (adds or views for a single day or minute).
type CountMap map[string]map[string]int64

// Add accumulates a count for a (parent, child) pair.
func (m CountMap) Add(parent, child string, n int64) {
	children, ok := m[parent]
	if !ok {
		children = make(map[string]int64)
		m[parent] = children
	}
	children[child] += n
}

// Total returns the number of (parent, child) pairs in the map.
func (m CountMap) Total() int {
	n := 0
	for _, children := range m {
		n += len(children)
	}
	return n
}

// EdgePair pairs the add and view counts of one (parent, child) edge.
type EdgePair struct {
	Add  int64
	View int64
}

// MergeCounts joins add and view count maps into a single edge map keyed by
// parent then child. Pairs present in only one input appear with the other
// side zero.
func MergeCounts(adds, views CountMap) map[string]map[string]EdgePair {
	out := make(map[string]map[string]EdgePair)
	ensure := func(parent string) map[string]EdgePair {
		children, ok := out[parent]
		if !ok {
			children = make(map[string]EdgePair)
			out[parent] = children
		}
		return children
	}
	for parent, children := range adds {
		dst := ensure(parent)
		for child, n := range children {
			p := dst[child]
			p.Add += n
			dst[child] = p
		}
	}
	for parent, children := range views {
		dst := ensure(parent)
		for child, n := range children {
			p := dst[child]
			p.View += n
			dst[child] = p
		}
	}
	return out
}
