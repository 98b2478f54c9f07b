package dom

// Resolve finds the element in idx that corresponds to target, an element
// captured in an earlier snapshot. Identity is the similarity key; raw indices
// are never reused across snapshots.
func Resolve(idx *ElementIndex, target ElementNode) (ElementNode, bool) {
	return FindByKey(idx, SimilarityKey(target), target.Index)
}

// FindByKey returns the element whose similarity key equals key. When several
// elements share the key, the one nearest in document order to near wins, and
// among equally near candidates the earlier one.
func FindByKey(idx *ElementIndex, key string, near int) (ElementNode, bool) {
	best := nearest(idx.byKey[key], near, nil)
	if best < 0 {
		return ElementNode{}, false
	}
	return idx.Get(best)
}

// nearest picks the candidate closest to pos, skipping those marked used.
func nearest(candidates []int, pos int, used map[int]bool) int {
	best, bestDist := -1, 0
	for _, c := range candidates {
		if used[c] {
			continue
		}
		d := c - pos
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// Candidates returns the indices of elements that share key, in document order.
func (idx *ElementIndex) Candidates(key string) []int {
	return append([]int(nil), idx.byKey[key]...)
}

// NearestUnused exposes the tie-break rule to the diff algorithm.
func NearestUnused(candidates []int, pos int, used map[int]bool) int {
	return nearest(candidates, pos, used)
}
