package collcomm

// TreePosition returns the parent and children of a rank
// in a binary tree over n ranks rooted at root.
//
// There may be no children.
// The parent is -1 for the root.
func TreePosition(rank, root, n int) (parent int, children []int) {
	if rank < 0 || rank >= n || root < 0 || root >= n {
		panic("rank out of range")
	}
	idx := (rank - root + n) % n
	parent = -1
	for depth := uint(0); true; depth++ {
		rowSize := 1 << depth
		rowStart := rowSize - 1
		if idx >= rowStart+rowSize {
			continue
		}
		rowIdx := idx - rowStart
		if depth > 0 {
			parent = (rowIdx/2 + (rowSize/2 - 1) + root) % n
		}
		firstChild := rowIdx*2 + (rowSize*2 - 1)
		for i := 0; i < 2; i++ {
			if firstChild+i < n {
				children = append(children, (firstChild+i+root)%n)
			}
		}
		return
	}
	panic("unreachable")
}
