package spatial

import "math"

// maxBuckets caps the bucket count of a GridIndex.
const maxBuckets = 1 << 20

// GridIndex is a uniform bucket grid over bounding boxes. Each box is referenced from every
// bucket it overlaps, so a point query only inspects the boxes of one bucket.
type GridIndex struct {
	extent  Box
	cell    float64
	cols    int
	rows    int
	buckets [][]int
	boxes   []Box
}

// NewGridIndex indexes boxes; query results are positions in this slice.
func NewGridIndex(boxes []Box) *GridIndex {
	idx := &GridIndex{boxes: boxes}

	first := true
	var sumSide float64
	for _, b := range boxes {
		if b.Empty() {
			continue
		}
		if first {
			idx.extent = b
			first = false
		} else {
			idx.extent.MinX = math.Min(idx.extent.MinX, b.MinX)
			idx.extent.MinY = math.Min(idx.extent.MinY, b.MinY)
			idx.extent.MaxX = math.Max(idx.extent.MaxX, b.MaxX)
			idx.extent.MaxY = math.Max(idx.extent.MaxY, b.MaxY)
		}
		sumSide += math.Max(b.MaxX-b.MinX, b.MaxY-b.MinY)
	}
	if first {
		return idx
	}

	w := idx.extent.MaxX - idx.extent.MinX
	h := idx.extent.MaxY - idx.extent.MinY

	// Cells about the size of an average box keep buckets short without duplicating
	// boxes across many buckets.
	cell := sumSide / float64(len(boxes))
	if density := math.Sqrt(w * h / float64(len(boxes))); density > cell {
		cell = density
	}
	if cell <= 0 {
		cell = math.Max(math.Max(w, h), 1)
	}
	for {
		idx.cols = int(w/cell) + 1
		idx.rows = int(h/cell) + 1
		if idx.cols*idx.rows <= maxBuckets {
			break
		}
		cell *= 2
	}
	idx.cell = cell
	idx.buckets = make([][]int, idx.cols*idx.rows)

	for i, b := range boxes {
		if b.Empty() {
			continue
		}
		c0, r0 := idx.bucket(b.MinX, b.MinY)
		c1, r1 := idx.bucket(b.MaxX, b.MaxY)
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				k := r*idx.cols + c
				idx.buckets[k] = append(idx.buckets[k], i)
			}
		}
	}
	return idx
}

func (idx *GridIndex) bucket(x, y float64) (int, int) {
	c := int((x - idx.extent.MinX) / idx.cell)
	r := int((y - idx.extent.MinY) / idx.cell)
	c = min(max(c, 0), idx.cols-1)
	r = min(max(r, 0), idx.rows-1)
	return c, r
}

// Query returns the positions of the boxes containing (x, y).
func (idx *GridIndex) Query(x, y float64) []int {
	if idx.buckets == nil || !idx.extent.Contains(x, y) {
		return nil
	}
	c, r := idx.bucket(x, y)
	var out []int
	for _, i := range idx.buckets[r*idx.cols+c] {
		if idx.boxes[i].Contains(x, y) {
			out = append(out, i)
		}
	}
	return out
}

// Intersecting returns the positions of the boxes overlapping b, without duplicates.
func (idx *GridIndex) Intersecting(b Box) []int {
	if idx.buckets == nil || !idx.extent.Intersects(b) {
		return nil
	}
	c0, r0 := idx.bucket(b.MinX, b.MinY)
	c1, r1 := idx.bucket(b.MaxX, b.MaxY)
	seen := make(map[int]struct{})
	var out []int
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			for _, i := range idx.buckets[r*idx.cols+c] {
				if _, ok := seen[i]; ok {
					continue
				}
				seen[i] = struct{}{}
				if idx.boxes[i].Intersects(b) {
					out = append(out, i)
				}
			}
		}
	}
	return out
}
