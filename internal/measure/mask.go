package measure

import "image"

// Mask is a binary image anchored at the origin.
type Mask struct {
	W, H int
	Pix  []bool
}

func newMask(w, h int) *Mask {
	return &Mask{W: w, H: h, Pix: make([]bool, w*h)}
}

func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return false
	}
	return m.Pix[y*m.W+x]
}

func (m *Mask) Set(x, y int) { m.Pix[y*m.W+x] = true }

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, p := range m.Pix {
		if p {
			n++
		}
	}
	return n
}

// components labels 8-connected regions and returns the pixel indices of
// each one.
func (m *Mask) components() [][]int {
	seen := make([]bool, len(m.Pix))
	var out [][]int
	var queue []int
	for start, set := range m.Pix {
		if !set || seen[start] {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		var comp []int
		for len(queue) > 0 {
			p := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			comp = append(comp, p)
			px, py := p%m.W, p/m.W
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := px+dx, py+dy
					if !m.At(nx, ny) {
						continue
					}
					n := ny*m.W + nx
					if !seen[n] {
						seen[n] = true
						queue = append(queue, n)
					}
				}
			}
		}
		out = append(out, comp)
	}
	return out
}

// dropSmall clears components with fewer than minPixels pixels.
func (m *Mask) dropSmall(minPixels int) {
	if minPixels <= 1 {
		return
	}
	for _, comp := range m.components() {
		if len(comp) >= minPixels {
			continue
		}
		for _, p := range comp {
			m.Pix[p] = false
		}
	}
}

// keepLargest clears everything except the largest component.
func (m *Mask) keepLargest() {
	comps := m.components()
	if len(comps) == 0 {
		return
	}
	best := 0
	for i, c := range comps {
		if len(c) > len(comps[best]) {
			best = i
		}
	}
	clear(m.Pix)
	for _, p := range comps[best] {
		m.Pix[p] = true
	}
}

// close runs a 3x3 dilation followed by a 3x3 erosion. Out-of-frame
// neighbours never erode a pixel.
func (m *Mask) close() {
	dilated := newMask(m.W, m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if m.any3(x, y) {
				dilated.Set(x, y)
			}
		}
	}
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			m.Pix[y*m.W+x] = dilated.all3(x, y)
		}
	}
}

func (m *Mask) any3(x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if m.At(x+dx, y+dy) {
				return true
			}
		}
	}
	return false
}

func (m *Mask) all3(x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= m.W || ny >= m.H {
				continue
			}
			if !m.Pix[ny*m.W+nx] {
				return false
			}
		}
	}
	return true
}

// points returns the set pixels inside r.
func (m *Mask) points(r image.Rectangle) []image.Point {
	var pts []image.Point
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if m.At(x, y) {
				pts = append(pts, image.Pt(x, y))
			}
		}
	}
	return pts
}
