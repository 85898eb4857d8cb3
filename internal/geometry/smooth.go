package geometry

import "sort"

// MedianWindow keeps a bounded FIFO of recent integer samples and reports
// their median. A short window resists single-frame spikes without the lag a
// mean would introduce.
type MedianWindow struct {
	size    int
	samples []int
}

// NewMedianWindow returns a window holding at most size samples. Sizes below
// one fall back to one.
func NewMedianWindow(size int) *MedianWindow {
	if size < 1 {
		size = 1
	}
	return &MedianWindow{size: size}
}

// Push appends a sample, evicting the oldest one once the window is full.
func (m *MedianWindow) Push(v int) {
	m.samples = append(m.samples, v)
	if len(m.samples) > m.size {
		m.samples = m.samples[1:]
	}
}

// Median returns the median of the samples seen so far, zero when empty.
// Even-length windows average the two middle samples, truncated toward zero.
func (m *MedianWindow) Median() int {
	n := len(m.samples)
	if n == 0 {
		return 0
	}

	sorted := make([]int, n)
	copy(sorted, m.samples)
	sort.Ints(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Len reports how many samples the window currently holds.
func (m *MedianWindow) Len() int {
	return len(m.samples)
}

// Reset drops all samples.
func (m *MedianWindow) Reset() {
	m.samples = m.samples[:0]
}
