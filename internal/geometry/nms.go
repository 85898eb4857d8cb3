package geometry

import "sort"

// NonMaxSuppression deduplicates overlapping boxes with a greedy pass over the
// candidates sorted by area, largest first. The kept box suppresses any other
// box whose overlap ratio exceeds overlapThresh, where the ratio is the
// intersection area divided by the area of the compared box, not intersection
// over union.
func NonMaxSuppression(boxes []Box, overlapThresh float64) []Box {
	if len(boxes) == 0 {
		return nil
	}

	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return boxes[order[a]].Area() > boxes[order[b]].Area()
	})

	kept := make([]Box, 0, len(boxes))
	for len(order) > 0 {
		i := order[0]
		kept = append(kept, boxes[i])

		var remaining []int
		for _, j := range order[1:] {
			inter := Intersection(boxes[i], boxes[j])
			overlap := float64(inter) / (float64(boxes[j].Area()) + 1e-6)
			if overlap <= overlapThresh {
				remaining = append(remaining, j)
			}
		}
		order = remaining
	}
	return kept
}
