package verifier

import "sort"

// interval is a closed range on the lane's arc coordinate.
type interval struct {
	lo, hi float64
}

func (iv interval) empty() bool { return iv.hi <= iv.lo }

// subtract removes the blocked range from iv, yielding 0, 1 or 2
// remaining intervals.
func (iv interval) subtract(blocked interval) []interval {
	if blocked.hi <= iv.lo || blocked.lo >= iv.hi {
		return []interval{iv}
	}
	var out []interval
	if blocked.lo > iv.lo {
		out = append(out, interval{iv.lo, blocked.lo})
	}
	if blocked.hi < iv.hi {
		out = append(out, interval{blocked.hi, iv.hi})
	}
	return out
}

// mergeIntervals unions overlapping or touching intervals.
func mergeIntervals(ivs []interval) []interval {
	if len(ivs) < 2 {
		return ivs
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].lo < ivs[j].lo })
	out := ivs[:1]
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if iv.lo <= last.hi {
			if iv.hi > last.hi {
				last.hi = iv.hi
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}
