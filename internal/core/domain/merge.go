package domain

import "sort"

// MergeShortItems walks items in start order and folds neighbours together
// until each emitted item lasts at least minDuration. A trailing accumulation
// that never reaches minDuration is emitted as-is. The input is not modified.
func MergeShortItems(items []TimedItem, minDuration float64) []TimedItem {
	sorted := sortedCopy(items)
	if minDuration <= 0 || len(sorted) == 0 {
		return sorted
	}

	out := make([]TimedItem, 0, len(sorted))
	var acc TimedItem
	accumulating := false
	for _, it := range sorted {
		if !accumulating {
			acc = cloneItem(it)
			accumulating = true
		} else {
			acc = absorb(acc, it)
		}
		if acc.Duration >= minDuration {
			out = append(out, acc)
			accumulating = false
		}
	}
	if accumulating {
		out = append(out, acc)
	}
	return out
}

// MergeShortItemsRecursive behaves like MergeShortItems but also folds a short
// trailing item back into its predecessor, repeating until no item is shorter
// than minDuration or a single item remains.
func MergeShortItemsRecursive(items []TimedItem, minDuration float64) []TimedItem {
	out := MergeShortItems(items, minDuration)
	if minDuration <= 0 {
		return out
	}
	// a single pass only ever leaves the last item short
	for len(out) > 1 && out[len(out)-1].Duration < minDuration {
		last := len(out) - 1
		out[last-1] = absorb(out[last-1], out[last])
		out = out[:last]
	}
	return out
}

// absorb merges next into acc. acc keeps its start.
func absorb(acc, next TimedItem) TimedItem {
	merged := acc
	merged.Duration = acc.Duration + next.Duration
	merged.Confidence = (acc.Confidence + next.Confidence) / 2
	merged.LoudnessStart = (acc.LoudnessStart + next.LoudnessStart) / 2

	if next.LoudnessMax > acc.LoudnessMax {
		merged.LoudnessMax = next.LoudnessMax
		merged.LoudnessMaxTime = next.Start - acc.Start + next.LoudnessMaxTime
	}

	merged.LoudnessEnd = next.LoudnessEnd
	merged.Loudness = next.Loudness
	merged.Tempo = next.Tempo
	merged.Key = next.Key
	merged.Mode = next.Mode
	merged.TimeSignature = next.TimeSignature

	merged.Pitches = averageVectors(acc.Pitches, next.Pitches)
	merged.Timbre = averageVectors(acc.Timbre, next.Timbre)
	return merged
}

// averageVectors averages component-wise. Components missing on one side are
// taken from the other.
func averageVectors(a, b []float64) []float64 {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]float64, n)
	for i := range out {
		switch {
		case i < len(a) && i < len(b):
			out[i] = (a[i] + b[i]) / 2
		case i < len(a):
			out[i] = a[i]
		default:
			out[i] = b[i]
		}
	}
	return out
}

func cloneItem(it TimedItem) TimedItem {
	if it.Pitches != nil {
		it.Pitches = append([]float64(nil), it.Pitches...)
	}
	if it.Timbre != nil {
		it.Timbre = append([]float64(nil), it.Timbre...)
	}
	return it
}

func sortedCopy(items []TimedItem) []TimedItem {
	out := make([]TimedItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})
	return out
}
