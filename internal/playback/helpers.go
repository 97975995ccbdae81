package playback

import (
	"math/rand"
	"sort"

	"github.com/arung-agamani/denpa-player/internal/model"
)

func cloneTracks(tracks []model.Track) []model.Track {
	out := make([]model.Track, len(tracks))
	copy(out, tracks)
	return out
}

func orderChanged(a, b []model.Track) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return true
		}
	}
	return false
}

func insertAtIndex(tracks []model.Track, at int, inserted []model.Track) []model.Track {
	if at < 0 {
		at = 0
	}
	if at > len(tracks) {
		at = len(tracks)
	}
	out := make([]model.Track, 0, len(tracks)+len(inserted))
	out = append(out, tracks[:at]...)
	out = append(out, inserted...)
	out = append(out, tracks[at:]...)
	return out
}

func sortDescending(indices []int) {
	sort.Sort(sort.Reverse(sort.IntSlice(indices)))
}

// moveToGap relocates the tracks at indices to sit contiguously starting at
// the gap anchored by to (spec.md §4.D's ReorderTracks{indices, to}).
func moveToGap(tracks []model.Track, indices []int, to int) []model.Track {
	moveSet := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(tracks) {
			moveSet[i] = true
		}
	}
	if len(moveSet) == 0 {
		return tracks
	}

	moved := make([]model.Track, 0, len(moveSet))
	rest := make([]model.Track, 0, len(tracks)-len(moveSet))
	// how many moved entries sit before the gap index in the original list,
	// so the gap position in `rest` coordinates can be recovered.
	movedBeforeGap := 0
	for i, t := range tracks {
		if moveSet[i] {
			moved = append(moved, t)
			if i < to {
				movedBeforeGap++
			}
			continue
		}
		rest = append(rest, t)
	}

	gapInRest := to - movedBeforeGap
	if gapInRest < 0 {
		gapInRest = 0
	}
	if gapInRest > len(rest) {
		gapInRest = len(rest)
	}

	out := make([]model.Track, 0, len(tracks))
	out = append(out, rest[:gapInRest]...)
	out = append(out, moved...)
	out = append(out, rest[gapInRest:]...)
	return out
}

func freshShuffle(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rand.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
