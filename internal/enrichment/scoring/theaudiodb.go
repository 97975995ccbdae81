package scoring

import "strings"

const (
	theAudioDBArtistThreshold = 96
	theAudioDBAlbumThreshold  = 90
)

// TADBArtistCandidate is the normalized view of a TheAudioDB artist result.
type TADBArtistCandidate struct {
	Name         string
	Genre        string
	HasGenreInfo bool
}

// TADBAlbumCandidate is the normalized view of a TheAudioDB album result.
type TADBAlbumCandidate struct {
	Album  string
	Artist string
}

// ScoreTADBArtist implements spec.md §4.G's TheAudioDB artist scoring:
// title tier must be ≥ NearExact; single-token queries without genre
// context are bailed unless the match is Exact.
func ScoreTADBArtist(c TADBArtistCandidate, target string) (score float64, reject bool) {
	tier := MatchTitle(c.Name, target)
	if tier < TierNearExact {
		return 0, true
	}
	if SingleToken(target) && !c.HasGenreInfo && tier != TierExact {
		return 0, true
	}

	tierScores := map[TitleTier]float64{TierExact: 100, TierNearExact: 70, TierFuzzy: 30, TierNone: 0}
	score = tierScores[tier]
	if c.HasGenreInfo {
		score += 10
	}
	return score, false
}

func ArtistPassesTADB(score float64) bool { return score >= theAudioDBArtistThreshold }

// ScoreTADBAlbum implements spec.md §4.G's TheAudioDB album scoring: the
// album's artist must match the query artist (normalized or compact form).
func ScoreTADBAlbum(c TADBAlbumCandidate, targetAlbum, targetArtist string) (score float64, reject bool) {
	artistMatches := strings.EqualFold(c.Artist, targetArtist) || compactForm(c.Artist) == compactForm(targetArtist)
	if !artistMatches {
		return 0, true
	}

	tier := MatchTitle(c.Album, targetAlbum)
	if tier < TierNearExact {
		return 0, true
	}

	tierScores := map[TitleTier]float64{TierExact: 100, TierNearExact: 70, TierFuzzy: 30, TierNone: 0}
	return tierScores[tier], false
}

func AlbumPassesTADB(score float64) bool { return score >= theAudioDBAlbumThreshold }
