package scoring

import "strings"

// WikiCandidate is the normalized view of one Wikipedia summary result the
// scorer needs; the provider package maps its API response onto this.
type WikiCandidate struct {
	Title       string
	Extract     string
	Description string // Wikipedia's short description, when present
}

const (
	artistDetailThreshold = 92
	albumDetailThreshold  = 88

	bailNoMusicSignal  = -4800
	bailSingleNoSignal = -6400
)

func containsAny(haystack string, needles ...string) bool {
	h := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(h, n) {
			return true
		}
	}
	return false
}

func isDisambiguation(c WikiCandidate) bool {
	return containsAny(c.Description, "disambiguation") || containsAny(c.Extract, "may refer to")
}

func isDiscographyOrList(c WikiCandidate) bool {
	return containsAny(c.Title, "discography", "list of") || containsAny(c.Description, "discography", "list article")
}

func isAlbumEntity(c WikiCandidate) bool {
	return containsAny(c.Description, "album", "ep by", "studio album", "mixtape")
}

func hasMusicTextContext(c WikiCandidate) bool {
	return containsAny(c.Extract, "band", "singer", "musician", "rapper", "songwriter", "record label", "music group")
}

func hasMusicCategoryContext(c WikiCandidate) bool {
	return containsAny(c.Description, "musician", "band", "singer", "rapper", "musical group", "record producer")
}

func hasArtistDisambiguatorTitle(c WikiCandidate) bool {
	return containsAny(c.Title, "(band)", "(singer)", "(musician)", "(rapper)")
}

func aliasPresent(c WikiCandidate, target string) bool {
	return containsAny(c.Extract, strings.ToLower(target))
}

// ScoreArtist implements spec.md §4.G's artist scoring formula. A result
// with score < artistDetailThreshold should be treated as NotFound on the
// Detail lane.
func ScoreArtist(c WikiCandidate, target string) (score float64, reject bool) {
	if isDisambiguation(c) || isDiscographyOrList(c) || isAlbumEntity(c) {
		return 0, true
	}

	tier := MatchTitle(c.Title, target)
	if tier < TierNearExact {
		if SingleToken(target) && !hasMusicCategoryContext(c) {
			return bailSingleNoSignal, false
		}
		if !hasMusicTextContext(c) && !hasMusicCategoryContext(c) {
			return bailNoMusicSignal, false
		}
	}

	tierScores := map[TitleTier]float64{TierExact: 180, TierNearExact: 130, TierFuzzy: 60, TierNone: 0}
	score = tierScores[tier]

	if hasMusicTextContext(c) {
		score += 32
	}
	if hasMusicCategoryContext(c) {
		score += 44
	}
	if hasArtistDisambiguatorTitle(c) {
		score += 20
	}
	if (hasMusicTextContext(c) || hasMusicCategoryContext(c)) && aliasPresent(c, target) {
		score += 105
	}
	score += WordOverlapScore(c.Extract, target)

	return score, false
}

// ArtistPasses reports whether an artist score clears the Detail threshold.
func ArtistPasses(score float64) bool { return score >= artistDetailThreshold }

// ScoreAlbum implements spec.md §4.G's album scoring formula.
func ScoreAlbum(c WikiCandidate, target, albumArtist string) (score float64, reject bool) {
	if isDisambiguation(c) || isDiscographyOrList(c) {
		return 0, true
	}

	tier := MatchTitle(c.Title, target)
	if tier < TierNearExact && !isAlbumEntity(c) {
		return 0, true
	}

	tierScores := map[TitleTier]float64{TierExact: 180, TierNearExact: 130, TierFuzzy: 60, TierNone: 0}
	score = tierScores[tier]

	if isAlbumEntity(c) {
		score += 35
	}
	if albumArtist != "" && containsAny(c.Extract, strings.ToLower(albumArtist)) {
		score += 28
	}
	score += WordOverlapScore(c.Extract, target)

	return score, false
}

// AlbumPasses reports whether an album score clears the Detail threshold.
func AlbumPasses(score float64) bool { return score >= albumDetailThreshold }
