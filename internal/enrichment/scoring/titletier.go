// Package scoring implements the title-matching tiers and per-provider
// scoring formulas the Enrichment Manager uses to decide whether a
// candidate result actually matches the entity it was fetched for
// (spec.md §4.G).
package scoring

import "strings"

// TitleTier orders how closely a candidate title matches a target, used
// both as an acceptance filter and as a scoring term.
type TitleTier int

const (
	TierNone TitleTier = iota
	TierFuzzy
	TierNearExact
	TierExact
)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// compactForm strips everything but letters and digits, lowercased, so
// "The Beatles" and "thebeatles" compare equal.
func compactForm(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenOverlap returns the fraction of target's tokens that also appear in
// candidate, used for the Fuzzy tier and as a standalone scoring term.
func tokenOverlap(candidate, target string) float64 {
	targetTokens := strings.Fields(normalize(target))
	if len(targetTokens) == 0 {
		return 0
	}
	candidateSet := make(map[string]bool)
	for _, t := range strings.Fields(normalize(candidate)) {
		candidateSet[t] = true
	}
	hits := 0
	for _, t := range targetTokens {
		if candidateSet[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(targetTokens))
}

// MatchTitle classifies candidate against target per spec.md §4.G's tier
// definitions: Exact requires normalized or compact-form equality; NearExact
// requires a normalized prefix match or compact-form equality; Fuzzy
// requires ≥60% token overlap.
func MatchTitle(candidate, target string) TitleTier {
	nc, nt := normalize(candidate), normalize(target)
	cc, ct := compactForm(candidate), compactForm(target)

	if nc == nt || (cc != "" && cc == ct) {
		return TierExact
	}
	if strings.HasPrefix(nc, nt) || (cc != "" && cc == ct) {
		return TierNearExact
	}
	if tokenOverlap(candidate, target) >= 0.6 {
		return TierFuzzy
	}
	return TierNone
}

// WordOverlapScore returns tokenOverlap scaled by 40, the scoring term
// spec.md calls "normalized word overlap (×40)".
func WordOverlapScore(candidate, target string) float64 {
	return tokenOverlap(candidate, target) * 40
}

func singleToken(s string) bool {
	return len(strings.Fields(normalize(s))) <= 1
}

// SingleToken reports whether target is a single-word query, used to gate
// the single-token bail rules on both the Wikipedia and TheAudioDB stages.
func SingleToken(target string) bool {
	return singleToken(target)
}
