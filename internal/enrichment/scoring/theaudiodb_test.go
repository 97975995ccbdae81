package scoring

import "testing"

func TestScoreTADBArtistExactWithGenrePasses(t *testing.T) {
	c := TADBArtistCandidate{Name: "Daft Punk", Genre: "Electronic", HasGenreInfo: true}
	score, reject := ScoreTADBArtist(c, "Daft Punk")
	if reject {
		t.Fatal("expected reject=false for an exact multi-token match")
	}
	if !ArtistPassesTADB(score) {
		t.Errorf("score %v did not pass the TheAudioDB artist threshold", score)
	}
}

func TestScoreTADBArtistRejectsBelowNearExact(t *testing.T) {
	c := TADBArtistCandidate{Name: "Totally Different Band"}
	_, reject := ScoreTADBArtist(c, "Daft Punk")
	if !reject {
		t.Error("expected reject=true for a title tier below NearExact")
	}
}

func TestScoreTADBArtistRejectsSingleTokenWithoutGenre(t *testing.T) {
	// "Adele" against a near-exact-but-not-exact candidate, no genre info.
	c := TADBArtistCandidate{Name: "Adele Laurie Blue Adkins", HasGenreInfo: false}
	_, reject := ScoreTADBArtist(c, "Adele")
	if !reject {
		t.Error("expected reject=true for single-token query, NearExact tier, no genre context")
	}
}

func TestScoreTADBArtistAllowsSingleTokenExactEvenWithoutGenre(t *testing.T) {
	c := TADBArtistCandidate{Name: "Adele", HasGenreInfo: false}
	score, reject := ScoreTADBArtist(c, "Adele")
	if reject {
		t.Fatal("expected reject=false for an exact single-token match")
	}
	if !ArtistPassesTADB(score) {
		t.Errorf("score %v did not pass threshold for an exact single-token match", score)
	}
}

func TestScoreTADBAlbumRequiresArtistMatch(t *testing.T) {
	c := TADBAlbumCandidate{Album: "Random Access Memories", Artist: "Daft Punk"}
	_, reject := ScoreTADBAlbum(c, "Random Access Memories", "Justice")
	if !reject {
		t.Error("expected reject=true when the candidate's artist doesn't match the query artist")
	}

	score, reject := ScoreTADBAlbum(c, "Random Access Memories", "daft punk")
	if reject {
		t.Fatal("expected reject=false when artist matches case-insensitively")
	}
	if !AlbumPassesTADB(score) {
		t.Errorf("score %v did not pass the TheAudioDB album threshold", score)
	}
}
