// Package theaudiodb is the TheAudioDB provider stage of the Enrichment
// Manager's cascade (spec.md §4.G step 1): direct name search with scored
// candidates, behind the shared global leaky bucket.
package theaudiodb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/arung-agamani/denpa-player/internal/enrichment/scoring"
)

// Outcome is the classified result of one TheAudioDB attempt.
type Outcome struct {
	Ready      bool
	NotFound   bool
	ErrorKind  ErrorKind
	Blurb      string
	ImageURL   string
	SourceName string
	SourceURL  string
}

type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrTimeout
	ErrRateLimited
	ErrHard
)

type Client struct {
	client *resty.Client
	apiKey string
}

func New(apiKey string) *Client {
	return &Client{
		client: resty.New().SetBaseURL("https://www.theaudiodb.com/api/v1/json"),
		apiKey: apiKey,
	}
}

type artistSearchResponse struct {
	Artists []struct {
		Name       string `json:"strArtist"`
		Biography  string `json:"strBiographyEN"`
		Genre      string `json:"strGenre"`
		Thumb      string `json:"strArtistThumb"`
		Website    string `json:"strWebsite"`
	} `json:"artists"`
}

type albumSearchResponse struct {
	Albums []struct {
		Album       string `json:"strAlbum"`
		Artist      string `json:"strArtist"`
		Description string `json:"strDescriptionEN"`
		Thumb       string `json:"strAlbumThumb"`
	} `json:"album"`
}

func (c *Client) FetchArtist(ctx context.Context, name string, timeout time.Duration) Outcome {
	var resp artistSearchResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get(fmt.Sprintf("/%s/search.php?s=%s", c.apiKey, url.QueryEscape(name)))
	if outcome, isErr := classify(r, err); isErr {
		return outcome
	}
	if len(resp.Artists) == 0 {
		return Outcome{NotFound: true}
	}

	var best *struct {
		Name      string
		Biography string
		Genre     string
		Thumb     string
		Website   string
	}
	bestScore := -1.0
	for _, a := range resp.Artists {
		cand := scoring.TADBArtistCandidate{Name: a.Name, Genre: a.Genre, HasGenreInfo: a.Genre != ""}
		score, reject := scoring.ScoreTADBArtist(cand, name)
		if reject || score <= bestScore {
			continue
		}
		bestScore = score
		best = &struct {
			Name      string
			Biography string
			Genre     string
			Thumb     string
			Website   string
		}{a.Name, a.Biography, a.Genre, a.Thumb, a.Website}
	}
	if best == nil || !scoring.ArtistPassesTADB(bestScore) {
		return Outcome{NotFound: true}
	}
	return Outcome{
		Ready:      true,
		Blurb:      strings.TrimSpace(best.Biography),
		ImageURL:   best.Thumb,
		SourceName: "TheAudioDB",
		SourceURL:  best.Website,
	}
}

func (c *Client) FetchAlbum(ctx context.Context, album, artist string, timeout time.Duration) Outcome {
	var resp albumSearchResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get(fmt.Sprintf("/%s/searchalbum.php?s=%s&a=%s", c.apiKey, url.QueryEscape(artist), url.QueryEscape(album)))
	if outcome, isErr := classify(r, err); isErr {
		return outcome
	}
	if len(resp.Albums) == 0 {
		return Outcome{NotFound: true}
	}

	var best *struct {
		Album       string
		Description string
		Thumb       string
	}
	bestScore := -1.0
	for _, a := range resp.Albums {
		cand := scoring.TADBAlbumCandidate{Album: a.Album, Artist: a.Artist}
		score, reject := scoring.ScoreTADBAlbum(cand, album, artist)
		if reject || score <= bestScore {
			continue
		}
		bestScore = score
		best = &struct {
			Album       string
			Description string
			Thumb       string
		}{a.Album, a.Description, a.Thumb}
	}
	if best == nil || !scoring.AlbumPassesTADB(bestScore) {
		return Outcome{NotFound: true}
	}
	return Outcome{
		Ready:      true,
		Blurb:      strings.TrimSpace(best.Description),
		ImageURL:   best.Thumb,
		SourceName: "TheAudioDB",
	}
}

// classify maps a resty response/error onto spec.md §4.G's HTTP failure
// classification: 429 -> RateLimited; 408/500/502/503/504 -> Timeout;
// transport "timed out" -> Timeout; otherwise -> Hard.
func classify(r *resty.Response, err error) (Outcome, bool) {
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timed out") || strings.Contains(strings.ToLower(err.Error()), "deadline exceeded") {
			return Outcome{ErrorKind: ErrTimeout}, true
		}
		return Outcome{ErrorKind: ErrHard}, true
	}
	if r == nil {
		return Outcome{ErrorKind: ErrHard}, true
	}
	switch r.StatusCode() {
	case http.StatusOK:
		return Outcome{}, false
	case http.StatusTooManyRequests:
		return Outcome{ErrorKind: ErrRateLimited}, true
	case http.StatusRequestTimeout, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Outcome{ErrorKind: ErrTimeout}, true
	default:
		return Outcome{ErrorKind: ErrHard}, true
	}
}
