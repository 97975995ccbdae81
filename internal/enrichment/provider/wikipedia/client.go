// Package wikipedia is the second-stage provider in the Enrichment
// Manager's cascade (spec.md §4.G step 2): direct-title variants, then on
// the Detail lane a broader search+score stage.
package wikipedia

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/arung-agamani/denpa-player/internal/enrichment/provider/theaudiodb"
	"github.com/arung-agamani/denpa-player/internal/enrichment/scoring"
)

const maxSummaryFetches = 10

type Outcome = theaudiodb.Outcome
type ErrorKind = theaudiodb.ErrorKind

const (
	ErrNone        = theaudiodb.ErrNone
	ErrTimeout     = theaudiodb.ErrTimeout
	ErrRateLimited = theaudiodb.ErrRateLimited
	ErrHard        = theaudiodb.ErrHard
)

type Client struct {
	client *resty.Client
}

func New() *Client {
	return &Client{client: resty.New().SetBaseURL("https://en.wikipedia.org")}
}

type summaryResponse struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	Description string `json:"description"`
	Thumbnail   struct {
		Source string `json:"source"`
	} `json:"thumbnail"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

func (c *Client) fetchSummary(ctx context.Context, title string) (summaryResponse, *resty.Response, error) {
	var resp summaryResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get("/api/rest_v1/page/summary/" + url.PathEscape(title))
	return resp, r, err
}

func titleVariants(name string) []string {
	variants := []string{name, name + " (band)", name + " (musician)", name + " (singer)"}
	if !strings.Contains(name, " ") {
		variants = append(variants, name+" (rapper)")
	}
	if len(variants) > 6 {
		variants = variants[:6]
	}
	return variants
}

// FetchArtist implements spec.md §4.G step 2: direct-title variants first;
// broadDetail enables the extra search+score stage for the Detail lane.
func (c *Client) FetchArtist(ctx context.Context, name string, broadDetail bool) Outcome {
	for _, title := range titleVariants(name) {
		resp, r, err := c.fetchSummary(ctx, title)
		if _, isErr := classify(r, err); isErr {
			continue // one variant erroring shouldn't kill the whole cascade
		}
		if r.StatusCode() == http.StatusNotFound {
			continue
		}
		cand := scoring.WikiCandidate{Title: resp.Title, Extract: resp.Extract, Description: resp.Description}
		score, reject := scoring.ScoreArtist(cand, name)
		if !reject && scoring.ArtistPasses(score) {
			return Outcome{
				Ready:      true,
				Blurb:      resp.Extract,
				ImageURL:   resp.Thumbnail.Source,
				SourceName: "Wikipedia",
				SourceURL:  resp.ContentURLs.Desktop.Page,
			}
		}
	}

	if !broadDetail {
		return Outcome{NotFound: true}
	}
	return c.broadSearchArtist(ctx, name)
}

func (c *Client) broadSearchArtist(ctx context.Context, name string) Outcome {
	titles, r, err := c.search(ctx, name, maxSummaryFetches)
	if outcome, isErr := classify(r, err); isErr {
		return outcome
	}

	best := Outcome{NotFound: true}
	bestScore := -1.0
	for _, title := range titles {
		resp, r2, err2 := c.fetchSummary(ctx, title)
		if _, isErr := classify(r2, err2); isErr {
			continue
		}
		cand := scoring.WikiCandidate{Title: resp.Title, Extract: resp.Extract, Description: resp.Description}
		score, reject := scoring.ScoreArtist(cand, name)
		if reject || score <= bestScore || !scoring.ArtistPasses(score) {
			continue
		}
		bestScore = score
		best = Outcome{
			Ready:      true,
			Blurb:      resp.Extract,
			ImageURL:   resp.Thumbnail.Source,
			SourceName: "Wikipedia",
			SourceURL:  resp.ContentURLs.Desktop.Page,
		}
	}
	return best
}

// FetchAlbum mirrors FetchArtist using album scoring.
func (c *Client) FetchAlbum(ctx context.Context, album, albumArtist string, broadDetail bool) Outcome {
	variants := []string{album, fmt.Sprintf("%s (album)", album), fmt.Sprintf("%s (%s album)", album, albumArtist)}
	for _, title := range variants {
		resp, r, err := c.fetchSummary(ctx, title)
		if _, isErr := classify(r, err); isErr {
			continue
		}
		if r.StatusCode() == http.StatusNotFound {
			continue
		}
		cand := scoring.WikiCandidate{Title: resp.Title, Extract: resp.Extract, Description: resp.Description}
		score, reject := scoring.ScoreAlbum(cand, album, albumArtist)
		if !reject && scoring.AlbumPasses(score) {
			return Outcome{
				Ready:      true,
				Blurb:      resp.Extract,
				ImageURL:   resp.Thumbnail.Source,
				SourceName: "Wikipedia",
				SourceURL:  resp.ContentURLs.Desktop.Page,
			}
		}
	}
	if !broadDetail {
		return Outcome{NotFound: true}
	}

	titles, r, err := c.search(ctx, album+" "+albumArtist, maxSummaryFetches)
	if outcome, isErr := classify(r, err); isErr {
		return outcome
	}
	best := Outcome{NotFound: true}
	bestScore := -1.0
	for _, title := range titles {
		resp, r2, err2 := c.fetchSummary(ctx, title)
		if _, isErr := classify(r2, err2); isErr {
			continue
		}
		cand := scoring.WikiCandidate{Title: resp.Title, Extract: resp.Extract, Description: resp.Description}
		score, reject := scoring.ScoreAlbum(cand, album, albumArtist)
		if reject || score <= bestScore || !scoring.AlbumPasses(score) {
			continue
		}
		bestScore = score
		best = Outcome{Ready: true, Blurb: resp.Extract, ImageURL: resp.Thumbnail.Source, SourceName: "Wikipedia", SourceURL: resp.ContentURLs.Desktop.Page}
	}
	return best
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

func (c *Client) search(ctx context.Context, query string, limit int) ([]string, *resty.Response, error) {
	var resp searchResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetResult(&resp).
		SetQueryParams(map[string]string{
			"action": "query",
			"list":   "search",
			"srsearch": query,
			"format":   "json",
			"srlimit":  fmt.Sprintf("%d", limit),
		}).
		Get("/w/api.php")
	if err != nil {
		return nil, r, err
	}
	titles := make([]string, 0, len(resp.Query.Search))
	for _, s := range resp.Query.Search {
		titles = append(titles, s.Title)
	}
	if len(titles) > limit {
		titles = titles[:limit]
	}
	return titles, r, nil
}

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
	case http.StatusOK, http.StatusNotFound:
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
