package wikipedia

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := New()
	c.client.SetBaseURL(ts.URL)
	return c
}

func TestFetchArtistReturnsReadyOnExactTitleVariant(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/rest_v1/page/summary/Daft Punk") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"title":"Daft Punk","extract":"French electronic duo.","content_urls":{"desktop":{"page":"https://en.wikipedia.org/wiki/Daft_Punk"}}}`)
	})

	outcome := c.FetchArtist(context.Background(), "Daft Punk", false)
	if !outcome.Ready {
		t.Fatalf("outcome = %+v, want Ready on the exact-title variant", outcome)
	}
	if outcome.SourceName != "Wikipedia" {
		t.Errorf("SourceName = %q, want Wikipedia", outcome.SourceName)
	}
}

func TestFetchArtistNotFoundWhenAllVariantsMiss(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	outcome := c.FetchArtist(context.Background(), "Totally Obscure Artist", false)
	if !outcome.NotFound {
		t.Errorf("outcome = %+v, want NotFound with broadDetail disabled", outcome)
	}
}

func TestFetchArtistFallsBackToBroadSearchOnDetailLane(t *testing.T) {
	var sawSearch bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/w/api.php") {
			sawSearch = true
			fmt.Fprint(w, `{"query":{"search":[{"title":"The Obscurists"}]}}`)
			return
		}
		if strings.Contains(r.URL.Path, "The Obscurists") {
			fmt.Fprint(w, `{"title":"The Obscurists","description":"American band","extract":"Totally Obscure Artist is a French band.","content_urls":{"desktop":{"page":"https://en.wikipedia.org/wiki/The_Obscurists"}}}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	outcome := c.FetchArtist(context.Background(), "Totally Obscure Artist", true)
	if !sawSearch {
		t.Fatal("expected the broad search endpoint to be hit once direct variants miss")
	}
	if !outcome.Ready {
		t.Errorf("outcome = %+v, want Ready from the broad search result", outcome)
	}
}

func TestFetchArtistClassifiesRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	outcome := c.FetchArtist(context.Background(), "Daft Punk", true)
	if outcome.ErrorKind != ErrRateLimited {
		t.Errorf("ErrorKind = %v, want ErrRateLimited", outcome.ErrorKind)
	}
}

func TestFetchAlbumReturnsReadyOnDirectVariant(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "Discovery (album)") {
			fmt.Fprint(w, `{"title":"Discovery (album)","extract":"2001 album by Daft Punk.","content_urls":{"desktop":{"page":"https://en.wikipedia.org/wiki/Discovery_(album)"}}}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	outcome := c.FetchAlbum(context.Background(), "Discovery", "Daft Punk", false)
	if !outcome.Ready {
		t.Fatalf("outcome = %+v, want Ready on the (album) title variant", outcome)
	}
}
