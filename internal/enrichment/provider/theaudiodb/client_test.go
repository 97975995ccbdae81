package theaudiodb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := New("testkey")
	c.client.SetBaseURL(ts.URL)
	return c
}

func TestFetchArtistReturnsReadyOnStrongMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"artists":[{"strArtist":"Daft Punk","strBiographyEN":"  French duo.  ","strGenre":"House","strArtistThumb":"http://img/daftpunk.jpg","strWebsite":"daftpunk.com"}]}`)
	})

	outcome := c.FetchArtist(context.Background(), "Daft Punk", time.Second)
	if !outcome.Ready {
		t.Fatalf("outcome = %+v, want Ready", outcome)
	}
	if outcome.Blurb != "French duo." {
		t.Errorf("Blurb = %q, want trimmed biography", outcome.Blurb)
	}
	if outcome.SourceName != "TheAudioDB" {
		t.Errorf("SourceName = %q, want TheAudioDB", outcome.SourceName)
	}
}

func TestFetchArtistNotFoundOnEmptyResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"artists":null}`)
	})

	outcome := c.FetchArtist(context.Background(), "Nobody Obscure", time.Second)
	if !outcome.NotFound {
		t.Errorf("outcome = %+v, want NotFound", outcome)
	}
}

func TestFetchArtistClassifiesRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	outcome := c.FetchArtist(context.Background(), "Daft Punk", time.Second)
	if outcome.ErrorKind != ErrRateLimited {
		t.Errorf("ErrorKind = %v, want ErrRateLimited", outcome.ErrorKind)
	}
}

func TestFetchArtistClassifiesServerErrorAsTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	outcome := c.FetchArtist(context.Background(), "Daft Punk", time.Second)
	if outcome.ErrorKind != ErrTimeout {
		t.Errorf("ErrorKind = %v, want ErrTimeout", outcome.ErrorKind)
	}
}

func TestFetchAlbumReturnsReadyOnStrongMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"album":[{"strAlbum":"Discovery","strArtist":"Daft Punk","strDescriptionEN":"Second studio album.","strAlbumThumb":"http://img/discovery.jpg"}]}`)
	})

	outcome := c.FetchAlbum(context.Background(), "Discovery", "Daft Punk", time.Second)
	if !outcome.Ready {
		t.Fatalf("outcome = %+v, want Ready", outcome)
	}
	if outcome.ImageURL != "http://img/discovery.jpg" {
		t.Errorf("ImageURL = %q, want the album thumb", outcome.ImageURL)
	}
}

func TestFetchArtistHardErrorOnMalformedTransport(t *testing.T) {
	c := New("testkey")
	c.client.SetBaseURL("http://127.0.0.1:1") // nothing listens here

	outcome := c.FetchArtist(context.Background(), "Daft Punk", time.Second)
	if outcome.ErrorKind == ErrNone {
		t.Error("expected a non-None ErrorKind on connection failure")
	}
}
