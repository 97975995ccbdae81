// Package opensubsonic is the concrete RemoteAdapter for OpenSubsonic-style
// servers (spec.md §4.F, §6 External Interfaces), built on go-resty/resty/v2
// rather than raw net/http.
package opensubsonic

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/arung-agamani/denpa-player/internal/model"
)

const apiVersion = "1.16.1"
const clientName = "denpa-player"

// Adapter implements integration.RemoteAdapter against the OpenSubsonic
// REST API (token-based auth per the subsonic-rest-api spec).
type Adapter struct {
	client *resty.Client
}

func New() *Adapter {
	return &Adapter{
		client: resty.New().SetTimeout(15 * time.Second),
	}
}

type subsonicEnvelope struct {
	SubsonicResponse struct {
		Status        string         `json:"status"`
		Error         *subsonicError `json:"error,omitempty"`
		MusicFolders  *folderList    `json:"musicFolders,omitempty"`
		Directory     *directory     `json:"directory,omitempty"`
		Playlists     *playlistList  `json:"playlists,omitempty"`
		Playlist      *playlistDetail `json:"playlist,omitempty"`
	} `json:"subsonic-response"`
}

type subsonicError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type folderList struct {
	MusicFolder []struct {
		ID int `json:"id"`
	} `json:"musicFolder"`
}

type directory struct {
	Child []song `json:"child"`
}

type song struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Path     string `json:"path"`
	Duration int    `json:"duration"`
}

type playlistList struct {
	Playlist []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"playlist"`
}

type playlistDetail struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Entry []song `json:"entry"`
}

// authParams builds the token-auth query params the OpenSubsonic API
// requires on every request (salted md5 of password, never the plaintext).
func authParams(username, password string) map[string]string {
	salt := fmt.Sprintf("%x", rand.Int63())
	sum := md5.Sum([]byte(password + salt))
	token := hex.EncodeToString(sum[:])
	return map[string]string{
		"u": username,
		"t": token,
		"s": salt,
		"v": apiVersion,
		"c": clientName,
		"f": "json",
	}
}

func (a *Adapter) call(ctx context.Context, baseURL, username, password, endpoint string, extra url.Values) (*subsonicEnvelope, error) {
	params := authParams(username, password)
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	for k, vs := range extra {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	var envelope subsonicEnvelope
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		SetResult(&envelope).
		Get(baseURL + "/rest/" + endpoint)
	if err != nil {
		return nil, fmt.Errorf("opensubsonic: request %s: %w", endpoint, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("opensubsonic: %s returned HTTP %d", endpoint, resp.StatusCode())
	}
	if envelope.SubsonicResponse.Status != "ok" {
		if envelope.SubsonicResponse.Error != nil {
			return nil, fmt.Errorf("opensubsonic: %s failed (%d): %s", endpoint, envelope.SubsonicResponse.Error.Code, envelope.SubsonicResponse.Error.Message)
		}
		return nil, fmt.Errorf("opensubsonic: %s returned non-ok status", endpoint)
	}
	return &envelope, nil
}

func (a *Adapter) Test(ctx context.Context, baseURL, username, password string) error {
	_, err := a.call(ctx, baseURL, username, password, "ping", nil)
	return err
}

func (a *Adapter) FetchLibrary(ctx context.Context, baseURL, username, password, profileID string) ([]model.Track, error) {
	folders, err := a.call(ctx, baseURL, username, password, "getMusicFolders", nil)
	if err != nil {
		return nil, err
	}

	var out []model.Track
	if folders.SubsonicResponse.MusicFolders == nil {
		return out, nil
	}
	for _, folder := range folders.SubsonicResponse.MusicFolders.MusicFolder {
		envelope, err := a.call(ctx, baseURL, username, password, "getMusicDirectory", url.Values{
			"id": {fmt.Sprintf("%d", folder.ID)},
		})
		if err != nil {
			return nil, err
		}
		if envelope.SubsonicResponse.Directory == nil {
			continue
		}
		for _, s := range envelope.SubsonicResponse.Directory.Child {
			out = append(out, model.Track{
				ID:   s.ID,
				Path: model.RemoteTrackRef(profileID, s.ID),
			})
		}
	}
	return out, nil
}

func (a *Adapter) FetchPlaylists(ctx context.Context, baseURL, username, password string) ([]string, error) {
	envelope, err := a.call(ctx, baseURL, username, password, "getPlaylists", nil)
	if err != nil {
		return nil, err
	}
	if envelope.SubsonicResponse.Playlists == nil {
		return nil, nil
	}
	out := make([]string, 0, len(envelope.SubsonicResponse.Playlists.Playlist))
	for _, p := range envelope.SubsonicResponse.Playlists.Playlist {
		out = append(out, p.ID)
	}
	return out, nil
}

// ReplacePlaylistTracks overwrites remoteID's track list. OpenSubsonic's
// updatePlaylist endpoint only appends/removes by index, so the existing
// playlist is fetched first and every current entry is removed before the
// new song IDs are appended in order.
func (a *Adapter) ReplacePlaylistTracks(ctx context.Context, baseURL, username, password, remoteID string, songIDs []string) error {
	existing, err := a.call(ctx, baseURL, username, password, "getPlaylist", url.Values{"id": {remoteID}})
	if err != nil {
		return err
	}

	params := url.Values{"playlistId": {remoteID}}
	if existing.SubsonicResponse.Playlist != nil {
		for i := range existing.SubsonicResponse.Playlist.Entry {
			params.Add("songIndexToRemove", fmt.Sprintf("%d", i))
		}
	}
	for _, id := range songIDs {
		params.Add("songIdToAdd", id)
	}

	_, err = a.call(ctx, baseURL, username, password, "updatePlaylist", params)
	return err
}
