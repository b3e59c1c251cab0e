// Package api is the typed HTTP client for the simulation server's REST
// surface. It implements the collaborator interfaces the world synchronizer
// consumes; every method is a plain request/response call with no retry or
// caching policy of its own.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mortalpath/client/internal/world"
)

const defaultTimeout = 15 * time.Second

// Config tunes a Client. BaseURL is required, e.g. "http://127.0.0.1:8000".
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to the simulation server over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a client for the given base URL.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}
}

// FetchFullState pulls the authoritative world snapshot.
func (c *Client) FetchFullState(ctx context.Context) (*world.FullState, error) {
	var state world.FullState
	if err := c.getJSON(ctx, "/api/state", nil, &state); err != nil {
		return nil, fmt.Errorf("fetch state: %w", err)
	}
	return &state, nil
}

// FetchMap pulls the tile matrix, region table, and frontend config blob.
func (c *Client) FetchMap(ctx context.Context) (*world.MapData, error) {
	var data world.MapData
	if err := c.getJSON(ctx, "/api/map", nil, &data); err != nil {
		return nil, fmt.Errorf("fetch map: %w", err)
	}
	return &data, nil
}

// FetchEventPage pulls one page of historical events, newest-first, under
// the given filter.
func (c *Client) FetchEventPage(ctx context.Context, filter world.EventFilter, cursor string, limit int) (*world.EventPage, error) {
	query := url.Values{}
	if filter.AvatarID != "" {
		query.Set("avatar_id", filter.AvatarID)
	}
	if filter.AvatarID1 != "" {
		query.Set("avatar_id_1", filter.AvatarID1)
	}
	if filter.AvatarID2 != "" {
		query.Set("avatar_id_2", filter.AvatarID2)
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var page world.EventPage
	if err := c.getJSON(ctx, "/api/events", query, &page); err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	return &page, nil
}

// ListPhenomena pulls the phenomenon catalogue.
func (c *Client) ListPhenomena(ctx context.Context) ([]world.Phenomenon, error) {
	var payload struct {
		Phenomena []world.Phenomenon `json:"phenomena"`
	}
	if err := c.getJSON(ctx, "/api/meta/phenomena", nil, &payload); err != nil {
		return nil, fmt.Errorf("list phenomena: %w", err)
	}
	return payload.Phenomena, nil
}

// SetPhenomenon asks the server to switch the active phenomenon.
func (c *Client) SetPhenomenon(ctx context.Context, id int) error {
	if err := c.postJSON(ctx, "/api/control/set_phenomenon", map[string]any{"id": id}, nil); err != nil {
		return fmt.Errorf("set phenomenon: %w", err)
	}
	return nil
}

// Pause suspends the simulation.
func (c *Client) Pause(ctx context.Context) error {
	if err := c.postJSON(ctx, "/api/control/pause", map[string]any{}, nil); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// Resume continues a paused simulation.
func (c *Client) Resume(ctx context.Context) error {
	if err := c.postJSON(ctx, "/api/control/resume", map[string]any{}, nil); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

// SaveGame asks the server to write a save file. An empty filename lets the
// server choose one; the chosen name is returned.
func (c *Client) SaveGame(ctx context.Context, filename string) (string, error) {
	var result struct {
		Status   string `json:"status"`
		Filename string `json:"filename"`
	}
	body := map[string]any{}
	if filename != "" {
		body["filename"] = filename
	}
	if err := c.postJSON(ctx, "/api/game/save", body, &result); err != nil {
		return "", fmt.Errorf("save game: %w", err)
	}
	return result.Filename, nil
}

// LoadGame asks the server to load a save file. On success the caller must
// reinitialize the replica; the loaded world replaces server state wholesale.
func (c *Client) LoadGame(ctx context.Context, filename string) error {
	if err := c.postJSON(ctx, "/api/game/load", map[string]any{"filename": filename}, nil); err != nil {
		return fmt.Errorf("load game: %w", err)
	}
	return nil
}

// ReinitGame asks the server to rebuild the world. On success the caller
// must reinitialize the replica.
func (c *Client) ReinitGame(ctx context.Context) error {
	if err := c.postJSON(ctx, "/api/control/reinit", map[string]any{}, nil); err != nil {
		return fmt.Errorf("reinit game: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
