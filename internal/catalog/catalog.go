// Package catalog resolves anime theme references against the AnimeThemes REST API.
//
// A reference names a show by its catalog slug and a theme within it, as in "bocchi_the_rock/OP1".
// Lookups are rate limited per [Client].
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.animethemes.moe"
	includes       = "animethemes.song,animethemes.animethemeentries.videos,animethemes.animethemeentries.videos.audio"
)

// Ref identifies one theme of one show.
type Ref struct {
	Anime string
	Theme string
}

func (r Ref) String() string { return r.Anime + "/" + r.Theme }

// ParseRef splits "anime/THEME". The theme slug is upper-cased to match the catalog.
func ParseRef(s string) (Ref, error) {
	anime, theme, ok := strings.Cut(strings.TrimSpace(s), "/")
	anime, theme = strings.TrimSpace(anime), strings.ToUpper(strings.TrimSpace(theme))
	if !ok || anime == "" || theme == "" {
		return Ref{}, fmt.Errorf("%w: theme reference %q, want anime/OP1", shared.ErrInvalidInput, s)
	}
	return Ref{Anime: anime, Theme: theme}, nil
}

type animeResponse struct {
	Anime apiAnime `json:"anime"`
}

type apiAnime struct {
	Name   string     `json:"name"`
	Slug   string     `json:"slug"`
	Themes []apiTheme `json:"animethemes"`
}

type apiTheme struct {
	ID      int        `json:"id"`
	Type    string     `json:"type"`
	Slug    string     `json:"slug"`
	Song    *apiSong   `json:"song"`
	Entries []apiEntry `json:"animethemeentries"`
}

type apiSong struct {
	Title string `json:"title"`
}

type apiEntry struct {
	Videos []apiVideo `json:"videos"`
}

type apiVideo struct {
	Link  string    `json:"link"`
	Audio *apiAudio `json:"audio"`
}

type apiAudio struct {
	Link string `json:"link"`
}

// Client is an AnimeThemes API client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	preferAudio bool
}

type ClientOpts struct {
	BaseURL    string
	HTTPClient *http.Client
	// RateLimit is requests per second; zero means unlimited.
	RateLimit float64
	// PreferAudio picks the audio-only link over the video when both exist.
	PreferAudio bool
}

func NewClient(opts ClientOpts) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  opts.HTTPClient,
		limiter:     rate.NewLimiter(limit, 1),
		preferAudio: opts.PreferAudio,
	}
}

// FromConfig builds a client from the [catalog] config table.
func FromConfig(cfg shared.CatalogConfig) *Client {
	return NewClient(ClientOpts{BaseURL: cfg.BaseURL, RateLimit: cfg.RateLimit})
}

// LookupTheme resolves one theme to an unsaved track. Missing shows and themes report
// [shared.ErrNotFound].
func (c *Client) LookupTheme(ctx context.Context, animeSlug, themeSlug string) (*models.Track, error) {
	ref, err := ParseRef(animeSlug + "/" + themeSlug)
	if err != nil {
		return nil, err
	}

	anime, err := c.anime(ctx, ref.Anime)
	if err != nil {
		return nil, err
	}

	for _, th := range anime.Themes {
		if !strings.EqualFold(th.Slug, ref.Theme) {
			continue
		}
		return c.track(anime, th)
	}
	return nil, fmt.Errorf("%w: theme %s", shared.ErrNotFound, ref)
}

// Lookup resolves a parsed reference.
func (c *Client) Lookup(ctx context.Context, ref Ref) (*models.Track, error) {
	return c.LookupTheme(ctx, ref.Anime, ref.Theme)
}

func (c *Client) track(anime *apiAnime, th apiTheme) (*models.Track, error) {
	kind, err := models.ParseThemeKind(th.Type)
	if err != nil {
		return nil, err
	}
	title := th.Slug
	if th.Song != nil && th.Song.Title != "" {
		title = th.Song.Title
	}
	return &models.Track{
		SongID:   strconv.Itoa(th.ID),
		Title:    title,
		Show:     anime.Name,
		Kind:     kind,
		MediaURL: c.mediaURL(th),
	}, nil
}

// mediaURL picks the first playable link. Themes without one come back with no locator and
// are skipped by the player.
func (c *Client) mediaURL(th apiTheme) string {
	var video string
	for _, e := range th.Entries {
		for _, v := range e.Videos {
			if c.preferAudio && v.Audio != nil && v.Audio.Link != "" {
				return v.Audio.Link
			}
			if video == "" && v.Link != "" {
				video = v.Link
			}
		}
	}
	return video
}

func (c *Client) anime(ctx context.Context, slug string) (*apiAnime, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{"include": {includes}}
	apiURL := fmt.Sprintf("%s/anime/%s?%s", c.baseURL, url.PathEscape(slug), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: anime %s", shared.ErrNotFound, slug)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out animeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
	}
	return &out.Anime, nil
}
