package metricfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"stockify/internal/game"
)

const (
	DefaultSpotifyAPIBase  = "https://api.spotify.com/v1"
	DefaultSpotifyTokenURL = "https://accounts.spotify.com/api/token"

	// maxArtistsPerRequest is the Web API limit for GET /artists?ids=.
	maxArtistsPerRequest = 50
	// tokenRefreshMargin renews the token this long before Spotify expires it.
	tokenRefreshMargin = 5 * time.Minute
)

// Spotify reads artist follower counts through the Web API using the
// client-credentials grant.
type Spotify struct {
	clientID     string
	clientSecret string
	apiBase      string
	tokenURL     string
	httpClient   *http.Client
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

type SpotifyOption func(*Spotify)

// WithEndpoints points the client at another API base and token URL.
func WithEndpoints(apiBase, tokenURL string) SpotifyOption {
	return func(s *Spotify) {
		s.apiBase = strings.TrimRight(apiBase, "/")
		s.tokenURL = tokenURL
	}
}

func WithHTTPClient(c *http.Client) SpotifyOption {
	return func(s *Spotify) { s.httpClient = c }
}

func WithClock(now func() time.Time) SpotifyOption {
	return func(s *Spotify) { s.now = now }
}

func NewSpotify(clientID, clientSecret string, opts ...SpotifyOption) *Spotify {
	s := &Spotify{
		clientID:     clientID,
		clientSecret: clientSecret,
		apiBase:      DefaultSpotifyAPIBase,
		tokenURL:     DefaultSpotifyTokenURL,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type spotifyToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type spotifyArtist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Popularity int    `json:"popularity"`
	Followers  struct {
		Total int64 `json:"total"`
	} `json:"followers"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

type artistsResponse struct {
	Artists []*spotifyArtist `json:"artists"`
}

// FetchMetrics looks up ids in batches of 50. Ids Spotify does not recognise come
// back as null entries and are left out of the result.
func (s *Spotify) FetchMetrics(ctx context.Context, ids []string) (map[string]game.Metric, error) {
	out := make(map[string]game.Metric, len(ids))
	for start := 0; start < len(ids); start += maxArtistsPerRequest {
		end := min(start+maxArtistsPerRequest, len(ids))
		artists, err := s.fetchArtists(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, a := range artists {
			if a == nil || a.ID == "" {
				continue
			}
			m := game.Metric{
				Name:       a.Name,
				Value:      a.Followers.Total,
				Popularity: a.Popularity,
			}
			if len(a.Images) > 0 {
				m.ImageURL = a.Images[0].URL
			}
			out[a.ID] = m
		}
	}
	return out, nil
}

func (s *Spotify) fetchArtists(ctx context.Context, ids []string) ([]*spotifyArtist, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := s.apiBase + "/artists?ids=" + url.QueryEscape(strings.Join(ids, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spotify artists: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		s.invalidate()
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("spotify artists status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var body artistsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode artists: %w", err)
	}
	return body.Artists, nil
}

// token returns the cached access token, requesting a new one when it is close to expiry.
func (s *Spotify) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken != "" && s.now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if s.clientID == "" || s.clientSecret == "" {
		return "", fmt.Errorf("spotify credentials are not configured")
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.clientID, s.clientSecret)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("spotify token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("spotify token status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var tok spotifyToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("spotify token response has no access_token")
	}
	s.accessToken = tok.AccessToken
	s.expiresAt = s.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenRefreshMargin)
	return s.accessToken, nil
}

func (s *Spotify) invalidate() {
	s.mu.Lock()
	s.accessToken = ""
	s.mu.Unlock()
}
