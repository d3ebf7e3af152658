package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/providers/common"
)

// Settings default the chart to the "Top 50 - Global" playlist.
type Settings struct {
	ClientID      string `mapstructure:"client_id" validate:"required"`
	ClientSecret  string `mapstructure:"client_secret" validate:"required"`
	Market        string `mapstructure:"market" default:"US" validate:"len=2"`
	ChartPlaylist string `mapstructure:"chart_playlist" default:"37i9dQZEVXbMDoHDwVN2tF"`
	TokenURL      string `mapstructure:"token_url"`
	APIBaseURL    string `mapstructure:"api_base_url"`
}

type Provider struct {
	name     string
	settings Settings
	client   *spotify.Client
}

type track struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []string `json:"artists,omitempty"`
	Album       string   `json:"album,omitempty"`
	ReleaseDate string   `json:"release_date,omitempty"`
	Image       string   `json:"image,omitempty"`
	URL         string   `json:"url,omitempty"`
	ISRC        string   `json:"isrc,omitempty"`
	Popularity  int      `json:"popularity,omitempty"`
	Markets     int      `json:"markets,omitempty"`
	Rank        int      `json:"rank"`
	Chart       bool     `json:"chart,omitempty"`
	AddedAt     string   `json:"added_at,omitempty"`
}

// NewProvider authenticates with the client credentials flow. The token
// endpoint and API calls share the instrumented client from deps.
func NewProvider(name string, settings Settings, deps common.Deps) *Provider {
	tokenURL := settings.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	credentials := clientcredentials.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		TokenURL:     tokenURL,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, deps.Client())
	httpClient := credentials.Client(ctx)

	var opts []spotify.ClientOption
	if settings.APIBaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(strings.TrimRight(settings.APIBaseURL, "/")+"/"))
	}
	settings.Market = strings.ToUpper(settings.Market)
	return &Provider{
		name:     name,
		settings: settings,
		client:   spotify.New(httpClient, opts...),
	}
}

func New(cfg domain.ProviderConfig, deps common.Deps) (*Provider, error) {
	var settings Settings
	if err := common.DecodeSettings(cfg.Settings, &settings); err != nil {
		return nil, errors.Wrap(err, "spotify settings")
	}
	return NewProvider(cfg.Key(), settings, deps), nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Search(ctx context.Context, query domain.ProviderQuery) (domain.RawPage, error) {
	limit := query.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	market := p.settings.Market
	if len(query.Region) == 2 {
		market = strings.ToUpper(query.Region)
	}

	if query.Chart {
		return p.chart(ctx, limit, market)
	}

	text := strings.TrimSpace(query.Text())
	if query.Year > 0 {
		text = fmt.Sprintf("%s year:%d", text, query.Year)
	}
	result, err := p.client.Search(ctx, text, spotify.SearchTypeTrack, spotify.Limit(limit), spotify.Market(market))
	if err != nil {
		return domain.RawPage{}, p.classify(err)
	}

	var tracks []track
	if result.Tracks != nil {
		tracks = make([]track, 0, len(result.Tracks.Tracks))
		for i := range result.Tracks.Tracks {
			tracks = append(tracks, convertTrack(&result.Tracks.Tracks[i], len(tracks)+1))
		}
	}
	return common.Page(common.Response{StatusCode: http.StatusOK}, tracks)
}

func (p *Provider) chart(ctx context.Context, limit int, market string) (domain.RawPage, error) {
	page, err := p.client.GetPlaylistItems(ctx, spotify.ID(p.settings.ChartPlaylist),
		spotify.Limit(limit),
		spotify.Offset(0),
		spotify.Market(market),
	)
	if err != nil {
		return domain.RawPage{}, p.classify(err)
	}

	tracks := make([]track, 0, len(page.Items))
	for _, item := range page.Items {
		// episodes are skipped
		if item.Track.Track == nil || item.Track.Track.ID == "" {
			continue
		}
		converted := convertTrack(item.Track.Track, len(tracks)+1)
		converted.Chart = true
		converted.AddedAt = item.AddedAt
		tracks = append(tracks, converted)
	}
	return common.Page(common.Response{StatusCode: http.StatusOK}, tracks)
}

func convertTrack(t *spotify.FullTrack, rank int) track {
	out := track{
		ID:          t.ID.String(),
		Name:        t.Name,
		Album:       t.Album.Name,
		ReleaseDate: t.Album.ReleaseDate,
		URL:         t.ExternalURLs["spotify"],
		ISRC:        t.ExternalIDs["isrc"],
		Popularity:  int(t.Popularity),
		Markets:     len(t.AvailableMarkets),
		Rank:        rank,
	}
	for _, artist := range t.Artists {
		out.Artists = append(out.Artists, artist.Name)
	}
	if len(t.Album.Images) > 0 {
		out.Image = t.Album.Images[0].URL
	}
	return out
}

// classify maps API and token errors onto the provider error taxonomy.
func (p *Provider) classify(err error) error {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) && apiErr.Status > 0 {
		return domain.StatusError(p.name, apiErr.Status, apiErr.Message)
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) && tokenErr.Response != nil {
		return domain.StatusError(p.name, tokenErr.Response.StatusCode, "token: "+string(tokenErr.Body))
	}
	var decodeErr *json.SyntaxError
	if errors.As(err, &decodeErr) {
		return &domain.ProviderError{Source: p.name, Class: domain.ClassPermanent, Message: "malformed payload", Err: err}
	}
	return domain.TransientError(p.name, err)
}

func (p *Provider) Normalize(raw json.RawMessage) (domain.NormalizedItem, error) {
	var entry track
	if err := common.DecodeItem(p.name, raw, &entry); err != nil {
		return domain.NormalizedItem{}, err
	}
	if entry.ID == "" {
		return domain.NormalizedItem{}, errors.Newf("%s: track without id", p.name)
	}

	ids := map[string]string{"spotify": entry.ID}
	if entry.ISRC != "" {
		ids["isrc"] = strings.ToUpper(entry.ISRC)
	}
	item := domain.NormalizedItem{
		ExternalID:  entry.ID,
		Title:       entry.Name,
		Kind:        domain.KindMusic,
		Year:        common.ParseYear(entry.ReleaseDate),
		ExternalIDs: ids,
		Overview:    entry.Album,
		Poster:      entry.Image,
		Rating:      float64(entry.Popularity) / 10,
		Artists:     entry.Artists,
		URL:         entry.URL,
		Confidence:  common.RankConfidence(entry.Rank, 0.9, 0.01, 0.5),
	}
	if entry.Chart {
		item.Rank = entry.Rank
		item.PublishedAt = common.ParseDate(entry.AddedAt)
	}
	return item, nil
}
