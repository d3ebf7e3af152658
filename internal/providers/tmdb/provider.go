package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/providers/common"
)

const redisCacheKey = "discovery:tmdb:"

type Settings struct {
	APIKey       string        `mapstructure:"api_key" validate:"required"`
	BaseURL      string        `mapstructure:"base_url" default:"https://api.themoviedb.org/3" validate:"url"`
	ImageBaseURL string        `mapstructure:"image_base_url" default:"https://image.tmdb.org/t/p/w300"`
	SiteURL      string        `mapstructure:"site_url" default:"https://www.themoviedb.org"`
	Language     string        `mapstructure:"language" default:"en-US"`
	TimeWindow   string        `mapstructure:"time_window" default:"week" validate:"oneof=day week"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl" default:"6h"`
}

type Provider struct {
	name     string
	settings Settings
	fetcher  common.Fetcher
	redis    *redis.Client
}

// SearchResult mirrors one entry of the TMDB search and trending endpoints.
type SearchResult struct {
	ID            int      `json:"id"`
	Title         string   `json:"title,omitempty"`
	Name          string   `json:"name,omitempty"`
	OriginalTitle string   `json:"original_title,omitempty"`
	OriginalName  string   `json:"original_name,omitempty"`
	Overview      string   `json:"overview,omitempty"`
	PosterPath    string   `json:"poster_path,omitempty"`
	VoteAverage   float64  `json:"vote_average,omitempty"`
	ReleaseDate   string   `json:"release_date,omitempty"`
	FirstAirDate  string   `json:"first_air_date,omitempty"`
	MediaType     string   `json:"media_type,omitempty"`
	GenreIDs      []int    `json:"genre_ids,omitempty"`
	OriginCountry []string `json:"origin_country,omitempty"`
}

func (r SearchResult) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

func (r SearchResult) OriginalDisplayTitle() string {
	if r.OriginalTitle != "" {
		return r.OriginalTitle
	}
	return r.OriginalName
}

func (r SearchResult) Date() string {
	if r.ReleaseDate != "" {
		return r.ReleaseDate
	}
	return r.FirstAirDate
}

// item is what travels in the raw page: the upstream entry plus the context
// Normalize needs.
type item struct {
	SearchResult
	Rank      int    `json:"rank"`
	Chart     bool   `json:"chart,omitempty"`
	PosterURL string `json:"poster_url,omitempty"`
	PageURL   string `json:"page_url,omitempty"`
}

type listResponse struct {
	Results []SearchResult `json:"results"`
}

func NewProvider(name string, settings Settings, deps common.Deps) *Provider {
	settings.BaseURL = strings.TrimRight(strings.TrimSpace(settings.BaseURL), "/")
	settings.ImageBaseURL = strings.TrimRight(settings.ImageBaseURL, "/")
	settings.SiteURL = strings.TrimRight(settings.SiteURL, "/")
	return &Provider{
		name:     name,
		settings: settings,
		fetcher:  common.Fetcher{Source: name, Client: deps.Client()},
		redis:    deps.Redis,
	}
}

// New builds the adapter from a provider file entry.
func New(cfg domain.ProviderConfig, deps common.Deps) (*Provider, error) {
	var settings Settings
	if err := common.DecodeSettings(cfg.Settings, &settings); err != nil {
		return nil, fmt.Errorf("tmdb settings: %w", err)
	}
	return NewProvider(cfg.Key(), settings, deps), nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Search(ctx context.Context, query domain.ProviderQuery) (domain.RawPage, error) {
	path, params, mediaType := p.request(query)
	cacheKey := redisCacheKey + path + "?" + params.Encode()
	params.Set("api_key", p.settings.APIKey)

	body, status, err := p.cachedGet(ctx, cacheKey, p.settings.BaseURL+path, params)
	if err != nil {
		return domain.RawPage{StatusCode: status}, err
	}
	var response listResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return domain.RawPage{StatusCode: status}, &domain.ProviderError{
			Source: p.name, Class: domain.ClassPermanent, StatusCode: status, Message: "malformed payload", Err: err,
		}
	}

	items := make([]item, 0, len(response.Results))
	for _, result := range response.Results {
		if result.MediaType == "" {
			result.MediaType = mediaType
		}
		if result.MediaType != "movie" && result.MediaType != "tv" {
			continue
		}
		items = append(items, p.wrap(result, len(items)+1, query.Chart))
	}
	items = common.Truncate(items, query.Limit)
	return common.Page(common.Response{StatusCode: status, Body: body}, items)
}

func (p *Provider) request(query domain.ProviderQuery) (string, url.Values, string) {
	params := url.Values{"language": {p.settings.Language}}
	if query.Region != "" {
		params.Set("region", strings.ToUpper(query.Region))
	}

	mediaType := ""
	switch query.Kind {
	case domain.KindMovie:
		mediaType = "movie"
	case domain.KindTV, domain.KindAnime:
		mediaType = "tv"
	}

	if query.Chart {
		window := p.settings.TimeWindow
		if mediaType == "" {
			return "/trending/all/" + window, params, ""
		}
		return "/trending/" + mediaType + "/" + window, params, mediaType
	}

	params.Set("query", strings.TrimSpace(query.Text()))
	params.Set("include_adult", "false")
	switch mediaType {
	case "movie":
		if query.Year > 0 {
			params.Set("year", strconv.Itoa(query.Year))
		}
		return "/search/movie", params, mediaType
	case "tv":
		if query.Year > 0 {
			params.Set("first_air_date_year", strconv.Itoa(query.Year))
		}
		return "/search/tv", params, mediaType
	}
	return "/search/multi", params, ""
}

func (p *Provider) cachedGet(ctx context.Context, key, endpoint string, params url.Values) ([]byte, int, error) {
	if p.redis != nil && p.settings.CacheTTL > 0 {
		if data, err := p.redis.Get(ctx, key).Bytes(); err == nil {
			return data, http.StatusOK, nil
		}
	}
	resp, err := p.fetcher.Get(ctx, endpoint, params)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if p.redis != nil && p.settings.CacheTTL > 0 {
		_ = p.redis.Set(ctx, key, resp.Body, p.settings.CacheTTL).Err()
	}
	return resp.Body, resp.StatusCode, nil
}

func (p *Provider) wrap(result SearchResult, rank int, chart bool) item {
	out := item{SearchResult: result, Rank: rank, Chart: chart}
	if result.PosterPath != "" {
		out.PosterURL = p.settings.ImageBaseURL + result.PosterPath
	}
	out.PageURL = fmt.Sprintf("%s/%s/%d", p.settings.SiteURL, result.MediaType, result.ID)
	return out
}

func (p *Provider) Normalize(raw json.RawMessage) (domain.NormalizedItem, error) {
	var entry item
	if err := common.DecodeItem(p.name, raw, &entry); err != nil {
		return domain.NormalizedItem{}, err
	}
	if entry.ID == 0 {
		return domain.NormalizedItem{}, fmt.Errorf("%s: item without id", p.name)
	}

	kind := domain.KindMovie
	if entry.MediaType == "tv" {
		kind = domain.KindTV
	}
	id := entry.MediaType + "/" + strconv.Itoa(entry.ID)
	normalized := domain.NormalizedItem{
		ExternalID:  id,
		Title:       entry.DisplayTitle(),
		Kind:        kind,
		Year:        common.ParseYear(entry.Date()),
		ExternalIDs: map[string]string{"tmdb": id},
		Overview:    entry.Overview,
		Poster:      entry.PosterURL,
		Rating:      entry.VoteAverage,
		URL:         entry.PageURL,
		Confidence:  common.RankConfidence(entry.Rank, 0.95, 0.02, 0.5),
	}
	if original := entry.OriginalDisplayTitle(); original != "" && original != normalized.Title {
		normalized.AltTitles = []string{original}
	}
	if len(entry.OriginCountry) > 0 {
		normalized.Region = entry.OriginCountry[0]
	}
	if entry.Chart {
		normalized.Rank = entry.Rank
		normalized.PublishedAt = common.ParseDate(entry.Date())
	}
	return normalized, nil
}
