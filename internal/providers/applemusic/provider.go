package applemusic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/providers/common"
)

// The RSS generator only serves these feed sizes.
var feedSizes = []int{10, 25, 50, 100}

type Settings struct {
	BaseURL string `mapstructure:"base_url" default:"https://rss.applemarketingtools.com" validate:"url"`
	Country string `mapstructure:"country" default:"us" validate:"len=2"`
	Feed    string `mapstructure:"feed" default:"most-played" validate:"oneof=most-played"`
	Type    string `mapstructure:"type" default:"songs" validate:"oneof=songs albums"`
}

type Provider struct {
	name     string
	settings Settings
	fetcher  common.Fetcher
}

type feedResponse struct {
	Feed struct {
		Title   string      `json:"title"`
		Country string      `json:"country"`
		Updated string      `json:"updated"`
		Results []feedEntry `json:"results"`
	} `json:"feed"`
}

type feedEntry struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArtistName    string `json:"artistName"`
	ReleaseDate   string `json:"releaseDate"`
	Kind          string `json:"kind"`
	ArtworkURL100 string `json:"artworkUrl100"`
	URL           string `json:"url"`
	Genres        []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

type item struct {
	feedEntry
	Rank    int    `json:"rank"`
	Country string `json:"country"`
	Updated string `json:"updated,omitempty"`
}

func NewProvider(name string, settings Settings, deps common.Deps) *Provider {
	settings.BaseURL = strings.TrimRight(strings.TrimSpace(settings.BaseURL), "/")
	settings.Country = strings.ToLower(settings.Country)
	return &Provider{
		name:     name,
		settings: settings,
		fetcher:  common.Fetcher{Source: name, Client: deps.Client()},
	}
}

func New(cfg domain.ProviderConfig, deps common.Deps) (*Provider, error) {
	var settings Settings
	if err := common.DecodeSettings(cfg.Settings, &settings); err != nil {
		return nil, fmt.Errorf("applemusic settings: %w", err)
	}
	return NewProvider(cfg.Key(), settings, deps), nil
}

func (p *Provider) Name() string {
	return p.name
}

// Search serves charts only; the RSS generator has no query endpoint.
func (p *Provider) Search(ctx context.Context, query domain.ProviderQuery) (domain.RawPage, error) {
	if !query.Chart {
		return domain.RawPage{}, domain.PermanentError(p.name, "free-text search is not supported")
	}

	country := p.settings.Country
	if len(query.Region) == 2 {
		country = strings.ToLower(query.Region)
	}
	size := feedSize(query.Limit)
	endpoint := fmt.Sprintf("%s/api/v2/%s/music/%s/%d/%s.json", p.settings.BaseURL, country, p.settings.Feed, size, p.settings.Type)

	var response feedResponse
	resp, err := p.fetcher.GetJSON(ctx, endpoint, nil, &response)
	if err != nil {
		return domain.RawPage{StatusCode: resp.StatusCode}, err
	}

	items := make([]item, 0, len(response.Feed.Results))
	for i, entry := range response.Feed.Results {
		items = append(items, item{
			feedEntry: entry,
			Rank:      i + 1,
			Country:   country,
			Updated:   response.Feed.Updated,
		})
	}
	return common.Page(resp, common.Truncate(items, query.Limit))
}

func feedSize(limit int) int {
	for _, size := range feedSizes {
		if limit <= size {
			return size
		}
	}
	return feedSizes[len(feedSizes)-1]
}

func (p *Provider) Normalize(raw json.RawMessage) (domain.NormalizedItem, error) {
	var entry item
	if err := common.DecodeItem(p.name, raw, &entry); err != nil {
		return domain.NormalizedItem{}, err
	}
	if entry.ID == "" {
		return domain.NormalizedItem{}, fmt.Errorf("%s: entry without id", p.name)
	}

	normalized := domain.NormalizedItem{
		ExternalID:  entry.ID,
		Title:       entry.Name,
		Kind:        domain.KindMusic,
		Year:        common.ParseYear(entry.ReleaseDate),
		ExternalIDs: map[string]string{"apple": entry.ID},
		Poster:      entry.ArtworkURL100,
		Region:      entry.Country,
		Rank:        entry.Rank,
		URL:         entry.URL,
		Confidence:  common.RankConfidence(entry.Rank, 0.85, 0.005, 0.5),
	}
	if entry.ArtistName != "" {
		normalized.Artists = []string{entry.ArtistName}
	}
	if len(entry.Genres) > 0 {
		genres := make([]string, 0, len(entry.Genres))
		for _, genre := range entry.Genres {
			genres = append(genres, genre.Name)
		}
		normalized.Overview = strings.Join(genres, ", ")
	}
	if published := common.ParseDate(entry.Updated); published != nil {
		normalized.PublishedAt = published
	} else {
		normalized.PublishedAt = common.ParseDate(entry.ReleaseDate)
	}
	return normalized, nil
}
