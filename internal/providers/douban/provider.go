package douban

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/providers/common"
)

type Settings struct {
	BaseURL  string `mapstructure:"base_url" default:"https://movie.douban.com" validate:"url"`
	ChartTag string `mapstructure:"chart_tag" default:"热门"`
	Referer  string `mapstructure:"referer" default:"https://movie.douban.com/"`
}

type Provider struct {
	name     string
	settings Settings
	fetcher  common.Fetcher
}

// suggestion is one entry of /j/subject_suggest.
type suggestion struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	SubTitle string `json:"sub_title"`
	Type     string `json:"type"`
	Year     string `json:"year"`
	Img      string `json:"img"`
	URL      string `json:"url"`
	Episode  string `json:"episode"`
}

// subject is one entry of /j/search_subjects.
type subject struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Rate  string `json:"rate"`
	Cover string `json:"cover"`
	URL   string `json:"url"`
	IsNew bool   `json:"is_new"`
}

type subjectsResponse struct {
	Subjects []subject `json:"subjects"`
}

type item struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	SubTitle string           `json:"sub_title,omitempty"`
	Kind     domain.MediaKind `json:"kind,omitempty"`
	Year     string           `json:"year,omitempty"`
	Rating   string           `json:"rating,omitempty"`
	Cover    string           `json:"cover,omitempty"`
	URL      string           `json:"url,omitempty"`
	Rank     int              `json:"rank"`
	Chart    bool             `json:"chart,omitempty"`
}

func NewProvider(name string, settings Settings, deps common.Deps) *Provider {
	settings.BaseURL = strings.TrimRight(strings.TrimSpace(settings.BaseURL), "/")
	return &Provider{
		name:     name,
		settings: settings,
		fetcher: common.Fetcher{
			Source:  name,
			Client:  deps.Client(),
			Headers: map[string]string{"Referer": settings.Referer},
		},
	}
}

func New(cfg domain.ProviderConfig, deps common.Deps) (*Provider, error) {
	var settings Settings
	if err := common.DecodeSettings(cfg.Settings, &settings); err != nil {
		return nil, fmt.Errorf("douban settings: %w", err)
	}
	return NewProvider(cfg.Key(), settings, deps), nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Search(ctx context.Context, query domain.ProviderQuery) (domain.RawPage, error) {
	if query.Chart {
		return p.chart(ctx, query)
	}

	var suggestions []suggestion
	resp, err := p.fetcher.GetJSON(ctx, p.settings.BaseURL+"/j/subject_suggest", url.Values{
		"q": {strings.TrimSpace(query.Text())},
	}, &suggestions)
	if err != nil {
		return domain.RawPage{StatusCode: resp.StatusCode}, err
	}

	items := make([]item, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Type != "movie" && s.Type != "tv" {
			continue
		}
		kind := domain.KindMovie
		if s.Type == "tv" || s.Episode != "" {
			kind = domain.KindTV
		}
		if !kind.Compatible(query.Kind) && query.Kind != domain.KindAnime {
			continue
		}
		if query.Year > 0 && common.ParseYear(s.Year) > 0 && absInt(common.ParseYear(s.Year)-query.Year) > 1 {
			continue
		}
		items = append(items, item{
			ID:       s.ID,
			Title:    s.Title,
			SubTitle: s.SubTitle,
			Kind:     kind,
			Year:     s.Year,
			Cover:    s.Img,
			URL:      s.URL,
			Rank:     len(items) + 1,
		})
	}
	return common.Page(resp, common.Truncate(items, query.Limit))
}

func (p *Provider) chart(ctx context.Context, query domain.ProviderQuery) (domain.RawPage, error) {
	subjectType, kind := "movie", domain.KindMovie
	if query.Kind == domain.KindTV || query.Kind == domain.KindAnime {
		subjectType, kind = "tv", domain.KindTV
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}

	var response subjectsResponse
	resp, err := p.fetcher.GetJSON(ctx, p.settings.BaseURL+"/j/search_subjects", url.Values{
		"type":       {subjectType},
		"tag":        {p.settings.ChartTag},
		"page_limit": {strconv.Itoa(limit)},
		"page_start": {"0"},
	}, &response)
	if err != nil {
		return domain.RawPage{StatusCode: resp.StatusCode}, err
	}

	items := make([]item, 0, len(response.Subjects))
	for _, s := range response.Subjects {
		items = append(items, item{
			ID:     s.ID,
			Title:  s.Title,
			Kind:   kind,
			Rating: s.Rate,
			Cover:  s.Cover,
			URL:    s.URL,
			Rank:   len(items) + 1,
			Chart:  true,
		})
	}
	return common.Page(resp, common.Truncate(items, query.Limit))
}

func (p *Provider) Normalize(raw json.RawMessage) (domain.NormalizedItem, error) {
	var entry item
	if err := common.DecodeItem(p.name, raw, &entry); err != nil {
		return domain.NormalizedItem{}, err
	}
	if strings.TrimSpace(entry.ID) == "" {
		return domain.NormalizedItem{}, fmt.Errorf("%s: item without id", p.name)
	}

	normalized := domain.NormalizedItem{
		ExternalID:  entry.ID,
		Title:       common.CleanHTMLText(entry.Title),
		Kind:        entry.Kind,
		Year:        common.ParseYear(entry.Year),
		ExternalIDs: map[string]string{"douban": entry.ID},
		Poster:      entry.Cover,
		Rating:      common.ParseRating(entry.Rating),
		URL:         stripQuery(entry.URL),
		Region:      "cn",
		Confidence:  common.RankConfidence(entry.Rank, 0.9, 0.03, 0.4),
	}
	if sub := common.CleanHTMLText(entry.SubTitle); sub != "" {
		normalized.AltTitles = []string{sub}
	}
	if entry.Chart {
		normalized.Rank = entry.Rank
	}
	return normalized, nil
}

func stripQuery(raw string) string {
	if index := strings.IndexByte(raw, '?'); index >= 0 {
		return raw[:index]
	}
	return raw
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
