package netflix

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/providers/common"
)

type Settings struct {
	BaseURL     string        `mapstructure:"base_url" default:"https://www.netflix.com/tudum/top10/data" validate:"url"`
	GlobalFile  string        `mapstructure:"global_file" default:"all-weeks-global.tsv"`
	CountryFile string        `mapstructure:"country_file" default:"all-weeks-countries.tsv"`
	Country     string        `mapstructure:"country"`
	Refresh     time.Duration `mapstructure:"refresh" default:"1h"`
}

type Provider struct {
	name     string
	settings Settings
	fetcher  common.Fetcher
	now      func() time.Time

	mu       sync.Mutex
	datasets map[string]*dataset
}

type dataset struct {
	fetchedAt time.Time
	bytes     int
	rows      []row
}

// row is one line of the weekly top 10. The global and per-country files
// share these columns; the global one adds hours and views.
type row struct {
	Week          string `json:"week"`
	Category      string `json:"category"`
	Rank          int    `json:"rank"`
	ShowTitle     string `json:"show_title"`
	SeasonTitle   string `json:"season_title,omitempty"`
	HoursViewed   int64  `json:"hours_viewed,omitempty"`
	Views         int64  `json:"views,omitempty"`
	WeeksInTop10  int    `json:"weeks_in_top_10,omitempty"`
	CountryISO2   string `json:"country,omitempty"`
	OverallRank   int    `json:"overall_rank,omitempty"`
	MatchedSearch bool   `json:"matched_search,omitempty"`
}

func NewProvider(name string, settings Settings, deps common.Deps) *Provider {
	settings.BaseURL = strings.TrimRight(strings.TrimSpace(settings.BaseURL), "/")
	settings.Country = strings.ToUpper(strings.TrimSpace(settings.Country))
	headers := map[string]string{"Accept": "text/tab-separated-values"}
	return &Provider{
		name:     name,
		settings: settings,
		fetcher:  common.Fetcher{Source: name, Client: deps.Client(), Headers: headers},
		now:      time.Now,
		datasets: make(map[string]*dataset),
	}
}

func New(cfg domain.ProviderConfig, deps common.Deps) (*Provider, error) {
	var settings Settings
	if err := common.DecodeSettings(cfg.Settings, &settings); err != nil {
		return nil, fmt.Errorf("netflix settings: %w", err)
	}
	return NewProvider(cfg.Key(), settings, deps), nil
}

func (p *Provider) Name() string {
	return p.name
}

// Search returns the latest week's top 10 for charts. Free-text queries
// match titles across every published week, newest first.
func (p *Provider) Search(ctx context.Context, query domain.ProviderQuery) (domain.RawPage, error) {
	country := p.settings.Country
	if len(query.Region) == 2 {
		country = strings.ToUpper(query.Region)
	}
	data, err := p.load(ctx, country)
	if err != nil {
		return domain.RawPage{}, err
	}

	rows := filterKind(data.rows, query.Kind)
	if query.Chart {
		rows = latestWeek(rows)
	} else {
		rows = matchTitle(rows, query.Text())
	}
	page, err := common.Page(common.Response{StatusCode: http.StatusOK}, common.Truncate(rows, query.Limit))
	page.Bytes = data.bytes
	return page, err
}

func (p *Provider) load(ctx context.Context, country string) (*dataset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.datasets[country]; ok && p.now().Sub(cached.fetchedAt) < p.settings.Refresh {
		return cached, nil
	}

	file := p.settings.GlobalFile
	if country != "" {
		file = p.settings.CountryFile
	}
	var rows []row
	counter := &countingReader{}
	_, err := p.fetcher.Stream(ctx, p.settings.BaseURL+"/"+file, nil, func(body io.Reader) error {
		counter.r = body
		parsed, err := parseTSV(counter, country)
		rows = parsed
		return err
	})
	if err != nil {
		return nil, err
	}
	data := &dataset{fetchedAt: p.now(), bytes: counter.n, rows: rows}
	p.datasets[country] = data
	return data, nil
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += n
	return n, err
}

var errMissingColumns = errors.New("missing required columns")

// parseTSV reads either top 10 file. When country is set only its rows are kept.
func parseTSV(body io.Reader, country string) ([]row, error) {
	reader := csv.NewReader(body)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{"week", "category", "weekly_rank", "show_title"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: %s", errMissingColumns, required)
		}
	}
	field := func(record []string, name string) string {
		index, ok := columns[name]
		if !ok || index >= len(record) {
			return ""
		}
		value := strings.TrimSpace(record[index])
		if value == "N/A" {
			return ""
		}
		return value
	}

	var rows []row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if country != "" && !strings.EqualFold(field(record, "country_iso2"), country) {
			continue
		}
		rank, err := strconv.Atoi(field(record, "weekly_rank"))
		if err != nil {
			continue
		}
		hours, _ := strconv.ParseInt(field(record, "weekly_hours_viewed"), 10, 64)
		views, _ := strconv.ParseInt(field(record, "weekly_views"), 10, 64)
		weeks, _ := strconv.Atoi(field(record, "cumulative_weeks_in_top_10"))
		rows = append(rows, row{
			Week:         field(record, "week"),
			Category:     field(record, "category"),
			Rank:         rank,
			ShowTitle:    field(record, "show_title"),
			SeasonTitle:  field(record, "season_title"),
			HoursViewed:  hours,
			Views:        views,
			WeeksInTop10: weeks,
			CountryISO2:  strings.ToLower(field(record, "country_iso2")),
		})
	}
	return rows, nil
}

func kindOf(category string) domain.MediaKind {
	if strings.HasPrefix(strings.ToLower(category), "tv") {
		return domain.KindTV
	}
	return domain.KindMovie
}

func filterKind(rows []row, kind domain.MediaKind) []row {
	if kind == "" || kind == domain.KindAll {
		return rows
	}
	if kind == domain.KindAnime {
		kind = domain.KindTV
	}
	out := make([]row, 0, len(rows))
	for _, r := range rows {
		if kindOf(r.Category) == kind {
			out = append(out, r)
		}
	}
	return out
}

// latestWeek keeps the newest week, ordered by category then weekly rank,
// and numbers the rows into one overall ranking.
func latestWeek(rows []row) []row {
	latest := ""
	for _, r := range rows {
		if r.Week > latest {
			latest = r.Week
		}
	}
	out := make([]row, 0, 40)
	for _, r := range rows {
		if r.Week == latest {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Category < out[j].Category
	})
	for i := range out {
		out[i].OverallRank = i + 1
	}
	return out
}

func matchTitle(rows []row, text string) []row {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil
	}
	seen := make(map[string]int)
	var out []row
	for _, r := range rows {
		if !strings.Contains(strings.ToLower(r.ShowTitle), needle) && !strings.Contains(strings.ToLower(r.SeasonTitle), needle) {
			continue
		}
		key := r.ShowTitle + "\x00" + r.SeasonTitle
		if index, ok := seen[key]; ok {
			if r.Week > out[index].Week {
				out[index] = r
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Week != out[j].Week {
			return out[i].Week > out[j].Week
		}
		return out[i].Rank < out[j].Rank
	})
	for i := range out {
		out[i].MatchedSearch = true
	}
	return out
}

func (p *Provider) Normalize(raw json.RawMessage) (domain.NormalizedItem, error) {
	var entry row
	if err := common.DecodeItem(p.name, raw, &entry); err != nil {
		return domain.NormalizedItem{}, err
	}

	title := entry.ShowTitle
	var alt []string
	if entry.SeasonTitle != "" && entry.SeasonTitle != entry.ShowTitle {
		alt = []string{entry.SeasonTitle}
	}
	id := strings.ToLower(strings.Join(strings.Fields(title), "-"))
	item := domain.NormalizedItem{
		ExternalID:  id,
		Title:       title,
		AltTitles:   alt,
		Kind:        kindOf(entry.Category),
		ExternalIDs: map[string]string{"netflix": id},
		Overview:    describe(entry),
		Region:      entry.CountryISO2,
		PublishedAt: common.ParseDate(entry.Week),
		Confidence:  common.RankConfidence(entry.Rank, 0.8, 0.03, 0.5),
	}
	if entry.MatchedSearch {
		item.Confidence = 0.6
	} else {
		item.Rank = entry.OverallRank
		if item.Rank == 0 {
			item.Rank = entry.Rank
		}
	}
	return item, nil
}

func describe(entry row) string {
	parts := []string{fmt.Sprintf("#%d in %s, week of %s", entry.Rank, entry.Category, entry.Week)}
	if entry.WeeksInTop10 > 0 {
		parts = append(parts, fmt.Sprintf("%d weeks in top 10", entry.WeeksInTop10))
	}
	if entry.Views > 0 {
		parts = append(parts, fmt.Sprintf("%d views", entry.Views))
	}
	return strings.Join(parts, "; ")
}
