package search

import (
	"sort"
	"strconv"
	"strings"

	"mediastream/discoveryservice/internal/domain"
)

// Merged fields that can carry a source preference.
const (
	FieldTitle       = "title"
	FieldKind        = "kind"
	FieldYear        = "year"
	FieldOverview    = "overview"
	FieldPoster      = "poster"
	FieldRating      = "rating"
	FieldRuntime     = "runtime"
	FieldArtists     = "artists"
	FieldURL         = "url"
	FieldRank        = "rank"
	FieldPublishedAt = "published_at"
	FieldExternalIDs = "external_ids"
)

// Merger groups normalized items that describe the same work and fuses them
// into canonical results.
type Merger struct {
	priority      func(source string) float64
	fieldPriority map[string][]string
}

func NewMerger(priority func(string) float64, fieldPriority map[string][]string) *Merger {
	if priority == nil {
		priority = func(string) float64 { return defaultProviderPriority }
	}
	normalized := make(map[string][]string, len(fieldPriority))
	for field, sources := range fieldPriority {
		names := make([]string, 0, len(sources))
		for _, source := range sources {
			if name := normalizeName(source); name != "" {
				names = append(names, name)
			}
		}
		normalized[strings.ToLower(strings.TrimSpace(field))] = names
	}
	return &Merger{priority: priority, fieldPriority: normalized}
}

// MergeCanonical re-merges the members of already merged results; the output
// equals the input when it came from Merge.
func (m *Merger) MergeCanonical(results []domain.CanonicalResult) []domain.CanonicalResult {
	items := make([]domain.NormalizedItem, 0, len(results))
	for _, result := range results {
		items = append(items, result.Items...)
	}
	return m.Merge(items)
}

// Merge groups items via union-find over shared title keys and external IDs.
// The grouping does not depend on input order; results are sorted by ID.
func (m *Merger) Merge(items []domain.NormalizedItem) []domain.CanonicalResult {
	if len(items) == 0 {
		return nil
	}
	items = append([]domain.NormalizedItem(nil), items...)
	sort.SliceStable(items, func(i, j int) bool {
		return itemLess(items[i], items[j])
	})

	keys := make([][]string, len(items))
	buckets := make(map[string][]int)
	for i, item := range items {
		keys[i] = itemKeys(item)
		for _, key := range keys[i] {
			buckets["t:"+key] = append(buckets["t:"+key], i)
		}
		for namespace, id := range item.ExternalIDs {
			bucket := "id:" + namespace + ":" + strings.ToLower(id)
			buckets[bucket] = append(buckets[bucket], i)
		}
	}

	sets := newUnionFind(len(items))
	profiles := make([]*groupProfile, len(items))
	for i, item := range items {
		profiles[i] = newGroupProfile(item)
	}
	for _, bucket := range sortedKeys(buckets) {
		members := buckets[bucket]
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				ra, rb := sets.find(members[a]), sets.find(members[b])
				if ra == rb || !sameWork(items[members[a]], items[members[b]]) {
					continue
				}
				// A link between two items must hold for both whole groups,
				// otherwise an item without a year or ID bridges distinct works.
				if !profiles[ra].compatible(profiles[rb]) {
					continue
				}
				root := sets.union(ra, rb)
				profiles[root] = profiles[ra].join(profiles[rb])
			}
		}
	}

	groups := make(map[int][]domain.NormalizedItem)
	for i, item := range items {
		root := sets.find(i)
		groups[root] = append(groups[root], item)
	}

	results := make([]domain.CanonicalResult, 0, len(groups))
	for _, members := range groups {
		results = append(results, m.fuse(members))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ID < results[j].ID
	})
	return results
}

// sameWork decides whether two items may be linked. A different ID in the
// same namespace forbids it; a shared external ID links them; otherwise
// kinds must be compatible, years within one and a title key shared.
func sameWork(a, b domain.NormalizedItem) bool {
	shared := false
	for namespace, id := range a.ExternalIDs {
		other, ok := b.ExternalIDs[namespace]
		if !ok {
			continue
		}
		if !strings.EqualFold(id, other) {
			return false
		}
		shared = true
	}
	if shared {
		return true
	}
	if !a.Kind.Compatible(b.Kind) {
		return false
	}
	if a.Year != 0 && b.Year != 0 && abs(a.Year-b.Year) > 1 {
		return false
	}
	keysA := itemKeys(a)
	for _, key := range itemKeys(b) {
		for _, candidate := range keysA {
			if key == candidate {
				return true
			}
		}
	}
	return false
}

// groupProfile summarizes a group for the checks sameWork makes per pair.
type groupProfile struct {
	ids     map[string]string
	minYear int
	maxYear int
	kind    domain.MediaKind
}

func newGroupProfile(item domain.NormalizedItem) *groupProfile {
	profile := &groupProfile{ids: make(map[string]string, len(item.ExternalIDs)), minYear: item.Year, maxYear: item.Year}
	for namespace, id := range item.ExternalIDs {
		profile.ids[namespace] = strings.ToLower(id)
	}
	if item.Kind != domain.KindAll {
		profile.kind = item.Kind
	}
	return profile
}

// compatible rejects groups holding different IDs in one namespace. Without
// a shared ID, kinds must agree and all known years stay within one.
func (g *groupProfile) compatible(other *groupProfile) bool {
	shared := false
	for namespace, id := range g.ids {
		otherID, ok := other.ids[namespace]
		if !ok {
			continue
		}
		if id != otherID {
			return false
		}
		shared = true
	}
	if shared {
		return true
	}
	if !g.kind.Compatible(other.kind) {
		return false
	}
	low, high := g.minYear, g.maxYear
	if other.minYear != 0 && (low == 0 || other.minYear < low) {
		low = other.minYear
	}
	if other.maxYear > high {
		high = other.maxYear
	}
	return low == 0 || high-low <= 1
}

func (g *groupProfile) join(other *groupProfile) *groupProfile {
	joined := &groupProfile{ids: make(map[string]string, len(g.ids)+len(other.ids)), minYear: g.minYear, maxYear: g.maxYear, kind: g.kind}
	for namespace, id := range g.ids {
		joined.ids[namespace] = id
	}
	for namespace, id := range other.ids {
		joined.ids[namespace] = id
	}
	if other.minYear != 0 && (joined.minYear == 0 || other.minYear < joined.minYear) {
		joined.minYear = other.minYear
	}
	if other.maxYear > joined.maxYear {
		joined.maxYear = other.maxYear
	}
	if joined.kind == "" {
		joined.kind = other.kind
	}
	return joined
}

func itemKeys(item domain.NormalizedItem) []string {
	keys := titleKeys(item.Title)
	for _, alt := range item.AltTitles {
		keys = append(keys, titleKeys(alt)...)
	}
	return keys
}

// fuse builds one canonical result from a group of items.
func (m *Merger) fuse(members []domain.NormalizedItem) domain.CanonicalResult {
	m.orderMembers(members)
	primary := members[0]

	result := domain.CanonicalResult{
		PrimarySource:    primary.Source,
		SourceConfidence: make(map[string]float64),
		Items:            members,
	}

	titleItem := m.pick(FieldTitle, members, func(it domain.NormalizedItem) bool { return it.Title != "" })
	result.Title = titleItem.Title

	kindItem := m.pick(FieldKind, members, func(it domain.NormalizedItem) bool { return it.Kind != "" && it.Kind != domain.KindAll })
	result.Kind = kindItem.Kind
	yearItem := m.pick(FieldYear, members, func(it domain.NormalizedItem) bool { return it.Year != 0 })
	result.Year = yearItem.Year
	result.Overview = m.pick(FieldOverview, members, func(it domain.NormalizedItem) bool { return it.Overview != "" }).Overview
	result.Poster = m.pick(FieldPoster, members, func(it domain.NormalizedItem) bool { return it.Poster != "" }).Poster
	result.Rating = m.pick(FieldRating, members, func(it domain.NormalizedItem) bool { return it.Rating > 0 }).Rating
	runtimeItem := m.pick(FieldRuntime, members, func(it domain.NormalizedItem) bool { return it.Runtime > 0 })
	result.Runtime = runtimeItem.Runtime
	result.Artists = append([]string(nil), m.pick(FieldArtists, members, func(it domain.NormalizedItem) bool { return len(it.Artists) > 0 }).Artists...)
	result.URL = m.pick(FieldURL, members, func(it domain.NormalizedItem) bool { return it.URL != "" }).URL
	result.Rank = m.pick(FieldRank, members, func(it domain.NormalizedItem) bool { return it.Rank > 0 }).Rank
	if published := m.pick(FieldPublishedAt, members, func(it domain.NormalizedItem) bool { return it.PublishedAt != nil }).PublishedAt; published != nil {
		value := *published
		result.PublishedAt = &value
	}
	if len(result.Artists) == 0 {
		result.Artists = nil
	}

	alternatives := make(map[string][]string)
	titleKey := foldText(result.Title)
	altSeen := map[string]struct{}{titleKey: {}}
	for _, member := range members {
		for _, title := range append([]string{member.Title}, member.AltTitles...) {
			key := foldText(title)
			if _, ok := altSeen[key]; ok || key == "" {
				continue
			}
			altSeen[key] = struct{}{}
			result.AltTitles = append(result.AltTitles, title)
		}
		if member.Year != 0 && member.Year != result.Year {
			addAlternative(alternatives, FieldYear, strconv.Itoa(member.Year))
		}
		if member.Runtime > 0 && member.Runtime != result.Runtime {
			addAlternative(alternatives, FieldRuntime, strconv.Itoa(member.Runtime))
		}
		if member.Kind != "" && member.Kind != domain.KindAll && member.Kind != result.Kind {
			addAlternative(alternatives, FieldKind, string(member.Kind))
		}
		if confidence, ok := result.SourceConfidence[member.Source]; !ok || member.Confidence > confidence {
			result.SourceConfidence[member.Source] = member.Confidence
		}
		result.Provenance = append(result.Provenance, member.Provenance...)
	}

	result.ExternalIDs = m.mergeExternalIDs(members, alternatives)
	for field := range alternatives {
		sort.Strings(alternatives[field])
	}
	if len(alternatives) > 0 {
		result.Alternatives = alternatives
	}
	sortProvenance(result.Provenance)
	result.ID = canonicalID(result, titleKey)
	return result
}

func (m *Merger) mergeExternalIDs(members []domain.NormalizedItem, alternatives map[string][]string) map[string]string {
	ordered := m.ordered(FieldExternalIDs, members)
	merged := make(map[string]string)
	for _, member := range ordered {
		for _, namespace := range sortedKeys(member.ExternalIDs) {
			id := member.ExternalIDs[namespace]
			current, ok := merged[namespace]
			if !ok {
				merged[namespace] = id
				continue
			}
			if !strings.EqualFold(current, id) {
				addAlternative(alternatives, "external_id:"+namespace, id)
			}
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// orderMembers sorts by source priority, then lowest variant index, so the
// primary source is the most trusted source reached by the earliest variant.
func (m *Merger) orderMembers(members []domain.NormalizedItem) {
	sort.SliceStable(members, func(i, j int) bool {
		left, right := members[i], members[j]
		if cmp := compareFloat64(m.priority(left.Source), m.priority(right.Source)); cmp != 0 {
			return cmp > 0
		}
		if li, ri := minVariant(left), minVariant(right); li != ri {
			return li < ri
		}
		return itemLess(left, right)
	})
}

// ordered returns members in the configured source order for field; sources
// not listed keep the default member order after the listed ones.
func (m *Merger) ordered(field string, members []domain.NormalizedItem) []domain.NormalizedItem {
	preference := m.fieldPriority[field]
	if len(preference) == 0 {
		return members
	}
	rank := make(map[string]int, len(preference))
	for i, source := range preference {
		rank[source] = i
	}
	out := append([]domain.NormalizedItem(nil), members...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, okI := rank[out[i].Source]
		rj, okJ := rank[out[j].Source]
		switch {
		case okI && okJ:
			return ri < rj
		case okI != okJ:
			return okI
		default:
			return false
		}
	})
	return out
}

func (m *Merger) pick(field string, members []domain.NormalizedItem, has func(domain.NormalizedItem) bool) domain.NormalizedItem {
	for _, member := range m.ordered(field, members) {
		if has(member) {
			return member
		}
	}
	return domain.NormalizedItem{}
}

func canonicalID(result domain.CanonicalResult, titleKey string) string {
	if len(result.ExternalIDs) > 0 {
		namespace := sortedKeys(result.ExternalIDs)[0]
		return namespace + ":" + result.ExternalIDs[namespace]
	}
	return "t:" + strings.ReplaceAll(titleKey, " ", "-") + ":" + strconv.Itoa(result.Year) + ":" + string(result.Kind)
}

func addAlternative(alternatives map[string][]string, field, value string) {
	for _, existing := range alternatives[field] {
		if existing == value {
			return
		}
	}
	alternatives[field] = append(alternatives[field], value)
}

func sortProvenance(items []domain.Provenance) {
	sort.SliceStable(items, func(i, j int) bool {
		left, right := items[i], items[j]
		if left.Source != right.Source {
			return left.Source < right.Source
		}
		if left.VariantIndex != right.VariantIndex {
			return left.VariantIndex < right.VariantIndex
		}
		if left.Rank != right.Rank {
			return left.Rank < right.Rank
		}
		return left.ExternalID < right.ExternalID
	})
}

func minVariant(item domain.NormalizedItem) int {
	lowest := -1
	for _, p := range item.Provenance {
		if lowest < 0 || p.VariantIndex < lowest {
			lowest = p.VariantIndex
		}
	}
	if lowest < 0 {
		return 0
	}
	return lowest
}

// itemLess is a total order over items used to make merging order independent.
func itemLess(left, right domain.NormalizedItem) bool {
	if left.Source != right.Source {
		return left.Source < right.Source
	}
	if li, ri := minVariant(left), minVariant(right); li != ri {
		return li < ri
	}
	if left.Rank != right.Rank {
		return left.Rank < right.Rank
	}
	if left.ExternalID != right.ExternalID {
		return left.ExternalID < right.ExternalID
	}
	if left.Title != right.Title {
		return left.Title < right.Title
	}
	if left.Year != right.Year {
		return left.Year < right.Year
	}
	if left.Kind != right.Kind {
		return left.Kind < right.Kind
	}
	if left.Confidence != right.Confidence {
		return left.Confidence > right.Confidence
	}
	if left.Overview != right.Overview {
		return left.Overview < right.Overview
	}
	return publishedUnix(left) < publishedUnix(right)
}

func publishedUnix(item domain.NormalizedItem) int64 {
	if item.PublishedAt == nil {
		return 0
	}
	return item.PublishedAt.UnixNano()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the smaller index as root so roots are stable for a given
// input, and returns that root.
func (u *unionFind) union(a, b int) int {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return ra
	}
	if ra < rb {
		u.parent[rb] = ra
		return ra
	}
	u.parent[ra] = rb
	return rb
}
