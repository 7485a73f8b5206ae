package facilities

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/connectedhealth/careengine/geo"
)

const (
	// CandidateLimit bounds how many facilities are considered per search.
	CandidateLimit = 10

	// MaxResults is the number of recommendations returned.
	MaxResults = 3

	// ServicesSummaryLimit caps the services listed per recommendation.
	ServicesSummaryLimit = 4

	// AssumeAlwaysOpen reports every facility as open instead of evaluating
	// opening hours. Real-time operating status is not tracked yet.
	AssumeAlwaysOpen = true
)

// Source loads candidate facilities, with inventory, for a district and
// sub-district. Empty values are wildcards.
type Source interface {
	ListFacilities(ctx context.Context, district, subDistrict string, limit int) ([]Facility, error)
}

// Matcher ranks candidate facilities against a search filter.
// It has no error path and is safe for concurrent use.
type Matcher struct {
	assumeOpen bool
	now        func() time.Time
}

// NewMatcher returns a Matcher using the AssumeAlwaysOpen policy.
func NewMatcher() *Matcher {
	return &Matcher{assumeOpen: AssumeAlwaysOpen, now: time.Now}
}

// NewMatcherWithClock returns a Matcher that evaluates opening hours against now.
func NewMatcherWithClock(now func() time.Time) *Matcher {
	return &Matcher{assumeOpen: false, now: now}
}

type ranked struct {
	match Match
	index int
}

// Rank scores candidates and returns at most MaxResults matches ordered by:
// matching required services first, then ascending known distance, then
// input order. Entries without a distance sort after those with one.
func (m *Matcher) Rank(candidates []Facility, filter Filter) []Match {
	if len(candidates) > CandidateLimit {
		candidates = candidates[:CandidateLimit]
	}

	origin := filter.Origin()
	required := normalise(filter.RequiredServices)

	entries := make([]ranked, 0, len(candidates))
	for i, f := range candidates {
		match := Match{
			ID:              f.ID,
			Name:            f.Name,
			Category:        f.Category,
			IsOpen:          m.isOpen(f),
			ServicesSummary: summarise(f.Services),
			StockAlerts:     stockAlerts(f.Inventory),
			MatchesRequired: matchesRequired(f.Services, required),
		}
		if origin != nil && f.Location != nil {
			d := geo.HaversineKm(*origin, *f.Location)
			match.DistanceKm = &d
		}

		if len(required) > 0 && !match.MatchesRequired {
			continue
		}
		entries = append(entries, ranked{match: match, index: i})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].match, entries[j].match
		if a.MatchesRequired != b.MatchesRequired {
			return a.MatchesRequired
		}
		switch {
		case a.DistanceKm != nil && b.DistanceKm != nil:
			if *a.DistanceKm != *b.DistanceKm {
				return *a.DistanceKm < *b.DistanceKm
			}
		case a.DistanceKm != nil:
			return true
		case b.DistanceKm != nil:
			return false
		}
		return entries[i].index < entries[j].index
	})

	if len(entries) > MaxResults {
		entries = entries[:MaxResults]
	}

	results := make([]Match, len(entries))
	for i, e := range entries {
		results[i] = e.match
	}
	return results
}

func (m *Matcher) isOpen(f Facility) bool {
	if m.assumeOpen {
		return true
	}
	daily, ok := f.OpeningHours["daily"]
	if !ok {
		return true
	}
	hours, err := ParseHours(daily)
	if err != nil {
		return true
	}
	return hours.OpenAt(m.now())
}

func matchesRequired(services, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range services {
			if strings.Contains(strings.ToLower(have), want) {
				return true
			}
		}
	}
	return false
}

func normalise(services []string) []string {
	out := make([]string, 0, len(services))
	for _, s := range services {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func summarise(services []string) []string {
	n := min(len(services), ServicesSummaryLimit)
	out := make([]string, n)
	copy(out, services[:n])
	return out
}

func stockAlerts(items []InventoryItem) []string {
	alerts := []string{}
	for _, item := range items {
		if strings.EqualFold(string(item.StockLevel), string(StockLow)) {
			alerts = append(alerts, item.Name)
		}
	}
	return alerts
}

// Service runs facility searches against a Source.
type Service struct {
	source  Source
	matcher *Matcher
}

// NewService creates a facility search service.
func NewService(source Source, matcher *Matcher) *Service {
	if matcher == nil {
		matcher = NewMatcher()
	}
	return &Service{source: source, matcher: matcher}
}

// Search loads up to CandidateLimit candidates and ranks them.
func (s *Service) Search(ctx context.Context, filter Filter) ([]Match, error) {
	candidates, err := s.source.ListFacilities(ctx, filter.District, filter.SubDistrict, CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load facilities: %w", err)
	}
	return s.matcher.Rank(candidates, filter), nil
}
