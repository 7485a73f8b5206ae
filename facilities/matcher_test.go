package facilities

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/connectedhealth/careengine/geo"
)

func ptr(f float64) *float64 { return &f }

func sampleFacilities() []Facility {
	return []Facility{
		{
			ID: 1, Name: "THQ Gujar Khan", Category: CategoryHospital,
			District: "Rawalpindi", SubDistrict: "Gujar Khan",
			Location: &geo.Coordinate{Lat: 33.2556, Lng: 73.3024},
			Services: []string{"maternal", "pediatrics"},
		},
		{
			ID: 2, Name: "Unmapped Clinic", Category: CategoryBHU,
			District: "Rawalpindi",
			Services: []string{"vaccination"},
		},
		{
			ID: 3, Name: "DHQ Hospital Rawalpindi", Category: CategoryHospital,
			District: "Rawalpindi", SubDistrict: "Rawalpindi",
			Location: &geo.Coordinate{Lat: 33.5973, Lng: 73.0481},
			Services: []string{"Emergency", "medicine", "surgery", "trauma", "dialysis"},
			Inventory: []InventoryItem{
				{Name: "Paracetamol", StockLevel: StockAdequate},
				{Name: "ORS", StockLevel: "LOW"},
				{Name: "Insulin", StockLevel: StockOut},
			},
		},
		{
			ID: 4, Name: "PIMS Islamabad", Category: CategoryHospital,
			District: "Islamabad",
			Location: &geo.Coordinate{Lat: 33.6938, Lng: 73.0652},
			Services: []string{"emergency", "pediatrics", "maternal"},
		},
	}
}

func TestRank_NoRequiredServicesOrdersByDistance(t *testing.T) {
	m := NewMatcher()
	filter := Filter{Lat: ptr(33.7000), Lng: ptr(73.0333)}

	got := m.Rank(sampleFacilities(), filter)
	if len(got) != MaxResults {
		t.Fatalf("Rank() returned %d results, want %d", len(got), MaxResults)
	}

	wantOrder := []int64{4, 3, 1}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("result[%d].ID = %d, want %d", i, got[i].ID, id)
		}
		if got[i].DistanceKm == nil {
			t.Errorf("result[%d] should carry a distance", i)
		}
	}
}

func TestRank_UnknownDistanceSortsLast(t *testing.T) {
	m := NewMatcher()
	candidates := sampleFacilities()[:3]
	filter := Filter{Lat: ptr(33.7000), Lng: ptr(73.0333)}

	got := m.Rank(candidates, filter)
	if len(got) != 3 {
		t.Fatalf("Rank() returned %d results, want 3", len(got))
	}
	if got[2].ID != 2 || got[2].DistanceKm != nil {
		t.Errorf("facility without coordinates should be last with no distance, got %+v", got[2])
	}
}

func TestRank_NoOriginKeepsInputOrder(t *testing.T) {
	m := NewMatcher()

	got := m.Rank(sampleFacilities(), Filter{})
	for i, want := range []int64{1, 2, 3} {
		if got[i].ID != want {
			t.Errorf("result[%d].ID = %d, want %d", i, got[i].ID, want)
		}
		if got[i].DistanceKm != nil {
			t.Errorf("result[%d] has distance %v without an origin", i, *got[i].DistanceKm)
		}
	}
}

func TestRank_OriginWithOnlyLatitudeSkipsDistance(t *testing.T) {
	m := NewMatcher()

	got := m.Rank(sampleFacilities(), Filter{Lat: ptr(33.7)})
	for _, r := range got {
		if r.DistanceKm != nil {
			t.Errorf("facility %d has distance without a complete origin", r.ID)
		}
	}
}

func TestRank_RequiredServicesFilterCaseInsensitive(t *testing.T) {
	m := NewMatcher()
	filter := Filter{RequiredServices: []string{"EMERG"}}

	got := m.Rank(sampleFacilities(), filter)
	if len(got) != 2 {
		t.Fatalf("Rank() returned %d results, want 2", len(got))
	}
	for _, r := range got {
		if !r.MatchesRequired {
			t.Errorf("facility %d should match required services", r.ID)
		}
	}
	if got[0].ID != 3 || got[1].ID != 4 {
		t.Errorf("expected input order [3 4], got [%d %d]", got[0].ID, got[1].ID)
	}
}

func TestRank_AnyRequiredServiceMatches(t *testing.T) {
	m := NewMatcher()
	filter := Filter{RequiredServices: []string{"dentistry", "vaccination"}}

	got := m.Rank(sampleFacilities(), filter)
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("expected only facility 2, got %+v", got)
	}
}

func TestRank_NoMatchesReturnsEmpty(t *testing.T) {
	m := NewMatcher()

	got := m.Rank(sampleFacilities(), Filter{RequiredServices: []string{"oncology"}})
	if got == nil || len(got) != 0 {
		t.Errorf("Rank() = %v, want empty non-nil slice", got)
	}
}

func TestRank_SummaryAndStockAlerts(t *testing.T) {
	m := NewMatcher()

	got := m.Rank(sampleFacilities()[2:3], Filter{})
	if len(got) != 1 {
		t.Fatalf("Rank() returned %d results, want 1", len(got))
	}
	r := got[0]
	if len(r.ServicesSummary) != ServicesSummaryLimit {
		t.Errorf("ServicesSummary has %d entries, want %d", len(r.ServicesSummary), ServicesSummaryLimit)
	}
	if len(r.StockAlerts) != 1 || r.StockAlerts[0] != "ORS" {
		t.Errorf("StockAlerts = %v, want [ORS]", r.StockAlerts)
	}
	if !r.IsOpen {
		t.Error("facilities are reported open under AssumeAlwaysOpen")
	}
}

func TestRank_CapsCandidatePool(t *testing.T) {
	m := NewMatcher()
	candidates := make([]Facility, 15)
	for i := range candidates {
		candidates[i] = Facility{ID: int64(i + 1), Name: "F", Category: CategoryBHU, Services: []string{"basic"}}
	}
	// Only the eleventh facility offers the required service.
	candidates[10].Services = []string{"maternal"}

	got := m.Rank(candidates, Filter{RequiredServices: []string{"maternal"}})
	if len(got) != 0 {
		t.Errorf("candidates beyond CandidateLimit must be ignored, got %+v", got)
	}
}

func TestRank_OpeningHoursWhenPolicyDisabled(t *testing.T) {
	evening := time.Date(2026, 1, 5, 21, 0, 0, 0, time.UTC)
	m := NewMatcherWithClock(func() time.Time { return evening })

	candidates := []Facility{
		{ID: 1, Name: "BHU", Category: CategoryBHU, OpeningHours: map[string]string{"daily": "08:00-16:00"}},
		{ID: 2, Name: "DHQ", Category: CategoryHospital, OpeningHours: map[string]string{"daily": "24/7"}},
		{ID: 3, Name: "RHC", Category: CategoryRHC, OpeningHours: map[string]string{"daily": "08:00-22:00"}},
	}

	got := m.Rank(candidates, Filter{})
	want := map[int64]bool{1: false, 2: true, 3: true}
	for _, r := range got {
		if r.IsOpen != want[r.ID] {
			t.Errorf("facility %d IsOpen = %v, want %v", r.ID, r.IsOpen, want[r.ID])
		}
	}
}

type fakeSource struct {
	facilities []Facility
	err        error
	gotLimit   int
	gotArgs    [2]string
}

func (f *fakeSource) ListFacilities(_ context.Context, district, subDistrict string, limit int) ([]Facility, error) {
	f.gotLimit = limit
	f.gotArgs = [2]string{district, subDistrict}
	return f.facilities, f.err
}

func TestServiceSearch(t *testing.T) {
	src := &fakeSource{facilities: sampleFacilities()}
	svc := NewService(src, nil)

	got, err := svc.Search(context.Background(), Filter{District: "Rawalpindi", SubDistrict: "Gujar Khan"})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if src.gotLimit != CandidateLimit {
		t.Errorf("source limit = %d, want %d", src.gotLimit, CandidateLimit)
	}
	if src.gotArgs != [2]string{"Rawalpindi", "Gujar Khan"} {
		t.Errorf("source filter = %v", src.gotArgs)
	}
	if len(got) != MaxResults {
		t.Errorf("Search() returned %d results, want %d", len(got), MaxResults)
	}
}

func TestServiceSearch_SourceError(t *testing.T) {
	boom := errors.New("connection refused")
	svc := NewService(&fakeSource{err: boom}, nil)

	_, err := svc.Search(context.Background(), Filter{})
	if !errors.Is(err, boom) {
		t.Errorf("Search() error = %v, want wrapped %v", err, boom)
	}
}
