package evidence

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

// priorityFromOrder builds a PriorityFunc from an explicit ranking.
func priorityFromOrder(ids ...string) PriorityFunc {
	rank := make(map[string]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}
	return func(id string) int {
		if p, ok := rank[id]; ok {
			return p
		}
		return len(ids)
	}
}

func TestBestEstimateEmpty(t *testing.T) {
	est := BestEstimate(nil, nil)
	assert.Equal(t, MethodUnknown, est.Method)
	assert.Zero(t, est.Confidence)
	assert.Nil(t, est.StartYear)
}

func TestBestEstimateExactShortCircuit(t *testing.T) {
	records := []Record{
		{EntityID: "e1", SourceID: "maps", Kind: KindPresence, Year: 1910, Confidence: 0.8},
		{EntityID: "e1", SourceID: "registry", Kind: KindExact, Year: 1887, Confidence: 0.9},
	}

	est := BestEstimate(records, priorityFromOrder("registry", "maps"))
	require.NotNil(t, est.StartYear)
	assert.Equal(t, 1887, *est.StartYear)
	assert.Equal(t, 1887, est.StartLower)
	assert.Equal(t, 1887, est.StartUpper)
	assert.Equal(t, MethodExact, est.Method)
	assert.Equal(t, "registry", est.PrimarySource)
	assert.InDelta(t, 0.95, est.Confidence, 1e-9)
}

func TestBestEstimateLowConfidenceExactIsSoft(t *testing.T) {
	// An exact claim below the confidence floor becomes a ±10y window,
	// not a hard year.
	records := []Record{
		{EntityID: "e1", SourceID: "crowd", Kind: KindExact, Year: 1900, Confidence: 0.4},
	}

	est := BestEstimate(records, nil)
	require.NotNil(t, est.StartYear)
	assert.Equal(t, 1900, *est.StartYear)
	assert.Equal(t, 1890, est.StartLower)
	assert.Equal(t, 1910, est.StartUpper)
	assert.NotEqual(t, MethodExact, est.Method)
}

func TestBestEstimatePresenceAbsenceFold(t *testing.T) {
	// Absent before 1880, present by 1904: built in (1880, 1904].
	records := []Record{
		{EntityID: "e1", SourceID: "map-1880", Kind: KindAbsence, Year: 1880, Confidence: 0.6},
		{EntityID: "e1", SourceID: "map-1904", Kind: KindPresence, Year: 1904, Confidence: 0.6},
	}

	est := BestEstimate(records, priorityFromOrder("map-1880", "map-1904"))
	require.NotNil(t, est.StartYear)
	assert.Equal(t, 1892, *est.StartYear)
	assert.Equal(t, 1880, est.StartLower)
	assert.Equal(t, 1904, est.StartUpper)
	assert.Equal(t, MethodBounded, est.Method)
	// Width 24 -> base 0.70, plus one extra record.
	assert.InDelta(t, 0.72, est.Confidence, 1e-9)
}

func TestBestEstimateRangeTightensBounds(t *testing.T) {
	records := []Record{
		{EntityID: "e1", SourceID: "archive", Kind: KindRange, YearFrom: 1890, YearTo: 1900, Confidence: 0.7},
		{EntityID: "e1", SourceID: "map-1904", Kind: KindPresence, Year: 1904, Confidence: 0.6},
	}

	est := BestEstimate(records, priorityFromOrder("archive", "map-1904"))
	require.NotNil(t, est.StartYear)
	assert.Equal(t, 1890, est.StartLower)
	assert.Equal(t, 1900, est.StartUpper)
	assert.Equal(t, MethodRange, est.Method)
}

func TestBestEstimateContradictionRepair(t *testing.T) {
	// Present by 1850 but absent before 1900: bounds invert, collapse
	// to midpoint ±20.
	records := []Record{
		{EntityID: "e1", SourceID: "map-1850", Kind: KindPresence, Year: 1850, Confidence: 0.6},
		{EntityID: "e1", SourceID: "map-1900", Kind: KindAbsence, Year: 1900, Confidence: 0.6},
	}

	est := BestEstimate(records, priorityFromOrder("map-1850", "map-1900"))
	require.NotNil(t, est.StartYear)
	assert.Equal(t, 1875, *est.StartYear)
	assert.Equal(t, 1855, est.StartLower)
	assert.Equal(t, 1895, est.StartUpper)
	assert.Equal(t, MethodEstimated, est.Method)
}

func TestBestEstimateEndYearFromPriority(t *testing.T) {
	records := []Record{
		{EntityID: "e1", SourceID: "low", Kind: KindPresence, Year: 1900, EndYear: intPtr(1970), Confidence: 0.5},
		{EntityID: "e1", SourceID: "high", Kind: KindPresence, Year: 1905, EndYear: intPtr(1944), Confidence: 0.8},
	}

	est := BestEstimate(records, priorityFromOrder("high", "low"))
	require.NotNil(t, est.EndYear)
	assert.Equal(t, 1944, *est.EndYear)
}

func TestBestEstimateConfidenceBounds(t *testing.T) {
	// Confidence stays in [0, 0.95] for arbitrary record sets, and
	// unknown always means zero confidence and no year.
	rng := rand.New(rand.NewSource(42))
	kinds := []Kind{KindPresence, KindAbsence, KindExact, KindRange}
	now := time.Now().Year()

	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(8)
		records := make([]Record, 0, n)
		for i := 0; i < n; i++ {
			from := 1700 + rng.Intn(now-1700)
			r := Record{
				EntityID:   "e",
				SourceID:   string(rune('a' + i)),
				Kind:       kinds[rng.Intn(len(kinds))],
				Year:       from,
				YearFrom:   from,
				YearTo:     from + rng.Intn(60),
				Confidence: rng.Float64(),
			}
			records = append(records, r)
		}

		est := BestEstimate(records, nil)
		assert.GreaterOrEqual(t, est.Confidence, 0.0)
		assert.LessOrEqual(t, est.Confidence, 0.95)
		if est.Method == MethodUnknown {
			assert.Zero(t, est.Confidence)
			assert.Nil(t, est.StartYear)
		}
	}
}

func TestBestEstimateOrderIndependent(t *testing.T) {
	records := []Record{
		{EntityID: "e1", SourceID: "a", Kind: KindAbsence, Year: 1870, Confidence: 0.6},
		{EntityID: "e1", SourceID: "b", Kind: KindPresence, Year: 1910, Confidence: 0.6},
		{EntityID: "e1", SourceID: "c", Kind: KindRange, YearFrom: 1880, YearTo: 1905, Confidence: 0.7},
		{EntityID: "e1", SourceID: "d", Kind: KindExact, Year: 1890, Confidence: 0.5},
	}
	priority := priorityFromOrder("a", "b", "c", "d")

	want := BestEstimate(records, priority)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		shuffled := make([]Record, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		assert.Equal(t, want, BestEstimate(shuffled, priority))
	}

	// Idempotence: re-running changes nothing.
	assert.Equal(t, want, BestEstimate(records, priority))
}

func TestWidthConfidenceSteps(t *testing.T) {
	cases := map[int]float64{
		0: 0.95, 5: 0.85, 10: 0.85, 11: 0.70, 30: 0.70,
		31: 0.50, 50: 0.50, 51: 0.35, 100: 0.35, 101: 0.20,
	}
	for width, want := range cases {
		assert.InDelta(t, want, widthConfidence(width), 1e-9, "width %d", width)
	}
}
