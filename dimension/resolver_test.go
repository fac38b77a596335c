package dimension

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/logger"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	log := logger.NewLogger("strata", "info", true)
	r, err := NewResolver(log, []Spec{
		{Name: "customer", BusinessKeyField: "customerCode", TrackedAttributes: []string{"segment", "city"}, ScdEnabled: true},
		{Name: "product", BusinessKeyField: "productCode", ScdEnabled: false},
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestResolveNumericAttrsStableAcrossJsonForms(t *testing.T) {
	log := logger.NewLogger("strata", "info", true)
	r, err := NewResolver(log, []Spec{
		{Name: "customer", BusinessKeyField: "customerCode", TrackedAttributes: []string{"score"}, ScdEnabled: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	asOf := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	res1, err := r.Resolve(ctx, "customer", "CUST-1", map[string]interface{}{"score": 10}, asOf, "b1")
	if err != nil {
		t.Fatal(err)
	}
	// The same value arriving as a float64, as it does after a JSON round-trip
	// through the gold layer, must not open a spurious new version.
	res2, err := r.Resolve(ctx, "customer", "CUST-1", map[string]interface{}{"score": float64(10)}, asOf, "b2")
	if err != nil {
		t.Fatal(err)
	}
	if res2.SurrogateKey != res1.SurrogateKey || res2.Status != constants.ScdValueUnchanged {
		t.Fatalf("expected unchanged resolution across numeric forms; got %+v vs %+v", res2, res1)
	}
}

func TestResolveIsIdempotentAndVersionsOnChange(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	asOf := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	attrs := map[string]interface{}{"segment": "retail", "city": "Leeds"}

	// First sight of CUST-007 allocates a new surrogate key.
	res1, err := r.Resolve(ctx, "customer", "CUST-007", attrs, asOf, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if res1.Status != constants.ScdValueNewKey {
		t.Fatalf("expected new key status; got %v", res1.Status)
	}

	// Resolving twice with identical attributes returns the same surrogate key both times.
	res2, err := r.Resolve(ctx, "customer", "CUST-007", attrs, asOf, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if res2.SurrogateKey != res1.SurrogateKey || res2.Status != constants.ScdValueUnchanged {
		t.Fatalf("expected idempotent resolution; got %+v vs %+v", res2, res1)
	}

	// A changed tracked attribute closes the old interval and returns a new surrogate key.
	later := asOf.Add(24 * time.Hour)
	changed := map[string]interface{}{"segment": "retail", "city": "York"}
	res3, err := r.Resolve(ctx, "customer", "CUST-007", changed, later, "b2")
	if err != nil {
		t.Fatal(err)
	}
	if res3.SurrogateKey == res1.SurrogateKey {
		t.Fatal("expected a new surrogate key after attribute change")
	}
	if res3.Status != constants.ScdValueNewVersion {
		t.Fatalf("expected new version status; got %v", res3.Status)
	}

	// Check SCD interval invariants: contiguous, non-overlapping, exactly one open row.
	rows, err := r.Rows("customer")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 versions; got %v", len(rows))
	}
	openRows := 0
	for _, row := range rows {
		if row.Current {
			openRows++
			if row.EffectiveEnd != nil {
				t.Fatal("current row must have an open-ended interval")
			}
		}
	}
	if openRows != 1 {
		t.Fatalf("expected exactly one current row; got %v", openRows)
	}
	if rows[0].EffectiveEnd == nil || !rows[0].EffectiveEnd.Equal(rows[1].EffectiveStart) {
		t.Fatalf("intervals are not contiguous: end=%v start=%v", rows[0].EffectiveEnd, rows[1].EffectiveStart)
	}
}

func TestResolveType1OverwritesInPlace(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	asOf := time.Now().UTC()
	res1, err := r.Resolve(ctx, "product", "P-1", map[string]interface{}{"name": "widget"}, asOf, "b1")
	if err != nil {
		t.Fatal(err)
	}
	res2, err := r.Resolve(ctx, "product", "P-1", map[string]interface{}{"name": "gadget"}, asOf, "b2")
	if err != nil {
		t.Fatal(err)
	}
	if res2.SurrogateKey != res1.SurrogateKey {
		t.Fatal("type 1 dimension must keep the same surrogate key on change")
	}
	row, ok := r.CurrentRow("product", "P-1")
	if !ok || row.Attributes["name"] != "gadget" {
		t.Fatalf("expected in-place overwrite; got %+v", row)
	}
	rows, _ := r.Rows("product")
	if len(rows) != 1 {
		t.Fatalf("type 1 dimension must not grow history; got %v rows", len(rows))
	}
}

func TestResolveConcurrentNewKeyAllocatesOnce(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	asOf := time.Now().UTC()
	attrs := map[string]interface{}{"segment": "retail", "city": "Leeds"}
	const workers = 16
	keys := make([]int64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			res, err := r.Resolve(ctx, "customer", "CUST-RACE", attrs, asOf, "b1")
			if err != nil {
				t.Error(err)
				return
			}
			keys[w] = res.SurrogateKey
		}(w)
	}
	wg.Wait()
	for w := 1; w < workers; w++ {
		if keys[w] != keys[0] {
			t.Fatalf("concurrent resolutions allocated different keys: %v vs %v", keys[w], keys[0])
		}
	}
	rows, _ := r.Rows("customer")
	if len(rows) != 1 {
		t.Fatalf("expected a single dimension row; got %v", len(rows))
	}
}

func TestResolveLockWaitIsBounded(t *testing.T) {
	r := newTestResolver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already expired: lock acquisition must fail fast with a timeout.
	_, err := r.Resolve(ctx, "customer", "CUST-007", nil, time.Now(), "b1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("expected TimeoutError; got %T: %v", err, err)
	}
}

func TestVerifySurrogate(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	res, err := r.Resolve(ctx, "customer", "CUST-1", map[string]interface{}{"segment": "x"}, time.Now(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.VerifySurrogate("customer", res.SurrogateKey); err != nil {
		t.Fatalf("expected surrogate to verify; got %v", err)
	}
	err = r.VerifySurrogate("customer", 9999)
	if _, ok := err.(*IntegrityError); !ok {
		t.Fatalf("expected IntegrityError; got %v", err)
	}
}

func TestSeedContinuesAllocationAboveHighWaterMark(t *testing.T) {
	r := newTestResolver(t)
	end := time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)
	err := r.Seed("customer", []Row{
		{SurrogateKey: 10, BusinessKey: "CUST-A", EffectiveStart: end.AddDate(0, -1, 0), EffectiveEnd: &end, Current: false},
		{SurrogateKey: 11, BusinessKey: "CUST-A", EffectiveStart: end, Current: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Resolve(context.Background(), "customer", "CUST-B", nil, time.Now(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if res.SurrogateKey != 12 {
		t.Fatalf("expected allocation to continue at 12; got %v", res.SurrogateKey)
	}
	// Seeded current row resolves without a new allocation.
	res, err = r.Resolve(context.Background(), "customer", "CUST-A", map[string]interface{}{}, time.Now(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if res.SurrogateKey != 11 || res.Status != constants.ScdValueUnchanged {
		t.Fatalf("expected seeded key 11 unchanged; got %+v", res)
	}
}
