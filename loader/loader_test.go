package loader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataetl/strata/batch"
	"github.com/strataetl/strata/components"
	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/dimension"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/schema"
	"github.com/strataetl/strata/storage"
	"github.com/strataetl/strata/stream"
)

var testLog = logger.NewLogger("strata-test", "error", true)

func testPipe(t *testing.T) *PipeDefinition {
	t.Helper()
	s, err := schema.NewSchema([]schema.FieldDef{
		{Name: "order_id", Type: "string", Required: true, Trim: true},
		{Name: "customer_id", Type: "string", Required: true},
		{Name: "tier", Type: "string"},
		{Name: "amount", Type: "float"},
	})
	require.NoError(t, err)
	return &PipeDefinition{
		Name:         "orders",
		Source:       SourceDefinition{Name: "orders-feed"},
		Schema:       s,
		BusinessKeys: []string{"order_id"},
		Dimensions: []dimension.Spec{
			{Name: "customer", BusinessKeyField: "customer_id", TrackedAttributes: []string{"tier"}, ScdEnabled: true},
		},
		Mappings: []components.DimensionMapping{
			{Dimension: "customer", BusinessKeyField: "customer_id", AttributeFields: []string{"tier"}, SurrogateField: "customer_key"},
		},
	}
}

func orderRec(orderId, customerId, tier string, amount float64, loadTime string) stream.Record {
	r := stream.NewRecord()
	r.SetData("order_id", orderId)
	r.SetData("customer_id", customerId)
	r.SetData("tier", tier)
	r.SetData("amount", amount)
	if loadTime != "" {
		r.SetData(stream.FieldLoadTime, loadTime)
	}
	return r
}

func factRows(t *testing.T, store storage.Store, batchId string) []stream.Record {
	t.Helper()
	rows, err := store.Read(context.Background(), constants.LayerGold, batchId)
	require.NoError(t, err)
	facts := make([]stream.Record, 0)
	for _, r := range rows {
		if _, ok := r.GetDataOk(constants.TableFieldName); !ok {
			facts = append(facts, r)
		}
	}
	return facts
}

func dimRows(t *testing.T, store storage.Store, batchId string) []stream.Record {
	t.Helper()
	rows, err := store.Read(context.Background(), constants.LayerGold, batchId)
	require.NoError(t, err)
	dims := make([]stream.Record, 0)
	for _, r := range rows {
		if _, ok := r.GetDataOk(constants.TableFieldName); ok {
			dims = append(dims, r)
		}
	}
	return dims
}

func TestRunLoadEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(testLog)
	tracker := batch.NewTracker(testLog)
	m := NewManager(testLog, store, tracker)
	pipe := testPipe(t)
	b := tracker.Register("orders-feed", "orders-1.csv", time.Now().UTC())

	recs := []stream.Record{
		orderRec("ORD-1", "CUST-007", "gold", 10, "2026-01-01T00:00:00Z"),
		orderRec("ORD-1", "CUST-007", "gold", 15, "2026-01-02T00:00:00Z"), // later duplicate wins.
		orderRec("ORD-2", "CUST-008", "silver", 20, "2026-01-01T00:00:00Z"),
	}
	require.NoError(t, m.RunLoad(ctx, pipe, b.Id, recs))

	got, err := tracker.Get(b.Id)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusCompleted, got.Status)
	assert.Equal(t, int64(3), got.Counts["read"])
	assert.Equal(t, int64(1), got.Counts["duplicatesDropped"])
	assert.Equal(t, int64(2), got.Counts["newKeys"])
	assert.Equal(t, int64(2), got.Counts["written"])

	bronze, err := store.Read(ctx, constants.LayerBronze, b.Id)
	require.NoError(t, err)
	assert.Len(t, bronze, 3, "bronze keeps every raw row")

	silver, err := store.Read(ctx, constants.LayerSilver, b.Id)
	require.NoError(t, err)
	require.Len(t, silver, 2, "silver keeps one winner per business key")

	facts := factRows(t, store, b.Id)
	require.Len(t, facts, 2)
	for _, f := range facts {
		if f.GetData("order_id") == "ORD-1" {
			assert.Equal(t, float64(15), f.GetData("amount"), "the later duplicate's amount wins")
		}
		_, ok := f.GetDataOk("customer_key")
		assert.True(t, ok, "fact rows carry resolved surrogate keys")
	}
	assert.Len(t, dimRows(t, store, b.Id), 2, "one snapshot row per customer")
}

func TestRunLoadScdVersioningAcrossBatches(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(testLog)
	tracker := batch.NewTracker(testLog)
	m := NewManager(testLog, store, tracker)
	pipe := testPipe(t)

	b1 := tracker.Register("orders-feed", "day1.csv", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, m.RunLoad(ctx, pipe, b1.Id, []stream.Record{
		orderRec("ORD-1", "CUST-007", "gold", 10, "2026-01-01T00:00:00Z"),
	}))

	b2 := tracker.Register("orders-feed", "day2.csv", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, m.RunLoad(ctx, pipe, b2.Id, []stream.Record{
		orderRec("ORD-9", "CUST-007", "platinum", 30, "2026-01-02T00:00:00Z"), // tier change opens a new version.
	}))

	dims := dimRows(t, store, b2.Id)
	require.Len(t, dims, 2, "snapshot holds the closed and the current version")
	currents := 0
	var closedEnd interface{}
	for _, d := range dims {
		if d.GetData("current") == true {
			currents++
			assert.Equal(t, "platinum", d.GetData("attr_tier"))
		} else {
			closedEnd = d.GetData("effectiveEnd")
		}
	}
	assert.Equal(t, 1, currents, "exactly one current row per business key")
	assert.NotNil(t, closedEnd, "the closed version has an effective end")
}

func TestSeedResolverContinuesSurrogateKeys(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(testLog)
	tracker := batch.NewTracker(testLog)
	pipe := testPipe(t)

	m1 := NewManager(testLog, store, tracker)
	b1 := tracker.Register("orders-feed", "day1.csv", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, m1.RunLoad(ctx, pipe, b1.Id, []stream.Record{
		orderRec("ORD-1", "CUST-007", "gold", 10, "2026-01-01T00:00:00Z"),
	}))

	// A fresh manager simulates a process restart; it seeds from the gold layer.
	m2 := NewManager(testLog, store, tracker)
	b2 := tracker.Register("orders-feed", "day2.csv", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, m2.RunLoad(ctx, pipe, b2.Id, []stream.Record{
		orderRec("ORD-2", "CUST-007", "platinum", 20, "2026-01-02T00:00:00Z"),
	}))

	facts := factRows(t, store, b2.Id)
	require.Len(t, facts, 1)
	key, ok := facts[0].GetDataOk("customer_key")
	require.True(t, ok)
	assert.Equal(t, int64(2), key, "the new version continues above the seeded high-water mark")
}

func TestRunLoadFailPolicyMarksBatchFailed(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(testLog)
	tracker := batch.NewTracker(testLog)
	m := NewManager(testLog, store, tracker)
	pipe := testPipe(t)
	b := tracker.Register("orders-feed", "bad.csv", time.Now().UTC())

	bad := stream.NewRecord()
	bad.SetData("customer_id", "CUST-007") // order_id missing: validation failure, policy fail.
	err := m.RunLoad(ctx, pipe, b.Id, []stream.Record{bad})
	require.Error(t, err)
	var bf *BatchFailedError
	require.ErrorAs(t, err, &bf)

	got, err := tracker.Get(b.Id)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusFailed, got.Status)
	assert.NotEmpty(t, got.Reason)

	silver, err := store.Read(ctx, constants.LayerSilver, b.Id)
	require.NoError(t, err)
	assert.Len(t, silver, 0, "a failed load commits nothing to silver")
}

// failingStore fails the first Commit against one layer, then behaves normally.
type failingStore struct {
	storage.Store
	mu        sync.Mutex
	failLayer string
	remaining int
}

func (f *failingStore) Commit(ctx context.Context, layer, batchId string) error {
	f.mu.Lock()
	shouldFail := layer == f.failLayer && f.remaining > 0
	if shouldFail {
		f.remaining--
	}
	f.mu.Unlock()
	if shouldFail {
		return assert.AnError
	}
	return f.Store.Commit(ctx, layer, batchId)
}

func TestRetryAfterMidLoadFailureIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore(testLog)
	store := &failingStore{Store: mem, failLayer: constants.LayerSilver, remaining: 1}
	tracker := batch.NewTracker(testLog)
	m := NewManager(testLog, store, tracker)
	pipe := testPipe(t)
	b := tracker.Register("orders-feed", "flaky.csv", time.Now().UTC())

	recs := []stream.Record{
		orderRec("ORD-1", "CUST-007", "gold", 10, "2026-01-01T00:00:00Z"),
		orderRec("ORD-2", "CUST-008", "silver", 20, "2026-01-01T00:00:00Z"),
	}
	err := m.RunLoad(ctx, pipe, b.Id, recs)
	require.Error(t, err, "the first silver commit fails")
	got, err := tracker.Get(b.Id)
	require.NoError(t, err)
	require.Equal(t, constants.BatchStatusFailed, got.Status)

	require.NoError(t, m.RetryBatch(ctx, pipe, b.Id, recs))
	got, err = tracker.Get(b.Id)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusCompleted, got.Status)

	silver, err := store.Read(ctx, constants.LayerSilver, b.Id)
	require.NoError(t, err)
	assert.Len(t, silver, 2, "retry yields exactly-once silver content")
	assert.Len(t, factRows(t, store, b.Id), 2, "retry yields exactly-once gold content")
}

func TestConcurrentLoadForSameBatchIsRefused(t *testing.T) {
	store := storage.NewMemoryStore(testLog)
	tracker := batch.NewTracker(testLog)
	m := NewManager(testLog, store, tracker)
	b := tracker.Register("orders-feed", "f.csv", time.Now().UTC())

	require.NoError(t, m.begin(b.Id, "orders"))
	err := m.begin(b.Id, "orders")
	var ce *ConcurrentLoadError
	require.ErrorAs(t, err, &ce)
}

func TestRunLoadTimeoutLeavesBatchInProgress(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	store := storage.NewMemoryStore(testLog)
	tracker := batch.NewTracker(testLog)
	m := NewManager(testLog, store, tracker)
	pipe := testPipe(t)
	b := tracker.Register("orders-feed", "slow.csv", time.Now().UTC())

	err := m.RunLoad(ctx, pipe, b.Id, []stream.Record{
		orderRec("ORD-1", "CUST-007", "gold", 10, "2026-01-01T00:00:00Z"),
	})
	require.Error(t, err)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)

	got, err := tracker.Get(b.Id)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusInProgress, got.Status, "timed out batches stay in_progress for retry")
}

func TestRunLoadAfterTimeoutCompletesBatch(t *testing.T) {
	store := storage.NewMemoryStore(testLog)
	tracker := batch.NewTracker(testLog)
	m := NewManager(testLog, store, tracker)
	pipe := testPipe(t)
	b := tracker.Register("orders-feed", "slow.csv", time.Now().UTC())
	recs := []stream.Record{orderRec("ORD-1", "CUST-007", "gold", 10, "2026-01-01T00:00:00Z")}

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	var te *TimeoutError
	require.ErrorAs(t, m.RunLoad(expired, pipe, b.Id, recs), &te)

	// The batch stayed in_progress, so re-running it with a live context must be
	// admitted and carry it through to completion.
	require.NoError(t, m.RunLoad(context.Background(), pipe, b.Id, recs))
	got, err := tracker.Get(b.Id)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusCompleted, got.Status)
	assert.Len(t, factRows(t, store, b.Id), 1)
}

func TestLoadPipeDefinitionFromYaml(t *testing.T) {
	doc := []byte(`
name: orders
source:
  name: orders-feed
schema:
  fields:
    - name: order_id
      type: string
      required: true
    - name: qty
      type: int
businessKeys:
  - order_id
filters:
  - type: JsonLogic
    data:
      rule: '{ ">": [ { "var": "qty" }, 0 ] }'
`)
	p, err := LoadPipeDefinition(doc)
	require.NoError(t, err)
	assert.Equal(t, "orders", p.Name)
	assert.NotNil(t, p.Schema.Field("qty"))
	require.Len(t, p.Filters, 1)

	_, err = LoadPipeDefinition([]byte(`name: bad`))
	assert.Error(t, err, "missing mandatory fields are rejected")
}

func TestPipeDefinitionRejectsUndeclaredDimension(t *testing.T) {
	pipe := testPipe(t)
	pipe.Mappings = append(pipe.Mappings, components.DimensionMapping{
		Dimension: "ghost", BusinessKeyField: "x", SurrogateField: "ghost_key",
	})
	assert.Error(t, pipe.Validate())
}
