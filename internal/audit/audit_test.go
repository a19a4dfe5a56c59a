package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sigep.org/internal/obs"
)

type proyecto struct {
	ID     int64  `json:"id"`
	Nombre string `json:"nombre"`
	Estado string `json:"estado"`
}

func (p proyecto) AuditTable() string { return "proyecto" }
func (p proyecto) AuditID() int64     { return p.ID }

type failingRepo struct{ err error }

func (f failingRepo) Append(context.Context, Record) (Record, error) { return Record{}, f.err }
func (f failingRepo) Query(context.Context, Filter) ([]Record, error) { return nil, f.err }

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

func TestRecorderCreateUpdateDelete(t *testing.T) {
	repo := NewMemoryRepository()
	rec := NewRecorder(repo)
	rec.now = fixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	actor := Actor{UserID: "ana@example.com", IP: "10.0.0.7", UserAgent: "test-agent"}
	ctx := context.Background()

	original := proyecto{ID: 42, Nombre: "Puente", Estado: "borrador"}
	changed := proyecto{ID: 42, Nombre: "Puente", Estado: "aprobado"}

	rec.RecordCreate(ctx, original, actor)
	rec.RecordUpdate(ctx, original, changed, actor)
	rec.RecordDelete(ctx, changed, actor)

	records, err := rec.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 3)

	del, upd, cre := records[0], records[1], records[2]
	assert.Equal(t, ActionDelete, del.Action)
	assert.Equal(t, ActionUpdate, upd.Action)
	assert.Equal(t, ActionCreate, cre.Action)
	assert.Greater(t, del.ID, upd.ID)
	assert.Greater(t, upd.ID, cre.ID)

	assert.Nil(t, cre.Before)
	require.NotNil(t, cre.After)
	assert.Contains(t, *cre.After, `"estado": "borrador"`)

	require.NotNil(t, upd.Before)
	require.NotNil(t, upd.After)
	assert.Contains(t, *upd.Before, "borrador")
	assert.Contains(t, *upd.After, "aprobado")

	require.NotNil(t, del.Before)
	assert.Nil(t, del.After)

	for _, r := range records {
		assert.Equal(t, "proyecto", r.Table)
		assert.EqualValues(t, 42, r.EntityID)
		assert.Equal(t, "ana@example.com", r.UserID)
		assert.Equal(t, "10.0.0.7", r.IP)
		assert.Equal(t, "test-agent", r.UserAgent)
	}
}

func TestRecorderSwallowsRepositoryFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	obs.SetLogger(zap.New(core))
	t.Cleanup(func() { obs.SetLogger(nil) })

	before := testutil.ToFloat64(obs.AuditFailures.WithLabelValues(string(ActionCreate)))
	rec := NewRecorder(failingRepo{err: errors.New("connection refused")})

	assert.NotPanics(t, func() {
		rec.RecordCreate(context.Background(), proyecto{ID: 1}, Actor{UserID: "ana@example.com"})
	})

	after := testutil.ToFloat64(obs.AuditFailures.WithLabelValues(string(ActionCreate)))
	assert.Equal(t, before+1, after)
	require.Equal(t, 1, logs.FilterMessage("audit record dropped").Len())
	entry := logs.FilterMessage("audit record dropped").All()[0]
	assert.Equal(t, "proyecto", entry.ContextMap()["table"])
}

func TestRecorderQueryPropagatesErrors(t *testing.T) {
	rec := NewRecorder(failingRepo{err: errors.New("boom")})
	_, err := rec.Query(context.Background(), Filter{})
	assert.Error(t, err)
}

func TestRecorderNilEntity(t *testing.T) {
	repo := NewMemoryRepository()
	rec := NewRecorder(repo)
	rec.RecordCreate(context.Background(), nil, Actor{})
	rec.RecordUpdate(context.Background(), proyecto{ID: 1}, nil, Actor{})

	records, err := repo.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryRepositoryConcurrentAppends(t *testing.T) {
	repo := NewMemoryRepository()
	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Append(context.Background(), Record{Table: "proyecto", Action: ActionCreate})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := repo.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, records, n)
	seen := make(map[int64]bool, n)
	for _, r := range records {
		assert.False(t, seen[r.ID], "duplicate id %d", r.ID)
		seen[r.ID] = true
		assert.True(t, r.ID >= 1 && r.ID <= n)
	}
}

func TestFilterMatch(t *testing.T) {
	day := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Record{Table: "Presupuesto", Timestamp: day}

	assert.True(t, Filter{}.Match(r))
	assert.True(t, Filter{Table: "presupuesto"}.Match(r))
	assert.False(t, Filter{Table: "proyecto"}.Match(r))
	assert.True(t, Filter{From: day, To: day}.Match(r))
	assert.False(t, Filter{From: day.Add(time.Second)}.Match(r))
	assert.False(t, Filter{To: day.Add(-time.Second)}.Match(r))
}

func TestParseBound(t *testing.T) {
	from, err := ParseBound("2025-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), from)

	to, err := ParseBound("2025-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, 2025, to.Year())
	assert.Equal(t, 23, to.Hour())

	ts, err := ParseBound("2025-03-01T10:00:00-03:00", false)
	require.NoError(t, err)
	assert.Equal(t, 13, ts.Hour())

	zero, err := ParseBound("  ", true)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = ParseBound("yesterday", false)
	assert.ErrorIs(t, err, ErrInvalidBound)
}

func TestDiff(t *testing.T) {
	changes, err := Diff(
		proyecto{ID: 1, Nombre: "Puente", Estado: "borrador"},
		proyecto{ID: 1, Nombre: "Puente Sur", Estado: "borrador"},
	)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, Change{Field: "nombre", Before: "Puente", After: "Puente Sur"}, changes[0])

	changes, err = Diff(map[string]any{"a": 1}, map[string]any{"a": "1", "b": true})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "b", changes[0].Field)
	assert.Equal(t, "true", changes[0].After)

	_, err = Diff([]int{1}, map[string]any{})
	assert.True(t, err != nil && strings.Contains(err.Error(), "object"))
}

func TestFeedFiltersAndCloses(t *testing.T) {
	feed := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())
	ch := feed.Subscribe(ctx, Filter{Table: "proyecto"})
	assert.Equal(t, 1, feed.Subscribers())

	feed.Publish(Record{ID: 1, Table: "rol", Action: ActionCreate})
	feed.Publish(Record{ID: 2, Table: "PROYECTO", Action: ActionDelete})

	got := <-ch
	assert.Equal(t, int64(2), got.ID)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Eventually(t, func() bool { return feed.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRecorderPublishesStoredRecords(t *testing.T) {
	rec := NewRecorder(NewMemoryRepository())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := rec.Subscribe(ctx, Filter{})

	rec.RecordCreate(context.Background(), proyecto{ID: 9, Nombre: "Puente"}, Actor{UserID: "ana@example.com"})
	select {
	case got := <-ch:
		assert.Equal(t, "proyecto", got.Table)
		assert.Equal(t, int64(9), got.EntityID)
		assert.NotZero(t, got.ID)
	case <-time.After(time.Second):
		t.Fatal("record not published")
	}
}
