package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/memory"
)

func TestEventLedger_SecuenciaEstricta(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewEventLedger(memory.NewStore())

	require.NoError(t, ledger.Append(ctx, "doc-1", &entity.FiscalEvent{Sequence: 1, Kind: entity.EventAuthorization}))

	err := ledger.Append(ctx, "doc-1", &entity.FiscalEvent{Sequence: 3, Kind: entity.EventCancellation})
	var cm *fiscal.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, 2, cm.Expected)
	assert.Equal(t, 3, cm.Got)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	err = ledger.Append(ctx, "doc-1", &entity.FiscalEvent{Sequence: 1, Kind: entity.EventCancellation})
	require.ErrorAs(t, err, &cm)

	history, err := ledger.History(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, history, 1, "los intentos fallidos no dejan rastro")
	assert.Equal(t, entity.EventAuthorization, history[0].Kind)

	last, err := ledger.LastSequence(ctx, "otro")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestEventLedger_HistoriaEsCopia(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewEventLedger(memory.NewStore())
	require.NoError(t, ledger.Append(ctx, "doc-1", &entity.FiscalEvent{Sequence: 1, Kind: entity.EventAuthorization}))

	history, _ := ledger.History(ctx, "doc-1")
	history[0].Kind = entity.EventRejection

	again, _ := ledger.History(ctx, "doc-1")
	assert.Equal(t, entity.EventAuthorization, again[0].Kind)
}

// TestEventLedger_AnexosConcurrentes: N escritores compiten por la secuencia 2;
// exactamente uno gana y el resto recibe ConcurrentModificationError.
func TestEventLedger_AnexosConcurrentes(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewEventLedger(memory.NewStore())
	require.NoError(t, ledger.Append(ctx, "doc-1", &entity.FiscalEvent{Sequence: 1, Kind: entity.EventAuthorization}))

	const writers = 32
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last, err := ledger.LastSequence(ctx, "doc-1")
			if err != nil {
				return
			}
			err = ledger.Append(ctx, "doc-1", &entity.FiscalEvent{Sequence: last + 1, Kind: entity.EventCorrection})
			var cm *fiscal.ConcurrentModificationError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &cm):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	history, err := ledger.History(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int32(writers), wins.Load()+conflicts.Load())
	assert.Equal(t, int(wins.Load())+1, len(history))
	for i, ev := range history {
		assert.Equal(t, i+1, ev.Sequence, "secuencia sin huecos ni duplicados")
	}
}

func TestSeriesRepo_NumerosUnicosBajoConcurrencia(t *testing.T) {
	ctx := context.Background()
	series := memory.NewSeriesRepository(memory.NewStore())

	const callers = 50
	numbers := make(chan int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := series.Next(ctx, "emp-1", "55", 1)
			if err == nil {
				numbers <- n
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool)
	for n := range numbers {
		assert.False(t, seen[n], "número %d asignado dos veces", n)
		seen[n] = true
	}
	assert.Len(t, seen, callers)
	for n := int64(1); n <= callers; n++ {
		assert.True(t, seen[n])
	}
}

func TestSeriesRepo_AdvancePastSoloAvanza(t *testing.T) {
	ctx := context.Background()
	series := memory.NewSeriesRepository(memory.NewStore())

	require.NoError(t, series.AdvancePast(ctx, "emp-1", "55", 1, 20))
	n, err := series.Next(ctx, "emp-1", "55", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(21), n)

	require.NoError(t, series.AdvancePast(ctx, "emp-1", "55", 1, 5))
	cur, err := series.Current(ctx, "emp-1", "55", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(22), cur.NextNumber)
}

func TestTxRunner_RollbackRestauraTodo(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	runner := memory.NewTxRunner(store)
	ledger := memory.NewEventLedger(store)
	series := memory.NewSeriesRepository(store)
	docs := memory.NewDocumentRepository(store)

	boom := errors.New("falla")
	err := runner.RunIssuance(ctx, func(r billing.IssuanceRepos) error {
		n, err := r.Series.Next(ctx, "emp-1", "55", 1)
		require.NoError(t, err)
		require.NoError(t, r.Documents.Create(ctx, &entity.Document{ID: "d1", IssuerID: "emp-1", DocKind: "55", Series: 1, Number: n}))
		require.NoError(t, r.Events.Append(ctx, "d1", &entity.FiscalEvent{Sequence: 1, Kind: entity.EventAuthorization}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = docs.GetByID(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	last, _ := ledger.LastSequence(ctx, "d1")
	assert.Zero(t, last)
	cur, _ := series.Current(ctx, "emp-1", "55", 1)
	assert.Equal(t, int64(1), cur.NextNumber, "el número no queda consumido")
}

func TestDocumentRepo_VersionOptimista(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewDocumentRepository(memory.NewStore())
	doc := &entity.Document{ID: "d1", IssuerID: "emp-1", DocKind: "55", Series: 1, Number: 1, Status: entity.StatusDraft}
	require.NoError(t, docs.Create(ctx, doc))

	a, _ := docs.GetByID(ctx, "d1")
	b, _ := docs.GetByID(ctx, "d1")
	a.Notes = "primero"
	require.NoError(t, docs.Update(ctx, a))

	b.Notes = "segundo"
	err := docs.Update(ctx, b)
	var cm *fiscal.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)

	got, _ := docs.GetByID(ctx, "d1")
	assert.Equal(t, "primero", got.Notes)
	assert.Equal(t, 2, got.Version)
}

func TestDocumentRepo_SoloBorradoresSeEliminan(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewDocumentRepository(memory.NewStore())
	require.NoError(t, docs.Create(ctx, &entity.Document{ID: "d1", IssuerID: "e", DocKind: "55", Number: 1, Status: entity.StatusSubmitted}))
	require.NoError(t, docs.Create(ctx, &entity.Document{ID: "d2", IssuerID: "e", DocKind: "55", Number: 2, Status: entity.StatusDraft}))

	var inv *fiscal.InvalidTransitionError
	assert.ErrorAs(t, docs.Delete(ctx, "d1"), &inv)
	assert.NoError(t, docs.Delete(ctx, "d2"))
	assert.ErrorIs(t, docs.Create(ctx, &entity.Document{ID: "d3", IssuerID: "e", DocKind: "55", Number: 1}), domain.ErrDuplicate)
}

func TestVoidedRangeRepo_RechazaSolapamientos(t *testing.T) {
	ctx := context.Background()
	ranges := memory.NewVoidedRangeRepository(memory.NewStore())
	require.NoError(t, ranges.Create(ctx, &entity.VoidedRange{ID: "r1", IssuerID: "e", DocKind: "55", Series: 1, From: 10, To: 20}))
	assert.ErrorIs(t, ranges.Create(ctx, &entity.VoidedRange{ID: "r2", IssuerID: "e", DocKind: "55", Series: 1, From: 20, To: 25}), domain.ErrDuplicate)
	require.NoError(t, ranges.Create(ctx, &entity.VoidedRange{ID: "r3", IssuerID: "e", DocKind: "55", Series: 2, From: 20, To: 25}))

	list, err := ranges.ListBySeries(ctx, "e", "55", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
