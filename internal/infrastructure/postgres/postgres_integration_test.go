//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/postgres"
	"github.com/jhoicas/fiscal-api/pkg/config"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("fiscal_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "no se pudo iniciar PostgreSQL")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(dsn, zerolog.Nop()))
	require.NoError(t, postgres.Migrate(dsn, zerolog.Nop()), "aplicar dos veces no cambia nada")

	pool, err := postgres.NewPool(ctx, config.DBConfig{DatabaseURL: dsn})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedIssuer(t *testing.T, pool *pgxpool.Pool) *entity.Issuer {
	t.Helper()
	issuer := &entity.Issuer{
		ID: "emp-1",
		Profile: entity.Party{
			Kind: entity.PartyOrganization, TaxID: "78393592000146", LegalName: "Distribuidora Araucária Ltda",
			Address: entity.Address{Street: "Rua XV", Number: "1000", City: "Curitiba", State: "PR"},
		},
		RegionCode: "41", EmissionMode: "1", DefaultKind: "55", DefaultSeries: 1,
		Status: entity.IssuerActive,
	}
	require.NoError(t, postgres.NewIssuerRepository(pool).Create(context.Background(), issuer))
	return issuer
}

func TestPostgres_Integracion(t *testing.T) {
	pool := newTestPool(t)
	issuer := seedIssuer(t, pool)
	ctx := context.Background()

	t.Run("emisor duplicado", func(t *testing.T) {
		dup := *issuer
		dup.ID = "emp-2"
		err := postgres.NewIssuerRepository(pool).Create(ctx, &dup)
		assert.ErrorIs(t, err, domain.ErrDuplicate)

		got, err := postgres.NewIssuerRepository(pool).GetByTaxID(ctx, "78.393.592/0001-46")
		require.NoError(t, err)
		assert.Equal(t, "Distribuidora Araucária Ltda", got.Profile.LegalName)
	})

	t.Run("numeración concurrente sin repetidos", func(t *testing.T) {
		series := postgres.NewSeriesRepository(pool)
		var mu sync.Mutex
		seen := map[int64]bool{}
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := series.Next(ctx, issuer.ID, "65", 7)
				assert.NoError(t, err)
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 20)
		for n := int64(1); n <= 20; n++ {
			assert.True(t, seen[n], "falta el número %d", n)
		}

		require.NoError(t, series.AdvancePast(ctx, issuer.ID, "65", 7, 10))
		cur, err := series.Current(ctx, issuer.ID, "65", 7)
		require.NoError(t, err)
		assert.Equal(t, int64(21), cur.NextNumber, "AdvancePast nunca retrocede")

		require.NoError(t, series.AdvancePast(ctx, issuer.ID, "65", 7, 50))
		n, err := series.Next(ctx, issuer.ID, "65", 7)
		require.NoError(t, err)
		assert.Equal(t, int64(51), n)
	})

	t.Run("documento ida y vuelta con control de versión", func(t *testing.T) {
		docs := postgres.NewDocumentRepository(pool)
		doc := &entity.Document{
			ID: "doc-1", IssuerID: issuer.ID, DocKind: "55", Series: 1, Number: 1,
			RegionCode: "41", EmissionMode: "1", NumericCode: "14167176", Status: entity.StatusDraft,
			Issuer:    issuer.Profile,
			Recipient: entity.Party{Kind: entity.PartyIndividual, TaxID: "52998224725", LegalName: "Maria"},
			Lines: []entity.DocumentLine{{
				ProductCode: "P-1", Description: "Caixa", Unit: "UN",
				Quantity: decimal.RequireFromString("2.5"), UnitPrice: decimal.RequireFromString("10"),
				Total: decimal.RequireFromString("25.00"),
				Taxes: []entity.TaxComponent{{Category: "ICMS", Base: decimal.RequireFromString("25"), Rate: decimal.RequireFromString("18"), Value: decimal.RequireFromString("4.50")}},
			}},
			LinesTotal: decimal.RequireFromString("25.00"),
			Total:      decimal.RequireFromString("25.00"),
			IssuedAt:   time.Date(2025, 11, 10, 12, 0, 0, 0, fiscal.FiscalZone),
		}
		require.NoError(t, docs.Create(ctx, doc))
		assert.Equal(t, 1, doc.Version)

		got, err := docs.GetByID(ctx, "doc-1")
		require.NoError(t, err)
		require.Len(t, got.Lines, 1)
		assert.True(t, got.Lines[0].Quantity.Equal(decimal.RequireFromString("2.5")))
		assert.Equal(t, "ICMS", got.Lines[0].Taxes[0].Category)
		assert.True(t, got.Total.Equal(decimal.RequireFromString("25")))
		assert.Equal(t, "Maria", got.Recipient.LegalName)

		got.AccessKey = "41251178393592000146558900034818141671768595"
		require.NoError(t, docs.Update(ctx, got))
		assert.Equal(t, 2, got.Version)

		stale := *got
		stale.Version = 1
		var conflict *fiscal.ConcurrentModificationError
		assert.ErrorAs(t, docs.Update(ctx, &stale), &conflict)

		got.AccessKey = "00000000000000000000000000000000000000000000"
		var invalid *fiscal.InvalidInputError
		assert.ErrorAs(t, docs.Update(ctx, got), &invalid, "la clave es inmutable")

		byKey, err := docs.GetByAccessKey(ctx, "41251178393592000146558900034818141671768595")
		require.NoError(t, err)
		assert.Equal(t, "doc-1", byKey.ID)

		dup := *doc
		dup.ID = "doc-dup"
		dup.Lines = nil
		assert.ErrorIs(t, docs.Create(ctx, &dup), domain.ErrDuplicate)

		_, err = docs.GetByID(ctx, "no-existe")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("libro de eventos secuencial", func(t *testing.T) {
		ledger := postgres.NewEventLedger(pool)
		occurred := time.Date(2025, 11, 10, 12, 5, 0, 0, fiscal.FiscalZone)
		require.NoError(t, ledger.Append(ctx, "doc-1", &entity.FiscalEvent{Sequence: 1, Kind: entity.EventAuthorization, OccurredAt: occurred, ProtocolNumber: "141250000000001", Code: "100"}))

		var conflict *fiscal.ConcurrentModificationError
		err := ledger.Append(ctx, "doc-1", &entity.FiscalEvent{Sequence: 1, Kind: entity.EventCancellation, OccurredAt: occurred})
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, 2, conflict.Expected)

		err = ledger.Append(ctx, "doc-1", &entity.FiscalEvent{Sequence: 3, Kind: entity.EventCorrection, OccurredAt: occurred})
		assert.ErrorAs(t, err, &conflict, "no se admiten huecos")

		require.NoError(t, ledger.Append(ctx, "doc-1", &entity.FiscalEvent{Sequence: 2, Kind: entity.EventCorrection, OccurredAt: occurred, Justification: "Corrige la dirección de entrega"}))

		history, err := ledger.History(ctx, "doc-1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, entity.EventAuthorization, history[0].Kind)
		assert.Equal(t, "100", history[0].Code)

		auths, err := ledger.FindByKind(ctx, "doc-1", entity.EventAuthorization)
		require.NoError(t, err)
		assert.Len(t, auths, 1)

		_, err = pool.Exec(ctx, `DELETE FROM fiscal_events WHERE document_id = 'doc-1'`)
		assert.Error(t, err, "el libro es de solo anexado")
	})

	t.Run("transacción revertida no consume número ni evento", func(t *testing.T) {
		runner := postgres.NewTxRunner(pool)
		before, err := postgres.NewSeriesRepository(pool).Current(ctx, issuer.ID, "55", 9)
		require.NoError(t, err)

		err = runner.RunIssuance(ctx, func(repos billing.IssuanceRepos) error {
			if _, err := repos.Series.Next(ctx, issuer.ID, "55", 9); err != nil {
				return err
			}
			if err := repos.Events.Append(ctx, "doc-tx", &entity.FiscalEvent{Sequence: 1, Kind: entity.EventAuthorization, OccurredAt: time.Now()}); err != nil {
				return err
			}
			return domain.ErrConflict
		})
		assert.ErrorIs(t, err, domain.ErrConflict)

		after, err := postgres.NewSeriesRepository(pool).Current(ctx, issuer.ID, "55", 9)
		require.NoError(t, err)
		assert.Equal(t, before.NextNumber, after.NextNumber)
		last, err := postgres.NewEventLedger(pool).LastSequence(ctx, "doc-tx")
		require.NoError(t, err)
		assert.Zero(t, last)
	})

	t.Run("rangos inutilizados sin solapamiento", func(t *testing.T) {
		ranges := postgres.NewVoidedRangeRepository(pool)
		vr := &entity.VoidedRange{
			IssuerID: issuer.ID, IssuerTaxID: "78393592000146", DocKind: "55", Series: 1,
			From: 10, To: 20, Justification: "Falla del sistema de numeración", VoidedAt: time.Now(),
		}
		require.NoError(t, ranges.Create(ctx, vr))

		overlap := *vr
		overlap.ID = ""
		overlap.From, overlap.To = 20, 25
		assert.ErrorIs(t, ranges.Create(ctx, &overlap), domain.ErrDuplicate)

		other := *vr
		other.ID = ""
		other.Series = 2
		require.NoError(t, ranges.Create(ctx, &other), "otra serie no se solapa")

		list, err := ranges.ListBySeries(ctx, issuer.ID, "55", 1)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}
