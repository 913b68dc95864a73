package memory

import (
	"context"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
)

var _ billing.IssuanceTxRunner = (*TxRunner)(nil)

// TxRunner transacciones sobre el almacenamiento en memoria: mantiene el mutex
// durante fn y restaura la instantánea si fn retorna error.
type TxRunner struct {
	store *Store
}

// NewTxRunner construye el runner.
func NewTxRunner(store *Store) *TxRunner {
	return &TxRunner{store: store}
}

// RunIssuance ejecuta fn con repositorios atados a la transacción.
func (r *TxRunner) RunIssuance(ctx context.Context, fn func(repos billing.IssuanceRepos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	before := r.store.data.snapshot()
	repos := billing.IssuanceRepos{
		Documents: &DocumentRepo{store: r.store, inTx: true},
		Events:    &EventLedger{store: r.store, inTx: true, now: nowFunc},
		Series:    &SeriesRepo{store: r.store, inTx: true},
		Ranges:    &VoidedRangeRepo{store: r.store, inTx: true},
	}
	if err := fn(repos); err != nil {
		r.store.data = before
		return err
	}
	return nil
}
