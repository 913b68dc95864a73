package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

var (
	_ repository.SeriesRepository      = (*SeriesRepo)(nil)
	_ repository.VoidedRangeRepository = (*VoidedRangeRepo)(nil)
)

// SeriesRepo contadores de numeración en memoria.
type SeriesRepo struct {
	store *Store
	inTx  bool
}

// NewSeriesRepository construye el repositorio sobre store.
func NewSeriesRepository(store *Store) *SeriesRepo {
	return &SeriesRepo{store: store}
}

func (r *SeriesRepo) Next(_ context.Context, issuerID, docKind string, series int) (int64, error) {
	var n int64
	err := r.store.access(r.inTx, func(d *state) error {
		k := seriesKey{issuerID, docKind, series}
		s := current(d, k)
		n = s.NextNumber
		s.NextNumber++
		s.UpdatedAt = time.Now()
		d.series[k] = s
		return nil
	})
	return n, err
}

func (r *SeriesRepo) AdvancePast(_ context.Context, issuerID, docKind string, series int, number int64) error {
	return r.store.access(r.inTx, func(d *state) error {
		k := seriesKey{issuerID, docKind, series}
		s := current(d, k)
		if s.NextNumber <= number {
			s.NextNumber = number + 1
			s.UpdatedAt = time.Now()
			d.series[k] = s
		}
		return nil
	})
}

func (r *SeriesRepo) Current(_ context.Context, issuerID, docKind string, series int) (*entity.Series, error) {
	var out entity.Series
	err := r.store.access(r.inTx, func(d *state) error {
		out = current(d, seriesKey{issuerID, docKind, series})
		return nil
	})
	return &out, err
}

func current(d *state, k seriesKey) entity.Series {
	if s, ok := d.series[k]; ok {
		return s
	}
	return entity.Series{IssuerID: k.issuerID, DocKind: k.docKind, Series: k.series, NextNumber: 1}
}

// VoidedRangeRepo registros de inutilización en memoria.
type VoidedRangeRepo struct {
	store *Store
	inTx  bool
}

// NewVoidedRangeRepository construye el repositorio sobre store.
func NewVoidedRangeRepository(store *Store) *VoidedRangeRepo {
	return &VoidedRangeRepo{store: store}
}

func (r *VoidedRangeRepo) Create(_ context.Context, vr *entity.VoidedRange) error {
	return r.store.access(r.inTx, func(d *state) error {
		if _, ok := d.ranges[vr.ID]; ok {
			return domain.ErrDuplicate
		}
		for _, other := range d.ranges {
			if other.IssuerID == vr.IssuerID && other.DocKind == vr.DocKind && other.Series == vr.Series &&
				vr.From <= other.To && other.From <= vr.To {
				return domain.ErrDuplicate
			}
		}
		c := *vr
		d.ranges[vr.ID] = &c
		return nil
	})
}

func (r *VoidedRangeRepo) GetByID(_ context.Context, id string) (*entity.VoidedRange, error) {
	var out *entity.VoidedRange
	err := r.store.access(r.inTx, func(d *state) error {
		vr, ok := d.ranges[id]
		if !ok {
			return domain.ErrNotFound
		}
		c := *vr
		out = &c
		return nil
	})
	return out, err
}

func (r *VoidedRangeRepo) ListBySeries(_ context.Context, issuerID, docKind string, series int) ([]*entity.VoidedRange, error) {
	var out []*entity.VoidedRange
	err := r.store.access(r.inTx, func(d *state) error {
		for _, vr := range d.ranges {
			if vr.IssuerID == issuerID && vr.DocKind == docKind && vr.Series == series {
				c := *vr
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out, err
}
