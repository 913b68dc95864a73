package memory

import (
	"context"
	"sort"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

// DocumentRepo documentos en memoria.
type DocumentRepo struct {
	store *Store
	inTx  bool
}

// NewDocumentRepository construye el repositorio sobre store.
func NewDocumentRepository(store *Store) *DocumentRepo {
	return &DocumentRepo{store: store}
}

func (r *DocumentRepo) Create(_ context.Context, doc *entity.Document) error {
	return r.store.access(r.inTx, func(d *state) error {
		if _, ok := d.docs[doc.ID]; ok {
			return domain.ErrDuplicate
		}
		for _, other := range d.docs {
			if other.IssuerID == doc.IssuerID && other.DocKind == doc.DocKind &&
				other.Series == doc.Series && other.Number == doc.Number {
				return domain.ErrDuplicate
			}
		}
		if doc.AccessKey != "" {
			if _, ok := d.byKey[doc.AccessKey]; ok {
				return domain.ErrDuplicate
			}
			d.byKey[doc.AccessKey] = doc.ID
		}
		if doc.Version == 0 {
			doc.Version = 1
		}
		d.docs[doc.ID] = doc.Clone()
		return nil
	})
}

func (r *DocumentRepo) Update(_ context.Context, doc *entity.Document) error {
	return r.store.access(r.inTx, func(d *state) error {
		cur, ok := d.docs[doc.ID]
		if !ok {
			return domain.ErrNotFound
		}
		if cur.Version != doc.Version {
			return &fiscal.ConcurrentModificationError{DocumentID: doc.ID, Expected: cur.Version, Got: doc.Version}
		}
		if cur.AccessKey != "" && cur.AccessKey != doc.AccessKey {
			return &fiscal.InvalidInputError{Field: "access_key", Value: doc.AccessKey, Reason: "la clave de acceso es inmutable"}
		}
		if doc.AccessKey != "" {
			if owner, ok := d.byKey[doc.AccessKey]; ok && owner != doc.ID {
				return domain.ErrDuplicate
			}
			d.byKey[doc.AccessKey] = doc.ID
		}
		doc.Version++
		d.docs[doc.ID] = doc.Clone()
		return nil
	})
}

func (r *DocumentRepo) GetByID(_ context.Context, id string) (*entity.Document, error) {
	var out *entity.Document
	err := r.store.access(r.inTx, func(d *state) error {
		doc, ok := d.docs[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = doc.Clone()
		return nil
	})
	return out, err
}

func (r *DocumentRepo) GetByAccessKey(_ context.Context, accessKey string) (*entity.Document, error) {
	var out *entity.Document
	err := r.store.access(r.inTx, func(d *state) error {
		id, ok := d.byKey[accessKey]
		if !ok {
			return domain.ErrNotFound
		}
		out = d.docs[id].Clone()
		return nil
	})
	return out, err
}

func (r *DocumentRepo) List(_ context.Context, f repository.DocumentFilter) ([]*entity.Document, error) {
	var out []*entity.Document
	err := r.store.access(r.inTx, func(d *state) error {
		for _, doc := range d.docs {
			if doc.IssuerID != f.IssuerID || (f.Status != "" && doc.Status != f.Status) {
				continue
			}
			out = append(out, doc.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, err
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, err
}

func (r *DocumentRepo) FindInRange(_ context.Context, issuerID, docKind string, series int, from, to int64) ([]*entity.Document, error) {
	var out []*entity.Document
	err := r.store.access(r.inTx, func(d *state) error {
		for _, doc := range d.docs {
			if doc.IssuerID == issuerID && doc.DocKind == docKind && doc.Series == series &&
				doc.Number >= from && doc.Number <= to {
				out = append(out, doc.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, err
}

func (r *DocumentRepo) Delete(_ context.Context, id string) error {
	return r.store.access(r.inTx, func(d *state) error {
		doc, ok := d.docs[id]
		if !ok {
			return domain.ErrNotFound
		}
		if doc.Status != entity.StatusDraft {
			return &fiscal.InvalidTransitionError{From: doc.Status, To: "deleted"}
		}
		delete(d.docs, id)
		if doc.AccessKey != "" {
			delete(d.byKey, doc.AccessKey)
		}
		return nil
	})
}
