// Package memory implementa los puertos de persistencia en memoria del proceso.
// Se usa en pruebas y en APP_ENV=dev sin base de datos. Todas las operaciones
// se serializan con un único mutex; RunIssuance lo mantiene durante toda la
// transacción y restaura la instantánea previa si la función falla.
package memory

import (
	"fmt"
	"sync"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

type seriesKey struct {
	issuerID string
	docKind  string
	series   int
}

func (k seriesKey) String() string {
	return fmt.Sprintf("%s/%s/%03d", k.issuerID, k.docKind, k.series)
}

// state datos almacenados. Los valores guardados son copias propias: nunca se
// comparten punteros con el llamador.
type state struct {
	docs    map[string]*entity.Document
	byKey   map[string]string
	events  map[string][]entity.FiscalEvent
	series  map[seriesKey]entity.Series
	ranges  map[string]*entity.VoidedRange
	issuers map[string]*entity.Issuer
	users   map[string]*entity.User
}

func newState() *state {
	return &state{
		docs:    make(map[string]*entity.Document),
		byKey:   make(map[string]string),
		events:  make(map[string][]entity.FiscalEvent),
		series:  make(map[seriesKey]entity.Series),
		ranges:  make(map[string]*entity.VoidedRange),
		issuers: make(map[string]*entity.Issuer),
		users:   make(map[string]*entity.User),
	}
}

// snapshot copia superficial de los mapas. Alcanza porque las escrituras
// reemplazan valores en lugar de mutarlos.
func (s *state) snapshot() *state {
	c := newState()
	for k, v := range s.docs {
		c.docs[k] = v
	}
	for k, v := range s.byKey {
		c.byKey[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v[:len(v):len(v)]
	}
	for k, v := range s.series {
		c.series[k] = v
	}
	for k, v := range s.ranges {
		c.ranges[k] = v
	}
	for k, v := range s.issuers {
		c.issuers[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// Store almacenamiento compartido por todos los repositorios en memoria.
type Store struct {
	mu   sync.Mutex
	data *state
}

// NewStore crea un almacenamiento vacío.
func NewStore() *Store {
	return &Store{data: newState()}
}

// access ejecuta fn sobre los datos. Dentro de una transacción el mutex ya
// está tomado por RunIssuance.
func (s *Store) access(inTx bool, fn func(d *state) error) error {
	if !inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.data)
}
