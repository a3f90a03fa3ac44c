// Package storage is the local record store: every read and write of the
// business entity tables goes through it. Writes run the registered
// interceptor chain (the sync engine queues local mutations there) and fan
// out DataEvents to local subscribers.
//
// Remote-originated writes use Apply, which skips the interceptors so an
// operation pulled from the server is never re-queued as a new local change.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sellpoint/sellpoint-client/pkg/bdkeeper"
	"github.com/sellpoint/sellpoint-client/pkg/models"
)

// Entity is the capability set of one watched table. The puller, the
// real-time channel, and the command executor all dispatch through it
// instead of switching on table names.
type Entity interface {
	Table() string
	ApplyCreate(ctx context.Context, rec map[string]string) error
	ApplyUpdate(ctx context.Context, rec map[string]string) error
	ApplyDelete(ctx context.Context, id string) error
}

// recordEntity applies operations for one keeper-backed table.
type recordEntity struct {
	table  string
	keeper *bdkeeper.Keeper
}

func (e *recordEntity) Table() string { return e.table }

func (e *recordEntity) ApplyCreate(ctx context.Context, rec map[string]string) error {
	return e.keeper.CreateRecord(ctx, e.table, rec)
}

func (e *recordEntity) ApplyUpdate(ctx context.Context, rec map[string]string) error {
	return e.keeper.UpdateRecord(ctx, e.table, rec["id"], rec)
}

func (e *recordEntity) ApplyDelete(ctx context.Context, id string) error {
	return e.keeper.DeleteRecord(ctx, e.table, id)
}

// Registry maps table names to entities.
type Registry struct {
	entities map[string]Entity
}

// NewRegistry builds a registry with the four watched entity tables.
func NewRegistry(keeper *bdkeeper.Keeper) *Registry {
	r := &Registry{entities: make(map[string]Entity)}
	for _, table := range []string{
		models.TableProducts, models.TableSales, models.TableCustomers, models.TableCategories,
	} {
		r.Register(&recordEntity{table: table, keeper: keeper})
	}
	return r
}

// Register adds or replaces an entity.
func (r *Registry) Register(e Entity) {
	r.entities[e.Table()] = e
}

// Lookup returns the entity for a table name.
func (r *Registry) Lookup(table string) (Entity, bool) {
	e, ok := r.entities[table]
	return e, ok
}

// Tables returns the registered table names in stable order.
func (r *Registry) Tables() []string {
	tables := make([]string, 0, len(r.entities))
	for t := range r.entities {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// Interceptor observes every local mutation. BeforeMutation may veto it;
// AfterMutation runs synchronously after the record write, inside the same
// transaction, and its error rolls the whole mutation back, because a
// change that could not be durably queued for sync must not be reported as
// successful.
type Interceptor interface {
	BeforeMutation(ctx context.Context, ev models.DataEvent) error
	AfterMutation(ctx context.Context, ev models.DataEvent) error
}

// Store is the local record store.
type Store struct {
	keeper   *bdkeeper.Keeper
	registry *Registry

	mu           sync.RWMutex
	interceptors []Interceptor
	subscribers  []func(models.DataEvent)
}

// NewStore creates a store over the keeper and registry.
func NewStore(keeper *bdkeeper.Keeper, registry *Registry) *Store {
	return &Store{keeper: keeper, registry: registry}
}

// Keeper exposes the underlying keeper for read-only collaborators.
func (s *Store) Keeper() *bdkeeper.Keeper { return s.keeper }

// Registry exposes the entity registry.
func (s *Store) Registry() *Registry { return s.registry }

// RegisterInterceptor attaches an interceptor to the local mutation path.
func (s *Store) RegisterInterceptor(i Interceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interceptors = append(s.interceptors, i)
}

// Subscribe attaches a DataEvent listener. Listeners are called
// synchronously and must be fast.
func (s *Store) Subscribe(fn func(models.DataEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Create inserts a record as a local mutation.
func (s *Store) Create(ctx context.Context, table string, rec map[string]string) error {
	return s.mutate(ctx, models.DataEvent{Table: table, Kind: models.OpCreate, Record: rec, At: time.Now().UTC()})
}

// Update changes a record as a local mutation. rec must carry the id.
func (s *Store) Update(ctx context.Context, table string, rec map[string]string) error {
	return s.mutate(ctx, models.DataEvent{Table: table, Kind: models.OpUpdate, Record: rec, At: time.Now().UTC()})
}

// Delete removes a record as a local mutation.
func (s *Store) Delete(ctx context.Context, table string, id string) error {
	rec := map[string]string{"id": id}
	return s.mutate(ctx, models.DataEvent{Table: table, Kind: models.OpDelete, Record: rec, At: time.Now().UTC()})
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, table string, id string) (map[string]string, error) {
	return s.keeper.GetRecord(ctx, table, id)
}

// All returns every record of a table.
func (s *Store) All(ctx context.Context, table string) ([]map[string]string, error) {
	return s.keeper.AllRecords(ctx, table)
}

func (s *Store) mutate(ctx context.Context, ev models.DataEvent) error {
	entity, ok := s.registry.Lookup(ev.Table)
	if !ok {
		return fmt.Errorf("no entity registered for table %q", ev.Table)
	}

	s.mu.RLock()
	interceptors := s.interceptors
	s.mu.RUnlock()

	for _, i := range interceptors {
		if err := i.BeforeMutation(ctx, ev); err != nil {
			return fmt.Errorf("mutation vetoed: %w", err)
		}
	}

	// The record write and whatever the interceptors persist (the sync
	// queue append) commit or roll back as one unit: a mutation whose
	// operation could not be queued leaves no trace.
	err := s.keeper.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.apply(ctx, entity, ev.Kind, ev.Record); err != nil {
			return err
		}
		for _, i := range interceptors {
			if err := i.AfterMutation(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(ev)
	return nil
}

// Apply applies a remote-originated operation. Interceptors are bypassed,
// so nothing is re-queued; subscribers are still notified.
func (s *Store) Apply(ctx context.Context, op models.SyncOperation) error {
	entity, ok := s.registry.Lookup(op.Table)
	if !ok {
		return fmt.Errorf("no entity registered for table %q", op.Table)
	}
	if !op.Kind.Valid() {
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}

	if err := s.apply(ctx, entity, op.Kind, op.Payload); err != nil {
		return err
	}

	s.notify(models.DataEvent{Table: op.Table, Kind: op.Kind, Record: op.Payload, At: time.Now().UTC()})
	return nil
}

func (s *Store) apply(ctx context.Context, entity Entity, kind models.OpKind, rec map[string]string) error {
	switch kind {
	case models.OpCreate:
		return entity.ApplyCreate(ctx, rec)
	case models.OpUpdate:
		return entity.ApplyUpdate(ctx, rec)
	case models.OpDelete:
		return entity.ApplyDelete(ctx, rec["id"])
	default:
		return fmt.Errorf("unknown operation kind %q", kind)
	}
}

func (s *Store) notify(ev models.DataEvent) {
	s.mu.RLock()
	subscribers := s.subscribers
	s.mu.RUnlock()

	for _, fn := range subscribers {
		fn(ev)
	}
}
