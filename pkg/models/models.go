// Package models contains the data shapes shared across the sellpoint client:
// the business entity records kept in the local store and the synchronization
// types exchanged with the central service.
package models

import "time"

// Entity table names watched by the sync engine.
const (
	TableProducts   = "products"
	TableSales      = "sales"
	TableCustomers  = "customers"
	TableCategories = "categories"

	// TableCommands is a virtual table name used by the server to deliver
	// remote commands through the same pull/push channel as data operations.
	TableCommands = "commands"
)

// OpKind is the kind of a local or remote mutation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Valid reports whether k is one of the known mutation kinds.
func (k OpKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// SyncOperation is a durable record of one local mutation awaiting delivery
// to the central service. ID is globally unique and stable once created.
// Delivered transitions false to true exactly once and never reverses.
type SyncOperation struct {
	ID        string
	Table     string
	Kind      OpKind
	Payload   map[string]string
	OriginID  string
	CreatedAt time.Time
	Delivered bool
	// Attempts counts permanent rejections from the server. Once it reaches
	// the configured limit the operation is dead-lettered instead of being
	// retried forever.
	Attempts int
	Dead     bool
}

// CommandKind names a server-issued instruction.
type CommandKind string

const (
	CommandUpdate     CommandKind = "update"
	CommandBackup     CommandKind = "backup"
	CommandReset      CommandKind = "reset"
	CommandConfig     CommandKind = "config"
	CommandDiagnostic CommandKind = "diagnostic"
)

// CommandStatus is the execution state of a RemoteCommand. Transitions are
// monotonic along pending -> executing -> completed|failed.
type CommandStatus string

const (
	StatusPending   CommandStatus = "pending"
	StatusExecuting CommandStatus = "executing"
	StatusCompleted CommandStatus = "completed"
	StatusFailed    CommandStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s CommandStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RemoteCommand is a server-issued instruction executed locally under a
// tracked state machine.
type RemoteCommand struct {
	ID      string         `json:"id"`
	Kind    CommandKind    `json:"kind"`
	Payload map[string]any `json:"payload"`
	Status  CommandStatus  `json:"status"`
}

// DataEvent is an ephemeral notification about a mutation of the local
// record store. It is not persisted; it exists only to fan out to local
// subscribers such as the UI.
type DataEvent struct {
	Table  string
	Kind   OpKind
	Record map[string]string
	At     time.Time
}

// Product is a catalog item.
type Product struct {
	ID         string
	CategoryID string
	Name       string
	Price      string
	Stock      string
	UpdatedAt  string
}

// Sale is one completed checkout.
type Sale struct {
	ID         string
	CustomerID string
	Total      string
	Items      string
	SoldAt     string
	UpdatedAt  string
}

// Customer is a registered buyer with a loyalty account.
type Customer struct {
	ID            string
	Name          string
	Phone         string
	LoyaltyPoints string
	UpdatedAt     string
}

// Category groups products.
type Category struct {
	ID        string
	Name      string
	UpdatedAt string
}

func (p *Product) Fields() ([]string, []interface{}) {
	return []string{"id", "category_id", "name", "price", "stock", "updated_at"},
		[]interface{}{p.ID, p.CategoryID, p.Name, p.Price, p.Stock, p.UpdatedAt}
}

func (s *Sale) Fields() ([]string, []interface{}) {
	return []string{"id", "customer_id", "total", "items", "sold_at", "updated_at"},
		[]interface{}{s.ID, s.CustomerID, s.Total, s.Items, s.SoldAt, s.UpdatedAt}
}

func (c *Customer) Fields() ([]string, []interface{}) {
	return []string{"id", "name", "phone", "loyalty_points", "updated_at"},
		[]interface{}{c.ID, c.Name, c.Phone, c.LoyaltyPoints, c.UpdatedAt}
}

func (c *Category) Fields() ([]string, []interface{}) {
	return []string{"id", "name", "updated_at"},
		[]interface{}{c.ID, c.Name, c.UpdatedAt}
}

// Record converts an entity described by Fields into the map shape the
// keeper and the sync layer work with.
func Record(f interface {
	Fields() ([]string, []interface{})
}) map[string]string {
	cols, vals := f.Fields()
	rec := make(map[string]string, len(cols))
	for i, col := range cols {
		if s, ok := vals[i].(string); ok {
			rec[col] = s
		}
	}
	return rec
}
