// Package commands executes server-issued remote commands under a tracked
// state machine: pending -> executing -> completed|failed. A handler error
// fails its command and is reported, but never stops the engine from
// processing the next command.
package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/sellpoint/sellpoint-client/pkg/logger"
	"github.com/sellpoint/sellpoint-client/pkg/models"
)

// Handler executes the payload of one command kind.
type Handler func(ctx context.Context, payload map[string]any) error

// Reporter observes terminal command outcomes. err is nil for completed
// commands.
type Reporter func(cmd models.RemoteCommand, err error)

// Executor runs remote commands sequentially.
type Executor struct {
	mu       sync.Mutex
	statuses map[string]models.CommandStatus
	handlers map[models.CommandKind]Handler
	log      logger.Interface
	report   Reporter
}

// NewExecutor creates an executor with no handlers registered.
func NewExecutor(log logger.Interface) *Executor {
	return &Executor{
		statuses: make(map[string]models.CommandStatus),
		handlers: make(map[models.CommandKind]Handler),
		log:      log,
	}
}

// RegisterHandler installs the handler for a command kind.
func (e *Executor) RegisterHandler(kind models.CommandKind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// SetReporter installs the outcome reporter.
func (e *Executor) SetReporter(r Reporter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report = r
}

// Status returns the tracked status of a command id.
func (e *Executor) Status(id string) (models.CommandStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.statuses[id]
	return s, ok
}

// Submit runs a command through the state machine. A duplicate id arriving
// while the first instance is executing or already completed is dropped;
// a previously failed command may be reissued by the server and will run
// again.
func (e *Executor) Submit(ctx context.Context, cmd models.RemoteCommand) {
	e.mu.Lock()
	if s, ok := e.statuses[cmd.ID]; ok && (s == models.StatusExecuting || s == models.StatusCompleted) {
		e.mu.Unlock()
		e.log.Debug("dropping duplicate command", "id", cmd.ID, "status", string(s))
		return
	}
	handler, ok := e.handlers[cmd.Kind]
	if !ok {
		e.statuses[cmd.ID] = models.StatusFailed
		e.mu.Unlock()
		e.finish(cmd, models.StatusFailed, fmt.Errorf("no handler for command kind %q", cmd.Kind))
		return
	}
	e.statuses[cmd.ID] = models.StatusPending
	e.statuses[cmd.ID] = models.StatusExecuting
	e.mu.Unlock()

	e.log.Info("executing command", "id", cmd.ID, "kind", string(cmd.Kind))

	err := e.run(ctx, handler, cmd.Payload)

	e.mu.Lock()
	if err != nil {
		e.statuses[cmd.ID] = models.StatusFailed
	} else {
		e.statuses[cmd.ID] = models.StatusCompleted
	}
	status := e.statuses[cmd.ID]
	e.mu.Unlock()

	e.finish(cmd, status, err)
}

// run shields the engine from a panicking handler; a panic fails the
// command like any other error.
func (e *Executor) run(ctx context.Context, h Handler, payload map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command handler panicked: %v", r)
		}
	}()
	return h(ctx, payload)
}

func (e *Executor) finish(cmd models.RemoteCommand, status models.CommandStatus, err error) {
	cmd.Status = status
	if err != nil {
		e.log.Error("command failed", "id", cmd.ID, "kind", string(cmd.Kind), "err", err)
	} else {
		e.log.Info("command completed", "id", cmd.ID, "kind", string(cmd.Kind))
	}

	e.mu.Lock()
	report := e.report
	e.mu.Unlock()
	if report != nil {
		report(cmd, err)
	}
}
