// Package syncer runs the offline-first synchronization engine: it queues
// local mutations for delivery, pushes them to the central service, pulls
// remote operations back in, and routes server-issued commands to the
// command executor.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sellpoint/sellpoint-client/pkg/bdkeeper"
	"github.com/sellpoint/sellpoint-client/pkg/commands"
	"github.com/sellpoint/sellpoint-client/pkg/config"
	"github.com/sellpoint/sellpoint-client/pkg/logger"
	"github.com/sellpoint/sellpoint-client/pkg/models"
	"github.com/sellpoint/sellpoint-client/pkg/realtime"
	"github.com/sellpoint/sellpoint-client/pkg/spsync"
	"github.com/sellpoint/sellpoint-client/pkg/storage"
	"github.com/sellpoint/sellpoint-client/pkg/syncinfo"
)

// Status is the read-only dashboard snapshot of the engine.
type Status struct {
	Online            bool
	RealtimeConnected bool
	PendingOperations int
	DeadOperations    int
	LastSyncAt        time.Time
}

// Engine owns the sync queue draining, the remote update pulling, the
// real-time channel, and the network monitor. It is constructed explicitly
// and has an Init/Shutdown lifecycle; nothing about it is a process-wide
// singleton.
type Engine struct {
	opt      *config.Options
	keeper   *bdkeeper.Keeper
	store    *storage.Store
	api      *spsync.Client
	wm       *syncinfo.SyncManager
	executor *commands.Executor
	clock    Clock
	log      logger.Interface

	monitor *Monitor
	prober  Prober
	errs    *errorLog
	rt      *realtime.Channel

	// One guard per pass kind: a second trigger while a pass is in flight
	// coalesces into a no-op.
	procGuard atomic.Bool
	pullGuard atomic.Bool

	lastSync atomic.Value // time.Time

	kick   chan struct{}
	recon  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine wires the engine to its collaborators and registers its change
// interceptor on the store. Call Init to start the background work.
func NewEngine(opt *config.Options, keeper *bdkeeper.Keeper, store *storage.Store,
	api *spsync.Client, wm *syncinfo.SyncManager, executor *commands.Executor,
	clock Clock, log logger.Interface) *Engine {

	e := &Engine{
		opt:      opt,
		keeper:   keeper,
		store:    store,
		api:      api,
		wm:       wm,
		executor: executor,
		clock:    clock,
		log:      log,
		errs:     newErrorLog(20),
		kick:     make(chan struct{}, 1),
		recon:    make(chan struct{}, 1),
	}
	e.lastSync.Store(time.Time{})
	e.prober = DialProber(opt.ServerURL, opt.RequestTimeout)
	e.monitor = NewMonitor(e.onReconnect)

	store.RegisterInterceptor(&changeInterceptor{engine: e})
	return e
}

// SetProber replaces the connectivity probe. Used by tests and by
// deployments that front the service with something a TCP dial cannot see.
func (e *Engine) SetProber(p Prober) { e.prober = p }

// Init restores persisted state and starts the timers, the kick listener,
// and (if enabled) the real-time channel.
func (e *Engine) Init(ctx context.Context) error {
	if last, err := e.wm.LoadAndUpdateLastSyncFromFile(); err != nil {
		return fmt.Errorf("restore pull watermark: %w", err)
	} else if !last.IsZero() {
		e.log.Info("restored pull watermark", "lastSync", last)
	}

	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.kickLoop(ctx)
	e.wg.Add(1)
	go e.reconLoop(ctx)

	if e.opt.SyncWithServer {
		e.startTicker(ctx, e.opt.SyncInterval, func(tickCtx context.Context) {
			if err := e.ProcessQueue(tickCtx); err != nil {
				e.log.Debug("scheduled queue pass failed", "err", err)
			}
		})
		e.startTicker(ctx, e.opt.PullInterval, func(tickCtx context.Context) {
			if err := e.Pull(tickCtx); err != nil {
				e.log.Debug("scheduled pull failed", "err", err)
			}
		})
		e.startTicker(ctx, e.opt.CheckInterval, func(tickCtx context.Context) {
			e.monitor.Set(e.prober(tickCtx))
		})

		if e.opt.EnableRealtime {
			rt, err := realtime.NewChannel(e.opt.WSURL, e.opt.BusinessID, e.opt.ClientID,
				e.opt.AuthToken, e.opt.ReconnectDelay, e.handleRealtimeEntry, e.log)
			if err != nil {
				return fmt.Errorf("configure realtime channel: %w", err)
			}
			e.rt = rt
			e.rt.Start(ctx)
		}
	}

	e.log.Info("sync engine started", "clientId", e.opt.ClientID, "syncWithServer", e.opt.SyncWithServer)
	return nil
}

// Shutdown stops timers and the real-time channel and waits for background
// work to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.rt != nil {
		e.rt.Stop()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("sync engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) startTicker(ctx context.Context, d time.Duration, fn func(ctx context.Context)) {
	ticker := e.clock.NewTicker(d)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				fn(ctx)
			}
		}
	}()
}

func (e *Engine) kickLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
			if err := e.ProcessQueue(ctx); err != nil {
				e.log.Debug("kicked queue pass failed", "err", err)
			}
		}
	}
}

// reconLoop runs the reconnect work (a pull plus redelivery of stored
// payloads) under the engine lifecycle, so Shutdown waits for it.
func (e *Engine) reconLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.recon:
			if err := e.Pull(ctx); err != nil {
				e.log.Debug("reconnect pull failed", "err", err)
			}
			e.flushPendingPayloads(ctx)
		}
	}
}

// Kick requests an asynchronous queue pass. Multiple kicks coalesce.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// onReconnect runs on every offline-to-online transition. It only signals
// the supervised loops; before Init those signals sit in their buffered
// channels, so no work escapes the lifecycle.
func (e *Engine) onReconnect() {
	e.log.Info("connectivity restored")
	e.Kick()
	select {
	case e.recon <- struct{}{}:
	default:
	}
}

// changeInterceptor queues every local mutation for delivery. It lives on
// the store's synchronous mutation path: a queue persistence failure fails
// the mutation itself, because silently losing the operation would break
// the durability guarantee.
type changeInterceptor struct {
	engine *Engine
}

func (c *changeInterceptor) BeforeMutation(_ context.Context, ev models.DataEvent) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("unknown mutation kind %q", ev.Kind)
	}
	return nil
}

func (c *changeInterceptor) AfterMutation(ctx context.Context, ev models.DataEvent) error {
	payload := make(map[string]string, len(ev.Record))
	for k, v := range ev.Record {
		payload[k] = v
	}

	op := models.SyncOperation{
		ID:        uuid.NewString(),
		Table:     ev.Table,
		Kind:      ev.Kind,
		Payload:   payload,
		OriginID:  c.engine.opt.ClientID,
		CreatedAt: c.engine.clock.Now().UTC(),
	}

	if err := c.engine.keeper.AppendSyncOperation(ctx, op); err != nil {
		return fmt.Errorf("persist sync operation: %w", err)
	}

	if c.engine.monitor.Online() {
		c.engine.Kick()
	}
	return nil
}

// ProcessQueue drains pending operations in insertion order. Only one pass
// runs at a time; a trigger during a pass is a no-op. Failed operations
// stay pending for the next pass, so delivery is at-least-once and order
// across retries is not strict FIFO.
func (e *Engine) ProcessQueue(ctx context.Context) error {
	if !e.opt.SyncWithServer {
		return nil
	}
	if !e.procGuard.CompareAndSwap(false, true) {
		return nil
	}
	defer e.procGuard.Store(false)

	ops, err := e.keeper.PendingSyncOperations(ctx)
	if err != nil {
		return fmt.Errorf("load pending operations: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	delivered := 0
	transient := false
	for _, op := range ops {
		err := e.api.PushOperation(ctx, op)
		switch {
		case err == nil:
			if err := e.keeper.MarkDelivered(ctx, op.ID); err != nil {
				return fmt.Errorf("mark delivered: %w", err)
			}
			delivered++

		case errors.Is(err, spsync.ErrNetworkUnavailable):
			transient = true
			e.errs.Record(e.clock.Now(), fmt.Errorf("push %s: %w", op.ID, err))

		default:
			var rej *spsync.RejectionError
			if errors.As(err, &rej) {
				if err := e.keeper.RecordRejection(ctx, op.ID, e.opt.MaxRejections); err != nil {
					return fmt.Errorf("record rejection: %w", err)
				}
				e.log.Warn("operation rejected by server", "syncId", op.ID,
					"status", rej.Status, "attempts", op.Attempts+1)
			}
			e.errs.Record(e.clock.Now(), fmt.Errorf("push %s: %w", op.ID, err))
		}
	}

	// One connectivity verdict per pass: a mixed pass with any transient
	// failure counts as offline, so the pass cannot manufacture a spurious
	// reconnect transition.
	switch {
	case transient:
		e.monitor.Set(false)
	case delivered > 0:
		e.monitor.Set(true)
	}

	if delivered > 0 {
		e.lastSync.Store(e.clock.Now())
		e.log.Info("delivered queued operations", "count", delivered)
	}

	return e.keeper.CompactQueue(ctx)
}

// Pull fetches remote operations newer than the watermark, applies the
// non-echo ones, routes commands, and advances the watermark to the
// maximum timestamp seen. Serializes against itself; runs freely alongside
// ProcessQueue.
func (e *Engine) Pull(ctx context.Context) error {
	if !e.opt.SyncWithServer {
		return nil
	}
	if !e.pullGuard.CompareAndSwap(false, true) {
		return nil
	}
	defer e.pullGuard.Store(false)

	since := e.wm.GetSyncInfo().LastSync
	entries, err := e.api.Pull(ctx, since)
	if err != nil {
		if errors.Is(err, spsync.ErrNetworkUnavailable) {
			e.monitor.Set(false)
		}
		e.errs.Record(e.clock.Now(), fmt.Errorf("pull: %w", err))
		return err
	}
	e.monitor.Set(true)

	var maxSeen time.Time
	for _, entry := range entries {
		if entry.Timestamp.After(maxSeen) {
			maxSeen = entry.Timestamp
		}
		e.dispatch(ctx, entry)
	}

	if !maxSeen.IsZero() {
		if err := e.wm.UpdateAndSaveSyncInfo(syncinfo.SyncInfo{LastSync: maxSeen}); err != nil {
			return fmt.Errorf("persist pull watermark: %w", err)
		}
	}
	e.lastSync.Store(e.clock.Now())
	return nil
}

// dispatch routes one inbound entry: echoes of our own operations are
// discarded, command entries go to the executor, everything else is applied
// to the record store.
func (e *Engine) dispatch(ctx context.Context, entry spsync.PullEntry) {
	if entry.UserID == e.opt.ClientID {
		return
	}

	if entry.Table == models.TableCommands {
		e.executor.Submit(ctx, decodeCommand(entry, e.log))
		return
	}

	op := models.SyncOperation{
		Table:    entry.Table,
		Kind:     models.OpKind(entry.Operation),
		Payload:  entry.Data,
		OriginID: entry.UserID,
	}
	if err := e.store.Apply(ctx, op); err != nil {
		e.errs.Record(e.clock.Now(), fmt.Errorf("apply remote %s on %s: %w", entry.Operation, entry.Table, err))
		e.log.Error("failed to apply remote operation", "table", entry.Table, "err", err)
	}
}

// handleRealtimeEntry applies one pushed operation with the same echo
// suppression as a pull batch. The watermark is not advanced here: the
// puller owns it, and re-observing the entry on the next pull is a no-op.
func (e *Engine) handleRealtimeEntry(ctx context.Context, entry spsync.PullEntry) {
	e.dispatch(ctx, entry)
}

func decodeCommand(entry spsync.PullEntry, log logger.Interface) models.RemoteCommand {
	cmd := models.RemoteCommand{
		ID:     entry.Data["id"],
		Kind:   models.CommandKind(entry.Data["kind"]),
		Status: models.StatusPending,
	}
	if raw := entry.Data["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &cmd.Payload); err != nil {
			log.Error("malformed command payload", "id", cmd.ID, "err", err)
		}
	}
	if cmd.Payload == nil {
		cmd.Payload = map[string]any{}
	}
	return cmd
}

// CreateTicket opens a support ticket. When the service is unreachable the
// ticket is stored locally and redelivered on the next reconnect; queued
// is true in that case.
func (e *Engine) CreateTicket(ctx context.Context, t spsync.Ticket) (id string, queued bool, err error) {
	id, err = e.api.CreateTicket(ctx, t)
	if err == nil {
		e.monitor.Set(true)
		return id, false, nil
	}
	if !errors.Is(err, spsync.ErrNetworkUnavailable) {
		return "", false, err
	}

	e.monitor.Set(false)
	body, encErr := json.Marshal(t)
	if encErr != nil {
		return "", false, encErr
	}
	if saveErr := e.keeper.SavePendingPayload(ctx, "ticket", body); saveErr != nil {
		return "", false, fmt.Errorf("store ticket for retry: %w", saveErr)
	}
	return "", true, nil
}

// flushPendingPayloads redelivers stored backups and tickets.
func (e *Engine) flushPendingPayloads(ctx context.Context) {
	backups, err := e.keeper.PendingPayloads(ctx, "backup")
	if err != nil {
		e.log.Error("load pending backups", "err", err)
		return
	}
	for _, p := range backups {
		if err := e.api.SendBackup(ctx, json.RawMessage(p.Body)); err != nil {
			e.errs.Record(e.clock.Now(), fmt.Errorf("redeliver backup %d: %w", p.ID, err))
			return
		}
		if err := e.keeper.DeletePendingPayload(ctx, p.ID); err != nil {
			e.log.Error("drop delivered backup", "id", p.ID, "err", err)
		}
	}

	tickets, err := e.keeper.PendingPayloads(ctx, "ticket")
	if err != nil {
		e.log.Error("load pending tickets", "err", err)
		return
	}
	for _, p := range tickets {
		var t spsync.Ticket
		if err := json.Unmarshal(p.Body, &t); err != nil {
			e.log.Error("malformed stored ticket", "id", p.ID, "err", err)
			continue
		}
		if _, err := e.api.CreateTicket(ctx, t); err != nil {
			e.errs.Record(e.clock.Now(), fmt.Errorf("redeliver ticket %d: %w", p.ID, err))
			return
		}
		if err := e.keeper.DeletePendingPayload(ctx, p.ID); err != nil {
			e.log.Error("drop delivered ticket", "id", p.ID, "err", err)
		}
	}
}

// Status returns the read-only dashboard snapshot.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	pending, dead, err := e.keeper.QueueCounts(ctx)
	if err != nil {
		return Status{}, err
	}
	last, _ := e.lastSync.Load().(time.Time)
	s := Status{
		Online:            e.monitor.Online(),
		PendingOperations: pending,
		DeadOperations:    dead,
		LastSyncAt:        last,
	}
	if e.rt != nil {
		s.RealtimeConnected = e.rt.Connected()
	}
	return s, nil
}

// Diagnostics gathers the health snapshot delivered by the diagnostic
// command.
func (e *Engine) Diagnostics(ctx context.Context) models.DiagnosticPayload {
	status, err := e.Status(ctx)
	if err != nil {
		e.log.Error("collect queue counts", "err", err)
	}

	counts := make(map[string]int)
	for _, table := range e.store.Registry().Tables() {
		n, err := e.keeper.CountRecords(ctx, table)
		if err != nil {
			e.log.Error("count records", "table", table, "err", err)
			continue
		}
		counts[table] = n
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return models.DiagnosticPayload{
		ClientID:     e.opt.ClientID,
		Online:       status.Online,
		Realtime:     status.RealtimeConnected,
		PendingOps:   status.PendingOperations,
		DeadOps:      status.DeadOperations,
		EntityCounts: counts,
		LastSyncAt:   status.LastSyncAt,
		RecentErrors: e.errs.Recent(),
		Goroutines:   runtime.NumGoroutine(),
		HeapBytes:    mem.HeapAlloc,
		CollectedAt:  e.clock.Now().UTC(),
	}
}

// Monitor exposes the network monitor, mainly for tests and the CLI.
func (e *Engine) Monitor() *Monitor { return e.monitor }
