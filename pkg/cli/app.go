package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sellpoint/sellpoint-client/pkg/bdkeeper"
	"github.com/sellpoint/sellpoint-client/pkg/commands"
	"github.com/sellpoint/sellpoint-client/pkg/config"
	"github.com/sellpoint/sellpoint-client/pkg/logger"
	"github.com/sellpoint/sellpoint-client/pkg/models"
	"github.com/sellpoint/sellpoint-client/pkg/spsync"
	"github.com/sellpoint/sellpoint-client/pkg/storage"
	"github.com/sellpoint/sellpoint-client/pkg/syncer"
	"github.com/sellpoint/sellpoint-client/pkg/syncinfo"
)

// app holds the wired components of a running client.
type app struct {
	opt      *config.Options
	log      logger.Interface
	keeper   *bdkeeper.Keeper
	store    *storage.Store
	api      *spsync.Client
	engine   *syncer.Engine
	executor *commands.Executor

	confirmMu sync.Mutex
	confirm   func(prompt string) bool
}

// newApp opens the local state and wires the engine. It does not start any
// background work; call app.engine.Init for that.
func newApp(opt *config.Options) (*app, error) {
	if _, err := opt.EnsureDataPath(); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	if err := ensureClientID(opt); err != nil {
		return nil, fmt.Errorf("establish client identity: %w", err)
	}

	log, err := logger.NewLogger(opt.LogPath())
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	keeper, err := bdkeeper.Open(opt.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}

	if empty, err := keeper.IsEmpty(context.Background()); err == nil && empty {
		if err := keeper.SeedDefaults(context.Background()); err != nil {
			keeper.Close()
			return nil, fmt.Errorf("seed defaults: %w", err)
		}
		log.Info("seeded default reference data")
	}

	wm, err := syncinfo.NewSyncManager(opt.WatermarkPath())
	if err != nil {
		keeper.Close()
		return nil, err
	}

	store := storage.NewStore(keeper, storage.NewRegistry(keeper))
	api := spsync.NewClient(opt.ServerURL, opt.AuthToken, opt.BusinessID, opt.RequestTimeout)

	executor := commands.NewExecutor(log)
	engine := syncer.NewEngine(opt, keeper, store, api, wm, executor, syncer.NewClock(), log)

	a := &app{
		opt:      opt,
		log:      log,
		keeper:   keeper,
		store:    store,
		api:      api,
		engine:   engine,
		executor: executor,
	}
	commands.RegisterDefaults(executor, commands.Deps{
		Keeper:      keeper,
		API:         api,
		Log:         log,
		Diagnostics: engine.Diagnostics,
		Confirm:     a.confirmPrompt,
		Tables:      store.Registry().Tables(),
	})

	return a, nil
}

// setConfirm installs the interactive confirmation hook once a console
// exists. Without one, confirmPrompt declines, the right default for an
// unattended terminal.
func (a *app) setConfirm(fn func(prompt string) bool) {
	a.confirmMu.Lock()
	a.confirm = fn
	a.confirmMu.Unlock()
}

func (a *app) confirmPrompt(prompt string) bool {
	a.confirmMu.Lock()
	fn := a.confirm
	a.confirmMu.Unlock()
	if fn == nil {
		return false
	}
	return fn(prompt)
}

func (a *app) close() {
	if err := a.keeper.Close(); err != nil {
		a.log.Error("close database", "err", err)
	}
}

// ensureClientID loads the persisted client identifier, generating and
// saving one on first run. An identifier from the environment wins and is
// persisted for later runs.
func ensureClientID(opt *config.Options) error {
	path := opt.ClientIDPath()

	if opt.ClientID != "" {
		return os.WriteFile(path, []byte(opt.ClientID), 0644)
	}

	data, err := os.ReadFile(path)
	if err == nil && len(strings.TrimSpace(string(data))) > 0 {
		opt.ClientID = strings.TrimSpace(string(data))
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	opt.ClientID = uuid.NewString()
	return os.WriteFile(path, []byte(opt.ClientID), 0644)
}

// reportCommand prints command outcomes on the operator's terminal.
func reportCommand(cmd models.RemoteCommand, err error) {
	if err != nil {
		fmt.Printf("\nRemote command %s (%s) failed: %v\n", cmd.ID, cmd.Kind, err)
		return
	}
	fmt.Printf("\nRemote command %s (%s) completed.\n", cmd.ID, cmd.Kind)
}
