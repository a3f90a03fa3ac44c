package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sellpoint/sellpoint-client/pkg/bdkeeper"
	"github.com/sellpoint/sellpoint-client/pkg/logger"
	"github.com/sellpoint/sellpoint-client/pkg/models"
)

// API is the slice of the sync client the handlers deliver payloads through.
type API interface {
	SendBackup(ctx context.Context, payload any) error
	SendDiagnostic(ctx context.Context, payload any) error
}

// Deps wires the default handlers to the rest of the client.
type Deps struct {
	Keeper *bdkeeper.Keeper
	API    API
	Log    logger.Interface

	// Diagnostics returns the current engine health snapshot.
	Diagnostics func(ctx context.Context) models.DiagnosticPayload

	// Confirm asks the operator to approve a non-critical update. A nil
	// Confirm declines everything, which is the right default for an
	// unattended terminal.
	Confirm func(prompt string) bool

	// ApplyUpdate performs the software update. A nil ApplyUpdate records
	// the request in the log only.
	ApplyUpdate func(ctx context.Context, version string, critical bool) error

	// Tables lists the entity tables included in a backup.
	Tables []string
}

// RegisterDefaults installs the standard handler for every command kind.
func RegisterDefaults(e *Executor, deps Deps) {
	e.RegisterHandler(models.CommandUpdate, deps.updateHandler)
	e.RegisterHandler(models.CommandBackup, deps.backupHandler)
	e.RegisterHandler(models.CommandReset, deps.resetHandler)
	e.RegisterHandler(models.CommandConfig, deps.configHandler)
	e.RegisterHandler(models.CommandDiagnostic, deps.diagnosticHandler)
}

func payloadBool(payload map[string]any, key string) bool {
	v, ok := payload[key].(bool)
	return ok && v
}

func payloadString(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func (d Deps) updateHandler(ctx context.Context, payload map[string]any) error {
	version := payloadString(payload, "version")
	critical := payloadBool(payload, "critical")

	if !critical {
		confirm := d.Confirm
		if confirm == nil {
			confirm = func(string) bool { return false }
		}
		if !confirm(fmt.Sprintf("Install update %s?", version)) {
			return fmt.Errorf("update %s not confirmed", version)
		}
	}

	if d.ApplyUpdate == nil {
		d.Log.Info("update requested, no installer wired", "version", version, "critical", critical)
		return nil
	}
	return d.ApplyUpdate(ctx, version, critical)
}

func (d Deps) backupHandler(ctx context.Context, _ map[string]any) error {
	tables := make(map[string][]map[string]string, len(d.Tables))
	for _, table := range d.Tables {
		records, err := d.Keeper.AllRecords(ctx, table)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", table, err)
		}
		tables[table] = records
	}

	diag := d.Diagnostics(ctx)
	backup := models.BackupPayload{
		ClientID:    diag.ClientID,
		CreatedAt:   time.Now().UTC(),
		Tables:      tables,
		Diagnostics: diag,
	}

	if err := d.API.SendBackup(ctx, backup); err != nil {
		// Do not discard the snapshot: store it and redeliver later.
		body, encErr := json.Marshal(backup)
		if encErr != nil {
			return fmt.Errorf("deliver backup: %w", err)
		}
		if saveErr := d.Keeper.SavePendingPayload(ctx, "backup", body); saveErr != nil {
			return fmt.Errorf("deliver backup: %w (fallback store also failed: %v)", err, saveErr)
		}
		return fmt.Errorf("deliver backup (payload stored for retry): %w", err)
	}
	return nil
}

func (d Deps) resetHandler(ctx context.Context, payload map[string]any) error {
	if !payloadBool(payload, "confirmed") {
		return fmt.Errorf("reset command without confirmation flag")
	}

	if err := d.Keeper.ResetAll(ctx); err != nil {
		return fmt.Errorf("reset local data: %w", err)
	}
	if err := d.Keeper.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("reseed defaults: %w", err)
	}
	d.Log.Warn("local data reset by remote command")
	return nil
}

func (d Deps) configHandler(ctx context.Context, payload map[string]any) error {
	if len(payload) == 0 {
		return nil
	}
	settings := make(map[string]string, len(payload))
	for key, value := range payload {
		switch v := value.(type) {
		case string:
			settings[key] = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode setting %s: %w", key, err)
			}
			settings[key] = string(encoded)
		}
	}
	return d.Keeper.MergeSettings(ctx, settings)
}

func (d Deps) diagnosticHandler(ctx context.Context, _ map[string]any) error {
	diag := d.Diagnostics(ctx)
	if err := d.API.SendDiagnostic(ctx, diag); err != nil {
		return fmt.Errorf("deliver diagnostics: %w", err)
	}
	return nil
}
