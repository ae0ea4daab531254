package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quillon/toolgate/internal/store"
	"github.com/quillon/toolgate/internal/supervisor"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.Contains(out.String(), "toolgate") {
		t.Errorf("version output missing name: %q", out.String())
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.Contains(out.String(), `"go_version"`) {
		t.Errorf("json output = %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	err := run(context.Background(), io.Discard, io.Discard, []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v", err)
	}
}

func TestRunUnknownOutputFormat(t *testing.T) {
	err := run(context.Background(), io.Discard, io.Discard, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("err = %v", err)
	}
}

func TestRunNoCommandPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("usage output = %q", out.String())
	}
}

func TestLoadConfigMissingExplicit(t *testing.T) {
	if _, _, err := loadConfig("/no/such/config.yaml"); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	// Run from an empty directory so no config.yaml is discovered.
	t.Chdir(t.TempDir())

	cfg, path, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty for defaults", path)
	}
	if cfg.Listen.Port != 8002 {
		t.Errorf("default port = %d", cfg.Listen.Port)
	}
}

func TestReconcileStatuses(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer st.Close()

	procs := supervisor.New(filepath.Join(dir, "logs"), logger)
	defer procs.ShutdownAll()

	// A local server left marked running by a previous run.
	staleID, _ := st.AddServer(store.NewServer{
		Name: "stale", ServerType: store.ServerTypeLocal, Command: "/bin/cat",
	})
	st.UpdateProcessStatus(staleID, store.StatusRunning)
	st.UpdateServerStatus(staleID, store.StatusConnected)

	// A remote server; reconciliation must leave it alone.
	remoteID, _ := st.AddServer(store.NewServer{
		Name: "remote", ServerType: store.ServerTypeRemote, URL: "http://x",
	})
	st.UpdateServerStatus(remoteID, store.StatusConnected)

	if err := reconcileStatuses(st, procs, logger); err != nil {
		t.Fatalf("reconcileStatuses: %v", err)
	}

	stale, _ := st.GetServer(staleID)
	if stale.ProcessStatus != store.StatusStopped || stale.Status != store.StatusStopped {
		t.Errorf("stale server = process=%q status=%q", stale.ProcessStatus, stale.Status)
	}

	remote, _ := st.GetServer(remoteID)
	if remote.Status != store.StatusConnected {
		t.Errorf("remote server status = %q", remote.Status)
	}
}
