package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"issueflow/internal/infrastructure/persistence/sqlite/model"
)

func TestOpenInitSchemaClose(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "state", "issueflow.sqlite")
	configFile := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("database:\n  dsn: %q\napp:\n  instance: test\n", dsn)
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx := context.Background()
	app, err := Open(ctx, configFile)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if app.Config.App.Instance != "test" {
		t.Fatalf("instance = %q, want test", app.Config.App.Instance)
	}

	report, err := app.InitSchema(ctx)
	if err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	if len(report.Created) != len(model.All()) || len(report.Existing) != 0 {
		t.Fatalf("first InitSchema() report = %+v", report)
	}
	for _, m := range model.All() {
		if !app.DB.Migrator().HasTable(m) {
			t.Fatalf("table for %T missing after InitSchema", m)
		}
	}

	report, err = app.InitSchema(ctx)
	if err != nil {
		t.Fatalf("second InitSchema() error = %v", err)
	}
	if len(report.Created) != 0 || len(report.Existing) != len(model.All()) {
		t.Fatalf("second InitSchema() report = %+v", report)
	}

	if err := app.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestOpenRequiresContext(t *testing.T) {
	if _, err := Open(nil, ""); err == nil {
		t.Fatalf("Open(nil) error = nil")
	}
}
