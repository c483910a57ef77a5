package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"issueflow/internal/bootstrap/config"
	"issueflow/internal/bootstrap/database"
	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
	"issueflow/internal/infrastructure/persistence/sqlite/model"
)

// App is the loaded configuration plus the tracker/audit database.
type App struct {
	Config config.Config
	DB     *gorm.DB
}

// SchemaReport lists tables by whether init-db created them or found them.
type SchemaReport struct {
	Created  []string
	Existing []string
}

// Open loads the config file and opens the database it names. The fx module
// builds the same App from its own providers; Open is for callers outside
// the container.
func Open(ctx context.Context, configFile string) (*App, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	cfg, err := config.Load(logCtx, configFile)
	if err != nil {
		return nil, errs.Wrap(err, "load config")
	}
	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, errs.Wrap(err, "open database")
	}
	logging.Info(logCtx, "application opened",
		slog.String("instance", cfg.App.Instance),
		slog.String("database_dsn", cfg.Database.DSN),
	)
	return &App{Config: cfg, DB: db}, nil
}

// InitSchema migrates every model and reports which tables are new.
func (a *App) InitSchema(ctx context.Context) (SchemaReport, error) {
	if ctx == nil {
		return SchemaReport{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return SchemaReport{}, errs.Wrap(err, "check context")
	}

	db := a.DB.WithContext(ctx)
	var report SchemaReport
	for _, m := range model.All() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return SchemaReport{}, errs.Wrapf(err, "parse model %T", m)
		}
		table := stmt.Schema.Table
		if db.Migrator().HasTable(m) {
			report.Existing = append(report.Existing, table)
		} else {
			report.Created = append(report.Created, table)
		}
		if err := db.AutoMigrate(m); err != nil {
			return SchemaReport{}, errs.Wrapf(err, "migrate %s", table)
		}
	}

	logging.Info(logging.WithAttrs(ctx, slog.String("component", "bootstrap.app")), "schema migrated",
		slog.Any("created", report.Created),
		slog.Int("existing", len(report.Existing)),
	)
	return report, nil
}

func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return errs.Wrap(err, "get sql db")
	}
	return errs.Wrap(sqlDB.Close(), "close sql db")
}
