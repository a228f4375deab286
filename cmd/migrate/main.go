package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/tradeloop-backend/pkg/config"
	"github.com/angelmondragon/tradeloop-backend/pkg/db"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// offline commands never touch the database.
var offline = map[string]func(options) error{
	"create": func(o options) error {
		if o.name == "" {
			return errors.New("-name is required for create")
		}
		path, err := migrate.CreateSQLMigration(o.dir, o.name)
		if err == nil {
			fmt.Println("created", path)
		}
		return err
	},
	"validate": func(options) error {
		if err := migrate.ValidateEmbedded(); err != nil {
			return err
		}
		fmt.Println("embedded migrations are valid")
		return nil
	},
}

var online = map[string]func(context.Context, *sql.DB, options) error{
	"up": func(ctx context.Context, d *sql.DB, _ options) error {
		applied, err := migrate.Up(ctx, d)
		fmt.Printf("applied %d migration(s) %v\n", len(applied), applied)
		return err
	},
	"down": func(ctx context.Context, d *sql.DB, _ options) error {
		version, err := migrate.Down(ctx, d)
		if err == nil {
			fmt.Println("rolled back", version)
		}
		return err
	},
	"status": func(ctx context.Context, d *sql.DB, _ options) error {
		rows, err := migrate.StatusOf(ctx, d)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tAPPLIED AT\tNAME")
		for _, row := range rows {
			applied := "pending"
			if row.Applied {
				applied = row.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", row.Version, applied, row.Name)
		}
		return w.Flush()
	},
	"version": func(ctx context.Context, d *sql.DB, o options) error {
		if o.version == "" {
			return errors.New("-version is required for version")
		}
		return migrate.MigrateToVersion(ctx, d, o.version)
	},
}

func main() {
	var opts options
	cmd := flag.String("cmd", "up", "one of: "+strings.Join(commandNames(), ", "))
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "directory -cmd=create writes to")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target YYYYMMDDHHMMSS for -cmd=version")
	flag.Parse()

	if run, ok := offline[*cmd]; ok {
		exitOn(run(opts))
		return
	}
	run, ok := online[*cmd]
	if !ok {
		exitOn(fmt.Errorf("unknown -cmd %q", *cmd))
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	exitOn(err)
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(err)
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	exitOn(err)

	if err := run(ctx, sqlDB, opts); err != nil {
		logg.Error(ctx, "migration failed", err)
		dbClient.Close()
		os.Exit(1)
	}
	logg.Info(ctx, "migration finished")
}

func commandNames() []string {
	names := make([]string, 0, len(offline)+len(online))
	for n := range offline {
		names = append(names, n)
	}
	for n := range online {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
