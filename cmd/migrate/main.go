package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/pharmacy-backend/pkg/config"
	"github.com/angelmondragon/pharmacy-backend/pkg/db"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/migrate"
)

const usage = `usage: migrate [-dir path] <command> [arg]

commands:
  up              apply all pending migrations
  down            roll back the latest migration
  status          list migrations and whether they are applied
  to VERSION      migrate up or down to VERSION
  validate        check migration files without a database
  create NAME     write a new migration into -dir (default pkg/migrate/migrations)
`

func main() {
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0), flag.Arg(1), *dir); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(cmd, arg, dir string) error {
	switch cmd {
	case "create":
		if arg == "" {
			return fmt.Errorf("create needs a NAME")
		}
		target := dir
		if target == "" {
			target = "pkg/migrate/migrations"
		}
		path, err := migrate.NewFile(target, arg, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case "validate":
		src, err := migrate.Source(dir)
		if err != nil {
			return err
		}
		if err := migrate.ValidateFS(src); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": cmd})

	client, err := db.New(ctx, cfg.DB, false, logg)
	if err != nil {
		return err
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	src, err := migrate.Source(dir)
	if err != nil {
		return err
	}
	runner, err := migrate.NewRunner(sqlDB, src)
	if err != nil {
		return err
	}

	var applied []int64
	switch cmd {
	case "up":
		applied, err = runner.Up(ctx)
	case "down":
		applied, err = runner.Down(ctx)
	case "to":
		target, perr := strconv.ParseInt(arg, 10, 64)
		if perr != nil {
			return fmt.Errorf("to needs a numeric VERSION, got %q", arg)
		}
		applied, err = runner.To(ctx, target)
	case "status":
		lines, serr := runner.Status(ctx)
		if serr != nil {
			return serr
		}
		for _, l := range lines {
			state := "pending"
			if l.Applied {
				state = "applied " + l.AppliedAt
			}
			fmt.Printf("%d  %-28s  %s\n", l.Version, state, l.Path)
		}
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "versions", applied), "migrations done")
	return nil
}
