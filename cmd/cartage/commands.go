package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ikkim/cartage/config"
	"github.com/ikkim/cartage/internal/db"
	"github.com/ikkim/cartage/internal/report"
	"github.com/ikkim/cartage/internal/scheduler"
	"github.com/ikkim/cartage/internal/security"
	"github.com/ikkim/cartage/internal/storage"
	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/logger"
	"github.com/ikkim/cartage/pkg/redis"
)

const dateLayout = "2006-01-02"

func runMigrate(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.Store.Driver == config.DriverRedis {
		logger.Info("Redis store needs no migration")
		return nil
	}

	if err := db.Initialize(cfg); err != nil {
		return err
	}
	defer db.Close()

	return db.Migrate()
}

func newJanitor(cfg *config.Config, provider cartage.StoreProvider) *scheduler.CartJanitor {
	principal := security.NewPrincipal("janitor", []string{security.RoleJanitor}, nil)
	repo := cartage.New(provider, security.NewManager(principal))
	return scheduler.NewCartJanitor(repo, cfg.Janitor)
}

func runPurge(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	retention := fs.Duration("retention", cfg.Janitor.Retention, "delete carts not modified within this window")
	finalized := fs.Bool("finalized", cfg.Janitor.PurgeFinalized, "delete finalized carts too")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Janitor.Retention = *retention
	cfg.Janitor.PurgeFinalized = *finalized

	provider, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	deleted, err := newJanitor(cfg, provider).RunOnce(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d stale carts\n", deleted)
	return nil
}

func runJanitor(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("janitor", flag.ExitOnError)
	schedule := fs.String("schedule", cfg.Janitor.Schedule, "cron schedule of the purge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Janitor.Schedule = *schedule

	provider, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	janitor := newJanitor(cfg, provider)
	if err := janitor.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	janitor.Stop()
	return nil
}

// parseRange turns two optional dates into an inclusive range covering whole
// UTC days. It returns nil when both are empty.
func parseRange(from, to string) (*cartage.Range, error) {
	if from == "" && to == "" {
		return nil, nil
	}

	r := &cartage.Range{End: time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)}
	if from != "" {
		start, err := time.Parse(dateLayout, from)
		if err != nil {
			return nil, fmt.Errorf("invalid start date %q: %w", from, err)
		}
		r.Start = start
	}
	if to != "" {
		end, err := time.Parse(dateLayout, to)
		if err != nil {
			return nil, fmt.Errorf("invalid end date %q: %w", to, err)
		}
		r.End = end.Add(24*time.Hour - time.Nanosecond)
	}
	if r.End.Before(r.Start) {
		return nil, fmt.Errorf("range end %s is before start %s", to, from)
	}
	return r, nil
}

func runReport(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	out := fs.String("out", "", "write the workbook to this file")
	upload := fs.Bool("upload", false, "upload the workbook to the report bucket")
	lines := fs.Bool("lines", false, "include a sheet with every cart line")
	createdFrom := fs.String("created-from", "", "first creation day (YYYY-MM-DD)")
	createdTo := fs.String("created-to", "", "last creation day (YYYY-MM-DD)")
	modifiedFrom := fs.String("modified-from", "", "first modification day (YYYY-MM-DD)")
	modifiedTo := fs.String("modified-to", "", "last modification day (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" && !*upload {
		return fmt.Errorf("report needs -out or -upload")
	}

	creation, err := parseRange(*createdFrom, *createdTo)
	if err != nil {
		return err
	}
	modification, err := parseRange(*modifiedFrom, *modifiedTo)
	if err != nil {
		return err
	}

	provider, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	principal := security.NewPrincipal("report", []string{security.RoleAuditor}, nil)
	repo := cartage.New(provider, security.NewManager(principal))

	var opts []report.ExportOption
	if *lines {
		opts = append(opts, report.WithLines())
	}

	ctx := context.Background()
	var buf bytes.Buffer
	n, err := report.NewExporter(repo, opts...).WriteTo(ctx, &buf, creation, modification)
	if err != nil {
		return err
	}

	if *out != "" {
		if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Wrote %d carts to %s\n", n, *out)
	}
	if *upload {
		name := fmt.Sprintf("carts-%s.xlsx", time.Now().UTC().Format("20060102T150405Z"))
		res, err := storage.NewS3Storage(cfg.Report).Upload(ctx, name, report.ContentType, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded %d carts to %s\n", n, res.URL)
	}
	return nil
}

func runImport(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "XLSX file with Product Code and Quantity columns")
	cartID := fs.String("cart", "", "cart to add the lines to")
	create := fs.Bool("create", false, "register the cart when it does not exist")
	user := fs.String("user", "import", "user recorded as the modifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("import needs -file")
	}
	if *cartID == "" && !*create {
		return fmt.Errorf("import needs -cart or -create")
	}

	f, err := os.Open(filepath.Clean(*file))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", *file, err)
	}
	defer f.Close()

	lines, err := report.ReadLines(f)
	if err != nil {
		return err
	}
	fmt.Printf("Total lines to import: %d\n", len(lines))

	provider, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	repo := cartage.New(provider, security.NewManager(security.System(*user)))

	var cart *cartage.Cart
	switch {
	case *cartID == "":
		cart, err = repo.RegisterCart(ctx)
	default:
		cart, err = repo.GetCart(ctx, *cartID)
		if cartage.IsKind(err, cartage.KindCartNotFound) && *create {
			cart, err = repo.RegisterCartWithID(ctx, *cartID)
		}
	}
	if err != nil {
		return err
	}

	ids, err := report.Import(ctx, cart, lines)
	fmt.Printf("Imported %d lines into cart %s\n", len(ids), cart.Identifier())
	return err
}

func runToken(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("token needs a subcommand: issue or revoke")
	}

	switch args[0] {
	case "issue":
		fs := flag.NewFlagSet("token issue", flag.ExitOnError)
		user := fs.String("user", "", "user identifier")
		roles := fs.String("roles", security.RoleCustomer, "comma separated roles")
		expiry := fs.Duration("expiry", cfg.JWT.AccessTokenExpiry, "token lifetime")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		token, err := security.IssueToken(*user, splitList(*roles), cfg.JWT.Secret, *expiry)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil

	case "revoke":
		fs := flag.NewFlagSet("token revoke", flag.ExitOnError)
		token := fs.String("token", "", "token to revoke")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		claims, err := security.ParseToken(*token, cfg.JWT.Secret)
		if err != nil {
			return err
		}
		if err := redis.Init(&cfg.Redis); err != nil {
			return err
		}
		defer redis.Close()

		if err := redis.RevokeToken(context.Background(), claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
			return err
		}
		fmt.Printf("Revoked token %s of %s\n", claims.ID, claims.UserID)
		return nil

	default:
		return fmt.Errorf("unknown token subcommand %q", args[0])
	}
}
