// authctl is the operator tool for the agency API: schema migration, admin
// bootstrap, manual IP blocks, account activation and one-off sweeps.  It
// reads the same environment as the server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/iliyamo/agency-api/internal/auth"
	"github.com/iliyamo/agency-api/internal/cache"
	"github.com/iliyamo/agency-api/internal/config"
	"github.com/iliyamo/agency-api/internal/cron"
	"github.com/iliyamo/agency-api/internal/database"
	"github.com/iliyamo/agency-api/internal/model"
	"github.com/iliyamo/agency-api/internal/ratelimit"
	"github.com/iliyamo/agency-api/internal/repository"
	"github.com/iliyamo/agency-api/internal/service"
	"github.com/iliyamo/agency-api/internal/token"
)

type env struct {
	cfg config.Config
	db  *sql.DB
	log *zap.Logger
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"migrate":      {"migrate", migrate},
	"create-admin": {"create-admin --email E --password P [--name N]", createAdmin},
	"list-admins":  {"list-admins", listAdmins},
	"block-ip":     {"block-ip IP [--for 1h] [--reason R]", blockIP},
	"unblock-ip":   {"unblock-ip IP", unblockIP},
	"list-blocks":  {"list-blocks", listBlocks},
	"set-active":   {"set-active USER_ID --active=true|false", setActive},
	"sweep":        {"sweep", sweep},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	if len(argv) == 0 || argv[0] == "-h" || argv[0] == "--help" || argv[0] == "help" {
		printUsage()
		return nil
	}
	cmd, ok := commands[argv[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", argv[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return cmd.run(ctx, &env{cfg: cfg, db: db, log: log}, argv[1:])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: authctl <command> [flags]")
	for _, name := range []string{"migrate", "create-admin", "list-admins", "block-ip", "unblock-ip", "list-blocks", "set-active", "sweep"} {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}

func (e *env) authenticator() *auth.Authenticator {
	return auth.New(
		repository.NewUserRepo(e.db),
		repository.NewTokenRepo(e.db),
		token.NewCodec(e.cfg.JWTSecret, nil),
		service.LogPublisher{Log: e.log},
		auth.Options{AccessTTL: e.cfg.AccessTTL, RefreshTTL: e.cfg.RefreshTTL, BcryptCost: e.cfg.BcryptCost},
		e.log,
	)
}

// limiter shares the server's block cache when Redis is reachable, so a
// manual unblock is seen by running instances at once.
func (e *env) limiter() *ratelimit.Limiter {
	var bc ratelimit.BlockCache
	if rdb := config.NewRedisClient(e.cfg.Redis); rdb != nil {
		bc = cache.NewRedisBlockCache(rdb, e.cfg.Redis.Prefix, nil, e.log)
	}
	return ratelimit.NewLimiter(repository.NewRateLimitRepo(e.db), repository.NewBlockRepo(e.db), bc, nil)
}

func flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func migrate(ctx context.Context, e *env, _ []string) error {
	if err := database.Migrate(ctx, e.db); err != nil {
		return err
	}
	fmt.Println("schema up to date")
	return nil
}

func createAdmin(ctx context.Context, e *env, args []string) error {
	fs := flags("create-admin")
	email := fs.String("email", "", "admin email")
	password := fs.String("password", "", "admin password (8-72 bytes)")
	name := fs.String("name", "", "full name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || len(*password) < 8 || len(*password) > 72 {
		return errors.New("--email and a --password of 8 to 72 bytes are required")
	}
	var fullName *string
	if *name != "" {
		fullName = name
	}
	u, err := e.authenticator().CreateAccount(ctx, *email, *password, fullName, model.RoleAdmin)
	if err != nil {
		return err
	}
	fmt.Printf("created admin %s (%s)\n", u.Email, u.ID)
	return nil
}

func listAdmins(ctx context.Context, e *env, _ []string) error {
	admins, err := repository.NewUserRepo(e.db).ListAdmins(ctx)
	if err != nil {
		return err
	}
	for _, u := range admins {
		fmt.Printf("%s\t%s\t%s\n", u.ID, u.Email, u.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func blockIP(ctx context.Context, e *env, args []string) error {
	fs := flags("block-ip")
	d := fs.Duration("for", e.cfg.RateLimit.BlockDuration, "block duration")
	reason := fs.String("reason", "Blocked by administrator", "reason stored with the block")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ip, err := ipArg(fs.Args())
	if err != nil {
		return err
	}
	if *d <= 0 {
		return errors.New("--for must be positive")
	}
	until, err := e.limiter().BlockIP(ctx, ip, *d, *reason)
	if err != nil {
		return err
	}
	fmt.Printf("blocked %s until %s\n", ip, until.Format(time.RFC3339))
	return nil
}

func unblockIP(ctx context.Context, e *env, args []string) error {
	ip, err := ipArg(args)
	if err != nil {
		return err
	}
	existed, err := e.limiter().UnblockIP(ctx, ip)
	if err != nil {
		return err
	}
	if !existed {
		fmt.Printf("%s was not blocked\n", ip)
		return nil
	}
	fmt.Printf("unblocked %s\n", ip)
	return nil
}

func listBlocks(ctx context.Context, e *env, _ []string) error {
	blocks, err := e.limiter().ActiveBlocks(ctx)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		fmt.Printf("%s\t%s\t%s\n", b.IPAddress, b.BlockedUntil.Format(time.RFC3339), b.Reason)
	}
	return nil
}

func setActive(ctx context.Context, e *env, args []string) error {
	fs := flags("set-active")
	active := fs.Bool("active", true, "enable (true) or disable (false) the account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one USER_ID")
	}
	id := fs.Arg(0)
	if err := e.authenticator().SetActive(ctx, id, *active); err != nil {
		return err
	}
	fmt.Printf("user %s active=%t\n", id, *active)
	return nil
}

func sweep(ctx context.Context, e *env, _ []string) error {
	var window time.Duration
	for _, p := range e.cfg.RateLimit.Policies() {
		window = max(window, p.Window)
	}
	s := &cron.Sweeper{
		Tokens:    repository.NewTokenRepo(e.db),
		Rates:     repository.NewRateLimitRepo(e.db),
		Blocks:    repository.NewBlockRepo(e.db),
		MaxWindow: window,
		Log:       e.log,
	}
	res, err := s.RunOnce(ctx)
	fmt.Printf("removed %d refresh tokens, %d rate rows, %d blocks\n", res.Tokens, res.RateRows, res.Blocks)
	return err
}

func ipArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected exactly one IP")
	}
	a, err := netip.ParseAddr(args[0])
	if err != nil {
		return "", fmt.Errorf("invalid IP %q", args[0])
	}
	return a.Unmap().String(), nil
}
