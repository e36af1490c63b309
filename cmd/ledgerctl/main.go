// Command ledgerctl runs administrative ledger operations against the
// configured store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gerenciadorbet/ledger-engine/internal/bootstrap"
	"github.com/gerenciadorbet/ledger-engine/internal/config"
	"github.com/gerenciadorbet/ledger-engine/internal/logger"
	"github.com/gerenciadorbet/ledger-engine/internal/scheduler"
)

const usage = `usage: ledgerctl [-config file] <command> [flags]

commands:
  reconcile -user ID | -all   rebuild balances, day statuses and goals
  reset     -user ID          wipe a user's data back to defaults
  limits    -user ID          check today's stop-loss and stop-win
  summary   -user ID [-month YYYY-MM]
  timeline  -user ID          print the reconciled history
`

func main() {
	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "path to YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := run(*configPath, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

func run(configPath string, args []string) error {
	if len(args) == 0 {
		return errors.New("command required: reconcile|reset|limits|summary|timeline")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Log.Output = "stderr"
	log, err := logger.New("ledgerctl", cfg.App, cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	c := &cli{deps: deps, out: os.Stdout, sweep: scheduler.NewSweep(deps.Store, deps.Service, log)}
	return c.dispatch(ctx, args)
}

type cli struct {
	deps  *bootstrap.Deps
	sweep *scheduler.Sweep
	out   io.Writer
}

func (c *cli) dispatch(ctx context.Context, args []string) error {
	name, rest := args[0], args[1:]
	fs := flag.NewFlagSet("ledgerctl "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	user := fs.String("user", "", "user id")

	svc := c.deps.Service
	switch name {
	case "reconcile":
		all := fs.Bool("all", false, "reconcile every stored user")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *all {
			rep, err := c.sweep.Run(ctx)
			if err != nil {
				return err
			}
			return c.write(rep)
		}
		id, err := required(*user)
		if err != nil {
			return err
		}
		drifted, err := svc.Reconcile(ctx, id)
		if err != nil {
			return err
		}
		return c.write(map[string]any{"user_id": id, "drifted": drifted})

	case "reset":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		id, err := required(*user)
		if err != nil {
			return err
		}
		st, err := svc.ResetAllUserData(ctx, id)
		if err != nil {
			return err
		}
		return c.write(st)

	case "limits":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		id, err := required(*user)
		if err != nil {
			return err
		}
		res, err := svc.CheckStopLimits(ctx, id)
		if err != nil {
			return err
		}
		return c.write(res)

	case "summary":
		month := fs.String("month", "", "month as YYYY-MM (current month when empty)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		id, err := required(*user)
		if err != nil {
			return err
		}
		sum, err := svc.MonthSummary(ctx, id, *month)
		if err != nil {
			return err
		}
		return c.write(sum)

	case "timeline":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		id, err := required(*user)
		if err != nil {
			return err
		}
		entries, err := svc.Timeline(ctx, id)
		if err != nil {
			return err
		}
		return c.write(entries)
	}
	return fmt.Errorf("unknown command %q", name)
}

func required(user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", errors.New("-user required")
	}
	return user, nil
}

func (c *cli) write(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
