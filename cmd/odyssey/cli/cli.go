package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
)

// ErrUsage is returned for unknown or incomplete commands.
var ErrUsage = errors.New("usage: odyssey [serve | migrate up|down | jobs trigger <name> [-as-of RFC3339] | jobs stats [queue] | jobs scheduled]")

// Env carries what subcommands need from the runtime configuration.
type Env struct {
	DSN       string
	RedisOpts asynq.RedisClientOpt
	Out       io.Writer
	// Migrate and MigrateDown default to the platform/db migrator; tests swap them.
	Migrate     func(dsn string) error
	MigrateDown func(dsn string) error
}

// IsServe reports whether args start the HTTP server rather than a one-shot command.
func IsServe(args []string) bool {
	return len(args) == 0 || args[0] == "serve"
}

// Run executes a one-shot administrative command.
func Run(ctx context.Context, env Env, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "migrate":
		return runMigrate(env, args[1:])
	case "jobs":
		return runJobs(ctx, env, args[1:])
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

func runMigrate(env Env, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	var fn func(string) error
	switch args[0] {
	case "up":
		fn = env.Migrate
	case "down":
		fn = env.MigrateDown
	default:
		return fmt.Errorf("%w: unknown migrate direction %q", ErrUsage, args[0])
	}
	if fn == nil {
		return errors.New("cli: migrator not configured")
	}
	if err := fn(env.DSN); err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "migrate %s: done\n", args[0])
	return nil
}

func runJobs(ctx context.Context, env Env, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		fs.SetOutput(env.Out)
		asOfRaw := fs.String("as-of", "", "sweep cut-off (RFC3339), defaults to worker clock")
		if len(args) < 2 {
			return ErrUsage
		}
		name := args[1]
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		var asOf time.Time
		if *asOfRaw != "" {
			parsed, err := time.Parse(time.RFC3339, *asOfRaw)
			if err != nil {
				return fmt.Errorf("cli: invalid -as-of: %w", err)
			}
			asOf = parsed.UTC()
		}
		if _, err := buildTask(name, asOf); err != nil {
			return err
		}
		jc := NewJobsCLI(env.RedisOpts)
		defer jc.Close()
		info, err := jc.Trigger(ctx, name, asOf)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		queue := ""
		if len(args) > 1 {
			queue = args[1]
		}
		jc := NewJobsCLI(env.RedisOpts)
		defer jc.Close()
		stats, err := jc.InspectQueue(ctx, queue)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	case "scheduled":
		jc := NewJobsCLI(env.RedisOpts)
		defer jc.Close()
		tasks, err := jc.ListScheduled(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(env.Out, "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown jobs command %q", ErrUsage, args[0])
	}
}
