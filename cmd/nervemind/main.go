// Command nervemind is the CLI surface of spec §6: run/cancel/status
// against the execution core, grounded on the teacher's cmd/server/main.go
// (flag parsing, a console logger stood up from LOG_LEVEL, graceful
// shutdown on SIGINT/SIGTERM) adapted from a long-running REST server to
// a one-shot CLI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/api"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/builtin"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/config"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/logging"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/scheduler"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/store"
)

// Exit codes per spec §6.
const (
	exitSuccess     = 0
	exitConfigError = 2
	exitExecFailed  = 3
	exitCancelled   = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: nervemind <run|cancel|status> [flags]")
		return exitConfigError
	}

	cfg := config.Load()
	log := logging.New()
	log.AddHandler(logging.NewConsoleHandler(logging.ConsoleHandlerConfig{
		Writer:   stderr,
		MinLevel: logging.Level(cfg.ExecutionLogLevel()),
	}))

	switch args[0] {
	case "run":
		return runWorkflow(args[1:], cfg, log, stdout, stderr)
	case "cancel":
		return cancelExecution(args[1:], cfg, stderr)
	case "status":
		return statusExecution(args[1:], cfg, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n", args[0])
		return exitConfigError
	}
}

func newService(cfg *config.Config, log *logging.Logger) (*api.Service, *store.BunWorkflowStore, func() error, error) {
	reg := registry.New()
	if err := builtin.RegisterAll(reg, cfg.HTTPConnectTimeout(), cfg.HTTPReadTimeout()); err != nil {
		return nil, nil, nil, fmt.Errorf("registering built-in executors: %w", err)
	}
	reg.Freeze()

	db := store.OpenBunDB(cfg.DatabaseDSN)
	if err := store.InitSchema(context.Background(), db); err != nil {
		return nil, nil, nil, fmt.Errorf("initializing schema: %w", err)
	}
	workflows := store.NewBunWorkflowStore(db)
	executions := store.NewBunExecutionStore(db)

	// CLI runs hold no long-lived credential vault backing store by
	// default; an empty vault is sufficient for workflows whose nodes
	// carry no credentialRef. A deployment that needs real secrets wires
	// internal/credvault.NewBunVault(db, key) here instead.
	sched := scheduler.New(reg, noopVault{}, log, cfg)
	svc := api.New(workflows, executions, sched)
	return svc, workflows, db.Close, nil
}

type noopVault struct{}

func (noopVault) GetByID(ctx context.Context, id int64) (domain.Secret, error) {
	return domain.Secret{}, fmt.Errorf("no credential vault configured")
}
func (noopVault) GetByName(ctx context.Context, name string) (domain.Secret, error) {
	return domain.Secret{}, fmt.Errorf("no credential vault configured")
}

func runWorkflow(args []string, cfg *config.Config, log *logging.Logger, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	workflowID := fs.Int64("workflow", 0, "workflow id to execute")
	inputArg := fs.String("input", "", "initial payload: @file.json, literal JSON, or empty")
	triggerArg := fs.String("trigger", "manual", "trigger kind: manual|schedule|webhook|file")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *workflowID == 0 {
		fmt.Fprintln(stderr, "run: --workflow is required")
		return exitConfigError
	}

	payload, err := loadInput(*inputArg)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return exitConfigError
	}

	svc, _, closeDB, err := newService(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return exitConfigError
	}
	defer closeDB()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deadline := time.Now().Add(cfg.ExecutionDefaultTimeout())
	result, err := svc.ExecuteSync(ctx, *workflowID, domain.TriggerKind(*triggerArg), payload, deadline)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return exitConfigError
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)

	switch result.Status {
	case domain.ExecutionSuccess:
		return exitSuccess
	case domain.ExecutionCancelled:
		return exitCancelled
	default:
		return exitExecFailed
	}
}

func cancelExecution(args []string, cfg *config.Config, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: nervemind cancel <executionId>")
		return exitConfigError
	}
	executionID := args[0]

	db := store.OpenBunDB(cfg.DatabaseDSN)
	defer db.Close()
	executions := store.NewBunExecutionStore(db)

	exec, err := executions.FindByID(context.Background(), executionID)
	if err != nil {
		fmt.Fprintf(stderr, "cancel: %v\n", err)
		return exitConfigError
	}
	if exec.Status.IsTerminal() {
		return exitSuccess
	}

	// A separate CLI invocation has no handle to the goroutine running
	// the execution in the process that started it (that is only
	// possible in-process, which is why "run" itself cancels cleanly on
	// SIGINT). Out-of-process cancellation here is best-effort: it marks
	// the persisted row cancelled so status(executionId) reflects the
	// request; a deployment that needs the in-flight run to actually stop
	// talks to the owning process directly (see internal/api.Service.Cancel).
	exec.Finish(domain.ExecutionCancelled, "", "")
	if err := executions.Save(context.Background(), exec); err != nil {
		fmt.Fprintf(stderr, "cancel: %v\n", err)
		return exitConfigError
	}
	return exitSuccess
}

func statusExecution(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: nervemind status <executionId>")
		return exitConfigError
	}
	executionID := args[0]

	db := store.OpenBunDB(cfg.DatabaseDSN)
	defer db.Close()
	executions := store.NewBunExecutionStore(db)

	exec, err := executions.FindByID(context.Background(), executionID)
	if err != nil {
		fmt.Fprintf(stderr, "status: %v\n", err)
		return exitConfigError
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(exec.ToDTO())
	return exitSuccess
}

// loadInput resolves --input's three accepted forms: "@file.json" reads
// the file, a literal string is parsed as JSON, and "" yields an empty
// envelope.
func loadInput(arg string) (domain.Envelope, error) {
	if arg == "" {
		return domain.NewEnvelope(domain.Item{}), nil
	}

	var raw []byte
	var err error
	if strings.HasPrefix(arg, "@") {
		raw, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return domain.Envelope{}, fmt.Errorf("reading input file: %w", err)
		}
	} else {
		raw = []byte(arg)
	}

	var asArray []domain.Item
	if err := json.Unmarshal(raw, &asArray); err == nil {
		return domain.NewEnvelope(asArray...), nil
	}
	var asItem domain.Item
	if err := json.Unmarshal(raw, &asItem); err != nil {
		return domain.Envelope{}, fmt.Errorf("parsing input JSON: %w", err)
	}
	return domain.NewEnvelope(asItem), nil
}
