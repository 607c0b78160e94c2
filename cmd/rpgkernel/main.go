// Command rpgkernel resolves game commands read as JSON against the
// configured entity store and prints one resolution per command.
//
// Usage:
//
//	rpgkernel [-characters file] [-requests file|-] [-plan] [-list] [-hold]
//
// Requests are a stream of JSON objects such as
//
//	{"kind":"attack","actor_id":"hero","target_ids":["goblin"],"params":{"advantage":true}}
//
// Backends, metrics, tracing and dice are configured through RPGKERNEL_*
// environment variables (see internal/config).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"rpgkernel/internal/blob"
	"rpgkernel/internal/config"
	"rpgkernel/internal/core"
	"rpgkernel/pkg/dice"
	"rpgkernel/pkg/domain"
	"rpgkernel/plugins/advancement"
	"rpgkernel/plugins/combat"
	"rpgkernel/plugins/magic"
	"rpgkernel/plugins/sheet"
)

const (
	exitOK       = 0
	exitFailures = 1
	exitSetup    = 2
)

var (
	exitFunc   = os.Exit
	loadConfig = config.Load
	newRoller  = defaultRoller
)

var stdin io.Reader = os.Stdin

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, stdin, os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

type options struct {
	characters string
	requests   string
	plan       bool
	list       bool
	hold       bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	name := "rpgkernel"
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.characters, "characters", "", "JSON file of characters (id -> sheet) to save before resolving")
	flags.StringVar(&opts.requests, "requests", "-", "file of JSON command requests, - for stdin")
	flags.BoolVar(&opts.plan, "plan", false, "print each command's rule plan instead of resolving it")
	flags.BoolVar(&opts.list, "list", false, "list installed plugins and exit")
	flags.BoolVar(&opts.hold, "hold", false, "keep serving metrics after the requests until interrupted")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func run(ctx context.Context, args []string, in io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return exitSetup
	}
	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return exitSetup
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := core.NewSlogLogger(stderr, cfg.LogFormat, level)

	app, err := setup(ctx, cfg, logger)
	if err != nil {
		logger.Error("setup failed", "error", err)
		return exitSetup
	}
	defer app.close(context.WithoutCancel(ctx))

	if opts.list {
		return listPlugins(app.service, stdout)
	}
	if opts.characters != "" {
		if err := seedCharacters(ctx, app.service.Store(), opts.characters); err != nil {
			logger.Error("seed characters failed", "path", opts.characters, "error", err)
			return exitSetup
		}
	}
	requests, closeRequests, err := openRequests(opts.requests, in)
	if err != nil {
		logger.Error("open requests failed", "path", opts.requests, "error", err)
		return exitSetup
	}
	defer closeRequests()

	code := process(ctx, app.service, requests, stdout, logger, opts.plan)
	if opts.hold && app.metricsAddr != "" {
		logger.Info("holding metrics endpoint", "addr", app.metricsAddr)
		<-ctx.Done()
	}
	return code
}

type application struct {
	service     *core.Service
	metricsAddr string
	closers     []func(context.Context) error
}

func (a *application) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i](ctx)
	}
}

func setup(ctx context.Context, cfg config.Config, logger *slog.Logger) (app *application, err error) {
	app = &application{}
	defer func() {
		if err != nil {
			app.close(context.WithoutCancel(ctx))
		}
	}()

	shutdownTracing, err := core.SetupTracing(ctx, cfg.OTelEnabled, cfg.OTelEndpoint, cfg.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	app.closers = append(app.closers, shutdownTracing)

	store, err := core.OpenEntityStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func(context.Context) error { return store.Close() })

	archive, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	roller, err := newRoller(cfg)
	if err != nil {
		return nil, fmt.Errorf("dice: %w", err)
	}

	policy, err := domain.ParseFailurePolicy(cfg.FailurePolicy)
	if err != nil {
		return nil, err
	}
	engine := domain.NewRulesEngine(domain.WithFailurePolicy(policy))

	serviceOpts := []core.Option{
		core.WithLogger(logger),
		core.WithDice(roller),
		core.WithCommandTimeout(cfg.CommandTimeout),
		core.WithArchive(archive),
	}
	if cfg.OTelEnabled {
		serviceOpts = append(serviceOpts, core.WithTracer(core.NewOTelTracer(nil)))
	}
	metrics, err := newMetrics(cfg, engine)
	if err != nil {
		return nil, err
	}
	if metrics.recorder != nil {
		serviceOpts = append(serviceOpts, core.WithMetricsRecorder(metrics.recorder))
	}
	if cfg.MetricsAddr != "" && metrics.handler != nil {
		addr, shutdown, err := serveMetrics(cfg.MetricsAddr, metrics.handler)
		if err != nil {
			return nil, err
		}
		app.metricsAddr = addr
		app.closers = append(app.closers, shutdown)
		logger.Info("metrics endpoint listening", "addr", addr, "backend", cfg.Metrics)
	}

	app.service = core.NewService(engine, store, serviceOpts...)
	for _, plugin := range []core.Plugin{combat.New(), magic.New(), advancement.New()} {
		if _, err := app.service.InstallPlugin(plugin); err != nil {
			return nil, err
		}
	}
	return app, nil
}

func defaultRoller(cfg config.Config) (dice.Roller, error) {
	if cfg.DiceSeed != 0 {
		return dice.NewSeeded(cfg.DiceSeed), nil
	}
	return dice.NewRandom()
}

func listPlugins(svc *core.Service, stdout io.Writer) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(svc.RegisteredPlugins()); err != nil {
		return exitFailures
	}
	return exitOK
}

func seedCharacters(ctx context.Context, store domain.EntityStore, path string) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator supplied fixture path
	if err != nil {
		return err
	}
	var characters map[string]sheet.Character
	if err := json.Unmarshal(raw, &characters); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	for id, c := range characters {
		if err := sheet.Save(ctx, store, id, c); err != nil {
			return err
		}
	}
	return nil
}

func openRequests(path string, in io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return in, func() {}, nil
	}
	f, err := os.Open(path) // #nosec G304 -- operator supplied request file
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// process resolves every request in order. A request that cannot be decoded
// or built, or that hits a configuration error, makes the exit code
// exitFailures; failed game outcomes do not.
func process(ctx context.Context, svc *core.Service, requests io.Reader, stdout io.Writer, logger *slog.Logger, planOnly bool) int {
	dec := json.NewDecoder(requests)
	enc := json.NewEncoder(stdout)
	code := exitOK
	for n := 1; ; n++ {
		var req core.CommandRequest
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return code
			}
			logger.Error("decode request failed", "request", n, "error", err)
			return exitFailures
		}
		if planOnly {
			if err := printPlan(svc, req, enc); err != nil {
				logger.Error("plan failed", "request", n, "kind", req.Kind, "error", err)
				code = exitFailures
			}
			continue
		}
		res, err := svc.Dispatch(ctx, req)
		if err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				logger.Error("invalid request", "request", n, "kind", req.Kind, "fields", verr.Fields(), "error", err)
			} else {
				logger.Error("dispatch failed", "request", n, "kind", req.Kind, "error", err)
			}
			code = exitFailures
			continue
		}
		if err := enc.Encode(res); err != nil {
			logger.Error("write resolution failed", "error", err)
			return exitFailures
		}
	}
}

type planOutput struct {
	Kind  domain.CommandKind `json:"kind"`
	Rules []string           `json:"rules"`
}

func printPlan(svc *core.Service, req core.CommandRequest, enc *json.Encoder) error {
	cmd, err := svc.BuildCommand(req)
	if err != nil {
		return err
	}
	plan, err := svc.Plan(cmd)
	if err != nil {
		return err
	}
	return enc.Encode(planOutput{Kind: cmd.Kind(), Rules: plan.Names()})
}
