// Command assess drives one assessment session headlessly: it builds the
// answer document, replays a JSON-lines event script against it, and lets
// the lifecycle controller save and submit against a live server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"github.com/stemsi/techassess/internal/apiclient"
	"github.com/stemsi/techassess/internal/capture"
	"github.com/stemsi/techassess/internal/config"
	"github.com/stemsi/techassess/internal/content"
	"github.com/stemsi/techassess/internal/lifecycle"
	"github.com/stemsi/techassess/internal/localstore"
	"github.com/stemsi/techassess/internal/logger"
	"github.com/stemsi/techassess/internal/model"
)

const memoryStore = ":memory:"

// Finish modes once the script is exhausted.
const (
	finishSubmit = "submit"
	finishWait   = "wait"
	finishUnload = "unload"
)

type options struct {
	cfg       *config.ClientConfig
	script    string
	finish    string
	name      string
	email     string
	printJSON bool
}

func main() {
	cfg := config.LoadClient()
	opts := options{cfg: cfg}

	flag.StringVar(&cfg.APIURL, "api", cfg.APIURL, "API base URL including /api/v1")
	flag.StringVarP(&cfg.SessionID, "session", "s", cfg.SessionID, "session id to take")
	flag.StringVar(&cfg.ContentPath, "content", cfg.ContentPath, "assessment YAML (empty for the built-in one)")
	flag.StringVar(&cfg.StorePath, "store", cfg.StorePath, "local progress database, or "+memoryStore)
	flag.DurationVar(&cfg.PushInterval, "push-interval", cfg.PushInterval, "remote save cadence")
	flag.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "local save quiet period")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json or pretty")
	flag.StringVarP(&opts.script, "script", "f", "", "JSON-lines event script ('-' for stdin)")
	flag.StringVar(&opts.finish, "finish", finishSubmit, "after the script: submit, wait (for the deadline) or unload")
	flag.StringVar(&opts.name, "register-name", "", "register a new candidate with this name")
	flag.StringVar(&opts.email, "register-email", "", "register a new candidate with this email")
	flag.BoolVar(&opts.printJSON, "json", false, "print the result as JSON")
	flag.Parse()

	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, opts, log)
	if err != nil {
		log.Error().Err(err).Msg("Assessment run failed")
	}
	os.Exit(code)
}

// Exit codes.
const (
	exitOK       = 0
	exitFailed   = 1
	exitTerminal = 2
	exitPending  = 3
)

func run(ctx context.Context, opts options, log zerolog.Logger) (int, error) {
	cfg := opts.cfg
	switch opts.finish {
	case finishSubmit, finishWait, finishUnload:
	default:
		return exitFailed, fmt.Errorf("unknown --finish %q", opts.finish)
	}

	assessment, err := content.Load(cfg.ContentPath)
	if err != nil {
		return exitFailed, err
	}

	var steps []step
	if opts.script != "" {
		if steps, err = readScript(opts.script); err != nil {
			return exitFailed, err
		}
	}

	client, err := apiclient.New(cfg.APIURL, &http.Client{Timeout: cfg.Timeout}, log)
	if err != nil {
		return exitFailed, err
	}

	if cfg.SessionID == "" && opts.email != "" {
		id, err := client.Register(ctx, model.RegisterRequest{CandidateName: opts.name, CandidateEmail: opts.email})
		if err != nil {
			return exitFailed, fmt.Errorf("register: %w", err)
		}
		cfg.SessionID = id
		log.Info().Str("session_id", id).Msg("Registered candidate")
	}

	kv, closeKV, err := openKV(ctx, cfg.StorePath)
	if err != nil {
		return exitFailed, err
	}
	defer closeKV()

	notifier := newLogNotifier(log)
	universe := assessment.Universe()
	doc := capture.Build(universe)
	ctrl := lifecycle.New(client, model.NewResponseModel(universe), doc, kv, lifecycle.Options{
		SessionID:        cfg.SessionID,
		Key:              assessment.Key(),
		PushInterval:     cfg.PushInterval,
		DebounceInterval: cfg.Debounce,
		RequestTimeout:   cfg.Timeout,
		Logger:           log,
		Notifier:         notifier,
	})
	defer ctrl.Close()

	if err := ctrl.Init(ctx); err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyTerminal) || errors.Is(err, lifecycle.ErrSessionInvalid) {
			return exitTerminal, err
		}
		return exitFailed, err
	}
	rep := ctrl.RestoreReport()
	log.Info().
		Str("session_id", cfg.SessionID).
		Int("remaining", ctrl.Remaining()).
		Str("restored_from", string(rep.Source)).
		Int("restored", rep.Restored()).
		Msg("Session ready")

	driver := controllerDriver{c: ctrl, client: client, log: log}
	r := &runner{doc: doc, driver: driver}
	finished, err := r.run(ctx, steps)
	switch {
	case errors.Is(err, context.Canceled):
		driver.Unload()
		return exitFailed, errors.New("interrupted; progress kept locally")
	case err != nil && !errors.Is(err, lifecycle.ErrSubmissionFailed):
		return exitFailed, err
	}

	if !finished {
		switch opts.finish {
		case finishSubmit:
			if err := driver.Submit(ctx); err != nil && !errors.Is(err, lifecycle.ErrSubmissionFailed) {
				return exitFailed, err
			}
		case finishUnload:
			driver.Unload()
		case finishWait:
			log.Info().Int("remaining", ctrl.Remaining()).Msg("Waiting for the deadline")
			select {
			case <-notifier.done:
			case <-ctx.Done():
				driver.Unload()
				return exitFailed, errors.New("interrupted; progress kept locally")
			}
		}
	}

	return report(cfg.SessionID, ctrl, opts.printJSON, os.Stdout)
}

// controllerDriver adapts the controller to the script runner.
type controllerDriver struct {
	c      *lifecycle.Controller
	client *apiclient.Client
	log    zerolog.Logger
}

func (d controllerDriver) Submit(ctx context.Context) error {
	_, err := d.c.Submit(ctx)
	return err
}

func (d controllerDriver) PushNow(ctx context.Context) error { return d.c.PushNow(ctx) }

// Unload runs the page-hide path and waits for its beacon, since the process
// exits right after.
func (d controllerDriver) Unload() {
	d.c.Unload()
	if err := d.client.Drain(context.Background()); err != nil {
		d.log.Warn().Err(err).Msg("Unload save may not have reached the server")
	}
}

type result struct {
	SessionID   string             `json:"session_id"`
	State       model.SessionState `json:"state"`
	TabSwitches int                `json:"tab_switches"`
	Pending     bool               `json:"pending_submission"`
	Scores      *model.ScoreRecord `json:"scores,omitempty"`
}

func report(sessionID string, ctrl *lifecycle.Controller, asJSON bool, w io.Writer) (int, error) {
	res := result{
		SessionID:   sessionID,
		State:       ctrl.State(),
		TabSwitches: ctrl.TabSwitches(),
		Pending:     ctrl.PendingSubmission(),
		Scores:      ctrl.Result(),
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return exitFailed, err
		}
	} else {
		fmt.Fprintf(w, "state: %s\n", res.State)
		fmt.Fprintf(w, "tab switches: %d\n", res.TabSwitches)
		if res.Scores != nil {
			fmt.Fprintf(w, "scores: %s\n", res.Scores.Summary())
		}
		if res.Pending {
			fmt.Fprintln(w, "submission not delivered; rerun with the same --store to resume")
		}
	}

	if res.Pending {
		return exitPending, nil
	}
	return exitOK, nil
}

func readScript(path string) ([]step, error) {
	if path == "-" {
		return parseScript(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return parseScript(f)
}

func openKV(ctx context.Context, path string) (localstore.KV, func(), error) {
	if path == "" || path == memoryStore {
		return localstore.NewMemoryKV(), func() {}, nil
	}
	db, err := localstore.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}
	return db, func() { _ = db.Close() }, nil
}
