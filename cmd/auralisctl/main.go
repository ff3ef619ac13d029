// Command auralisctl places and watches calls against a running API and
// mints dashboard tokens.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"auralis/internal/apiclient"
	"auralis/internal/auth"
	"auralis/internal/calls"
	"auralis/internal/config"
	"auralis/internal/poller"
	"auralis/internal/rbac"
	"auralis/pkg/logger"
)

const usage = `usage: auralisctl <command> [flags]

commands:
  call   place an outbound call and watch it until it ends
  watch  watch an existing call
  list   list recent calls
  stats  print call statistics
  token  issue an access/refresh token pair (needs AUTH_JWT_SECRET)
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "call":
		err = runCall(ctx, args)
	case "watch":
		err = runWatch(ctx, args)
	case "list":
		err = runList(ctx, args)
	case "stats":
		err = runStats(ctx, args)
	case "token":
		err = runToken(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type apiFlags struct {
	addr    string
	token   string
	timeout time.Duration
	verbose bool
}

func (a *apiFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&a.addr, "addr", envOr("AURALIS_ADDR", "http://localhost:8080"), "API base URL")
	fs.StringVar(&a.token, "token", os.Getenv("AURALIS_TOKEN"), "bearer access token")
	fs.DurationVar(&a.timeout, "timeout", 15*time.Second, "per-request timeout")
	fs.BoolVar(&a.verbose, "v", false, "log poller activity to stderr")
}

func (a *apiFlags) client() *apiclient.Client {
	return apiclient.New(a.addr, a.token, a.timeout)
}

func (a *apiFlags) logger() *slog.Logger {
	if !a.verbose {
		return logger.Discard()
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func runCall(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	var api apiFlags
	api.register(fs)
	to := fs.String("to", "", "destination number, E.164")
	interval := fs.Duration("interval", poller.DefaultInterval, "poll interval")
	maxDur := fs.Duration("max", poller.DefaultMaxDuration, "end the call after this long")
	_ = fs.Parse(args)
	if *to == "" {
		return fmt.Errorf("-to is required")
	}

	c := api.client()
	res, err := c.Initiate(ctx, *to)
	if err != nil {
		return err
	}
	fmt.Printf("call %s placed (conversation %s, twilio %s)\n", res.CallID, res.ElevenLabsCallID, res.TwilioCallSid)
	return watch(ctx, c, res.CallID, poller.Config{Interval: *interval, MaxDuration: *maxDur}, api.logger())
}

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var api apiFlags
	api.register(fs)
	interval := fs.Duration("interval", poller.DefaultInterval, "poll interval")
	maxDur := fs.Duration("max", poller.DefaultMaxDuration, "end the call after this long")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: auralisctl watch [flags] <callId>")
	}
	return watch(ctx, api.client(), fs.Arg(0), poller.Config{Interval: *interval, MaxDuration: *maxDur}, api.logger())
}

// watch polls until the call ends. The first interrupt ends the call; the
// process exits once the end is recorded.
func watch(ctx context.Context, c *apiclient.Client, callID string, cfg poller.Config, log *slog.Logger) error {
	p := poller.New(c, cfg, log)
	p.OnChange(func(rec *calls.CallRecord) {
		fmt.Printf("%s  %-12s %s\n", time.Now().Format(time.TimeOnly), rec.Status, rec.TwilioStatus)
	})

	done := make(chan poller.Result, 1)
	// Detached so an interrupt reaches EndManually instead of silently
	// cancelling the poll loop.
	if err := p.Start(context.WithoutCancel(ctx), callID, func(r poller.Result) { done <- r }); err != nil {
		return err
	}

	select {
	case r := <-done:
		return report(r)
	case <-ctx.Done():
		fmt.Println("ending call...")
		endCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := p.EndManually(endCtx); err != nil && !errors.Is(err, poller.ErrNotActive) {
			return err
		}
		return report(<-done)
	}
}

func report(r poller.Result) error {
	if r.Record != nil {
		fmt.Printf("ended (%s): status=%s reason=%s duration=%ds\n",
			r.Cause, r.Record.Status, r.Record.EndReason, r.Record.DurationSec)
	} else {
		fmt.Printf("ended (%s)\n", r.Cause)
	}
	return r.Err
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	var api apiFlags
	api.register(fs)
	limit := fs.Int("limit", 20, "maximum calls")
	days := fs.Int("days", 0, "only calls from the last N days")
	_ = fs.Parse(args)

	recs, err := api.client().List(ctx, *limit, *days)
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Printf("%-44s %-12s %-16s %4ds %s\n",
			r.CallID, r.Status, r.ToNumber, r.DurationSec, r.CreatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func runStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	var api apiFlags
	api.register(fs)
	days := fs.Int("days", 7, "window in days")
	_ = fs.Parse(args)

	stats, err := api.client().Stats(ctx, *days)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "user id (sub claim)")
	role := fs.String("role", "operator", "admin, operator or viewer")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("-user is required")
	}
	if !rbac.ValidRole(*role) {
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}
	pair, err := m.IssuePair(time.Now(), *user, *role)
	if err != nil {
		return err
	}
	return printJSON(pair)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
