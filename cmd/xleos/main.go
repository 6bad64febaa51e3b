// Command xleos is an interactive terminal client for the storyboard studio.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xleos/studio/config"
	authservice "github.com/xleos/studio/internal/auth/service"
	"github.com/xleos/studio/internal/backend"
	"github.com/xleos/studio/internal/platform/logger"
	"github.com/xleos/studio/internal/storyboard/reconciler"
	"github.com/xleos/studio/internal/storyboard/service"
	"github.com/xleos/studio/internal/storyboard/session"
	"github.com/xleos/studio/internal/storyboard/updates"
)

func main() {
	logPath := flag.String("log", "stderr", "log output path")
	route := flag.String("route", "/", "initial route; auth routes skip the session check")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(logger.Config{Level: cfg.App.LogLevel, Encoding: "console", OutputPath: *logPath})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, zlog, os.Stdout)
	if err != nil {
		zlog.Fatal("init client", zap.Error(err))
	}
	defer app.close()

	app.start(ctx, *route)
	app.loop(ctx, os.Stdin)
}

type app struct {
	cfg    *config.Config
	log    *zap.Logger
	out    io.Writer
	client *backend.Client
	gate   *authservice.Gate
	ctrl   *service.Controller
	store  *session.Store

	// history holds the last listing so "open <n>" can address it.
	history []historyEntry
	stopObs func()
}

func newApp(cfg *config.Config, zlog *zap.Logger, out io.Writer) (*app, error) {
	if zlog == nil {
		zlog = zap.NewNop()
	}
	client, err := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.WSBaseURL, cfg.Backend.HTTPTimeout, zlog)
	if err != nil {
		return nil, err
	}
	if err := client.LoadCookies(cfg.Backend.CookieFile); err != nil {
		zlog.Warn("load cookies", zap.String("path", cfg.Backend.CookieFile), zap.Error(err))
	}

	gate := authservice.NewGate(client, authservice.Options{
		BootstrapRetries: cfg.Auth.BootstrapRetries,
		RetryDelay:       cfg.Auth.RetryDelay,
		Authorizer:       authservice.NewAuthorizer(cfg.Auth.Domain, cfg.Auth.ClientID, cfg.Auth.RedirectURL, cfg.Auth.Audience),
	}, zlog)

	store := session.NewStore()
	rec := reconciler.New(store, client, zlog)
	poller := updates.NewPoller(client, cfg.Backend.PollInterval, cfg.Backend.PollMaxAttempts, zlog)

	var channel updates.Channel = poller
	opts := service.Options{MaxScriptLength: cfg.Backend.MaxScriptLength}
	if cfg.Backend.Transport == config.TransportPush {
		channel = updates.NewPushChannel(client.StatusSocketURL, client.Jar(), cfg.Backend.PushIdleTimeout, zlog)
		opts.Fallback = poller
	}

	return &app{
		cfg:    cfg,
		log:    zlog,
		out:    &syncWriter{w: out},
		client: client,
		gate:   gate,
		ctrl:   service.NewController(gate, client, channel, store, rec, opts, zlog),
		store:  store,
	}, nil
}

func (a *app) start(ctx context.Context, route string) {
	s := a.gate.Initialize(ctx, route)
	a.printSession(s)
	a.stopObs = a.observe()
}

func (a *app) loop(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(a.out, "xleos> ")
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return
		}
		if ctx.Err() != nil {
			return
		}
		done, err := a.dispatch(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(a.out, "error: %s\n", describe(err))
		}
		if done {
			return
		}
	}
}

func (a *app) close() {
	if a.stopObs != nil {
		a.stopObs()
	}
	a.ctrl.Close()
	a.persistCookies()
}

// observe prints lifecycle changes of the current submission as they land in the store.
func (a *app) observe() func() {
	notify, stop := a.store.Watch()
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		var last string
		for {
			select {
			case <-quit:
				return
			case <-notify:
			}
			line := statusLine(a.store.Snapshot())
			if line == "" || line == last {
				continue
			}
			last = line
			fmt.Fprintf(a.out, "\n%s\n", line)
		}
	}()
	return func() {
		stop()
		close(quit)
		<-done
	}
}
