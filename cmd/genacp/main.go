// Command genacp runs the GENA control point as a standalone process:
// it loads configuration, starts the worker pool and timer service,
// auto-subscribes to any configured publishers, and serves NOTIFY
// callbacks on a local HTTP listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/genacp/config"
	"github.com/coachpo/genacp/internal/collab"
	"github.com/coachpo/genacp/internal/errs"
	"github.com/coachpo/genacp/internal/gena"
	"github.com/coachpo/genacp/internal/httptransport"
	"github.com/coachpo/genacp/internal/netif"
	"github.com/coachpo/genacp/internal/observability"
	"github.com/coachpo/genacp/internal/pool"
	"github.com/coachpo/genacp/internal/telemetry"
	"github.com/coachpo/genacp/internal/timer"
	"github.com/coachpo/genacp/internal/xmlprop"
)

const (
	defaultConfigPath   = "config/genacp.yaml"
	genacpLoggerPrefix  = "genacp "
	shutdownGracePeriod = 10 * time.Second
	callbackReadTimeout = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newStdLogger()
	observability.SetLogger(logger)

	cfg, err := config.Load(resolveConfigPath(cfgPathFlag))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	mp, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", observability.Field{Key: "error", Value: err.Error()})
		}
	}()

	p, err := pool.New(pool.Attr{
		MinThreads:     cfg.Pool.MinThreads,
		MaxThreads:     cfg.Pool.MaxThreads.Resolve(),
		JobsPerThread:  cfg.Pool.JobsPerThread,
		MaxIdleTime:    cfg.Pool.MaxIdleTime,
		StarvationTime: cfg.Pool.StarvationTime,
		MaxJobsTotal:   cfg.Pool.MaxJobsTotal,
	}, pool.WithLogger(logger))
	if err != nil {
		log.Fatalf("start pool: %v", err)
	}
	defer p.Shutdown()

	if rec, err := telemetry.RegisterPool(mp, "genacp_pool", p); err != nil {
		logger.Error("register pool telemetry failed", observability.Field{Key: "error", Value: err.Error()})
	} else {
		p.SetRejectionHook(func(reason errs.Canonical) { rec.RecordRejection(ctx, reason) })
	}

	ts := timer.New(timer.WithLogger(logger))
	if err := ts.Start(ctx, p); err != nil {
		log.Fatalf("start timer: %v", err)
	}
	defer ts.Stop()

	knobs := gena.Knobs{
		AutoRenewLead:             cfg.Knobs.AutoRenewLead,
		CPMinimumSubscriptionTime: cfg.Knobs.CPMinimumSubscriptionTime,
		HTTPDefaultTimeout:        cfg.Knobs.HTTPDefaultTimeout,
		UserAgent:                 cfg.Knobs.UserAgent,
		LocalPortV4:               cfg.Knobs.LocalPortV4,
		LocalPortV6:               cfg.Knobs.LocalPortV6,
	}
	engine := gena.New(knobs, gena.Deps{
		HTTP:   httptransport.New(httptransport.DefaultRetryPolicy(), httptransport.DefaultRateLimit(), false),
		XML:    xmlprop.New(),
		NetIfs: netif.New(),
		Pool:   p,
		Timer:  ts,
		Logger: logger,
	})

	handle := engine.Handles().RegisterClient(func(evt collab.CallbackEvent) {
		logCallbackEvent(logger, evt)
	}, nil)

	for _, pub := range cfg.Publishers {
		sid, granted, err := engine.Subscribe(ctx, handle, pub.EventURL, pub.RequestedTimeout)
		if err != nil {
			logger.Error("startup subscribe failed",
				observability.Field{Key: "event_url", Value: pub.EventURL},
				observability.Field{Key: "error", Value: err.Error()})
			continue
		}
		logger.Info("subscribed",
			observability.Field{Key: "event_url", Value: pub.EventURL},
			observability.Field{Key: "sid", Value: sid},
			observability.Field{Key: "granted_timeout", Value: granted.String()})
	}

	srv := &http.Server{
		Addr:              ":2869",
		ReadHeaderTimeout: callbackReadTimeout,
		Handler:           notifyHandler(engine, logger),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("notify server failed", observability.Field{Key: "error", Value: err.Error()})
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("notify server shutdown failed", observability.Field{Key: "error", Value: err.Error()})
	}
	if err := engine.Unregister(shutdownCtx, handle); err != nil {
		logger.Error("unregister failed", observability.Field{Key: "error", Value: err.Error()})
	}
}

func logCallbackEvent(logger observability.Logger, evt collab.CallbackEvent) {
	switch evt.Kind {
	case collab.EventReceived:
		logger.Info("event received",
			observability.Field{Key: "sid", Value: evt.SID},
			observability.Field{Key: "seq", Value: evt.EventKey},
			observability.Field{Key: "changed", Value: evt.ChangedVariables})
	case collab.AutoRenewFailed:
		logger.Error("auto-renew failed",
			observability.Field{Key: "sid", Value: evt.SID},
			observability.Field{Key: "error", Value: evt.Err.Error()})
	case collab.SubscriptionExpired:
		logger.Info("subscription expired without renewal",
			observability.Field{Key: "sid", Value: evt.SID})
	}
}

// notifyHandler adapts incoming HTTP NOTIFY requests into gena.NotifyRequest
// calls, with a request id attached to every log line for correlation.
func notifyHandler(engine *gena.Engine, logger observability.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		if r.Method != "NOTIFY" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result := engine.Notify(gena.NotifyRequest{
			Headers:     gena.HeadersFromHTTP(r.Header),
			Body:        body,
			ContentType: r.Header.Get("Content-Type"),
		})

		if result.Status != http.StatusOK {
			logger.Debug("notify rejected",
				observability.Field{Key: "request_id", Value: reqID},
				observability.Field{Key: "status", Value: result.Status})
		}
		w.WriteHeader(result.Status)
	})
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return defaultConfigPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// stdLogger is a minimal observability.Logger backed by the standard
// library logger, for a process that has not wired a richer sink.
type stdLogger struct {
	l *log.Logger
}

func newStdLogger() *stdLogger {
	return &stdLogger{l: log.New(os.Stdout, genacpLoggerPrefix, log.LstdFlags|log.Lmicroseconds)}
}

func (s *stdLogger) Debug(msg string, fields ...observability.Field) { s.log("DEBUG", msg, fields) }
func (s *stdLogger) Info(msg string, fields ...observability.Field)  { s.log("INFO", msg, fields) }
func (s *stdLogger) Error(msg string, fields ...observability.Field) { s.log("ERROR", msg, fields) }

func (s *stdLogger) log(level, msg string, fields []observability.Field) {
	line := fmt.Sprintf("%s %s", level, msg)
	for _, f := range fields {
		line += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	s.l.Println(line)
}
