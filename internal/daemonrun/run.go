// Package daemonrun runs the candy daemon process: logging, pid file, the
// service, and both IPC sockets, until a signal or a remote shutdown.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"candybridge/internal/bridge"
	"candybridge/internal/config"
	"candybridge/internal/gate"
	"candybridge/internal/ipc"
	"candybridge/internal/journal"
	"candybridge/internal/logging"
	"candybridge/internal/service"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	// Factory overrides the gateway client factory.
	Factory bridge.Factory
	// Ready, when set, is called once both sockets are listening.
	Ready func()
}

// Run starts the daemon and blocks until ctx is canceled, SIGINT/SIGTERM
// arrives, or a client requests shutdown.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rotated, rotateErr := rotateLog(cfg.Paths.LogDir)
	if rotateErr != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to rotate daemon log: %v\n", rotateErr)
	}
	logger, logPath, err := logging.NewFromConfig(cfg, opts.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("candy daemon starting",
		logging.String(logging.FieldEventType, "daemon_starting"),
		logging.String("log_path", logPath),
		logging.String("rotated_log", rotated),
		logging.String(logging.FieldEndpoint, cfg.Gate.Endpoint),
	)
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "candyd-*.log", Exclude: []string{logPath}},
	)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	var opened []service.Option
	var history ipc.HistorySource
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			logging.WarnWithContext(logger, "journal unavailable", "journal_open_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check journal.path or disable the journal"),
				logging.String(logging.FieldImpact, "history is not recorded for this run"),
			)
		} else {
			defer j.Close()
			pruneJournal(signalCtx, logger, j, cfg.Logging.RetentionDays)
			opened = append(opened, service.WithSubscriber(j))
			history = j
		}
	}

	factory := opts.Factory
	if factory == nil {
		factory = gate.NewFactory(gate.Options{
			DialTimeout: cfg.DialTimeout(),
			CallTimeout: cfg.CallTimeout(),
			Logger:      logger,
		})
	}

	svc, err := service.Open(signalCtx, cfg, factory, logger, opened...)
	if err != nil {
		logging.ErrorWithContext(logger, "service open failed", "service_open_failed", logging.Error(err))
		return fmt.Errorf("open service: %w", err)
	}
	defer svc.Close()

	events, err := ipc.NewEventServer(signalCtx, cfg.EventSocketPath(), svc, cfg.Events.WatcherBuffer, logger)
	if err != nil {
		return fmt.Errorf("start event server: %w", err)
	}
	defer events.Close()
	events.Serve()

	shutdownCtx, shutdown := context.WithCancel(signalCtx)
	defer shutdown()
	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), svc, logger, ipc.ServerOptions{
		History:  history,
		Events:   events,
		Shutdown: shutdown,
	})
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("candy daemon ready",
		logging.String("socket", cfg.SocketPath()),
		logging.String("event_socket", cfg.EventSocketPath()),
		logging.String(logging.FieldState, svc.State().String()),
		logging.String(logging.FieldEventType, "daemon_ready"),
	)
	if opts.Ready != nil {
		opts.Ready()
	}

	<-shutdownCtx.Done()
	logger.Info("candy daemon shutting down", logging.String(logging.FieldEventType, "daemon_stopping"))
	return nil
}

// rotateLog renames an existing non-empty candyd.log to candyd-<timestamp>.log
// so each run starts a fresh file and retention can prune old runs.
func rotateLog(logDir string) (string, error) {
	current := filepath.Join(logDir, "candyd.log")
	info, err := os.Stat(current)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if info.Size() == 0 {
		return "", nil
	}
	stamp := info.ModTime().UTC().Format("20060102T150405.000Z")
	target := filepath.Join(logDir, "candyd-"+stamp+".log")
	if err := os.Rename(current, target); err != nil {
		return "", fmt.Errorf("rename %s: %w", current, err)
	}
	return target, nil
}

func pruneJournal(ctx context.Context, logger *slog.Logger, j *journal.Journal, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := j.Prune(ctx, cutoff)
	if err != nil {
		logger.Debug("journal prune failed", logging.Error(err))
		return
	}
	if removed > 0 {
		logger.Info("journal pruned",
			logging.Int64("removed", removed),
			logging.String(logging.FieldEventType, "journal_pruned"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
