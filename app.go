package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/portsync/internal/auth"
	"github.com/mycoool/portsync/internal/config"
	"github.com/mycoool/portsync/internal/database"
	"github.com/mycoool/portsync/internal/host"
	"github.com/mycoool/portsync/internal/logging"
	"github.com/mycoool/portsync/internal/notify"
	"github.com/mycoool/portsync/internal/pidfile"
	"github.com/mycoool/portsync/internal/reconciler"
	"github.com/mycoool/portsync/internal/router"
	"github.com/mycoool/portsync/internal/scheduler"
	"github.com/mycoool/portsync/internal/stream"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	configPath         = flag.String("config", "portsync.yaml", "path to the configuration file; created with defaults when missing")
	verbose            = flag.Bool("verbose", false, "log every reconcile event regardless of monitor.log_level")
	logPath            = flag.String("logfile", "", "send log output to a file; overrides log.file")
	debug              = flag.Bool("debug", false, "show debug output")
	ginDebug           = flag.Bool("gin-debug", false, "show gin debug output")
	justDisplayVersion = flag.Bool("version", false, "display portsync version and quit")
	once               = flag.Bool("once", false, "run a single reconcile pass, print the outcome and quit")
	pidPath            = flag.String("pidfile", "", "create PID file at the given path")
	hashPassword       = flag.String("hash-password", "", "print the bcrypt hash of the given password for api.password_hash and quit")
	issueToken         = flag.String("issue-token", "", "print an API token for the given user and quit")

	setUID = 0
	setGID = 0
	socket = ""
	addr   = ""
)

func main() {
	// register platform-specific flags
	platformFlags()

	flag.Parse()
	os.Exit(run())
}

func run() int {
	if *justDisplayVersion {
		fmt.Printf("portsync version %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return 0
	}

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		fmt.Println(hash)
		return 0
	}

	if (setUID != 0 || setGID != 0) && (setUID == 0 || setGID == 0) {
		fmt.Fprintln(os.Stderr, "error: setuid and setgid options must be used together")
		return 1
	}

	cfg, notes, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if cfg.API.JWTSecret == "" {
		secret, err := auth.RandomSecret()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: generate jwt secret:", err)
			return 1
		}
		cfg.API.JWTSecret = secret
		if err := config.Save(*configPath, cfg); err != nil {
			notes = append(notes, fmt.Sprintf("failed to persist generated jwt_secret: %v", err))
		} else {
			notes = append(notes, "generated api.jwt_secret")
		}
	}

	tokens := auth.NewIssuer(cfg.API.JWTSecret, time.Duration(cfg.API.JWTExpiryHours)*time.Hour)
	if *issueToken != "" {
		token, expires, err := tokens.GenerateToken(*issueToken)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
		return 0
	}

	// logQueue holds startup errors until privileges are dropped and the log
	// file is open.
	var logQueue []string

	if *ginDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if socket == "" {
		socket = cfg.API.Socket
	}
	addr = cfg.API.Listen

	var ln net.Listener
	if cfg.API.Enabled && !*once {
		ln, err = trySocketListener()
		if err != nil {
			logQueue = append(logQueue, fmt.Sprintf("error listening on socket: %s", err))
		} else if ln == nil {
			// Open listener early so we can drop privileges.
			ln, err = net.Listen("tcp", addr)
			if err != nil {
				logQueue = append(logQueue, fmt.Sprintf("error listening on port: %s", err))
			}
		}
	}

	if setUID != 0 {
		if err := dropPrivileges(setUID, setGID); err != nil {
			logQueue = append(logQueue, fmt.Sprintf("error dropping privileges: %s", err))
		}
	}

	logFile := cfg.Log.File
	if *logPath != "" {
		logFile = *logPath
	}
	logger, logCloser, err := logging.New(logging.Options{
		File:   logFile,
		Format: cfg.Log.Format,
		Debug:  *debug || cfg.Log.Debug,
	})
	if err != nil {
		logQueue = append(logQueue, err.Error())
		logger = logrus.New()
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	if len(logQueue) != 0 {
		for _, msg := range logQueue {
			logger.Error(msg)
		}
		if ln != nil {
			ln.Close()
		}
		return 1
	}

	mainLog := logging.Component(logger, "main")
	for _, n := range notes {
		mainLog.WithField("path", *configPath).Warn(n)
	}

	store := config.NewStoreFrom(*configPath, cfg, logging.Component(logger, "config"))
	var source config.Source = store
	if *verbose {
		source = verboseSource{store}
	}

	var db *gorm.DB
	var events *database.EventService
	var logs *database.LogService
	db, err = database.Open(cfg.Database, logging.Component(logger, "database"))
	if err != nil {
		mainLog.WithField("error", err.Error()).Warn("Database unavailable, running without history")
		db = nil
	} else {
		defer database.Close(db)
		events = database.NewEventService(db, logging.Component(logger, "database"))
		logs = database.NewLogService(db)
		logger.AddHook(database.NewHook(logs))
	}

	settings, err := hostSettings(cfg.Host, db)
	if err != nil {
		mainLog.WithField("error", err.Error()).Error("No host settings target")
		return 1
	}

	reconnector := hostReconnector(cfg.Host, logging.Component(logger, "host"))
	if reconnector == nil && cfg.Monitor.AutoReconnect {
		mainLog.Warn("auto_reconnect is enabled but no reconnect_command or reconnect_url is configured")
	}

	notifier := notify.New(logging.Component(logger, "notify"))
	hub := stream.NewManager(logging.Component(logger, "stream"))

	opts := []reconciler.Option{
		reconciler.WithLogger(logging.Component(logger, "reconciler")),
		reconciler.WithObserver(hub),
		reconciler.WithObserver(notifier),
	}
	if reconnector != nil {
		opts = append(opts, reconciler.WithReconnector(reconnector))
	}
	if events != nil {
		opts = append(opts, reconciler.WithObserver(events))
	}
	rec := reconciler.New(source, settings, opts...)

	if *once {
		out := rec.Force(context.Background())
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		if out.Action == reconciler.ActionFailed || (out.Action == reconciler.ActionNoOp && out.Reason != "") {
			return 1
		}
		return 0
	}

	if *pidPath != "" {
		pidFile, err := pidfile.New(*pidPath)
		if err != nil {
			mainLog.WithField("error", err.Error()).Error("Error creating pidfile")
			return 1
		}
		defer func() {
			if err := pidFile.Remove(); err != nil {
				mainLog.WithField("error", err.Error()).Warn("Error removing pidfile")
			}
		}()
	}

	mainLog.WithFields(logrus.Fields{
		"version":   Version,
		"config":    *configPath,
		"port_file": cfg.Monitor.PortFile,
	}).Info("portsync starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		for range reloadSignals() {
			notifier.Reloading()
			_ = store.Reload()
			notifier.Ready()
		}
	}()
	if err := store.Watch(ctx); err != nil {
		mainLog.WithField("error", err.Error()).Warn("Config hot reload disabled")
	}

	if logs != nil {
		database.ScheduleLogCleanup(ctx, logs, cfg.Database.LogRetentionDays, logging.Component(logger, "database"))
	}
	go notifier.Watchdog(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched := scheduler.New(rec, source, scheduler.WithLogger(logging.Component(logger, "scheduler")))
		_ = sched.Run(ctx)
	}()

	var srv *http.Server
	if ln != nil {
		engine := router.New(router.Deps{
			Monitor:   rec,
			Config:    store,
			Tokens:    tokens,
			Events:    events,
			Logs:      logs,
			Stream:    hub,
			Probe:     host.NewListenProbe(cfg.Host.ProcessName),
			Log:       logger,
			AccessLog: accessLog(logger),
			Version:   Version,
		})
		engine.HandleMethodNotAllowed = true
		srv = &http.Server{Handler: engine, ReadHeaderTimeout: 10 * time.Second}

		wg.Add(1)
		go func() {
			defer wg.Done()
			mainLog.WithField("addr", ln.Addr().String()).Info("Serving API")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				mainLog.WithField("error", err.Error()).Error("API server stopped")
			}
		}()
	}

	notifier.Ready()
	<-ctx.Done()

	notifier.Stopping()
	mainLog.Info("portsync shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	wg.Wait()
	return 0
}

// verboseSource forces the verbose event tier.
type verboseSource struct {
	config.Source
}

func (v verboseSource) Current() config.MonitorConfig {
	m := v.Source.Current()
	m.LogLevel = config.LogVerbose
	return m
}

func hostSettings(cfg config.HostConfig, db *gorm.DB) (reconciler.Settings, error) {
	if cfg.SettingsFile != "" {
		return host.NewFileSettings(cfg.SettingsFile, cfg.SettingsFormat)
	}
	if db != nil {
		return database.NewSettingsStore(db), nil
	}
	return nil, errors.New("set host.settings_file or enable the database")
}

func hostReconnector(cfg config.HostConfig, log logrus.FieldLogger) reconciler.Reconnector {
	timeout := time.Duration(cfg.ReconnectTimeout) * time.Second
	var all host.MultiReconnector
	if cfg.ReconnectCommand != "" {
		all = append(all, &host.CommandReconnector{Command: cfg.ReconnectCommand, Timeout: timeout, Log: log})
	}
	if cfg.ReconnectURL != "" {
		all = append(all, host.NewWebhookReconnector(cfg.ReconnectURL, cfg.ReconnectToken, timeout))
	}
	switch len(all) {
	case 0:
		return nil
	case 1:
		return all[0]
	default:
		return all
	}
}

func accessLog(logger *logrus.Logger) io.Writer {
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		return logger.WriterLevel(logrus.DebugLevel)
	}
	return io.Discard
}
