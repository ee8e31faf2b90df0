// SCADA hub - simulated industrial telemetry.
//
// The hub holds a fixed set of named controllers, regenerates their
// temperature and level readings once per tick, pushes every reading to
// WebSocket subscribers (and optionally an MQTT broker), and exposes a small
// HTTP control plane for reading and changing controller state.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/scada-hub/migrations"

	"github.com/nerrad567/scada-hub/internal/api"
	"github.com/nerrad567/scada-hub/internal/audit"
	"github.com/nerrad567/scada-hub/internal/controller"
	"github.com/nerrad567/scada-hub/internal/infrastructure/config"
	"github.com/nerrad567/scada-hub/internal/infrastructure/database"
	"github.com/nerrad567/scada-hub/internal/infrastructure/logging"
	"github.com/nerrad567/scada-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/scada-hub/internal/schedule"
	"github.com/nerrad567/scada-hub/internal/simulation"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when neither --config nor SCADAHUB_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	// defaultEnvFile is loaded into the environment before the config, if present.
	defaultEnvFile = ".env"

	// finalSaveTimeout bounds the shutdown snapshot write.
	finalSaveTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the parsed command line.
type options struct {
	configPath  string
	envFile     string
	showVersion bool
}

// parseFlags parses args. pflag.ErrHelp is returned after usage is printed
// for --help.
func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("scadahub", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: $SCADAHUB_CONFIG or "+defaultConfigPath+")")
	flagSet.StringVar(&opts.envFile, "env-file", defaultEnvFile, "dotenv file loaded before the config; ignored if missing")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("scadahub %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default(version)
	log.Info("starting SCADA hub",
		"commit", commit,
		"build_date", date,
	)

	if err := loadEnvFile(opts.envFile); err != nil {
		return err
	}

	cfg, configPath, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if configPath == "" {
		log.Info("no config file found, using defaults", "path", defaultConfigPath)
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	log = logging.New(cfg.Logging, version)

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	loaded := loadControllers(ctx, st.store, log)
	registry := controller.NewRegistry(controller.Seed(loaded, cfg.Simulation.DefaultControllers))
	log.Info("controller registry initialised",
		"controllers", registry.Names(),
		"restored", len(loaded) > 0,
	)

	persister := controller.NewPersister(st.store)
	persister.SetLogger(log)
	// The writer outlives ctx so snapshots queued during shutdown still land.
	persister.Start(context.WithoutCancel(ctx))
	defer persister.Close()

	hub := api.NewHub(cfg.WebSocket, log)
	broadcasters := []simulation.Broadcaster{hub}

	// Interface values stay nil unless the component exists.
	var (
		mqttConn api.ConnectionChecker
		dbStats  api.DBStatser
	)
	if st.db != nil {
		dbStats = st.db
	}

	if cfg.MQTT.Enabled {
		mqttClient, err := connectMQTT(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		broadcasters = append(broadcasters, mqtt.NewBroadcaster(mqttClient))
		mqttConn = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	sim := simulation.New(simulation.Deps{
		Registry:     registry,
		Broadcasters: broadcasters,
		Logger:       log,
	})

	ticker, err := schedule.New(schedule.Config{
		Name:     "simulation",
		Interval: cfg.TickInterval(),
		Task:     sim,
	})
	if err != nil {
		return fmt.Errorf("creating simulation loop: %w", err)
	}
	ticker.SetLogger(log)

	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Registry:  registry,
		Persister: persister,
		Hub:       hub,
		Ticks:     ticker,
		Audit:     st.audit,
		MQTT:      mqttConn,
		DB:        dbStats,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	if err := ticker.Start(ctx); err != nil {
		srv.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("starting simulation loop: %w", err)
	}

	log.Info("initialisation complete",
		"api", srv.APIAddr(),
		"websocket", srv.WSAddr(),
		"tick", cfg.TickInterval(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case err := <-srv.Err():
			return err
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, cleaning up")

		// Stop ticking before the listeners go away so no tick broadcasts
		// into a closing hub.
		ticker.Stop()
		return srv.Close()
	})
	runErr := g.Wait()
	persister.Close()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
	defer cancel()
	if err := persister.Save(saveCtx, registry.Snapshot()); err != nil {
		log.Error("final save failed", "error", err)
	} else {
		log.Info("controllers saved")
	}

	// Deferred Close() calls run in reverse order: MQTT, then the store.

	if runErr != nil {
		return runErr
	}
	log.Info("SCADA hub stopped")
	return nil
}

// loadEnvFile loads KEY=value pairs from path into the environment.
// Variables already set are not overridden. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// getConfigPath returns the explicit config path, or SCADAHUB_CONFIG if set.
// An empty result means the default location applies.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("SCADAHUB_CONFIG")
}

// loadConfig reads the config file. An explicitly named file must exist; a
// missing file at the default location falls back to built-in defaults, in
// which case the returned path is empty.
func loadConfig(flagValue string) (*config.Config, string, error) {
	if path := getConfigPath(flagValue); path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	cfg, err := config.Load(defaultConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.LoadDefaults()
		return cfg, "", err
	}
	return cfg, defaultConfigPath, err
}

// loadControllers reads the persisted controllers. A store that cannot be
// read is logged and treated as empty, so the hub starts from the defaults;
// a corrupt snapshot file is moved aside for the operator first.
func loadControllers(ctx context.Context, store controller.Store, log *logging.Logger) map[string]controller.State {
	loaded, err := store.Load(ctx)
	if err == nil {
		return loaded
	}

	log.Error("persisted controllers unreadable, starting from defaults", "error", err)
	if fileStore, ok := store.(*controller.FileStore); ok && (errors.Is(err, controller.ErrCorruptSnapshot) || errors.Is(err, controller.ErrInvalidName)) {
		moved, moveErr := fileStore.MoveAside()
		if moveErr != nil {
			log.Error("could not move corrupt snapshot aside", "error", moveErr)
		} else {
			log.Warn("corrupt snapshot moved aside", "path", moved)
		}
	}
	return map[string]controller.State{}
}

// storage is the persistence wiring selected by config.
type storage struct {
	store controller.Store
	db    *database.DB     // nil unless the sqlite backend is used
	audit audit.Repository // nil unless the sqlite backend is used
	close func()
}

// openStorage opens the configured controller store. The sqlite backend
// also provides the command audit trail.
func openStorage(ctx context.Context, cfg *config.Config, log *logging.Logger) (*storage, error) {
	switch cfg.Persistence.Backend {
	case config.BackendFile:
		log.Info("persistence enabled", "backend", config.BackendFile, "path", cfg.Persistence.FilePath)
		return &storage{
			store: controller.NewFileStore(cfg.Persistence.FilePath),
			close: func() {},
		}, nil

	case config.BackendSQLite:
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		closeDB := func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}

		if err := db.Migrate(ctx); err != nil {
			closeDB()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		if err := db.HealthCheck(ctx); err != nil {
			closeDB()
			return nil, fmt.Errorf("database health check: %w", err)
		}

		store := controller.NewSQLiteStore(db.DB)
		snapVersion, savedAt, ok, err := store.LastSaved(ctx)
		if err != nil {
			closeDB()
			return nil, err
		}
		if ok {
			log.Info("persistence enabled", "backend", config.BackendSQLite, "path", db.Path(),
				"snapshot_version", snapVersion, "saved_at", savedAt)
		} else {
			log.Info("persistence enabled", "backend", config.BackendSQLite, "path", db.Path())
		}

		return &storage{
			store: store,
			db:    db,
			audit: audit.NewSQLiteRepository(db.DB),
			close: closeDB,
		}, nil

	default:
		log.Info("persistence disabled")
		return &storage{
			store: controller.NopStore{},
			close: func() {},
		}, nil
	}
}

// connectMQTT connects to the broker and wires connection events to the log.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"topic_prefix", client.Topics().Prefix(),
		"telemetry_topics", client.Topics().AllControllerStates(),
	)
	return client, nil
}
