package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SaiMyBB/Matter-Gateway/internal/api"
	"github.com/SaiMyBB/Matter-Gateway/internal/bridges/larnitech"
	"github.com/SaiMyBB/Matter-Gateway/internal/bridges/mirror"
	"github.com/SaiMyBB/Matter-Gateway/internal/device"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/database"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/influxdb"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/logging"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/metrics"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/mqtt"
	"github.com/SaiMyBB/Matter-Gateway/internal/persistence"
	"github.com/SaiMyBB/Matter-Gateway/migrations"
)

// historyPruneInterval is how often expired state history is deleted.
const historyPruneInterval = time.Hour

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Command-line options
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts *options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Matter Gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if configPath == "" {
		log.Info("no configuration file found, using defaults")
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// The state store is opened first so its deferred Close runs last, after
	// every writer has stopped.
	store, err := persistence.Open(cfg.Persistence, log)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer func() {
		log.Info("closing state store")
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing state store", "error", closeErr)
		}
	}()
	log.Info("state store opened", "type", cfg.Persistence.Type, "path", cfg.Persistence.Path)

	registry := device.NewRegistry(persistence.NewDeviceStates(store))
	registry.SetLogger(log)

	inventory, err := buildInventory(cfg.Devices)
	if err != nil {
		return fmt.Errorf("building device inventory: %w", err)
	}
	for _, d := range inventory {
		registry.Register(ctx, d)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	// Prometheus collectors (optional)
	var prom *metrics.Metrics
	if cfg.Metrics.Enabled {
		prom = metrics.New()
		prom.Seed(registry.ListAll())
		registry.SetWriteObserver(prom)
	}

	hub := api.NewHub(cfg.WebSocket, log.With("component", "hub"))
	if prom != nil {
		hub.SetCountObserver(prom.SetWebSocketClients)
	}
	publishers := device.NewPublishers(log, hub)
	if prom != nil {
		publishers.Add(prom)
	}

	// State history database (optional)
	var (
		db       *database.DB
		history  *device.SQLiteStateHistoryRepository
		recorder *device.HistoryRecorder
	)
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		applied, migrateErr := db.Migrate(ctx, migrations.FS)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database connected", "path", cfg.Database.Path, "migrations_applied", applied)

		history = device.NewSQLiteStateHistoryRepository(db.DB)
		recorder = device.NewHistoryRecorder(history, log)
		publishers.Add(recorder)
	} else {
		log.Info("state history disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		publishers.Add(influxdb.NewPublisher(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker and mirror the registry (optional)
	var (
		mqttClient *mqtt.Client
		mqttMirror *mirror.Mirror
	)
	if cfg.MQTT.Enabled {
		mqttClient, mqttMirror, err = startMirror(ctx, cfg, registry, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		publishers.Add(mqttMirror)
	} else {
		log.Info("MQTT mirror disabled")
	}

	// Larnitech controller link (optional)
	var (
		upstreamClient *larnitech.Client
		listener       *larnitech.Listener
		forwarder      *larnitech.Forwarder
	)
	if cfg.Upstream.Enabled {
		upstreamLog := log.With("component", "larnitech")
		upstreamClient = larnitech.NewClient(cfg.Upstream, larnitech.WithLogger(upstreamLog))

		listenerOpts := []larnitech.ListenerOption{larnitech.WithListenerLogger(upstreamLog)}
		if prom != nil {
			listenerOpts = append(listenerOpts, larnitech.WithObserver(prom))
		}
		listener = larnitech.NewListener(cfg.Upstream, registry, listenerOpts...)

		if cfg.Upstream.WriteThrough {
			forwarder = larnitech.NewForwarder(upstreamClient, registry, upstreamLog)
			publishers.Add(forwarder)
		}
		log.Info("controller link enabled",
			"serial", cfg.Upstream.Serial,
			"token", logging.Redact(cfg.Upstream.Token),
			"write_through", cfg.Upstream.WriteThrough,
		)
	} else {
		log.Info("controller link disabled")
	}

	registry.SetPublisher(publishers)
	log.Info("publishers wired", "count", publishers.Len())

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// API server
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Metrics:  cfg.Metrics,
		Logger:   log,
		Registry: registry,
		Hub:      hub,
		Version:  version,
	}
	if history != nil {
		deps.History = history
	}
	if db != nil {
		deps.DB = db
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if listener != nil {
		deps.UpstreamStatus = func() string { return string(listener.Status()) }
	}
	if prom != nil {
		deps.Prometheus = prom.Handler()
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Background loops. They all stop when ctx is cancelled and are joined
	// before the deferred closes run.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	for _, u := range registry.Updaters() {
		g.Go(func() error {
			return device.RunUpdater(gctx, registry, u, nil)
		})
	}
	if mqttMirror != nil {
		g.Go(func() error { return mqttMirror.Run(gctx) })
	}
	if listener != nil {
		g.Go(func() error { return listener.Run(gctx) })
		g.Go(func() error {
			reportUpstreamInventory(gctx, upstreamClient, registry, log)
			return nil
		})
	}
	if forwarder != nil {
		g.Go(func() error { return forwarder.Run(gctx) })
	}
	if recorder != nil {
		g.Go(func() error { return recorder.Run(gctx) })
	}
	if history != nil && cfg.Database.RetentionDays > 0 {
		retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			pruneHistory(gctx, history, retention, log)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"sensors", len(registry.Updaters()),
		"api", server.Addr(),
	)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("background task failed: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, MQTT, InfluxDB, database, state store.

	log.Info("Matter Gateway stopped")
	return nil
}

// buildInventory constructs the configured devices, or the demo inventory
// when none are configured.
func buildInventory(specs []config.DeviceConfig) ([]device.Device, error) {
	if len(specs) == 0 {
		return device.Defaults(), nil
	}
	out := make([]device.Device, 0, len(specs))
	for _, s := range specs {
		d, err := device.New(device.Spec{
			Name:           s.Name,
			Kind:           s.Kind,
			UpstreamID:     s.UpstreamID,
			UpdateInterval: s.UpdateInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", s.Name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// startMirror connects to the broker and subscribes the MQTT mirror.
//
// Parameters:
//   - ctx: Context for command handling
//   - cfg: Application configuration
//   - registry: Device registry the mirror reads and writes
//   - log: Logger instance
//
// Returns:
//   - *mqtt.Client: Connected client; the caller closes it
//   - *mirror.Mirror: Subscribed mirror; the caller runs it
//   - error: If connection or subscription fails
func startMirror(ctx context.Context, cfg *config.Config, registry *device.Registry, log *logging.Logger) (*mqtt.Client, *mirror.Mirror, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	m, err := mirror.New(mirror.Options{
		Client:   client,
		Registry: registry,
		Topics:   client.Topics(),
		QoS:      client.QoS(),
		Logger:   log.With("component", "mirror"),
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("creating MQTT mirror: %w", err)
	}

	// Retained state is republished after every reconnect so a restarted
	// broker holds the current picture again.
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		m.PublishSnapshot()
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := m.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("starting MQTT mirror: %w", err)
	}
	log.Info("MQTT mirror started", "prefix", client.Topics().Prefix)
	return client, m, nil
}

// reportUpstreamInventory compares the controller's device list with the
// registry's upstream mappings and logs what does not line up.
func reportUpstreamInventory(ctx context.Context, client *larnitech.Client, registry *device.Registry, log *logging.Logger) {
	remote := client.ListDevicesOrFallback(ctx)
	if ctx.Err() != nil {
		return
	}

	mapped := 0
	for _, rd := range remote {
		if _, ok := registry.FindByUpstreamID(rd.ID); ok {
			mapped++
			continue
		}
		log.Debug("controller device not mapped", "id", rd.ID, "name", rd.Name)
	}
	log.Info("controller inventory", "devices", len(remote), "mapped", mapped, "base_url", client.BaseURL(ctx))
}

// pruneHistory deletes state history older than retention, once at start
// and then every historyPruneInterval.
func pruneHistory(ctx context.Context, repo *device.SQLiteStateHistoryRepository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.PruneHistory(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning state history failed", "error", err)
		case n > 0:
			log.Info("state history pruned", "rows", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: History database to check (nil if disabled)
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
