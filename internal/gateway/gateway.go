package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Pilotkosinus/mesh2gram/internal/config"
	"github.com/Pilotkosinus/mesh2gram/internal/core/service"
	"github.com/Pilotkosinus/mesh2gram/internal/infra/confloader"
	"github.com/Pilotkosinus/mesh2gram/internal/mesh"
	"github.com/Pilotkosinus/mesh2gram/internal/storage"
	"github.com/Pilotkosinus/mesh2gram/internal/telegram"
	"github.com/Pilotkosinus/mesh2gram/internal/telemetry/logger"
	"github.com/Pilotkosinus/mesh2gram/internal/telemetry/metric"
)

// packetQueueSize bounds the inbound mesh queue. The transport callback
// never blocks; overflow is counted and dropped.
const packetQueueSize = 256

// sweepInterval paces the expired-secret sweep.
const sweepInterval = time.Hour

// Options configure one gateway process.
type Options struct {
	// ConfigPath is the YAML config file. Required for setup mode to
	// persist the discovered primary chat id.
	ConfigPath string

	// Logger receives all gateway logs.
	Logger *slog.Logger
}

// Run loads the configuration and drives the gateway until ctx ends.
// Setup completion and config file changes restart the components
// in-process with the new configuration.
func Run(ctx context.Context, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	for {
		cfg, err := loadConfig(opts.ConfigPath)
		if err != nil {
			return err
		}
		if cfg.Log.Level != "" {
			logger.SetLevel(cfg.Log.Level)
		}

		reload, err := runOnce(ctx, cfg, opts.ConfigPath, log)
		if err != nil {
			return err
		}
		if !reload {
			return nil
		}
		log.Info("reloading gateway components")
	}
}

// loadConfig merges defaults, the config file and the environment.
func loadConfig(path string) (*config.Config, error) {
	loader := confloader.NewLoader(confloader.WithConfigFile(path))

	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Verify(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runOnce builds and runs one configured incarnation of the gateway.
// It returns true when the caller should rebuild with fresh config.
func runOnce(ctx context.Context, cfg *config.Config, configPath string, log *slog.Logger) (bool, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A single pending reload request; setup completion and file
	// watcher both feed it.
	reloadCh := make(chan struct{}, 1)
	requestReload := func() {
		select {
		case reloadCh <- struct{}{}:
		default:
		}
	}

	metrics := metric.NewRegistry()

	// 1. Durable pairing state
	store, err := storage.NewBadgerStore(cfg.Storage, log)
	if err != nil {
		return false, err
	}
	defer store.Close()
	store.RegisterMetrics(metrics.Registerer())

	pairing, err := service.NewPairingService(runCtx, store, log)
	if err != nil {
		return false, err
	}
	price := service.NewPriceService(log)

	// 2. Telegram side
	bot, err := telegram.New(cfg.Telegram.Token, log)
	if err != nil {
		return false, err
	}

	// 3. Mesh side. In setup mode the gateway runs Telegram-only until
	// !id names the primary chat.
	var sup *mesh.Supervisor
	if !cfg.SetupMode() {
		sup = mesh.NewSupervisor(mesh.SupervisorConfig{
			Host:                 cfg.Mesh.Host,
			Port:                 cfg.Mesh.Port,
			ProbeTimeout:         cfg.Mesh.ProbeTimeout,
			NetworkCheckInterval: cfg.Mesh.NetworkCheckInterval,
			ReadyWindow:          cfg.Mesh.ReadyWindow,
			HeartbeatInterval:    cfg.Mesh.HeartbeatInterval,
			ReconnectBaseDelay:   cfg.Mesh.ReconnectBaseDelay,
			ReconnectMaxDelay:    cfg.Mesh.ReconnectMaxDelay,
		}, log)
	} else {
		log.Info("setup mode: no primary chat configured, mesh side disabled")
	}

	// 4. Router and observability
	notifier := CombineNotifiers(NewLogNotifier(log), NewMetricNotifier(metrics))
	tracker := NewTracker()

	var meshSender MeshSender
	if sup != nil {
		meshSender = sup
	}
	router := NewRouter(RouterConfig{
		ChannelIndex:  cfg.Mesh.ChannelIndex,
		PrimaryChatID: cfg.Telegram.PrimaryChatID,
		BotUsername:   bot.Username(),
	}, meshSender, bot, pairing, price, tracker, notifier, metrics, log)

	router.OnSetupComplete = func(chatID int64) {
		if err := confloader.SaveValue(configPath, "telegram.primary_chat_id", chatID); err != nil {
			log.Error("persist primary chat id failed", "error", err, "chat_id", chatID)
			return
		}
		log.Info("primary chat configured", "chat_id", chatID)
		requestReload()
	}

	metrics.Registerer().MustRegister(metric.NewCollector(metric.StateFuncs{
		Connected: func() bool {
			return sup != nil && sup.State().Connected
		},
		PairedSessions: pairing.SessionCount,
		PendingSecrets: pairing.PendingCount,
	}))

	// 5. Background loops
	if sup != nil {
		sup.OnConnected = func(sess mesh.Session) {
			notifier.ConnectionChanged(true, cfg.Mesh.Host)

			// A configured channel name wins over the static index once
			// the device channel table is known.
			if name := cfg.Mesh.ChannelName; name != "" {
				if idx, ok := sess.ChannelIndex(name); ok {
					router.SetChannelIndex(idx)
				} else {
					log.Warn("configured channel name not on device, keeping index",
						"channel_name", name,
						"channel_index", cfg.Mesh.ChannelIndex)
				}
			}
		}
		sup.OnDisconnected = func(reason string) {
			notifier.ConnectionChanged(false, cfg.Mesh.Host)
		}
		sup.OnEscalation = metrics.Escalations.Inc
		go func() {
			if err := sup.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("supervisor stopped", "error", err)
			}
		}()
	}

	go pairing.RunSweeper(runCtx, sweepInterval)
	go tracker.RunStatusLoop(runCtx, defaultStatusInterval, log)

	metricsSrv := startMetricsServer(cfg.Metrics.Addr, metrics, log)
	if metricsSrv != nil {
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutCancel()
			metricsSrv.Shutdown(shutCtx)
		}()
	}

	watcher := startConfigWatcher(configPath, requestReload, log)
	if watcher != nil {
		defer watcher.Stop()
	}

	// 6. Event loop. The transport callback only enqueues; this loop is
	// the sole caller of the router.
	packetCh := make(chan mesh.Packet, packetQueueSize)
	if sup != nil {
		sup.OnPacket(func(p mesh.Packet) {
			select {
			case packetCh <- p:
			default:
				metrics.DroppedPackets.Inc()
				log.Warn("inbound packet dropped, relay queue full", "node_id", p.From)
			}
		})
	}

	updates := bot.Updates(runCtx)

	for {
		select {
		case <-runCtx.Done():
			return false, nil
		case <-reloadCh:
			return true, nil
		case p := <-packetCh:
			router.HandleMeshPacket(runCtx, p)
		case m, ok := <-updates:
			if !ok {
				// Long-poll stream ended; only cancellation does that.
				return false, nil
			}
			router.HandleChatMessage(runCtx, m)
		}
	}
}

// startMetricsServer exposes /metrics when an address is configured.
func startMetricsServer(addr string, metrics *metric.Registry, log *slog.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint failed", "error", err)
		}
	}()
	return srv
}

// startConfigWatcher reloads components when the config file changes.
// A broken watcher degrades to no hot reload instead of failing the run.
func startConfigWatcher(path string, requestReload func(), log *slog.Logger) *confloader.Watcher {
	if path == "" {
		return nil
	}

	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		log.Warn("config watcher unavailable", "error", err)
		return nil
	}
	if err := watcher.Watch(path); err != nil {
		log.Warn("config watch failed", "error", err, "path", path)
		watcher.Stop()
		return nil
	}

	watcher.OnChange(func(string) {
		log.Info("config file changed", "path", path)
		requestReload()
	})
	watcher.StartAsync()
	return watcher
}
