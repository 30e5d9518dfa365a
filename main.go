package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"knockbot/bot"
	"knockbot/config"
	"knockbot/logger"
	"knockbot/metrics"
	"knockbot/nfctrl"
	"knockbot/resolver"
	"knockbot/rules"
	"knockbot/shell"
)

const (
	exitConfig        = 1
	exitNoNetworkTool = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "knockbot.yaml", "Path to the YAML configuration file")
	tgBotToken := flag.String("tg_bot_token", "", "Telegram bot token, overrides telegram.token")
	debug := flag.Bool("debug", false, "Debug logging and Telegram API tracing")
	flag.Parse()

	overrides := flagOverrides(*tgBotToken, *debug)

	log := logger.WithComponent("main")

	cfg, err := config.Load(*configPath, overrides...)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return exitConfig
	}
	if err := logger.Initialize(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.WithError(err).Error("failed to initialize logger")
		return exitConfig
	}

	log = logger.WithComponent("main")
	log.Infof("Allowed Telegram users: %v", cfg.Telegram.AllowedUsers)
	log.Infof("BOT Token: %s", bot.MaskToken(cfg.Telegram.Token))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec := shell.Sh{}
	refresher, err := resolver.Detect(ctx, exec)
	if errors.Is(err, resolver.ErrNoNetworkTool) {
		log.Error("No recognized network manager. This host is not compatible.")
		return exitNoNetworkTool
	}
	log.Infof("Using %s to refresh DNS", refresher)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		log.WithError(err).Error("metrics setup failed")
		return exitConfig
	}
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, cfg.Metrics.Path, reg); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	api, err := bot.Init(cfg.Telegram.Token, cfg.Telegram.Debug)
	if err != nil {
		log.WithError(err).Error("telegram setup failed")
		return exitConfig
	}

	d := bot.NewDispatcher(api, m, settingsFrom(cfg, exec, refresher))
	initial := d.Resolve(ctx)
	log.Infof("Initial GUEST_IP: %s", initial.Addr)

	reloads := watchConfig(ctx, *configPath, overrides, exec, refresher)

	var knocks <-chan nfctrl.Knock
	if cfg.Watch.Enabled {
		w := nfctrl.NewWatcher(cfg.Watch.Cooldown)
		knocks = w.Knocks()
		go func() {
			if err := w.Run(ctx, cfg.Watch.QueueID, cfg.Watch.MaxQueue); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("knock watcher stopped")
			}
		}()
	}

	log.Info("Starting bot polling...")
	updates := bot.Updates(api, cfg.Telegram.PollTimeout)
	err = d.Run(ctx, updates, reloads, knocks)
	api.StopReceivingUpdates()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("bot stopped")
	}
	log.Info("Bye")
	return 0
}

func flagOverrides(token string, debug bool) []config.Override {
	var out []config.Override
	if token != "" {
		out = append(out, func(c *config.Config) { c.Telegram.Token = token })
	}
	if debug {
		out = append(out, func(c *config.Config) {
			c.Log.Level = "debug"
			c.Telegram.Debug = true
		})
	}
	return out
}

func settingsFrom(cfg *config.Config, exec shell.Executor, refresher resolver.Refresher) bot.Settings {
	return bot.Settings{
		Allowed:    cfg.Allowed(),
		ShareURL:   cfg.DNS.ShareURL,
		KnockDelay: cfg.DNS.KnockDelay,
		Resolver: &resolver.Resolver{
			Exec:      exec,
			Refresher: refresher,
			Host:      cfg.DNS.DDNSHost,
			Server:    cfg.DNS.AuthoritativeDNS,
			Mode:      cfg.DNS.Lookup,
		},
		Rules: rules.New(exec, cfg.Rules),
	}
}

// watchConfig turns valid edits of the config file into new settings.
// Token, watcher, metrics and log settings only change on restart.
func watchConfig(ctx context.Context, path string, overrides []config.Override, exec shell.Executor, refresher resolver.Refresher) <-chan bot.Settings {
	log := logger.WithComponent("config")

	w, err := config.NewWatcher(path, 0)
	if err != nil {
		log.WithError(err).Warn("config reload disabled")
		return nil
	}
	changes, err := w.Start(ctx)
	if err != nil {
		log.WithError(err).Warn("config reload disabled")
		w.Stop()
		return nil
	}

	out := make(chan bot.Settings)
	go func() {
		defer close(out)
		defer w.Stop()

		for range changes {
			cfg, err := config.Load(path, overrides...)
			if err != nil {
				log.WithError(err).Warn("ignoring invalid configuration")
				continue
			}
			select {
			case out <- settingsFrom(cfg, exec, refresher):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
