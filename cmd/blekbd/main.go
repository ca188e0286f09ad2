package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/iprlabs/blekbd/internal/bluez"
	"github.com/iprlabs/blekbd/internal/config"
	"github.com/iprlabs/blekbd/internal/fifo"
	"github.com/iprlabs/blekbd/internal/gatt"
	"github.com/iprlabs/blekbd/internal/hid"
	"github.com/iprlabs/blekbd/internal/keyboard"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: /etc/blekbd/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	printBanner(cfg)

	readyFlag := fifo.NewFlag(cfg.ReadyFlag)
	if err := readyFlag.Clear(); err != nil {
		log.Fatalf("stale readiness flag: %v", err)
	}
	if err := fifo.Ensure(cfg.FIFOPath); err != nil {
		log.Fatalf("fifo: %v", err)
	}

	bus, err := bluez.System()
	if err != nil {
		log.Fatalf("bluez: %v\n\nCheck that bluetoothd is running (systemctl status bluetooth).", err)
	}
	defer bus.Close()

	adapter, err := bus.FindAdapter(cfg.Adapter)
	if err != nil {
		log.Fatalf("adapter: %v", err)
	}
	adapter.SetLEOnly()
	if err := adapter.Setup(cfg.DeviceName); err != nil {
		log.Fatalf("adapter setup: %v", err)
	}
	slog.Info("[main] adapter ready", "path", adapter.Path, "alias", cfg.DeviceName)

	agent := bluez.NewAgent(bus)
	if err := agent.Register(); err != nil {
		log.Fatalf("pairing agent: %v", err)
	}
	defer agent.Unregister()

	kbd := gatt.NewKeyboard(bus.Conn(), gatt.DeviceInfo{
		Manufacturer: cfg.Manufacturer,
		Model:        cfg.Model,
		VendorID:     cfg.USB.VendorID,
		ProductID:    cfg.USB.ProductID,
		Version:      cfg.USB.Version,
	})
	adv := gatt.NewAdvertisement(bus.Conn(), cfg.DeviceName)
	registrar := gatt.NewRegistrar(bus.Conn(), adapter.Path, cfg.Timing.RegisterRetry())

	loop := keyboard.New(kbd, readyFlag, func(mac string) {
		kbd.ResetSubscriptions()
		agent.ForgetPeer(adapter.DevicePath(mac))
		go registrar.Rearm(adv)
	}, keyboard.Options{
		Keymap:        hid.DefaultKeymap(),
		QueueSize:     cfg.QueueSize,
		PressHold:     cfg.Timing.PressHold(),
		ReleaseSettle: cfg.Timing.ReleaseSettle(),
	})

	kbd.SetSubscriptionHook(loop.SubscriptionEdge)

	if err := registrar.Register(kbd.App(), adv); err != nil {
		log.Fatalf("gatt registration: %v", err)
	}
	defer registrar.Unregister(kbd.App(), adv)

	signals, err := bus.WatchProperties()
	if err != nil {
		log.Fatalf("signal watch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go loop.Run(ctx)
	go fifo.NewReader(cfg.FIFOPath, loop.PostText).Run(ctx)
	go watchLinks(signals, loop)

	slog.Info("[main] advertising, waiting for a host", "name", cfg.DeviceName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("[main] shutting down", "signal", sig.String())

	cancel()
	registrar.Unregister(kbd.App(), adv)
	agent.Unregister()
	readyFlag.Clear()
	bus.Close()
	os.Exit(0)
}

// watchLinks translates Device1 Connected transitions into loop events.
func watchLinks(signals chan *dbus.Signal, loop *keyboard.Loop) {
	for sig := range signals {
		mac, connected, ok := bluez.ConnectedChange(sig)
		if !ok {
			continue
		}
		if connected {
			loop.Post(keyboard.PeerConnected{MAC: mac})
		} else {
			loop.Post(keyboard.PeerDisconnected{MAC: mac})
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== blekbd ===")
	fmt.Printf("  Adapter: %s\n", cfg.Adapter)
	fmt.Printf("  Name:    %s\n", cfg.DeviceName)
	fmt.Printf("  FIFO:    %s\n", cfg.FIFOPath)
	fmt.Printf("  Flag:    %s\n", cfg.ReadyFlag)
	fmt.Printf("  Pacing:  %dms/%dms\n", cfg.Timing.PressHoldMs, cfg.Timing.ReleaseSettleMs)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("==============")
}
