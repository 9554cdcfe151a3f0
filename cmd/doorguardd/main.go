// doorguardd is the door controller daemon. It runs verification
// sessions in a loop, drives the lock relay, and keeps the backend
// informed over MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/access"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/camera"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/config"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/door"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/landmark"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/liveness"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/mqttlink"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/recognition"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/storage"
)

const version = "0.1.0"

// idleDelay is the pause between verification sessions so the daemon
// does not spin the camera when nobody is at the door.
const idleDelay = 2 * time.Second

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("doorguardd v%s\n", version)
		return
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	cfg.ExpandPaths()

	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	logging.Infof("doorguardd v%s starting", version)

	if err := run(cfg); err != nil {
		logging.WithError(err).Fatal("Daemon failed")
	}
}

func run(cfg *config.Config) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create data directories: %w", err)
	}
	store, err := storage.NewStore(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	matcher := recognition.NewIdentityMatcher(cfg.Recognition.Tolerance)
	if err := matcher.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return err
	}
	defer matcher.Close()

	provider, err := landmark.NewDlibProvider(cfg.Recognition.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to load landmark models: %w", err)
	}
	defer provider.Close()

	dev := camera.NewDevice()
	if err := dev.Open(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height); err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	defer dev.Close()
	dev.Warmup(time.Duration(cfg.Camera.WarmupMillis) * time.Millisecond)

	var lock access.Lock
	var controller *door.Controller
	if cfg.Door.GPIOEnabled {
		controller, err = door.NewController(cfg.Door.Pin, time.Duration(cfg.Door.UnlockSeconds)*time.Second)
		if err != nil {
			return fmt.Errorf("failed to initialize door relay: %w", err)
		}
		defer controller.Close()
		lock = controller
	} else {
		logging.Warn("GPIO disabled, running without a physical lock")
	}

	var link *mqttlink.Link
	if cfg.MQTT.Enabled {
		link, err = mqttlink.New(cfg.MQTT, mqttlink.Handlers{
			OnUnlock: func() {
				if controller != nil {
					if err := controller.Unlock(); err != nil {
						logging.WithError(err).Warn("Remote unlock failed")
					}
				}
			},
			OnLock: func() {
				if controller != nil {
					if err := controller.Lock(); err != nil {
						logging.WithError(err).Warn("Remote lock failed")
					}
				}
			},
			OnSchedule: func(schedule door.WeekSchedule) {
				if err := store.SaveSchedule(schedule); err != nil {
					logging.WithError(err).Warn("Failed to persist schedule update")
					return
				}
				logging.Info("Schedule updated from backend")
			},
		})
		if err != nil {
			return fmt.Errorf("failed to build MQTT link: %w", err)
		}
		if err := link.Connect(); err != nil {
			logging.WithError(err).Warn("MQTT connect failed, continuing offline")
		} else {
			defer link.Close()
		}
	}

	sink := func(d access.Decision) {
		if link == nil {
			return
		}
		event := mqttlink.AccessEvent{
			UserID:    d.UserID,
			Granted:   d.Granted,
			Reason:    d.Reason(),
			Timestamp: time.Now(),
		}
		if err := link.PublishAccessEvent(event); err != nil {
			logging.WithError(err).Debug("Access event not published")
		}
	}

	orch := liveness.NewOrchestrator(dev, provider, liveness.FromConfig(cfg.Liveness)).
		WithFocusControl(dev)
	verifier := access.NewVerifier(orch, matcher, store, lock, sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("Door guard ready")
	for {
		select {
		case <-ctx.Done():
			logging.Info("Shutting down")
			return nil
		default:
		}

		decision := verifier.Verify(ctx)
		if decision.Granted {
			logging.Infof("Access granted to %s", decision.UserID)
		}

		select {
		case <-ctx.Done():
			logging.Info("Shutting down")
			return nil
		case <-time.After(idleDelay):
		}
	}
}
