package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/access"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/camera"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/config"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/landmark"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/liveness"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/recognition"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/storage"
)

const version = "0.1.0"

const enrollSamples = 5

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
)

func init() {
	commands = map[string]*Command{
		"enroll": {
			Name:        "enroll",
			Description: "Enroll a new user from the camera",
			Usage:       "doorctl enroll <user-id> [display name]",
			Run:         cmdEnroll,
		},
		"verify": {
			Name:        "verify",
			Description: "Run a full liveness and recognition check (no unlock)",
			Usage:       "doorctl verify",
			Run:         cmdVerify,
		},
		"list": {
			Name:        "list",
			Description: "List all enrolled users",
			Usage:       "doorctl list",
			Run:         cmdList,
		},
		"remove": {
			Name:        "remove",
			Description: "Remove an enrolled user",
			Usage:       "doorctl remove <user-id>",
			Run:         cmdRemove,
		},
		"schedule": {
			Name:        "schedule",
			Description: "Show the weekly access schedule",
			Usage:       "doorctl schedule",
			Run:         cmdSchedule,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "doorctl config",
			Run:         cmdConfig,
		},
		"download-models": {
			Name:        "download-models",
			Description: "Download the dlib model files",
			Usage:       "doorctl download-models [directory]",
			Run:         cmdDownloadModels,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "doorctl version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "doorctl help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	args := flag.Args()

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

	logging.Debugf("doorctl v%s starting", version)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	if err := cmd.Run(args[1:]); err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("doorctl - Face Access Control for the Door Controller")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: doorctl [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("\nCommands:")
	for _, name := range []string{"enroll", "verify", "list", "remove", "schedule", "config", "download-models", "version", "help"} {
		cmd := commands[name]
		fmt.Printf("  %-16s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  doorctl enroll alice \"Alice Smith\"   # Enroll a new user")
	fmt.Println("  doorctl verify                       # Dry-run a door check")
	fmt.Println("\nRun 'doorctl help <command>' for more information on a command.")
}

// openCamera opens and warms up the configured camera device.
func openCamera() (*camera.Device, error) {
	dev := camera.NewDevice()
	if err := dev.Open(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height); err != nil {
		return nil, fmt.Errorf("failed to open camera: %w", err)
	}
	dev.Warmup(time.Duration(cfg.Camera.WarmupMillis) * time.Millisecond)
	return dev, nil
}

func openStore() (*storage.Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create data directories: %w", err)
	}
	return storage.NewStore(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
}

func openMatcher() (*recognition.IdentityMatcher, error) {
	matcher := recognition.NewIdentityMatcher(cfg.Recognition.Tolerance)
	if err := matcher.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return nil, err
	}
	return matcher, nil
}

// Command implementations

func cmdEnroll(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("user id required\nUsage: doorctl enroll <user-id> [display name]")
	}
	userID := args[0]
	name := userID
	if len(args) > 1 {
		name = args[1]
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	if store.UserExists(userID) {
		return fmt.Errorf("user '%s' is already enrolled. Remove them first with 'doorctl remove %s'", userID, userID)
	}

	matcher, err := openMatcher()
	if err != nil {
		return err
	}
	defer matcher.Close()

	dev, err := openCamera()
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Printf("Enrolling '%s'. Look at the camera and hold still.\n", name)

	descriptors := make([]recognition.Descriptor, 0, enrollSamples)
	for i := 0; i < enrollSamples; {
		img, _, err := dev.Capture()
		if err != nil {
			return fmt.Errorf("camera capture failed: %w", err)
		}
		d, err := matcher.DescriptorFromImage(img)
		if err != nil {
			logging.Debugf("Sample rejected: %v", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		descriptors = append(descriptors, d)
		i++
		fmt.Printf("  captured sample %d/%d\n", i, enrollSamples)
		time.Sleep(300 * time.Millisecond)
	}

	if err := store.CreateUser(userID, name, descriptors); err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}
	fmt.Printf("User '%s' enrolled with %d samples.\n", userID, len(descriptors))
	return nil
}

func cmdVerify(args []string) error {
	matcher, err := openMatcher()
	if err != nil {
		return err
	}
	defer matcher.Close()

	provider, err := landmark.NewDlibProvider(cfg.Recognition.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to load landmark models: %w", err)
	}
	defer provider.Close()

	store, err := openStore()
	if err != nil {
		return err
	}

	dev, err := openCamera()
	if err != nil {
		return err
	}
	defer dev.Close()

	livenessCfg := liveness.FromConfig(cfg.Liveness)
	orch := liveness.NewOrchestrator(dev, provider, livenessCfg).WithFocusControl(dev)

	fmt.Println("Starting verification. Follow the on-screen liveness prompts.")
	verifier := access.NewVerifier(orch, matcher, store, nil, nil)
	decision := verifier.Verify(context.Background())

	if decision.Granted {
		fmt.Printf("PASS: recognized '%s' (distance %.4f) in %s\n",
			decision.UserID, decision.Distance, decision.Duration.Round(time.Millisecond))
	} else {
		fmt.Printf("FAIL: %s (after %s)\n", decision.Reason(), decision.Duration.Round(time.Millisecond))
	}
	printStageSummary(decision.Liveness)
	return nil
}

func printStageSummary(result liveness.Result) {
	fmt.Println("\nLiveness stages:")
	if result.Stages.Texture != nil {
		fmt.Printf("  texture:  %d/%d metrics passed (quorum %d)\n",
			result.Stages.Texture.PassCount, len(result.Stages.Texture.Verdicts), result.Stages.Texture.Quorum)
	}
	fmt.Printf("  blink:    %d/%d blinks\n", result.Stages.Blink.Count, result.Stages.Blink.Required)
	fmt.Printf("  movement: %s, completed=%t\n",
		result.Stages.Movement.Direction, result.Stages.Movement.Completed)
	fmt.Printf("  focus:    %s\n", result.Stages.Focus.Status)
}

func cmdList(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	users, err := store.ListUsers()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users enrolled.")
		return nil
	}

	fmt.Println("Enrolled users:")
	for _, id := range users {
		user, err := store.LoadUser(id)
		if err != nil {
			fmt.Printf("  - %s (unreadable: %v)\n", id, err)
			continue
		}
		fmt.Printf("  - %-16s %s (samples: %d, last access: %s)\n",
			user.UserID, user.Name, len(user.Descriptors), user.LastAccess.Format("2006-01-02 15:04"))
	}
	fmt.Printf("\nTotal: %d user(s)\n", len(users))
	return nil
}

func cmdRemove(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("user id required\nUsage: doorctl remove <user-id>")
	}
	userID := args[0]

	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.DeleteUser(userID); err != nil {
		return err
	}
	fmt.Printf("User '%s' has been removed.\n", userID)
	return nil
}

func cmdSchedule(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	schedule, err := store.LoadSchedule()
	if err != nil {
		return err
	}

	fmt.Println("Weekly access schedule:")
	for _, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
		entry, ok := schedule[day]
		switch {
		case !ok:
			fmt.Printf("  %-10s closed\n", day)
		case entry.ForceLocked:
			fmt.Printf("  %-10s FORCE LOCKED\n", day)
		case entry.ForceUnlocked:
			fmt.Printf("  %-10s FORCE UNLOCKED\n", day)
		default:
			fmt.Printf("  %-10s %s - %s\n", day, entry.Open, entry.Close)
		}
	}
	return nil
}

func cmdConfig(args []string) error {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("[Camera]")
	fmt.Printf("  Device:          %s\n", cfg.Camera.Device)
	fmt.Printf("  Resolution:      %dx%d @ %d FPS\n", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	fmt.Println()
	fmt.Println("[Liveness]")
	fmt.Printf("  Timeout:         %d seconds\n", cfg.Liveness.TimeoutSeconds)
	fmt.Printf("  Policy:          %s\n", cfg.Liveness.Policy)
	fmt.Printf("  Required Blinks: %d\n", cfg.Liveness.RequiredBlinks)
	fmt.Printf("  Texture Quorum:  %d\n", cfg.Liveness.TextureQuorum)
	fmt.Printf("  Stages:          texture=%t blink=%t movement=%t focus=%t\n",
		cfg.Liveness.EnableTexture, cfg.Liveness.EnableBlink, cfg.Liveness.EnableMovement, cfg.Liveness.EnableFocus)
	fmt.Println()
	fmt.Println("[Recognition]")
	fmt.Printf("  Tolerance:       %.2f\n", cfg.Recognition.Tolerance)
	fmt.Printf("  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Println()
	fmt.Println("[Door]")
	fmt.Printf("  GPIO Pin (BCM):  %d\n", cfg.Door.Pin)
	fmt.Printf("  Unlock:          %d seconds\n", cfg.Door.UnlockSeconds)
	fmt.Printf("  GPIO Enabled:    %t\n", cfg.Door.GPIOEnabled)
	fmt.Println()
	fmt.Println("[MQTT]")
	fmt.Printf("  Enabled:         %t\n", cfg.MQTT.Enabled)
	fmt.Printf("  Broker:          %s:%d\n", cfg.MQTT.Broker, cfg.MQTT.Port)
	fmt.Println()
	fmt.Println("[Storage]")
	fmt.Printf("  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)
	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("doorctl v%s\n", version)
	fmt.Println("Face Access Control for the Door Controller")
	return nil
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf("Command: %s\n", cmd.Name)
	fmt.Printf("Description: %s\n", cmd.Description)
	fmt.Printf("Usage: %s\n", cmd.Usage)

	switch cmdName {
	case "enroll":
		fmt.Println("\nEnrollment Process:")
		fmt.Println("  1. Position yourself in front of the door camera")
		fmt.Println("  2. Ensure good lighting")
		fmt.Println("  3. Hold still while several samples are captured")
		fmt.Println("  4. Face data is encrypted and stored locally")
	case "verify":
		fmt.Println("\nVerification Process:")
		fmt.Println("  1. The texture of your face is analyzed")
		fmt.Println("  2. Blink naturally while holding still")
		fmt.Println("  3. Move your head in the requested direction")
		fmt.Println("  4. The door is NOT unlocked by this command")
	case "config":
		fmt.Println("\nConfiguration Locations:")
		fmt.Println("  System: /etc/doorguard/doorguard.yaml")
		fmt.Println("  User:   ~/.config/doorguard/doorguard.yaml")
		fmt.Println("\nUse -config flag to specify a custom config file.")
	}
	return nil
}
