package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/clwhipp/yubikey-utils/internal/app"
	"github.com/clwhipp/yubikey-utils/internal/config"
	"github.com/clwhipp/yubikey-utils/internal/envelope"
	"github.com/clwhipp/yubikey-utils/internal/keyguard"
	"github.com/clwhipp/yubikey-utils/internal/prompt"
	"github.com/clwhipp/yubikey-utils/internal/token"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, diagnose(err))
		os.Exit(exitCode(err))
	}
}

// Exit codes distinguish the recoverable failure classes so scripts can
// react to them (retry on a missing token, re-enroll on auth failure).
func exitCode(err error) int {
	switch {
	case errors.Is(err, token.ErrNoToken):
		return 2
	case errors.Is(err, keyguard.ErrNotEnrolled):
		return 3
	case errors.Is(err, envelope.ErrAuthenticationFailed):
		return 4
	default:
		return 1
	}
}

func diagnose(err error) string {
	switch {
	case errors.Is(err, token.ErrNoToken):
		return "Error: no YubiKey detected. Insert the token and try again."
	case errors.Is(err, keyguard.ErrNotEnrolled):
		return "Error: not enrolled. Run 'yksecret enroll' first."
	case errors.Is(err, envelope.ErrAuthenticationFailed):
		return "Error: authentication failed. The token response did not match any enrollment."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Enroll", "Recover").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config (run 'yksecret config init'?): %w", err)
	}

	a, err := app.NewApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// touchWait runs fn with a spinner prompting for the YubiKey touch.
func touchWait(fn func() error) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Touch your YubiKey..."
	s.Start()
	defer s.Stop()
	return fn()
}

var rootCmd = &cobra.Command{
	Use:           "yksecret",
	Short:         "Bind secrets to a YubiKey via challenge-response",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var enrollCmd = &cobra.Command{
	Use:   "enroll CONTEXT",
	Short: "Enroll a secret under the connected YubiKey",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")

		secret, err := prompt.ReadSecretConfirmed(os.Stdin, os.Stderr, "Secret")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Enroll")
		if err != nil {
			return err
		}
		defer a.Close()

		var serial string
		err = touchWait(func() error {
			var err error
			serial, err = a.Enroll(cmd.Context(), args[0], []byte(secret), replace)
			return err
		})
		if err != nil {
			if errors.Is(err, keyguard.ErrAlreadyEnrolled) {
				return fmt.Errorf("%w (use --replace to overwrite)", err)
			}
			return err
		}

		fmt.Printf("%s Enrolled %s on device %s\n",
			color.GreenString("✓"), color.YellowString(args[0]), serial)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show CONTEXT",
	Short: "Recover a secret and print it to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Recover")
		if err != nil {
			return err
		}
		defer a.Close()

		var secret []byte
		err = touchWait(func() error {
			var err error
			secret, _, err = a.Recover(cmd.Context(), args[0])
			return err
		})
		if err != nil {
			return err
		}

		os.Stdout.Write(secret)
		fmt.Println()
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell CONTEXT",
	Short: "Spawn a shell with the recovered secret in the environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		envName, _ := cmd.Flags().GetString("env")

		a, err := newApp(cmd.Context(), "Recover")
		if err != nil {
			return err
		}
		defer a.Close()

		var secret []byte
		err = touchWait(func() error {
			var err error
			secret, _, err = a.Recover(cmd.Context(), args[0])
			return err
		})
		if err != nil {
			return err
		}

		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}

		fmt.Fprintf(os.Stderr, "%s Spawning %s with %s set. Exit the shell to clear it.\n",
			color.GreenString("✓"), shell, color.YellowString(envName))

		sub := exec.Command(shell)
		sub.Stdin = os.Stdin
		sub.Stdout = os.Stdout
		sub.Stderr = os.Stderr
		sub.Env = append(os.Environ(), fmt.Sprintf("%s=%s", envName, secret))
		if err := sub.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				os.Exit(exitErr.ExitCode())
			}
			return fmt.Errorf("running shell: %w", err)
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [SERIAL]",
	Short: "Remove all enrollments for a device",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Remove")
		if err != nil {
			return err
		}
		defer a.Close()

		var serial string
		if len(args) > 0 {
			serial = args[0]
		} else {
			// No serial given: read it from the connected token and confirm.
			serial, err = a.Serial(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading serial from connected token: %w", err)
			}
			ok, err := prompt.Confirm(os.Stdin, os.Stderr,
				fmt.Sprintf("Remove all enrollments for device %s?", serial))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		if err := a.Remove(cmd.Context(), serial); err != nil {
			return err
		}

		fmt.Printf("%s Removed device %s\n", color.GreenString("✓"), serial)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled devices and their contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "List")
		if err != nil {
			return err
		}
		defer a.Close()

		devices, err := a.List(cmd.Context())
		if err != nil {
			return err
		}

		if len(devices) == 0 {
			fmt.Println("No devices enrolled.")
			return nil
		}

		for _, d := range devices {
			fmt.Printf("%s\n", color.YellowString(d.Serial))
			for _, c := range d.Contexts {
				fmt.Printf("  %s\n", c)
			}
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Export all enrollments to a passphrase-encrypted archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := prompt.ReadSecretConfirmed(os.Stdin, os.Stderr, "Archive passphrase")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Export")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("creating archive: %w", err)
		}
		defer f.Close()

		if err := a.Export(cmd.Context(), f, passphrase); err != nil {
			return err
		}

		fmt.Printf("%s Exported enrollments to %s\n", color.GreenString("✓"), args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import enrollments from an encrypted archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		merge, _ := cmd.Flags().GetBool("merge")

		passphrase, err := prompt.ReadSecret(os.Stdin, os.Stderr, "Archive passphrase")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Import")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer f.Close()

		if err := a.Import(cmd.Context(), f, passphrase, merge); err != nil {
			return err
		}

		fmt.Printf("%s Imported enrollments from %s\n", color.GreenString("✓"), args[0])
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		installID := uuid.New().String()

		cfg := config.NewConfig(installID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Install ID: %s\n", installID)
		fmt.Printf("Base Dir:   %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Install ID: %s\n", cfg.InstallID)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Slot:       %d\n", cfg.Token.Slot)
		fmt.Printf("Timeout:    %ds\n", cfg.Token.TimeoutSeconds)
		fmt.Printf("Store:      %s\n", cfg.Store.Type)
		switch cfg.Store.Type {
		case "file", "":
			fmt.Printf("Path:       %s\n", cfg.Store.Path)
		case "sqlite":
			fmt.Printf("DB Path:    %s\n", cfg.Store.DBPath)
		case "s3":
			fmt.Printf("Bucket:     %s\n", cfg.Store.S3Bucket)
			fmt.Printf("Key:        %s\n", cfg.Store.S3Key)
		}
		return nil
	},
}

func init() {
	enrollCmd.Flags().Bool("replace", false, "Replace an existing enrollment for this context")
	shellCmd.Flags().String("env", "YK_SECRET", "Environment variable to bind the secret to")
	importCmd.Flags().Bool("merge", false, "Merge into existing enrollments instead of replacing them")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(configCmd)
}
