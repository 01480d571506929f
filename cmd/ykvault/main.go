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
	"github.com/spf13/cobra"
)

// vaultContext names the enrollment slot holding the KeePass master password.
const vaultContext = "keepass-master"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, diagnose(err))
		os.Exit(exitCode(err))
	}
}

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
		return "Error: no master password enrolled. Run 'ykvault enroll' first."
	case errors.Is(err, envelope.ErrAuthenticationFailed):
		return "Error: authentication failed. The token response did not match the enrollment."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
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

func touchWait(fn func() error) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Touch your YubiKey..."
	s.Start()
	defer s.Stop()
	return fn()
}

var rootCmd = &cobra.Command{
	Use:           "ykvault",
	Short:         "Unlock a KeePass database with a YubiKey",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll the KeePass master password under the connected YubiKey",
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")

		password, err := prompt.ReadSecretConfirmed(os.Stdin, os.Stderr, "Master password")
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
			serial, err = a.Enroll(cmd.Context(), vaultContext, []byte(password), replace)
			return err
		})
		if err != nil {
			if errors.Is(err, keyguard.ErrAlreadyEnrolled) {
				return fmt.Errorf("%w (use --replace to overwrite)", err)
			}
			return err
		}

		fmt.Printf("%s Master password enrolled on device %s\n", color.GreenString("✓"), serial)
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock [DATABASE]",
	Short: "Recover the master password and open the database in KeePassXC",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Recover")
		if err != nil {
			return err
		}
		defer a.Close()

		dbPath := a.Config().KeePass.DatabasePath
		if len(args) > 0 {
			dbPath = args[0]
		}
		if dbPath == "" {
			return errors.New("no database given and keepass.database_path not configured")
		}

		binary := a.Config().KeePass.BinaryPath
		if binary == "" {
			binary = "keepassxc"
		}

		var password []byte
		err = touchWait(func() error {
			var err error
			password, _, err = a.Recover(cmd.Context(), vaultContext)
			return err
		})
		if err != nil {
			return err
		}

		kp := exec.Command(binary, "--pw-stdin", dbPath)
		kp.Stdout = os.Stdout
		kp.Stderr = os.Stderr
		stdin, err := kp.StdinPipe()
		if err != nil {
			return fmt.Errorf("preparing %s stdin: %w", binary, err)
		}
		if err := kp.Start(); err != nil {
			return fmt.Errorf("launching %s: %w", binary, err)
		}

		// The password must reach KeePassXC before we detach.
		if _, err := stdin.Write(append(password, '\n')); err != nil {
			return fmt.Errorf("handing password to %s: %w", binary, err)
		}
		stdin.Close()
		kp.Process.Release()

		fmt.Printf("%s Unlocking %s\n", color.GreenString("✓"), dbPath)
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

func init() {
	enrollCmd.Flags().Bool("replace", false, "Replace an existing enrollment")

	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
}
