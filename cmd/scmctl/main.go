// Command scmctl installs, controls, and inspects service registrations.
package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	scm "github.com/axondata/go-scm"

	"github.com/spf13/cobra"
)

var (
	flagDir     string
	flagBackend string
	flagTimeout time.Duration

	// install flags
	flagDisplay     string
	flagDescription string
	flagExec        string
	flagArgs        []string
	flagStartType   string
	flagDelayed     bool
	flagDeps        []string

	// list flags
	flagFilter string
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", defaultDir(), "Registry directory (local backend)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "local", "Backend: local or system")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "Operation timeout")

	installCmd.Flags().StringVar(&flagDisplay, "display", "", "Display name (defaults to the service name)")
	installCmd.Flags().StringVar(&flagDescription, "description", "", "Service description")
	installCmd.Flags().StringVar(&flagExec, "exec", "", "Service executable path (required)")
	installCmd.Flags().StringSliceVar(&flagArgs, "arg", nil, "Launch argument (repeatable)")
	installCmd.Flags().StringVar(&flagStartType, "start-type", "manual", "Start type: auto, manual, disabled")
	installCmd.Flags().BoolVar(&flagDelayed, "delayed", false, "Delay auto start until after boot-critical services")
	installCmd.Flags().StringSliceVar(&flagDeps, "depends", nil, "Dependency service name (repeatable)")

	listCmd.Flags().StringVar(&flagFilter, "filter", "all", "Filter: all, active, inactive")

	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scmctl: %v\n", err)
		os.Exit(1)
	}
}

func defaultDir() string {
	if dir := os.Getenv("SCM_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/scm"
}

var rootCmd = &cobra.Command{
	Use:          "scmctl",
	Short:        "Service control manager command line tool",
	SilenceUsage: true,
}

var installCmd = &cobra.Command{
	Use:   "install <name>",
	Short: "install a new service registration",
	Args:  cobra.ExactArgs(1),
	RunE:  doInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <name>",
	Short: "mark a service registration for deletion",
	Args:  cobra.ExactArgs(1),
	RunE:  doUninstall,
}

var startCmd = &cobra.Command{
	Use:   "start <name> [args...]",
	Short: "start a service",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "send a stop control to a service",
	Args:  cobra.ExactArgs(1),
	RunE:  controlRunE(scm.ControlStop),
}

var pauseCmd = &cobra.Command{
	Use:   "pause <name>",
	Short: "send a pause control to a service",
	Args:  cobra.ExactArgs(1),
	RunE:  controlRunE(scm.ControlPause),
}

var continueCmd = &cobra.Command{
	Use:   "continue <name>",
	Short: "send a continue control to a paused service",
	Args:  cobra.ExactArgs(1),
	RunE:  controlRunE(scm.ControlContinue),
}

var statusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "query a service's current status",
	Args:  cobra.ExactArgs(1),
	RunE:  doStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list service registrations",
	Args:  cobra.NoArgs,
	RunE:  doList,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print library version and compiled backends",
	Run: func(cmd *cobra.Command, args []string) {
		info := scm.GetVersion()
		fmt.Printf("scmctl:   %s\n", info.Version)
		fmt.Printf("protocol: %s\n", info.Protocol)
		fmt.Printf("backends:")
		for _, b := range info.Backends {
			fmt.Printf(" %s", b)
		}
		fmt.Println()
	},
}

func backend() (scm.Backend, error) {
	switch flagBackend {
	case "local":
		return scm.BackendLocal, nil
	case "system":
		return scm.BackendSystem, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", flagBackend)
	}
}

// openManager opens a registry session with the given access and wraps it in
// a Manager. The caller must Close the manager.
func openManager(access scm.ManagerAccess) (*scm.Manager, error) {
	b, err := backend()
	if err != nil {
		return nil, err
	}
	reg, err := scm.NewRegistry(b, flagDir, access)
	if err != nil {
		return nil, err
	}
	return scm.NewManager(reg, scm.WithTimeout(flagTimeout)), nil
}

func doInstall(cmd *cobra.Command, args []string) error {
	name := args[0]
	if flagExec == "" {
		return errors.New("--exec is required")
	}

	var startType scm.StartType
	switch flagStartType {
	case "auto":
		startType = scm.StartAuto
	case "manual":
		startType = scm.StartManual
	case "disabled":
		startType = scm.StartDisabled
	default:
		return fmt.Errorf("unknown start type %q", flagStartType)
	}

	display := flagDisplay
	if display == "" {
		display = name
	}

	m, err := openManager(scm.ManagerConnect | scm.ManagerCreate)
	if err != nil {
		return err
	}
	defer m.Close()

	svc, err := m.Create(cmd.Context(), scm.ServiceConfig{
		Name:             name,
		DisplayName:      display,
		Description:      flagDescription,
		ExecutablePath:   flagExec,
		LaunchArguments:  flagArgs,
		ServiceType:      scm.TypeOwnProcess,
		StartType:        startType,
		DelayedAutoStart: flagDelayed,
		ErrorControl:     scm.ErrorControlNormal,
		Dependencies:     flagDeps,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Printf("Installed %q\n", name)
	return nil
}

func doUninstall(cmd *cobra.Command, args []string) error {
	m, err := openManager(scm.ManagerConnect)
	if err != nil {
		return err
	}
	defer m.Close()

	svc, err := m.Open(cmd.Context(), args[0], scm.AccessDelete)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Delete(cmd.Context()); err != nil {
		return err
	}

	fmt.Printf("Marked %q for deletion\n", args[0])
	return nil
}

func doStart(cmd *cobra.Command, args []string) error {
	m, err := openManager(scm.ManagerConnect)
	if err != nil {
		return err
	}
	defer m.Close()

	svc, err := m.Open(cmd.Context(), args[0], scm.AccessStart|scm.AccessQueryStatus)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Start(cmd.Context(), args[1:]...); err != nil {
		return err
	}

	fmt.Printf("Started %q\n", args[0])
	return nil
}

func controlRunE(c scm.Control) func(*cobra.Command, []string) error {
	access := scm.AccessQueryStatus
	switch c {
	case scm.ControlStop:
		access |= scm.AccessStop
	case scm.ControlPause, scm.ControlContinue:
		access |= scm.AccessPauseContinue
	}

	return func(cmd *cobra.Command, args []string) error {
		m, err := openManager(scm.ManagerConnect)
		if err != nil {
			return err
		}
		defer m.Close()

		svc, err := m.Open(cmd.Context(), args[0], access)
		if err != nil {
			return err
		}
		defer svc.Close()

		rec, err := svc.Control(cmd.Context(), c)
		if err != nil {
			return err
		}

		fmt.Printf("Sent %s to %q, state now %s\n", c, args[0], rec.State)
		return nil
	}
}

func doStatus(cmd *cobra.Command, args []string) error {
	m, err := openManager(scm.ManagerConnect)
	if err != nil {
		return err
	}
	defer m.Close()

	svc, err := m.Open(cmd.Context(), args[0], scm.AccessQueryStatus|scm.AccessQueryConfig)
	if err != nil {
		return err
	}
	defer svc.Close()

	rec, err := svc.QueryStatus(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Service: %s\n", args[0])
	fmt.Printf("State:   %s\n", rec.State)
	if rec.ProcessID > 0 {
		fmt.Printf("PID:     %d\n", rec.ProcessID)
	}
	if rec.State.Pending() {
		fmt.Printf("Checkpoint: %d (hint %s)\n", rec.Checkpoint, rec.WaitHint)
	}
	if rec.State == scm.StateStopped && !rec.ExitCode.OK() {
		fmt.Printf("Exit:    win32=%d specific=%d\n", rec.ExitCode.Win32, rec.ExitCode.Specific)
	}

	if cfg, err := svc.QueryConfig(cmd.Context()); err == nil {
		fmt.Printf("Display: %s\n", cfg.DisplayName)
		fmt.Printf("Start:   %s\n", cfg.StartType)
		if len(cfg.Dependencies) > 0 {
			fmt.Printf("Depends: %v\n", cfg.Dependencies)
		}
	}

	return nil
}

func doList(cmd *cobra.Command, args []string) error {
	var filter scm.ListFilter
	switch flagFilter {
	case "all":
		filter = scm.ListAll
	case "active":
		filter = scm.ListActive
	case "inactive":
		filter = scm.ListInactive
	default:
		return fmt.Errorf("unknown filter %q", flagFilter)
	}

	m, err := openManager(scm.ManagerConnect | scm.ManagerEnumerate)
	if err != nil {
		return err
	}
	defer m.Close()

	entries, err := m.Enumerate(cmd.Context(), filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "SERVICE\tDISPLAY\tSTATE\tPID")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", e.Name, e.DisplayName, e.Status.State, e.Status.ProcessID)
	}

	return nil
}
