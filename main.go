// Command greenhouseserver runs the centralized greenhouse simulation
// server: the TCP protocol listener, the read-only HTTP dashboard, and the
// administrative user-management subcommands.
//
// Startup sequence for `serve`, the default command:
//  1. Resolve configuration (flags, GREENHOUSE_* environment, optional
//     --config file, then defaults — in that priority order).
//  2. Open the logger and user store.
//  3. Wire the Node Manager, Client Registry and Sensor Engine together
//     behind server.Listener.
//  4. Start the dashboard HTTP server and the TCP listener concurrently.
//  5. Block until OS signals SIGINT or SIGTERM, then perform a clean
//     stop-dispatch-then-drain shutdown.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vebjomy/greenhouse-server/config"
	"github.com/vebjomy/greenhouse-server/dashboard"
	"github.com/vebjomy/greenhouse-server/logger"
	"github.com/vebjomy/greenhouse-server/metrics"
	"github.com/vebjomy/greenhouse-server/server"
	"github.com/vebjomy/greenhouse-server/userstore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "greenhouseserver",
		Short: "Centralized greenhouse node simulation server",
	}
	rootCmd.PersistentFlags().String("config", "", "path to a JSON config file layered over the defaults")

	v := viper.New()

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the TCP protocol listener and HTTP dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			return runServe(v, configFile)
		},
	}
	registerServeFlags(serveCmd, v)
	// serve is the default: the bare binary runs it with default settings.
	rootCmd.RunE = serveCmd.RunE

	addUserCmd := &cobra.Command{
		Use:   "adduser",
		Short: "Register a new user in the user store",
		RunE:  runAddUser,
	}
	addUserCmd.Flags().String("username", "", "username to register (required)")
	addUserCmd.Flags().String("password", "", "password to register (required)")
	addUserCmd.Flags().String("role", "", `role to assign (default "Admin" if omitted)`)
	addUserCmd.Flags().String("users-file", "", "path to the users JSON file (defaults to config default)")
	_ = addUserCmd.MarkFlagRequired("username")
	_ = addUserCmd.MarkFlagRequired("password")

	listUsersCmd := &cobra.Command{
		Use:   "list-users",
		Short: "List every registered user",
		RunE:  runListUsers,
	}
	listUsersCmd.Flags().String("users-file", "", "path to the users JSON file (defaults to config default)")

	rootCmd.AddCommand(serveCmd, addUserCmd, listUsersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// registerServeFlags binds the serve command's flags into v and sets up
// GREENHOUSE_* environment binding: viper keys use underscores so they line
// up with the env suffix after the prefix is stripped, flag names keep
// hyphens for CLI ergonomics.
func registerServeFlags(cmd *cobra.Command, v *viper.Viper) {
	d := config.DefaultConfig()
	f := cmd.Flags()
	f.String("listen-addr", d.ListenAddr, "TCP address the protocol listener binds")
	f.String("dashboard-addr", d.DashboardAddr, "HTTP address the dashboard binds")
	f.String("users-file", d.UsersFile, "path to the JSON-backed user store")
	f.String("log-level", d.LogLevel, "one of debug, info, warn, error")
	f.Int("sensor-worker-count", d.SensorWorkerCount, "size of the Sensor Engine's tick worker pool")
	f.Int("default-sampling-ms", d.DefaultSamplingMs, "sampling interval newly created nodes start with")
	f.Int("min-sampling-ms", d.MinSamplingMs, "floor every sampling interval is clamped to")

	bindFlag := func(viperKey, flagName string) {
		_ = v.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("listen_addr", "listen-addr")
	bindFlag("dashboard_addr", "dashboard-addr")
	bindFlag("users_file", "users-file")
	bindFlag("log_level", "log-level")
	bindFlag("sensor_worker_count", "sensor-worker-count")
	bindFlag("default_sampling_ms", "default-sampling-ms")
	bindFlag("min_sampling_ms", "min-sampling-ms")

	v.SetEnvPrefix("GREENHOUSE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// resolveConfig layers viper-bound flags/environment over an optional
// --config JSON file: flags and environment win over the file, and the file
// wins over config.DefaultConfig()'s built-in defaults.
func resolveConfig(v *viper.Viper, configFile string) (*config.Config, error) {
	if configFile == "" {
		return config.FromViper(v), nil
	}
	fileCfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	merged := config.FromViper(v)
	if !v.IsSet("listen_addr") {
		merged.ListenAddr = fileCfg.ListenAddr
	}
	if !v.IsSet("dashboard_addr") {
		merged.DashboardAddr = fileCfg.DashboardAddr
	}
	if !v.IsSet("users_file") {
		merged.UsersFile = fileCfg.UsersFile
	}
	if !v.IsSet("log_level") {
		merged.LogLevel = fileCfg.LogLevel
	}
	if !v.IsSet("sensor_worker_count") {
		merged.SensorWorkerCount = fileCfg.SensorWorkerCount
	}
	if !v.IsSet("default_sampling_ms") {
		merged.DefaultSamplingMs = fileCfg.DefaultSamplingMs
	}
	if !v.IsSet("min_sampling_ms") {
		merged.MinSamplingMs = fileCfg.MinSamplingMs
	}
	return merged, nil
}

func parseLogLevel(s string) logger.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

func runServe(v *viper.Viper, configFile string) error {
	cfg, err := resolveConfig(v, configFile)
	if err != nil {
		return err
	}

	log := logger.New(parseLogLevel(cfg.LogLevel))
	log.Info("greenhouseserver starting up")

	users, err := userstore.New(cfg.UsersFile, log)
	if err != nil {
		log.Errorf("failed to open user store %q: %v", cfg.UsersFile, err)
		return err
	}

	m := metrics.NewMetrics()
	listener := server.New(cfg, log, m, users)
	dash := dashboard.New(listener.Manager, listener.Registry, m, log)

	errCh := make(chan error, 2)
	go func() {
		errCh <- dash.ListenAndServe(cfg.DashboardAddr)
	}()
	go func() {
		errCh <- listener.Start(cfg.ListenAddr)
	}()
	log.Infof("dashboard listening on %s, protocol listening on %s", cfg.DashboardAddr, cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Println() // newline after ^C
		log.Infof("received signal %s; shutting down", sig)
	case err := <-errCh:
		if err != nil {
			log.Errorf("server error: %v", err)
		}
	}

	listener.Close()
	log.Info("greenhouseserver shut down cleanly")
	return nil
}

func runAddUser(cmd *cobra.Command, args []string) error {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	role, _ := cmd.Flags().GetString("role")
	usersFile, _ := cmd.Flags().GetString("users-file")
	if usersFile == "" {
		usersFile = config.DefaultConfig().UsersFile
	}

	log := logger.New(logger.LevelWarn)
	users, err := userstore.New(usersFile, log)
	if err != nil {
		return fmt.Errorf("open user store %q: %w", usersFile, err)
	}

	id, err := users.Register(username, password, role)
	if err != nil {
		return err
	}
	fmt.Printf("registered user %q with id %d\n", username, id)
	return nil
}

func runListUsers(cmd *cobra.Command, args []string) error {
	usersFile, _ := cmd.Flags().GetString("users-file")
	if usersFile == "" {
		usersFile = config.DefaultConfig().UsersFile
	}

	log := logger.New(logger.LevelWarn)
	users, err := userstore.New(usersFile, log)
	if err != nil {
		return fmt.Errorf("open user store %q: %w", usersFile, err)
	}

	fmt.Printf("%-6s %-20s %s\n", "ID", "USERNAME", "ROLE")
	for _, u := range users.GetAll() {
		fmt.Printf("%-6d %-20s %s\n", u.ID, u.Username, u.Role)
	}
	return nil
}
