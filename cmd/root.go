// Package cmd assembles the sensorflow command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/sensorflow/cmd/benchmark"
	"github.com/tphakala/sensorflow/cmd/config"
	"github.com/tphakala/sensorflow/cmd/devices"
	"github.com/tphakala/sensorflow/cmd/file"
	"github.com/tphakala/sensorflow/cmd/history"
	"github.com/tphakala/sensorflow/cmd/realtime"
	"github.com/tphakala/sensorflow/internal/app"
	"github.com/tphakala/sensorflow/internal/conf"
	"github.com/tphakala/sensorflow/internal/logger"
)

// globalFlags are applied over the loaded settings when set explicitly.
type globalFlags struct {
	configFile  string
	debug       bool
	logLevel    string
	mode        string
	faultPolicy string
	telemetry   bool
	listen      string
}

// RootCommand creates and returns the root command
func RootCommand(version string) *cobra.Command {
	ctx := &app.Context{Version: version}
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "sensorflow",
		Short:         "Sensor streaming and classification pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	setupFlags(rootCmd, &flags)

	rootCmd.AddCommand(
		file.Command(ctx),
		realtime.Command(ctx),
		benchmark.Command(ctx),
		devices.Command(),
		config.Command(ctx),
		history.Command(ctx),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(cmd, ctx, &flags)
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if ctx.Logger != nil {
			return ctx.Logger.Close()
		}
		return nil
	}
	return rootCmd
}

// initialize loads the configuration, applies explicit flags on top and
// sets up logging before any subcommand runs.
func initialize(cmd *cobra.Command, ctx *app.Context, flags *globalFlags) error {
	settings, used, err := conf.Load(flags.configFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, settings, flags)
	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	central, err := logger.NewCentralLogger(&settings.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	ctx.Settings = settings
	ctx.Logger = central
	ctx.ConfigUsed = used

	log := central.Module("main")
	if used != "" {
		log.Debug("configuration loaded", logger.String("path", used))
	} else {
		log.Debug("no configuration file found, using defaults")
	}
	return nil
}

func setupFlags(rootCmd *cobra.Command, flags *globalFlags) {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/sensorflow, /etc/sensorflow)")
	pf.BoolVarP(&flags.debug, "debug", "d", false, "Enable debug output")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.StringVar(&flags.mode, "mode", "", "Stage scheduling: inline or deferred")
	pf.StringVar(&flags.faultPolicy, "fault-policy", "", "On a stage fault: reset or halt")
	pf.BoolVar(&flags.telemetry, "telemetry", false, "Enable the metrics and status endpoint")
	pf.StringVar(&flags.listen, "listen", "", "Listen address of the telemetry endpoint")
}

func applyFlags(cmd *cobra.Command, s *conf.Settings, flags *globalFlags) {
	changed := cmd.Flags().Changed
	if changed("debug") {
		s.Debug = flags.debug
		if flags.debug {
			s.Log.Level = "debug"
		}
	}
	if changed("log-level") {
		s.Log.Level = flags.logLevel
	}
	if changed("mode") {
		s.Pipeline.Mode = flags.mode
	}
	if changed("fault-policy") {
		s.Pipeline.FaultPolicy = flags.faultPolicy
	}
	if changed("telemetry") {
		s.Telemetry.Enabled = flags.telemetry
	}
	if changed("listen") {
		s.Telemetry.Listen = flags.listen
	}
}
