package main

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/airmouse/gearvr-bridge/internal/app"
)

func main() {
	var (
		cfgPath  string
		deviceID string
		debug    bool
	)

	root := &cobra.Command{
		Use:   "gearvr-bridge",
		Short: "Bridge a Gear VR controller to desktop pointer and keyboard input",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			if debug {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default: $HOME/.config/gearvr-bridge/config.json)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	run := &cobra.Command{
		Use:   "run",
		Short: "Connect to the controller and drive the cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunBridge(cfgPath, deviceID)
		},
	}
	run.Flags().StringVarP(&deviceID, "device", "d", "", "controller device ID (default: remembered or first found)")

	var scanDuration time.Duration
	scan := &cobra.Command{
		Use:   "scan",
		Short: "Discover nearby controllers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunScan(cfgPath, scanDuration)
		},
	}
	scan.Flags().DurationVar(&scanDuration, "duration", 10*time.Second, "how long to scan")

	calibrate := &cobra.Command{
		Use:       "calibrate {mag|gyro}",
		Short:     "Run a sensor calibration procedure",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"mag", "gyro"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunCalibrate(cfgPath, deviceID, args[0])
		},
	}
	calibrate.Flags().StringVarP(&deviceID, "device", "d", "", "controller device ID")

	var broker string
	console := &cobra.Command{
		Use:   "console",
		Short: "Subscribe to the bridge's MQTT topics and print the event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunConsole(broker)
		},
	}
	console.Flags().StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker URL")

	root.AddCommand(run, scan, calibrate, console)

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
