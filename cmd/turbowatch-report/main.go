package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chrissnell/turbowatch/internal/app"
	"github.com/chrissnell/turbowatch/internal/controllers/restserver"
	"github.com/chrissnell/turbowatch/internal/log"
	"github.com/chrissnell/turbowatch/pkg/config"
)

func main() {
	var (
		cfgFile    = flag.String("config", "config.yaml", "Path to configuration source")
		cfgBackend = flag.String("config-backend", "yaml", "Configuration backend type: 'yaml' or 'sqlite'")
		unit       = flag.Int("unit", 0, "Report a single unit (0 reports every test unit)")
		sensors    = flag.String("sensors", "", "Comma-separated T-square sensors (default: anomaly.sensors from the config)")
		alpha      = flag.Float64("alpha", 0, "False-alarm rate for the control limit (default: anomaly.alpha from the config)")
		csvOutput  = flag.String("csv", "", "Optional CSV output file path")
		debug      = flag.Bool("debug", false, "Turn on debugging output")
	)
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*cfgFile, *cfgBackend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	settings, err := restserver.SettingsFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opts := Options{
		Unit:          *unit,
		Sensors:       settings.AnomalySensors,
		Alpha:         settings.Alpha,
		HealthSensors: settings.HealthSensors,
		HealthWeights: settings.HealthWeights,
	}
	if *sensors != "" {
		opts.Sensors = strings.Split(*sensors, ",")
	}
	if *alpha != 0 {
		opts.Alpha = *alpha
	}

	datasets, err := app.NewDatasetManager(cfg, log.GetSugaredLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := datasets.Reload(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	snap, err := datasets.Snapshot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	reports := BuildReport(snap, opts)
	PrintReport(os.Stdout, snap, opts, reports)

	if *csvOutput != "" {
		f, err := os.Create(*csvOutput)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CSV: %v\n", err)
			os.Exit(1)
		}
		if err := WriteCSV(f, reports); err != nil {
			f.Close()
			fmt.Fprintf(os.Stderr, "Error writing CSV: %v\n", err)
			os.Exit(1)
		}
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing CSV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nData exported to: %s\n", *csvOutput)
	}
}
