package main

import (
	"flag"
	"fmt"
	"os"

	"music-cleanup/internal/app"
)

func main() {
	var configFile string
	var restoreID int64
	var exportManifest bool
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Int64Var(&restoreID, "restore", 0, "Restore the rejection entry with this id and exit")
	flag.BoolVar(&exportManifest, "export-manifest", false, "Re-export the rejection manifest and exit")
	flag.Parse()

	if configFile == "" {
		if envConfigFile := os.Getenv("MC_CONFIG_FILE"); envConfigFile != "" {
			configFile = envConfigFile
		} else {
			configFile = "config.yaml"
		}
	}

	application, err := app.New(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	switch {
	case restoreID > 0:
		if err := application.Restore(restoreID); err != nil {
			fmt.Fprintf(os.Stderr, "Restore failed: %v\n", err)
			os.Exit(1)
		}
	case exportManifest:
		if err := application.ExportManifest(); err != nil {
			fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			os.Exit(1)
		}
	default:
		os.Exit(application.Run())
	}
}
