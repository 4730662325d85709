package main

import (
	"context"
	"os"
	"time"

	"vidmill/config"
	"vidmill/internal/services"

	logger "github.com/Bparsons0904/goLogger"
)

// Manual run of the temp-artifact sweep, for operators who do not want to
// wait for the scheduled pass.
func main() {
	log := logger.New("sweep")

	config, err := config.New()
	if err != nil {
		log.Er("failed to initialize config", err)
		os.Exit(1)
	}

	fileCleanupService := services.NewFileCleanupService(config)

	maxAge := time.Duration(config.TempMaxAgeHours) * time.Hour
	log.Info("Starting manual temp artifact sweep",
		"directory", config.DownloadDir,
		"maxAge", maxAge)

	removed, err := fileCleanupService.SweepTempArtifacts(context.Background(), maxAge)
	if err != nil {
		log.Er("sweep failed", err)
		os.Exit(1)
	}

	log.Info("Sweep completed successfully", "removed", removed)
}
