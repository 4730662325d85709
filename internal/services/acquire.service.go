package services

import (
	"context"
	"os"

	"vidmill/config"
	"vidmill/internal/events"
	"vidmill/internal/progress"

	logger "github.com/Bparsons0904/goLogger"
)

// AcquireService drives the media acquisition tool for stream-selected
// downloads and explicit merges. Direct HTTP fetches live in
// DownloadService; this one always goes through the tool.
type AcquireService struct {
	config config.Config
	runner *Runner
	log    logger.Logger
}

func NewAcquireService(config config.Config, runner *Runner) *AcquireService {
	return &AcquireService{
		config: config,
		runner: runner,
		log:    logger.New("acquireService"),
	}
}

// BuildSelector composes the tool's format selector. An explicit secondary
// id wins; a muxed primary stands alone; a bare video id gets the best
// available audio merged in.
func (as *AcquireService) BuildSelector(primary, secondary string, muxed bool) string {
	if secondary != "" {
		return primary + "+" + secondary
	}
	if muxed {
		return primary
	}
	return primary + "+bestaudio"
}

// Download runs the acquisition tool for url with the given format selector,
// writing the merged result to destPath. Tool output streams to sink with
// percents extracted from its progress lines.
func (as *AcquireService) Download(
	ctx context.Context,
	sink events.Sink,
	url, selector, destPath string,
) error {
	log := as.log.Function("Download")

	args := []string{
		"-f", selector,
		"-o", destPath,
		"--merge-output-format", "mkv",
		"--newline",
	}
	args = as.appendCookies(args)
	args = append(args, url)

	log.Info("Starting tool download", "url", url, "selector", selector, "dest", destPath)

	if err := as.runner.Run(ctx, sink, progress.DownloadExtractor{}, as.config.YtdlpPath, args...); err != nil {
		return err
	}

	if _, err := os.Stat(destPath); err != nil {
		missing := &MissingOutputError{Path: destPath}
		return log.Err("tool reported success but produced nothing", missing, "dest", destPath)
	}

	return nil
}

func (as *AcquireService) appendCookies(args []string) []string {
	if as.config.CookiesFile == "" {
		return args
	}
	if _, err := os.Stat(as.config.CookiesFile); err != nil {
		as.log.Warn("Cookies file configured but unreadable", "path", as.config.CookiesFile)
		return args
	}
	return append(args, "--cookies", as.config.CookiesFile)
}
