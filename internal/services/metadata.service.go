package services

import (
	"context"
	"encoding/json"
	"os"

	"vidmill/config"
	"vidmill/internal/models"

	logger "github.com/Bparsons0904/goLogger"
)

// MetadataService asks the acquisition tool what a URL offers: title,
// duration, and the selectable formats.
type MetadataService struct {
	config config.Config
	runner *Runner
	log    logger.Logger
}

func NewMetadataService(config config.Config, runner *Runner) *MetadataService {
	return &MetadataService{
		config: config,
		runner: runner,
		log:    logger.New("metadataService"),
	}
}

type ytdlpFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	FPS            float64 `json:"fps"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	TBR            float64 `json:"tbr"`
}

type ytdlpInfo struct {
	Title    string        `json:"title"`
	Duration float64       `json:"duration"`
	Formats  []ytdlpFormat `json:"formats"`
}

// Fetch lists the formats available for a URL.
func (ms *MetadataService) Fetch(ctx context.Context, url string) (models.MediaInfo, error) {
	log := ms.log.Function("Fetch")

	if url == "" {
		return models.MediaInfo{}, &MissingParameterError{Param: "url"}
	}

	args := []string{"-J", "--no-playlist"}
	args = ms.appendCookies(args)
	args = append(args, url)

	output, err := ms.runner.Capture(ctx, ms.config.YtdlpPath, args...)
	if err != nil {
		return models.MediaInfo{}, err
	}

	var info ytdlpInfo
	if err := json.Unmarshal([]byte(output), &info); err != nil {
		return models.MediaInfo{}, log.Err("failed to decode format listing", err, "url", url)
	}

	result := models.MediaInfo{
		Title:    info.Title,
		Duration: info.Duration,
		Formats:  make([]models.MediaFormat, 0, len(info.Formats)),
	}
	for _, f := range info.Formats {
		format := models.MediaFormat{
			ID:         f.FormatID,
			Ext:        f.Ext,
			Resolution: f.Resolution,
			FPS:        f.FPS,
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
			Filesize:   f.Filesize,
			TBR:        f.TBR,
		}
		if format.Filesize == 0 {
			format.Filesize = f.FilesizeApprox
		}
		format.Muxed = format.HasVideo() && format.HasAudio()
		result.Formats = append(result.Formats, format)
	}

	log.Info("Fetched media info", "url", url, "title", result.Title, "formats", len(result.Formats))
	return result, nil
}

func (ms *MetadataService) appendCookies(args []string) []string {
	if ms.config.CookiesFile == "" {
		return args
	}
	if _, err := os.Stat(ms.config.CookiesFile); err != nil {
		ms.log.Warn("Cookies file configured but unreadable", "path", ms.config.CookiesFile)
		return args
	}
	return append(args, "--cookies", ms.config.CookiesFile)
}
