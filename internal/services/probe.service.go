package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"

	"vidmill/config"

	logger "github.com/Bparsons0904/goLogger"
)

// MediaProbe is what the transform stage needs to know about a source file
// before encoding it.
type MediaProbe struct {
	Duration      float64
	AudioChannels int
}

type ProbeService struct {
	config config.Config
	runner *Runner
	log    logger.Logger
}

func NewProbeService(config config.Config, runner *Runner) *ProbeService {
	return &ProbeService{
		config: config,
		runner: runner,
		log:    logger.New("probeService"),
	}
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	Channels  int    `json:"channels"`
}

type ffprobeResult struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

// Inspect probes a media file. A file the probe tool cannot read is refused
// as unsupported input; a readable file with no reported duration comes back
// with Duration zero and the caller degrades to percentless progress.
func (ps *ProbeService) Inspect(ctx context.Context, path string) (MediaProbe, error) {
	log := ps.log.Function("Inspect")

	output, err := ps.runner.Capture(ctx, ps.config.FfprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		if ctx.Err() != nil {
			return MediaProbe{}, err
		}
		unsupported := &UnsupportedInputError{
			Reason: filepath.Base(path) + " is not readable media",
		}
		return MediaProbe{}, log.Err("probe failed", unsupported, "path", path)
	}

	var result ffprobeResult
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		unsupported := &UnsupportedInputError{
			Reason: filepath.Base(path) + " produced an unreadable probe result",
		}
		return MediaProbe{}, log.Err("failed to decode probe output", unsupported, "path", path)
	}

	probe := MediaProbe{}
	if result.Format.Duration != "" {
		if duration, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			probe.Duration = duration
		}
	}
	for _, stream := range result.Streams {
		if stream.CodecType == "audio" {
			probe.AudioChannels = stream.Channels
			break
		}
	}

	log.Debug("Probed media file",
		"path", path,
		"duration", probe.Duration,
		"audioChannels", probe.AudioChannels)

	return probe, nil
}
