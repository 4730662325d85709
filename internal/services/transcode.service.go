package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vidmill/config"
	"vidmill/internal/events"
	"vidmill/internal/models"
	"vidmill/internal/progress"

	logger "github.com/Bparsons0904/goLogger"
)

// Encoder defaults mirror the values the web form has always offered.
const (
	DefaultH265Preset   = "faster"
	DefaultH265CRF      = 28
	DefaultAV1Preset    = "6"
	DefaultAV1CRF       = 35
	DefaultAudioBitrate = 96
)

var h265Presets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
	"fast": true, "medium": true, "slow": true, "slower": true,
	"veryslow": true, "placebo": true,
}

var mediaExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".webm": true, ".m4v": true, ".mov": true,
	".avi": true, ".ts": true, ".m2ts": true, ".flv": true, ".mpg": true,
	".mpeg": true, ".wmv": true,
}

// RecognizedMedia reports whether the file's extension names a container the
// encoder can read. Checked before any tool is spawned.
func RecognizedMedia(name string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(name))]
}

// TranscodeService re-encodes media with the transcoder tool. Video goes to
// the requested codec, audio is always re-encoded lossy, output lands in an
// mkv container.
type TranscodeService struct {
	config config.Config
	runner *Runner
	probe  *ProbeService
	log    logger.Logger
}

func NewTranscodeService(config config.Config, runner *Runner, probe *ProbeService) *TranscodeService {
	return &TranscodeService{
		config: config,
		runner: runner,
		probe:  probe,
		log:    logger.New("transcodeService"),
	}
}

// Normalize applies defaults and rejects parameter combinations no encode
// can run with. Callers validate through this before spawning anything.
func (ts *TranscodeService) Normalize(settings models.EncodeSettings) (models.EncodeSettings, error) {
	if settings.Codec == "" {
		settings.Codec = models.CodecNone
	}
	if settings.Codec == models.CodecNone {
		return settings, nil
	}
	if settings.Codec != models.CodecH265 && settings.Codec != models.CodecAV1 {
		return settings, &MissingParameterError{Param: "codec"}
	}

	if settings.PassMode == "" {
		settings.PassMode = models.PassModeSingle
	}
	if settings.PassMode != models.PassModeSingle && settings.PassMode != models.PassModeTwo {
		return settings, &MissingParameterError{Param: "pass_mode"}
	}
	if settings.PassMode == models.PassModeTwo && settings.Bitrate <= 0 {
		return settings, &MissingParameterError{Param: "bitrate"}
	}

	switch settings.Codec {
	case models.CodecH265:
		if !h265Presets[settings.Preset] {
			settings.Preset = DefaultH265Preset
		}
		if settings.CRF <= 0 {
			settings.CRF = DefaultH265CRF
		}
	case models.CodecAV1:
		if n, err := strconv.Atoi(settings.Preset); err != nil || n < 0 || n > 13 {
			settings.Preset = DefaultAV1Preset
		}
		if settings.CRF <= 0 {
			settings.CRF = DefaultAV1CRF
		}
	}

	if settings.AudioBitrate <= 0 {
		settings.AudioBitrate = DefaultAudioBitrate
	}

	return settings, nil
}

// Transcode encodes sourcePath into destPath. Codec "none" is a plain byte
// copy reported as one completed step. Two-pass mode runs an analysis pass
// with discarded output before the real encode.
func (ts *TranscodeService) Transcode(
	ctx context.Context,
	sink events.Sink,
	sourcePath, destPath string,
	settings models.EncodeSettings,
) error {
	log := ts.log.Function("Transcode")

	settings, err := ts.Normalize(settings)
	if err != nil {
		return err
	}

	if settings.Codec == models.CodecNone {
		return ts.copyThrough(sink, sourcePath, destPath)
	}

	probe, err := ts.probe.Inspect(ctx, sourcePath)
	if err != nil {
		return err
	}
	if probe.Duration <= 0 {
		log.Warn("Source duration unknown, encode will report logs only", "source", sourcePath)
	}

	extractor := progress.EncodeExtractor{Duration: probe.Duration}
	downmix := settings.ForceStereo && probe.AudioChannels > 2

	if settings.PassMode == models.PassModeTwo {
		passLog := destPath + ".passlog"
		defer ts.removePassLogs(passLog)

		sink.Push(events.StageEvent("Analyzing (pass 1 of 2)", 0))
		args := ts.buildArgs(sourcePath, destPath, settings, downmix, 1, passLog)
		if err := ts.runner.Run(ctx, sink, extractor, ts.config.FfmpegPath, args...); err != nil {
			return err
		}

		sink.Push(events.StageEvent("Encoding (pass 2 of 2)", 0))
		args = ts.buildArgs(sourcePath, destPath, settings, downmix, 2, passLog)
		if err := ts.runner.Run(ctx, sink, extractor, ts.config.FfmpegPath, args...); err != nil {
			return err
		}
	} else {
		args := ts.buildArgs(sourcePath, destPath, settings, downmix, 0, "")
		if err := ts.runner.Run(ctx, sink, extractor, ts.config.FfmpegPath, args...); err != nil {
			return err
		}
	}

	if _, err := os.Stat(destPath); err != nil {
		missing := &MissingOutputError{Path: destPath}
		return log.Err("encoder reported success but produced nothing", missing, "dest", destPath)
	}

	log.Info("Transcode complete",
		"source", sourcePath,
		"dest", destPath,
		"codec", settings.Codec,
		"passMode", settings.PassMode)

	return nil
}

// buildArgs assembles one transcoder invocation. pass 0 is single-pass;
// pass 1 analyzes into the pass log with audio off and output discarded;
// pass 2 reads the log and writes the real file.
func (ts *TranscodeService) buildArgs(
	sourcePath, destPath string,
	settings models.EncodeSettings,
	downmix bool,
	pass int,
	passLog string,
) []string {
	args := []string{"-y", "-i", sourcePath}

	switch settings.Codec {
	case models.CodecH265:
		args = append(args, "-c:v", "libx265")
	case models.CodecAV1:
		args = append(args, "-c:v", "libsvtav1")
	}
	args = append(args, "-preset", settings.Preset)

	if settings.PassMode == models.PassModeTwo {
		args = append(args, "-b:v", fmt.Sprintf("%dk", settings.Bitrate))
	} else {
		args = append(args, "-crf", strconv.Itoa(settings.CRF))
	}

	if settings.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(settings.FPS))
	}

	if pass == 1 {
		args = append(args,
			"-an",
			"-pass", "1",
			"-passlogfile", passLog,
			"-f", "null", os.DevNull,
		)
		return args
	}

	args = append(args, "-c:a", "libopus", "-b:a", fmt.Sprintf("%dk", settings.AudioBitrate))
	if downmix {
		args = append(args, "-ac", "2")
	}

	if pass == 2 {
		args = append(args, "-pass", "2", "-passlogfile", passLog)
	}

	args = append(args, destPath)
	return args
}

// copyThrough is the codec "none" path: bytes in, bytes out, one completed
// progress step.
func (ts *TranscodeService) copyThrough(sink events.Sink, sourcePath, destPath string) error {
	log := ts.log.Function("copyThrough")

	source, err := os.Open(sourcePath)
	if err != nil {
		return log.Err("failed to open source", err, "source", sourcePath)
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			log.Warn("failed to close source", "error", closeErr)
		}
	}()

	dest, err := os.Create(destPath)
	if err != nil {
		return log.Err("failed to create destination", err, "dest", destPath)
	}

	if _, err := io.Copy(dest, source); err != nil {
		_ = dest.Close()
		_ = os.Remove(destPath)
		return log.Err("failed to copy file", err, "source", sourcePath, "dest", destPath)
	}
	if err := dest.Close(); err != nil {
		return log.Err("failed to finalize destination", err, "dest", destPath)
	}

	sink.Push(events.PercentEvent(100.0))
	return nil
}

func (ts *TranscodeService) removePassLogs(passLog string) {
	matches, err := filepath.Glob(passLog + "*")
	if err != nil {
		return
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil {
			ts.log.Warn("failed to remove pass log", "path", match, "error", err)
		}
	}
}
