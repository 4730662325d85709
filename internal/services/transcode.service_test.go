package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidmill/config"
	"vidmill/internal/models"
)

// fakeProbeTool reports a 60 second source with 5.1 audio.
func fakeProbeTool(t *testing.T) string {
	t.Helper()
	return fakeTool(t, `printf '{"format":{"duration":"60.000000"},"streams":[{"codec_type":"video"},{"codec_type":"audio","channels":6}]}'`)
}

// countingEncoder records one line per invocation and touches its output
// argument so the missing-output check passes.
func countingEncoder(t *testing.T, countFile string) string {
	t.Helper()
	return fakeTool(t, `
echo run >> "`+countFile+`"
for a; do last="$a"; done
echo "time=00:00:30.00 bitrate= 900.0kbits/s"
: > "$last"
`)
}

func invocationCount(t *testing.T, countFile string) int {
	t.Helper()
	data, err := os.ReadFile(countFile)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("failed to read count file: %v", err)
	}
	return strings.Count(string(data), "run")
}

func newTestTranscodeService(t *testing.T, countFile string) (*TranscodeService, string) {
	t.Helper()

	cfg := config.Config{
		FfmpegPath:  countingEncoder(t, countFile),
		FfprobePath: fakeProbeTool(t),
	}
	runner := NewRunner()
	return NewTranscodeService(cfg, runner, NewProbeService(cfg, runner)), t.TempDir()
}

func TestTranscodeTwoPassWithoutBitrateSpawnsNothing(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	ts, dir := newTestTranscodeService(t, countFile)

	source := filepath.Join(dir, "in.mkv")
	if err := os.WriteFile(source, []byte("media"), 0644); err != nil {
		t.Fatal(err)
	}

	err := ts.Transcode(context.Background(), &captureSink{}, source, filepath.Join(dir, "out.mkv"),
		models.EncodeSettings{Codec: models.CodecH265, PassMode: models.PassModeTwo})
	if err == nil {
		t.Fatal("expected error for two-pass without bitrate")
	}

	var missing *MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingParameterError, got %T: %v", err, err)
	}
	if missing.Param != "bitrate" {
		t.Errorf("param = %q, want bitrate", missing.Param)
	}
	if n := invocationCount(t, countFile); n != 0 {
		t.Errorf("encoder ran %d times, want 0", n)
	}
}

func TestTranscodeTwoPassRunsExactlyTwice(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	ts, dir := newTestTranscodeService(t, countFile)

	source := filepath.Join(dir, "in.mkv")
	if err := os.WriteFile(source, []byte("media"), 0644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "out.mkv")
	sink := &captureSink{}

	err := ts.Transcode(context.Background(), sink, source, dest, models.EncodeSettings{
		Codec:    models.CodecAV1,
		PassMode: models.PassModeTwo,
		Bitrate:  1200,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := invocationCount(t, countFile); n != 2 {
		t.Errorf("encoder ran %d times, want 2", n)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("output file missing: %v", err)
	}

	var stages []string
	for _, event := range sink.all() {
		if event.Stage != "" {
			stages = append(stages, event.Stage)
		}
	}
	if len(stages) != 2 || !strings.Contains(stages[0], "pass 1") || !strings.Contains(stages[1], "pass 2") {
		t.Errorf("unexpected stage sequence: %v", stages)
	}
}

func TestTranscodeSinglePassRunsOnce(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	ts, dir := newTestTranscodeService(t, countFile)

	source := filepath.Join(dir, "in.mkv")
	if err := os.WriteFile(source, []byte("media"), 0644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "out.mkv")
	sink := &captureSink{}

	err := ts.Transcode(context.Background(), sink, source, dest, models.EncodeSettings{
		Codec: models.CodecH265,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := invocationCount(t, countFile); n != 1 {
		t.Errorf("encoder ran %d times, want 1", n)
	}

	// Duration 60s with a time=30s marker should surface as 50 percent.
	percents := sink.percents()
	if len(percents) == 0 || percents[0] != 50.0 {
		t.Errorf("expected extracted percent 50.0, got %v", percents)
	}
}

func TestTranscodeCopyThrough(t *testing.T) {
	ts, dir := newTestTranscodeService(t, filepath.Join(t.TempDir(), "count"))

	source := filepath.Join(dir, "in.mkv")
	if err := os.WriteFile(source, []byte("exact bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "out.mkv")
	sink := &captureSink{}

	err := ts.Transcode(context.Background(), sink, source, dest, models.EncodeSettings{
		Codec: models.CodecNone,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if string(data) != "exact bytes" {
		t.Errorf("copy altered content: %q", data)
	}

	percents := sink.percents()
	if len(percents) != 1 || percents[0] != 100.0 {
		t.Errorf("expected single 100 percent event, got %v", percents)
	}
}

func TestRecognizedMedia(t *testing.T) {
	for _, name := range []string{"a.mkv", "b.MP4", "c.webm", "d.mov", "e.ts"} {
		if !RecognizedMedia(name) {
			t.Errorf("RecognizedMedia(%q) = false", name)
		}
	}
	for _, name := range []string{"notes.txt", "archive.zip", "noext", "clip.srt", ""} {
		if RecognizedMedia(name) {
			t.Errorf("RecognizedMedia(%q) = true", name)
		}
	}
}

func TestNormalizeDefaults(t *testing.T) {
	ts := NewTranscodeService(config.Config{}, NewRunner(), nil)

	settings, err := ts.Normalize(models.EncodeSettings{Codec: models.CodecH265})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Preset != "faster" || settings.CRF != 28 || settings.AudioBitrate != 96 {
		t.Errorf("unexpected h265 defaults: %+v", settings)
	}
	if settings.PassMode != models.PassModeSingle {
		t.Errorf("pass mode should default to single, got %q", settings.PassMode)
	}

	settings, err = ts.Normalize(models.EncodeSettings{Codec: models.CodecAV1, Preset: "veryfast"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Preset != "6" || settings.CRF != 35 {
		t.Errorf("av1 should fall back to numeric preset defaults: %+v", settings)
	}

	if _, err := ts.Normalize(models.EncodeSettings{Codec: "vp8"}); err == nil {
		t.Error("unknown codec should be rejected")
	}
}

func TestBuildArgs(t *testing.T) {
	ts := NewTranscodeService(config.Config{}, NewRunner(), nil)

	settings, err := ts.Normalize(models.EncodeSettings{
		Codec:       models.CodecH265,
		FPS:         30,
		ForceStereo: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	args := strings.Join(ts.buildArgs("in.mkv", "out.mkv", settings, true, 0, ""), " ")
	for _, want := range []string{
		"-c:v libx265", "-preset faster", "-crf 28", "-r 30",
		"-c:a libopus", "-b:a 96k", "-ac 2", "out.mkv",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("single-pass args missing %q: %s", want, args)
		}
	}
	if strings.Contains(args, "-pass") {
		t.Errorf("single-pass args should not mention -pass: %s", args)
	}

	settings, err = ts.Normalize(models.EncodeSettings{
		Codec:    models.CodecAV1,
		PassMode: models.PassModeTwo,
		Bitrate:  900,
	})
	if err != nil {
		t.Fatal(err)
	}

	first := strings.Join(ts.buildArgs("in.mkv", "out.mkv", settings, false, 1, "out.passlog"), " ")
	for _, want := range []string{"-c:v libsvtav1", "-b:v 900k", "-an", "-pass 1", "-f null"} {
		if !strings.Contains(first, want) {
			t.Errorf("pass 1 args missing %q: %s", want, first)
		}
	}
	if strings.Contains(first, "-crf") || strings.Contains(first, "libopus") {
		t.Errorf("pass 1 should carry neither crf nor audio: %s", first)
	}

	second := strings.Join(ts.buildArgs("in.mkv", "out.mkv", settings, false, 2, "out.passlog"), " ")
	for _, want := range []string{"-pass 2", "-passlogfile out.passlog", "libopus", "out.mkv"} {
		if !strings.Contains(second, want) {
			t.Errorf("pass 2 args missing %q: %s", want, second)
		}
	}
}
