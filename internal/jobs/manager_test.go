package jobs

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidmill/config"
	"vidmill/internal/events"
	"vidmill/internal/models"
	"vidmill/internal/services"
)

func newTestManager(t *testing.T, cfg config.Config) *Manager {
	t.Helper()

	if cfg.DownloadDir == "" {
		cfg.DownloadDir = t.TempDir()
	}

	runner := services.NewRunner()
	probe := services.NewProbeService(cfg, runner)

	return NewManager(
		cfg,
		events.NewHub(),
		services.NewDownloadService(cfg),
		services.NewAcquireService(cfg, runner),
		services.NewTranscodeService(cfg, runner, probe),
		services.NewUploadService(cfg),
		services.NewFileService(cfg),
	)
}

func writeFakeTool(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-tool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write fake tool: %v", err)
	}
	return path
}

// probeScript answers like the media prober for a 60 second stereo source.
const probeScript = `cat <<'EOF'
{"format": {"duration": "60.0"}, "streams": [{"codec_type": "video"}, {"codec_type": "audio", "channels": 2}]}
EOF
`

// drainStream pops events until the terminal sentinel shows up.
func drainStream(t *testing.T, stream *events.Stream) []events.ProgressEvent {
	t.Helper()

	var drained []events.ProgressEvent
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		event, ok := stream.Next(time.Second)
		if !ok {
			continue
		}
		drained = append(drained, event)
		if event.Terminal() {
			return drained
		}
	}

	t.Fatalf("stream never terminated, got %+v", drained)
	return nil
}

func waitForTerminal(t *testing.T, m *Manager, jobID string) models.JobInfo {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := m.Status(jobID); ok && info.Status.Terminal() {
			return info
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("job never reached a terminal status")
	return models.JobInfo{}
}

func TestStartRejectsInvalidRequests(t *testing.T) {
	m := newTestManager(t, config.Config{})

	tests := []struct {
		name string
		req  models.JobRequest
	}{
		{"no action", models.JobRequest{}},
		{"unknown action", models.JobRequest{Action: "dance"}},
		{"direct without url", models.JobRequest{Action: models.ActionDirect}},
		{"download without video id", models.JobRequest{
			Action: models.ActionDownload, URL: "https://example.test/v",
		}},
		{"merge without audio id", models.JobRequest{
			Action: models.ActionMerge, URL: "https://example.test/v", VideoID: "137",
		}},
		{"transcode without filename", models.JobRequest{
			Action: models.ActionTranscode, Codec: models.CodecH265,
		}},
		{"transcode without codec", models.JobRequest{
			Action: models.ActionTranscode, Filename: "a.mkv",
		}},
		{"publish of unknown file", models.JobRequest{
			Action: models.ActionPublish, Filename: "missing.mkv",
		}},
		{"two pass without bitrate", models.JobRequest{
			Action: models.ActionDownload, URL: "https://example.test/v", VideoID: "137",
			Codec: models.CodecH265, PassMode: models.PassModeTwo,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Start(tt.req); err == nil {
				t.Error("expected the trigger to be rejected")
			}
		})
	}

	if count := m.hub.Count(); count != 0 {
		t.Errorf("rejected triggers must not open streams, hub has %d", count)
	}
	if active := m.ActiveCount(); active != 0 {
		t.Errorf("rejected triggers must not register jobs, got %d active", active)
	}
}

func TestStartRejectionsCarryTaxonomy(t *testing.T) {
	m := newTestManager(t, config.Config{})

	_, err := m.Start(models.JobRequest{Action: models.ActionDownload})
	var missing *services.MissingParameterError
	if !errors.As(err, &missing) {
		t.Errorf("expected MissingParameterError, got %T: %v", err, err)
	}

	_, err = m.Start(models.JobRequest{Action: "dance"})
	var unsupported *services.UnsupportedInputError
	if !errors.As(err, &unsupported) {
		t.Errorf("expected UnsupportedInputError, got %T: %v", err, err)
	}
}

func TestDirectJobHappyPath(t *testing.T) {
	payload := strings.Repeat("v", 2*1024*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="clip.mp4"`)
		fmt.Fprint(w, payload)
	}))
	defer server.Close()

	m := newTestManager(t, config.Config{})
	jobID, err := m.Start(models.JobRequest{Action: models.ActionDirect, URL: server.URL})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream, ok := m.hub.Get(jobID)
	if !ok {
		t.Fatal("expected an open stream for the accepted job")
	}

	drained := drainStream(t, stream)

	last := drained[len(drained)-1]
	if last.Log != events.DoneSignal {
		t.Errorf("last event should be the sentinel, got %+v", last)
	}
	if _, ok := stream.Next(100 * time.Millisecond); ok {
		t.Error("nothing may follow the sentinel")
	}

	var percents []float64
	var stages []string
	for _, event := range drained {
		if event.Percent != nil {
			percents = append(percents, *event.Percent)
		}
		if event.Stage != "" {
			stages = append(stages, event.Stage)
		}
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("percent went backwards: %v then %v", percents[i-1], percents[i])
		}
	}
	if len(percents) == 0 || percents[len(percents)-1] != 100.0 {
		t.Errorf("expected percents ending at 100.0, got %v", percents)
	}
	if len(stages) < 2 || stages[0] != "Initializing" || stages[len(stages)-1] != "Completed" {
		t.Errorf("unexpected stage sequence %v", stages)
	}

	info := waitForTerminal(t, m, jobID)
	if info.Status != models.JobStatusCompleted {
		t.Errorf("status = %s, want completed", info.Status)
	}
	if info.FinishedAt == nil {
		t.Error("finished job should carry a finish time")
	}

	if _, err := os.Stat(filepath.Join(m.config.DownloadDir, "clip.mp4")); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
}

func TestDownloadJobMovesArtifactIntoPlace(t *testing.T) {
	tool := writeFakeTool(t, `
out="$4"
echo "[download]  50.0% of 4.00MiB"
echo "[download] 100% of 4.00MiB"
: > "$out"
`)

	m := newTestManager(t, config.Config{YtdlpPath: tool})
	jobID, err := m.Start(models.JobRequest{
		Action:   models.ActionDownload,
		URL:      "https://example.test/v",
		VideoID:  "137",
		Filename: "My Clip.webm",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream, _ := m.hub.Get(jobID)
	drainStream(t, stream)

	info := waitForTerminal(t, m, jobID)
	if info.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (%s), want completed", info.Status, info.Error)
	}

	if _, err := os.Stat(filepath.Join(m.config.DownloadDir, "My Clip.mkv")); err != nil {
		t.Errorf("expected the artifact under its container name: %v", err)
	}

	entries, _ := os.ReadDir(m.config.DownloadDir)
	for _, entry := range entries {
		if services.IsTempArtifact(entry.Name()) {
			t.Errorf("temp artifact %s left behind", entry.Name())
		}
	}
}

func TestDownloadJobWithTranscode(t *testing.T) {
	acquireTool := writeFakeTool(t, `
out="$4"
echo "[download] 100% of 4.00MiB"
: > "$out"
`)
	probeTool := writeFakeTool(t, probeScript)
	encodeTool := writeFakeTool(t, `
for a; do last="$a"; done
echo "frame= 720 time=00:00:30.00 bitrate=900kbits/s"
: > "$last"
`)

	m := newTestManager(t, config.Config{
		YtdlpPath:   acquireTool,
		FfprobePath: probeTool,
		FfmpegPath:  encodeTool,
	})

	jobID, err := m.Start(models.JobRequest{
		Action:   models.ActionDownload,
		URL:      "https://example.test/v",
		VideoID:  "137",
		Filename: "show",
		Codec:    models.CodecH265,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream, _ := m.hub.Get(jobID)
	drained := drainStream(t, stream)

	info := waitForTerminal(t, m, jobID)
	if info.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (%s), want completed", info.Status, info.Error)
	}

	var sawTransforming, sawHalf bool
	for _, event := range drained {
		if event.Stage == "Transforming" {
			sawTransforming = true
		}
		if event.Percent != nil && *event.Percent == 50.0 {
			sawHalf = true
		}
	}
	if !sawTransforming {
		t.Error("expected a Transforming stage event")
	}
	if !sawHalf {
		t.Error("expected the encode to report 50.0 at its midpoint")
	}

	if _, err := os.Stat(filepath.Join(m.config.DownloadDir, "show.mkv")); err != nil {
		t.Errorf("encoded artifact missing: %v", err)
	}

	entries, _ := os.ReadDir(m.config.DownloadDir)
	for _, entry := range entries {
		if services.IsTempArtifact(entry.Name()) {
			t.Errorf("temp artifact %s left behind", entry.Name())
		}
	}
}

func TestTranscodeJobKeepsSource(t *testing.T) {
	probeTool := writeFakeTool(t, probeScript)
	encodeTool := writeFakeTool(t, `
for a; do last="$a"; done
echo "frame= 720 time=00:00:45.00 bitrate=900kbits/s"
: > "$last"
`)

	dir := t.TempDir()
	source := filepath.Join(dir, "movie.mkv")
	if err := os.WriteFile(source, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, config.Config{
		DownloadDir: dir,
		FfprobePath: probeTool,
		FfmpegPath:  encodeTool,
	})

	jobID, err := m.Start(models.JobRequest{
		Action:   models.ActionTranscode,
		Filename: "movie.mkv",
		Codec:    models.CodecH265,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream, _ := m.hub.Get(jobID)
	drainStream(t, stream)

	info := waitForTerminal(t, m, jobID)
	if info.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (%s), want completed", info.Status, info.Error)
	}

	if _, err := os.Stat(filepath.Join(dir, "movie.h265.mkv")); err != nil {
		t.Errorf("re-encode missing: %v", err)
	}
	data, err := os.ReadFile(source)
	if err != nil || string(data) != "original" {
		t.Errorf("source should be untouched, got %q err %v", data, err)
	}
}

func TestTranscodeValidationSpawnsNothing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "movie.mkv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	countFile := filepath.Join(t.TempDir(), "count")
	countingTool := writeFakeTool(t, fmt.Sprintf(`echo run >> %q`, countFile))

	m := newTestManager(t, config.Config{
		DownloadDir: dir,
		FfprobePath: countingTool,
		FfmpegPath:  countingTool,
	})

	_, err := m.Start(models.JobRequest{
		Action:   models.ActionTranscode,
		Filename: "movie.mkv",
		Codec:    models.CodecH265,
		PassMode: models.PassModeTwo,
	})

	var missing *services.MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingParameterError, got %T: %v", err, err)
	}
	if missing.Param != "bitrate" {
		t.Errorf("missing param = %s, want bitrate", missing.Param)
	}
	if _, statErr := os.Stat(countFile); !os.IsNotExist(statErr) {
		t.Error("no tool may run for a rejected trigger")
	}
	if count := m.hub.Count(); count != 0 {
		t.Errorf("rejected trigger opened a stream, hub has %d", count)
	}
}

func TestTranscodeRejectsUnrecognizedContainer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, config.Config{DownloadDir: dir})

	_, err := m.Start(models.JobRequest{
		Action:   models.ActionTranscode,
		Filename: "notes.txt",
		Codec:    models.CodecH265,
	})

	var unsupported *services.UnsupportedInputError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedInputError, got %T: %v", err, err)
	}
	if count := m.hub.Count(); count != 0 {
		t.Errorf("rejected trigger opened a stream, hub has %d", count)
	}
}

func TestCancelKillsRunningJob(t *testing.T) {
	tool := writeFakeTool(t, `echo "[download] starting"; sleep 30`)

	m := newTestManager(t, config.Config{YtdlpPath: tool})
	jobID, err := m.Start(models.JobRequest{
		Action:  models.ActionDownload,
		URL:     "https://example.test/v",
		VideoID: "137",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream, _ := m.hub.Get(jobID)

	// Let the tool start before pulling the plug.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if info, _ := m.Status(jobID); info.Status == models.JobStatusAcquiring {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never started acquiring")
		}
		time.Sleep(10 * time.Millisecond)
	}

	start := time.Now()
	if !m.Cancel(jobID) {
		t.Fatal("Cancel should find the job")
	}

	drained := drainStream(t, stream)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("cancellation took %v, the child was not killed", elapsed)
	}

	var sawError bool
	for _, event := range drained {
		if event.Error != "" {
			sawError = true
		}
	}
	if !sawError {
		t.Error("cancelled job should emit an error event")
	}
	if drained[len(drained)-1].Log != events.DoneSignal {
		t.Error("sentinel must still close a cancelled job")
	}

	info := waitForTerminal(t, m, jobID)
	if info.Status != models.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", info.Status)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	m := newTestManager(t, config.Config{})
	if m.Cancel("not-a-job") {
		t.Error("cancelling an unknown job should report not found")
	}
}

func TestPublishJobEmitsFinalURL(t *testing.T) {
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": true, "id": "abc123"}`)
	}))
	defer storage.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ready.mkv"), []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, config.Config{
		DownloadDir:      dir,
		StorageUploadURL: storage.URL,
		StoragePageURL:   "https://files.example.test/u",
	})

	jobID, err := m.Start(models.JobRequest{Action: models.ActionPublish, Filename: "ready.mkv"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream, _ := m.hub.Get(jobID)
	drained := drainStream(t, stream)

	var finalURL string
	var urlIndex int
	for i, event := range drained {
		if event.FinalURL != "" {
			finalURL = event.FinalURL
			urlIndex = i
		}
	}
	if finalURL != "https://files.example.test/u/abc123" {
		t.Errorf("final url = %q", finalURL)
	}
	if urlIndex >= len(drained)-1 {
		t.Error("final url must arrive before the sentinel")
	}

	info := waitForTerminal(t, m, jobID)
	if info.Status != models.JobStatusCompleted {
		t.Errorf("status = %s (%s), want completed", info.Status, info.Error)
	}
}

func TestCleanupFailureWarnsBeforeSentinel(t *testing.T) {
	// The tool leaves a non-empty directory where the temp file should be, so
	// the job's cleanup cannot remove it.
	acquireTool := writeFakeTool(t, `
out="$4"
mkdir "$out"
echo blocked > "$out/inner"
`)
	probeTool := writeFakeTool(t, `exit 1`)

	m := newTestManager(t, config.Config{
		YtdlpPath:   acquireTool,
		FfprobePath: probeTool,
	})

	jobID, err := m.Start(models.JobRequest{
		Action:   models.ActionDownload,
		URL:      "https://example.test/v",
		VideoID:  "137",
		Filename: "stuck",
		Codec:    models.CodecH265,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream, _ := m.hub.Get(jobID)
	drained := drainStream(t, stream)

	errorIndex, warningIndex := -1, -1
	for i, event := range drained {
		if event.Error != "" && errorIndex == -1 {
			errorIndex = i
		}
		if strings.Contains(event.Log, "could not remove temp file") {
			warningIndex = i
		}
	}
	if errorIndex == -1 {
		t.Fatal("expected an error event")
	}
	if warningIndex == -1 {
		t.Fatal("expected a cleanup warning event")
	}
	if warningIndex < errorIndex || warningIndex >= len(drained)-1 {
		t.Errorf("warning must land between error and sentinel, got error=%d warning=%d of %d",
			errorIndex, warningIndex, len(drained))
	}

	info := waitForTerminal(t, m, jobID)
	if info.Status != models.JobStatusFailed {
		t.Errorf("status = %s, want failed", info.Status)
	}
}

func TestEvictFinished(t *testing.T) {
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": true, "id": "zzz"}`)
	}))
	defer storage.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "done.mkv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, config.Config{
		DownloadDir:      dir,
		StorageUploadURL: storage.URL,
		StoragePageURL:   "https://files.example.test/u",
	})

	jobID, err := m.Start(models.JobRequest{Action: models.ActionPublish, Filename: "done.mkv"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream, _ := m.hub.Get(jobID)
	drainStream(t, stream)
	waitForTerminal(t, m, jobID)

	if evicted := m.EvictFinished(0); evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
	if _, ok := m.Status(jobID); ok {
		t.Error("evicted job should be gone from the registry")
	}
	if _, ok := m.hub.Get(jobID); ok {
		t.Error("evicted job's stream should be released")
	}
}

func TestJobStreamsAreIsolated(t *testing.T) {
	serve := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
			fmt.Fprint(w, "data")
		}))
	}
	serverA := serve("alpha.bin")
	defer serverA.Close()
	serverB := serve("beta.bin")
	defer serverB.Close()

	m := newTestManager(t, config.Config{})

	idA, err := m.Start(models.JobRequest{Action: models.ActionDirect, URL: serverA.URL})
	if err != nil {
		t.Fatalf("Start A: %v", err)
	}
	idB, err := m.Start(models.JobRequest{Action: models.ActionDirect, URL: serverB.URL})
	if err != nil {
		t.Fatalf("Start B: %v", err)
	}

	streamA, _ := m.hub.Get(idA)
	streamB, _ := m.hub.Get(idB)

	check := func(drained []events.ProgressEvent, want, reject string) {
		t.Helper()
		var sawOwn bool
		for _, event := range drained {
			if strings.Contains(event.Log, want) {
				sawOwn = true
			}
			if strings.Contains(event.Log, reject) {
				t.Errorf("stream for %s leaked an event about %s", want, reject)
			}
		}
		if !sawOwn {
			t.Errorf("stream never mentioned its own artifact %s", want)
		}
	}

	check(drainStream(t, streamA), "alpha.bin", "beta.bin")
	check(drainStream(t, streamB), "beta.bin", "alpha.bin")
}
