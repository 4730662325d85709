package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"vidmill/config"
	"vidmill/internal/events"
	"vidmill/internal/utils"

	logger "github.com/Bparsons0904/goLogger"
)

const (
	downloadTimeoutSec      = 3600 // 1 hour HTTP client timeout (safety net)
	downloadStallTimeoutSec = 300  // 5 minutes with no bytes aborts the transfer
	downloadUserAgent       = "vidmill/1.0"
	fallbackFilename        = "download.bin"

	// Size-unknown transfers log a marker every this many bytes instead of
	// publishing percents.
	unknownSizeLogStep = 5 * 1024 * 1024
)

// DownloadService fetches plain HTTP resources straight to disk, streaming
// progress from the byte count when the server reports a length.
type DownloadService struct {
	config     config.Config
	httpClient *http.Client
	log        logger.Logger
}

func NewDownloadService(config config.Config) *DownloadService {
	httpClient := &http.Client{
		Timeout: downloadTimeoutSec * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: false,
			MaxConnsPerHost:    10,
		},
	}

	return &DownloadService{
		config:     config,
		httpClient: httpClient,
		log:        logger.New("downloadService"),
	}
}

// Fetch downloads url into the download directory. The artifact's name comes
// from suggestedName when given, else the Content-Disposition header, else
// the final URL path, else a generic fallback. The transfer runs through a
// job-scoped temp file and is renamed into place once complete. Returns the
// final path.
func (ds *DownloadService) Fetch(
	ctx context.Context,
	sink events.Sink,
	jobID, rawURL, suggestedName string,
) (string, error) {
	log := ds.log.Function("Fetch")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", log.Err("failed to build request", err, "url", rawURL)
	}
	req.Header.Set("User-Agent", downloadUserAgent)

	resp, err := ds.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		transport := &TransportError{Op: "direct download", Err: err}
		return "", log.Err("request failed", transport, "url", rawURL)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		rejection := &RemoteRejectionError{Status: resp.StatusCode}
		return "", log.Err("server refused the download", rejection,
			"url", rawURL, "statusCode", resp.StatusCode)
	}

	name := ds.resolveFilename(suggestedName, resp)
	sink.Push(events.LogEvent("Saving as " + name))

	if err := os.MkdirAll(ds.config.DownloadDir, 0755); err != nil {
		return "", log.Err("failed to create download directory", err, "dir", ds.config.DownloadDir)
	}

	tempPath := filepath.Join(ds.config.DownloadDir, TempArtifactName(jobID, name))
	finalPath := filepath.Join(ds.config.DownloadDir, name)

	if err := ds.copyBody(ctx, sink, resp, tempPath); err != nil {
		_ = os.Remove(tempPath)
		return "", err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return "", log.Err("failed to move artifact into place", err, "dest", finalPath)
	}

	log.Info("Direct download complete", "url", rawURL, "file", finalPath)
	return finalPath, nil
}

// copyBody streams the response body to tempPath in 32KB chunks, publishing
// percents while the total is known and log markers when it is not.
func (ds *DownloadService) copyBody(
	ctx context.Context,
	sink events.Sink,
	resp *http.Response,
	tempPath string,
) error {
	log := ds.log.Function("copyBody")

	outFile, err := os.Create(tempPath)
	if err != nil {
		return log.Err("failed to create temp file", err, "path", tempPath)
	}
	defer func() {
		if closeErr := outFile.Close(); closeErr != nil {
			log.Warn("failed to close temp file", "error", closeErr, "path", tempPath)
		}
	}()

	total := resp.ContentLength
	if total <= 0 {
		sink.Push(events.LogEvent("Size unknown, progress reported by volume"))
	}

	var downloaded int64
	var lastPercent float64
	var nextLogMark int64 = unknownSizeLogStep
	lastProgressTime := time.Now()
	stallTimeout := downloadStallTimeoutSec * time.Second

	buffer := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Since(lastProgressTime) > stallTimeout {
			stalled := &TransportError{
				Op:  "direct download",
				Err: fmt.Errorf("no progress for %d seconds", downloadStallTimeoutSec),
			}
			return log.Err("download stalled", stalled, "downloaded", downloaded)
		}

		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			if _, writeErr := outFile.Write(buffer[:n]); writeErr != nil {
				return log.Err("failed to write chunk", writeErr, "path", tempPath)
			}
			downloaded += int64(n)
			lastProgressTime = time.Now()

			if total > 0 {
				percent := float64(downloaded) / float64(total) * 100
				if percent-lastPercent >= 0.5 {
					sink.Push(events.PercentEvent(percent))
					lastPercent = percent
				}
			} else if downloaded >= nextLogMark {
				sink.Push(events.LogEvent("Downloaded " + utils.HumanSize(downloaded)))
				nextLogMark += unknownSizeLogStep
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			transport := &TransportError{Op: "direct download", Err: readErr}
			return log.Err("failed reading response body", transport, "downloaded", downloaded)
		}
	}

	if total > 0 {
		sink.Push(events.PercentEvent(100.0))
	}
	sink.Push(events.LogEvent("Downloaded " + utils.HumanSize(downloaded)))

	return nil
}

func (ds *DownloadService) resolveFilename(suggestedName string, resp *http.Response) string {
	if name := utils.SanitizeFilename(suggestedName); name != "" {
		return name
	}
	if name := utils.SanitizeFilename(filenameFromDisposition(resp.Header.Get("Content-Disposition"))); name != "" {
		return name
	}
	if name := utils.SanitizeFilename(urlFilename(resp.Request.URL)); name != "" {
		return name
	}
	return fallbackFilename
}

// filenameFromDisposition pulls a filename out of a Content-Disposition
// header, preferring the RFC 5987 extended form over the plain parameter.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}

	var plain, extended string
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:eq]))
		value := strings.TrimSpace(part[eq+1:])

		switch key {
		case "filename*":
			extended = decodeExtendedValue(value)
		case "filename":
			plain = strings.Trim(value, `"`)
		}
	}

	if extended != "" {
		return extended
	}
	return plain
}

// decodeExtendedValue decodes an RFC 5987 ext-value: charset''percent-encoded.
func decodeExtendedValue(value string) string {
	parts := strings.SplitN(value, "'", 3)
	if len(parts) != 3 {
		return ""
	}
	decoded, err := url.PathUnescape(parts[2])
	if err != nil {
		return ""
	}
	return decoded
}

func urlFilename(u *url.URL) string {
	if u == nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
