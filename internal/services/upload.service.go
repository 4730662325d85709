package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"vidmill/config"
	"vidmill/internal/events"
	"vidmill/internal/utils"

	logger "github.com/Bparsons0904/goLogger"
)

const uploadTimeoutSec = 3600

// UploadService publishes finished artifacts to the configured storage
// service and hands back the public URL.
type UploadService struct {
	config     config.Config
	httpClient *http.Client
	log        logger.Logger
}

func NewUploadService(config config.Config) *UploadService {
	return &UploadService{
		config: config,
		httpClient: &http.Client{
			Timeout: uploadTimeoutSec * time.Second,
		},
		log: logger.New("uploadService"),
	}
}

type uploadReply struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Upload sends the file as a multipart POST and returns the public URL the
// storage service assigned. Network failures are transport errors; an
// answered refusal is a remote rejection.
func (us *UploadService) Upload(ctx context.Context, sink events.Sink, path string) (string, error) {
	log := us.log.Function("Upload")

	file, err := os.Open(path)
	if err != nil {
		return "", log.Err("failed to open file for upload", err, "path", path)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Warn("failed to close upload source", "error", closeErr)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return "", log.Err("failed to stat upload source", err, "path", path)
	}

	name := filepath.Base(path)
	sink.Push(events.LogEvent(fmt.Sprintf("Uploading %s (%s)", name, utils.HumanSize(info.Size()))))

	// Stream the multipart body instead of buffering the whole file.
	bodyReader, bodyWriter := io.Pipe()
	multipartWriter := multipart.NewWriter(bodyWriter)

	go func() {
		part, err := multipartWriter.CreateFormFile("file", name)
		if err != nil {
			_ = bodyWriter.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			_ = bodyWriter.CloseWithError(err)
			return
		}
		_ = bodyWriter.CloseWithError(multipartWriter.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, us.config.StorageUploadURL, bodyReader)
	if err != nil {
		return "", log.Err("failed to build upload request", err)
	}
	req.Header.Set("Content-Type", multipartWriter.FormDataContentType())
	if us.config.StorageAPIKey != "" {
		req.SetBasicAuth("", us.config.StorageAPIKey)
	}

	resp, err := us.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		transport := &TransportError{Op: "upload", Err: err}
		return "", log.Err("upload request failed", transport, "path", path)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn("failed to close upload response", "error", closeErr)
		}
	}()

	var reply uploadReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reply); err != nil {
		rejection := &RemoteRejectionError{Status: resp.StatusCode, Message: "unrecognized reply"}
		return "", log.Err("failed to decode upload reply", rejection, "statusCode", resp.StatusCode)
	}

	if !reply.Success || reply.ID == "" {
		message := reply.Message
		if message == "" {
			message = reply.Value
		}
		rejection := &RemoteRejectionError{Status: resp.StatusCode, Message: message}
		return "", log.Err("storage service rejected the upload", rejection,
			"statusCode", resp.StatusCode, "reply", message)
	}

	finalURL := us.config.StoragePageURL + "/" + reply.ID
	log.Info("Upload complete", "path", path, "id", reply.ID, "url", finalURL)

	return finalURL, nil
}
