package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vidmill/internal/events"
	"vidmill/internal/models"
	"vidmill/internal/services"
	"vidmill/internal/utils"
)

// plan is the resolved strategy for one accepted request: which stages run
// and every path they touch. Built and checked synchronously at trigger time
// so a bad request never spawns a process.
type plan struct {
	action models.Action

	url           string
	selector      string
	suggestedName string

	sourcePath string
	tempPath   string
	finalPath  string

	transform bool
	settings  models.EncodeSettings
	publish   bool
}

func (m *Manager) buildPlan(jobID string, req models.JobRequest) (*plan, error) {
	switch req.Action {
	case models.ActionDirect:
		return m.planDirect(req)
	case models.ActionDownload:
		return m.planDownload(jobID, req)
	case models.ActionMerge:
		return m.planMerge(jobID, req)
	case models.ActionTranscode:
		return m.planTranscode(jobID, req)
	case models.ActionPublish:
		return m.planPublish(req)
	case "":
		return nil, &services.MissingParameterError{Param: "action"}
	default:
		return nil, &services.UnsupportedInputError{
			Reason: fmt.Sprintf("unknown action %q", req.Action),
		}
	}
}

func (m *Manager) planDirect(req models.JobRequest) (*plan, error) {
	if req.URL == "" {
		return nil, &services.MissingParameterError{Param: "url"}
	}
	return &plan{
		action:        models.ActionDirect,
		url:           req.URL,
		suggestedName: req.Filename,
		publish:       req.Publish,
	}, nil
}

func (m *Manager) planDownload(jobID string, req models.JobRequest) (*plan, error) {
	if req.URL == "" {
		return nil, &services.MissingParameterError{Param: "url"}
	}
	if req.VideoID == "" {
		return nil, &services.MissingParameterError{Param: "video_id"}
	}

	settings, transform, err := m.normalizeEncode(req)
	if err != nil {
		return nil, err
	}

	name := mkvName(req.Filename)
	p := &plan{
		action:    models.ActionDownload,
		url:       req.URL,
		selector:  m.acquire.BuildSelector(req.VideoID, req.AudioID, req.Muxed),
		transform: transform,
		settings:  settings,
		publish:   req.Publish,
	}
	p.tempPath = filepath.Join(m.config.DownloadDir, services.TempArtifactName(jobID, name))
	p.finalPath = filepath.Join(m.config.DownloadDir, name)
	return p, nil
}

func (m *Manager) planMerge(jobID string, req models.JobRequest) (*plan, error) {
	if req.URL == "" {
		return nil, &services.MissingParameterError{Param: "url"}
	}
	if req.VideoID == "" {
		return nil, &services.MissingParameterError{Param: "video_id"}
	}
	if req.AudioID == "" {
		return nil, &services.MissingParameterError{Param: "audio_id"}
	}

	name := mkvName(req.Filename)
	p := &plan{
		action:   models.ActionMerge,
		url:      req.URL,
		selector: m.acquire.BuildSelector(req.VideoID, req.AudioID, req.Muxed),
		publish:  req.Publish,
	}
	p.tempPath = filepath.Join(m.config.DownloadDir, services.TempArtifactName(jobID, name))
	p.finalPath = filepath.Join(m.config.DownloadDir, name)
	return p, nil
}

func (m *Manager) planTranscode(jobID string, req models.JobRequest) (*plan, error) {
	if req.Filename == "" {
		return nil, &services.MissingParameterError{Param: "filename"}
	}
	if req.Codec == "" {
		return nil, &services.MissingParameterError{Param: "codec"}
	}

	sourcePath, err := m.files.Path(req.Filename)
	if err != nil {
		return nil, &services.UnsupportedInputError{Reason: req.Filename + " is not a stored file"}
	}
	if !services.RecognizedMedia(req.Filename) {
		return nil, &services.UnsupportedInputError{Reason: req.Filename + " is not a recognized media container"}
	}

	settings, _, err := m.normalizeEncode(req)
	if err != nil {
		return nil, err
	}

	name := transcodeOutputName(req.Filename, settings.Codec)
	p := &plan{
		action:     models.ActionTranscode,
		sourcePath: sourcePath,
		transform:  true,
		settings:   settings,
		publish:    req.Publish,
	}
	p.tempPath = filepath.Join(m.config.DownloadDir, services.TempArtifactName(jobID, name))
	p.finalPath = filepath.Join(m.config.DownloadDir, name)
	return p, nil
}

func (m *Manager) planPublish(req models.JobRequest) (*plan, error) {
	if req.Filename == "" {
		return nil, &services.MissingParameterError{Param: "filename"}
	}

	sourcePath, err := m.files.Path(req.Filename)
	if err != nil {
		return nil, &services.UnsupportedInputError{Reason: req.Filename + " is not a stored file"}
	}

	return &plan{
		action:     models.ActionPublish,
		sourcePath: sourcePath,
		finalPath:  sourcePath,
		publish:    true,
	}, nil
}

// normalizeEncode validates the transcode parameters up front. Codec "none"
// or absent means the acquired file ships as-is.
func (m *Manager) normalizeEncode(req models.JobRequest) (models.EncodeSettings, bool, error) {
	normalized, err := m.transcode.Normalize(models.EncodeSettings{
		Codec:        req.Codec,
		PassMode:     req.PassMode,
		Preset:       req.Preset,
		Bitrate:      req.Bitrate,
		CRF:          req.CRF,
		AudioBitrate: req.AudioBitrate,
		FPS:          req.FPS,
		ForceStereo:  req.ForceStereo,
	})
	if err != nil {
		return models.EncodeSettings{}, false, err
	}
	return normalized, normalized.Codec != models.CodecNone, nil
}

// execute runs the planned stages in order. Publish, when requested, always
// goes last and only after its predecessor produced the artifact.
func (m *Manager) execute(ctx context.Context, job *Job, p *plan, sink events.Sink) error {
	log := m.log.Function("execute")

	switch p.action {
	case models.ActionDirect:
		job.setStatus(models.JobStatusAcquiring)
		sink.Push(events.StageEvent("Acquiring", 0))
		finalPath, err := m.direct.Fetch(ctx, sink, job.ID, p.url, p.suggestedName)
		if err != nil {
			return err
		}
		p.finalPath = finalPath

	case models.ActionDownload, models.ActionMerge:
		job.setStatus(models.JobStatusAcquiring)
		sink.Push(events.StageEvent("Acquiring", 0))
		if err := m.acquire.Download(ctx, sink, p.url, p.selector, p.tempPath); err != nil {
			return err
		}

		if p.transform {
			job.setStatus(models.JobStatusTransforming)
			sink.Push(events.StageEvent("Transforming", 0))
			if err := m.transcode.Transcode(ctx, sink, p.tempPath, p.finalPath, p.settings); err != nil {
				return err
			}
		} else if err := os.Rename(p.tempPath, p.finalPath); err != nil {
			return log.Err("failed to move artifact into place", err, "dest", p.finalPath)
		}

	case models.ActionTranscode:
		job.setStatus(models.JobStatusTransforming)
		sink.Push(events.StageEvent("Transforming", 0))
		if err := m.transcode.Transcode(ctx, sink, p.sourcePath, p.tempPath, p.settings); err != nil {
			return err
		}
		if err := os.Rename(p.tempPath, p.finalPath); err != nil {
			return log.Err("failed to move artifact into place", err, "dest", p.finalPath)
		}
	}

	if p.publish {
		job.setStatus(models.JobStatusPublishing)
		sink.Push(events.StageEvent("Publishing", 0))
		finalURL, err := m.upload.Upload(ctx, sink, p.finalPath)
		if err != nil {
			return err
		}
		sink.Push(events.FinalURLEvent(finalURL))
	}

	return nil
}

// mkvName sanitizes the requested output name and forces the container
// extension the tool pipelines produce.
func mkvName(filename string) string {
	name := utils.SanitizeFilename(filename)
	if name == "" {
		name = "video"
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".mkv"
}

// transcodeOutputName derives "movie.h265.mkv" from "movie.mkv" so the
// original file survives next to the re-encode.
func transcodeOutputName(source string, codec models.Codec) string {
	label := string(codec)
	if codec == models.CodecNone {
		label = "copy"
	}
	base := utils.SanitizeFilename(source)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "." + label + ".mkv"
}
