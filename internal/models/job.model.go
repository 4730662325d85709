package models

import (
	"time"
)

// Action selects which pipeline a job runs.
type Action string

const (
	// ActionDirect fetches a plain HTTP resource, no media tool involved.
	ActionDirect Action = "direct"
	// ActionDownload acquires a stream-selected media download, optionally
	// transcoding before publishing.
	ActionDownload Action = "download"
	// ActionMerge muxes an explicit video id with an explicit audio id.
	ActionMerge Action = "merge"
	// ActionTranscode re-encodes a file already in the download directory.
	ActionTranscode Action = "transcode"
	// ActionPublish uploads a file already in the download directory.
	ActionPublish Action = "publish"
)

type Codec string

const (
	CodecNone Codec = "none"
	CodecH265 Codec = "h265"
	CodecAV1  Codec = "av1"
)

type PassMode string

const (
	PassModeSingle PassMode = "1-pass"
	PassModeTwo    PassMode = "2-pass"
)

// JobStatus tracks a job through its lifecycle. Terminal statuses are
// completed, failed, and cancelled.
type JobStatus string

const (
	JobStatusInitializing JobStatus = "initializing"
	JobStatusAcquiring    JobStatus = "acquiring"
	JobStatusTransforming JobStatus = "transforming"
	JobStatusPublishing   JobStatus = "publishing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobRequest is the flat trigger payload. Which fields matter depends on the
// action; the job manager validates the combination before accepting.
type JobRequest struct {
	Action   Action `json:"action"`
	URL      string `json:"url,omitempty"`
	VideoID  string `json:"video_id,omitempty"`
	AudioID  string `json:"audio_id,omitempty"`
	Muxed    bool   `json:"muxed,omitempty"`
	Filename string `json:"filename,omitempty"`

	Codec        Codec    `json:"codec,omitempty"`
	PassMode     PassMode `json:"pass_mode,omitempty"`
	Preset       string   `json:"preset,omitempty"`
	Bitrate      int      `json:"bitrate,omitempty"`
	CRF          int      `json:"crf,omitempty"`
	AudioBitrate int      `json:"audio_bitrate,omitempty"`
	FPS          int      `json:"fps,omitempty"`
	ForceStereo  bool     `json:"force_stereo,omitempty"`

	Publish bool `json:"publish,omitempty"`
}

// EncodeSettings are the normalized transcode parameters handed to the
// transform stage.
type EncodeSettings struct {
	Codec        Codec
	PassMode     PassMode
	Preset       string
	Bitrate      int
	CRF          int
	AudioBitrate int
	FPS          int
	ForceStereo  bool
}

// JobInfo is the status snapshot returned by the job endpoints.
type JobInfo struct {
	ID         string     `json:"id"`
	Action     Action     `json:"action"`
	Status     JobStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
