package models

import (
	"time"
)

// MediaFormat is one downloadable stream reported by the acquisition tool
// for a URL. Muxed formats carry both audio and video and need no companion
// stream.
type MediaFormat struct {
	ID         string  `json:"id"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	VCodec     string  `json:"vcodec,omitempty"`
	ACodec     string  `json:"acodec,omitempty"`
	Filesize   int64   `json:"filesize,omitempty"`
	TBR        float64 `json:"tbr,omitempty"`
	Muxed      bool    `json:"muxed"`
}

// HasVideo reports whether the format carries a video stream.
func (f MediaFormat) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

// HasAudio reports whether the format carries an audio stream.
func (f MediaFormat) HasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

// MediaInfo is the probe result for a URL: page metadata plus the selectable
// formats.
type MediaInfo struct {
	Title    string        `json:"title"`
	Duration float64       `json:"duration,omitempty"`
	Formats  []MediaFormat `json:"formats"`
}

// StoredFile describes one completed artifact in the download directory.
type StoredFile struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	SizeHuman  string    `json:"size_human"`
	ModifiedAt time.Time `json:"modified_at"`
}
