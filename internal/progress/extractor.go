// Package progress turns the line noise of external media tools into percent
// values. Each tool gets its own extractor so parsing stays testable against
// recorded output without spawning anything.
package progress

import (
	"regexp"
	"strconv"
)

// Extractor derives a completion percent from one line of tool output.
// ok is false for lines that carry no usable progress.
type Extractor interface {
	Extract(line string) (percent float64, ok bool)
}

var downloadPercentPattern = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// DownloadExtractor reads the percent the acquisition tool prints on its
// own progress lines, e.g. "[download]  42.3% of 120.5MiB at 2.1MiB/s".
type DownloadExtractor struct{}

func (DownloadExtractor) Extract(line string) (float64, bool) {
	match := downloadPercentPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}

	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}

	return percent, true
}

var encodeTimePattern = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// EncodeExtractor converts the transcoder's elapsed-time marker
// ("time=00:01:23.45") into a percent of the source duration. With an
// unknown duration it extracts nothing and the stream degrades to log
// lines only.
type EncodeExtractor struct {
	Duration float64
}

func (e EncodeExtractor) Extract(line string) (float64, bool) {
	if e.Duration <= 0 {
		return 0, false
	}

	match := encodeTimePattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}

	hours, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(match[3], 64)
	if err != nil {
		return 0, false
	}

	elapsed := float64(hours)*3600 + float64(minutes)*60 + seconds
	percent := elapsed / e.Duration * 100
	if percent > 100 {
		percent = 100
	}

	return percent, true
}
