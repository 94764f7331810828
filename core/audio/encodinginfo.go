// Package audio describes raw audio streams and the playback devices speech
// engines write them to.
package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultFormat     = EncodingLinear16
)

type Format string

const (
	EncodingMulaw    Format = "mulaw"
	EncodingALaw     Format = "alaw"
	EncodingLinear16 Format = "linear16"
)

func (f Format) Name() string {
	return string(f)
}

// ByteSize is the size of one sample, or -1 for unknown formats.
func (f Format) ByteSize() int {
	switch f {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

// EncodingInfo describes mono audio.
type EncodingInfo struct {
	SampleRate int
	Format     Format
}

func DefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: DefaultFormat}
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	}
	return 0
}

// ByteOffset returns the offset of the sample played at d, aligned to a
// whole sample.
func (e EncodingInfo) ByteOffset(d time.Duration) int {
	size := max(e.Format.ByteSize(), 1)
	samples := int(d * time.Duration(e.SampleRate) / time.Second)
	return samples * size
}

// Duration returns how long n bytes of audio play.
func (e EncodingInfo) Duration(n int) time.Duration {
	size := max(e.Format.ByteSize(), 1)
	if e.SampleRate == 0 {
		return 0
	}
	return time.Duration(n/size) * time.Second / time.Duration(e.SampleRate)
}
