package audio

// Player plays raw audio in the order it is sent. SendAudio only queues, it
// does not wait for playback.
type Player interface {
	SendAudio(audio []byte) error
	// Mark registers callback to be called once playback reaches the end of
	// the audio sent so far. Cleared marks are never called.
	Mark(name string, callback func(string)) error
	// ClearBuffer drops queued audio and pending marks.
	ClearBuffer()
	EncodingInfo() EncodingInfo
}
