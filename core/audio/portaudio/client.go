// Package portaudio plays speech through the default PortAudio output
// stream.
package portaudio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-tales/core/audio"
)

// Player feeds a blocking output stream from its own goroutine so that
// SendAudio never waits for the device.
type Player struct {
	sampleRate int
	bufferSize int
	stream     *portaudio.Stream
	out        []int16

	mu            sync.Mutex
	leftoverAudio []byte
	marks         []playbackMark
	// played counts bytes written since the last ClearBuffer.
	played int
	queued int

	signal    chan struct{}
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type playbackMark struct {
	name     string
	position int
	callback func(string)
}

// NewPlayer opens the default mono linear16 output stream. bufferSize is the
// number of samples written per device call, a zero sampleRate picks the
// default.
func NewPlayer(sampleRate, bufferSize int) (*Player, error) {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), bufferSize, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open PortAudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start PortAudio stream: %w", err)
	}

	p := &Player{
		sampleRate: sampleRate,
		bufferSize: bufferSize,
		stream:     stream,
		out:        out,
		signal:     make(chan struct{}, 1),
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *Player) Close() {
	p.closeOnce.Do(func() {
		close(p.closeCh)
		<-p.done
		_ = p.stream.Stop()
		_ = p.stream.Close()
		_ = portaudio.Terminate()
	})
}

func (p *Player) SendAudio(audio []byte) error {
	p.mu.Lock()
	p.leftoverAudio = append(p.leftoverAudio, audio...)
	p.queued += len(audio)
	p.mu.Unlock()

	p.notify()
	return nil
}

func (p *Player) Mark(name string, callback func(string)) error {
	p.mu.Lock()
	p.marks = append(p.marks, playbackMark{name: name, position: p.queued, callback: callback})
	p.mu.Unlock()

	p.notify()
	return nil
}

func (p *Player) ClearBuffer() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.leftoverAudio = nil
	p.marks = nil
	p.played = 0
	p.queued = 0
}

func (p *Player) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: p.sampleRate,
		Format:     audio.EncodingLinear16,
	}
}

func (p *Player) run() {
	defer close(p.done)

	for {
		chunk, passed := p.nextChunk()
		for _, mark := range passed {
			mark.callback(mark.name)
		}
		if chunk == nil {
			select {
			case <-p.closeCh:
				return
			case <-p.signal:
			}
			continue
		}

		// Short tails are padded with silence.
		clear(p.out)
		_ = binary.Read(bytes.NewReader(chunk), binary.LittleEndian, p.out[:len(chunk)/2])
		if err := p.stream.Write(); err != nil {
			logger.Warn("failed to write to PortAudio stream", "error", err)
		}

		select {
		case <-p.closeCh:
			return
		default:
		}
	}
}

// nextChunk takes the next device buffer worth of audio and returns the marks
// that are reached before it.
func (p *Player) nextChunk() ([]byte, []playbackMark) {
	p.mu.Lock()
	defer p.mu.Unlock()

	passed := 0
	for passed < len(p.marks) && p.marks[passed].position <= p.played {
		passed++
	}
	var reached []playbackMark
	if passed > 0 {
		reached = append(reached, p.marks[:passed]...)
		p.marks = p.marks[passed:]
	}

	if len(p.leftoverAudio) == 0 {
		return nil, reached
	}

	n := min(len(p.leftoverAudio), p.bufferSize*2)
	chunk := make([]byte, n)
	copy(chunk, p.leftoverAudio)
	p.leftoverAudio = p.leftoverAudio[n:]
	p.played += n
	return chunk, reached
}

func (p *Player) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}
