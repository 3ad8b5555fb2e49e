package audio

import (
	"context"
	"io"
	"sync"
	"time"

	"clinref-chat/internal/domain/ports/adapter"
)

// WriterOutput plays clips by pacing bytes into a device handle opened per
// playback. Stop closes the handle so repeated plays never leak devices.
type WriterOutput struct {
	open           func() (io.WriteCloser, error)
	bytesPerSecond int
}

var _ adapter.AudioOutput = (*WriterOutput)(nil)

func NewWriterOutput(open func() (io.WriteCloser, error), bytesPerSecond int) *WriterOutput {
	if bytesPerSecond <= 0 {
		bytesPerSecond = 32 * 1024
	}
	return &WriterOutput{open: open, bytesPerSecond: bytesPerSecond}
}

func (o *WriterOutput) Start(ctx context.Context, clip []byte, rate float64) (adapter.Playback, error) {
	w, err := o.open()
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		rate = 1.0
	}
	pb := &writerPlayback{
		w:    w,
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	go pb.run(ctx, clip, int(float64(o.bytesPerSecond)*rate))
	return pb, nil
}

type writerPlayback struct {
	w        io.WriteCloser
	done     chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

func (p *writerPlayback) run(ctx context.Context, clip []byte, bps int) {
	defer p.finish()

	const sliceMs = 50
	chunk := bps * sliceMs / 1000
	if chunk <= 0 {
		chunk = 1
	}
	ticker := time.NewTicker(sliceMs * time.Millisecond)
	defer ticker.Stop()

	for off := 0; off < len(clip); {
		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			end := off + chunk
			if end > len(clip) {
				end = len(clip)
			}
			if _, err := p.w.Write(clip[off:end]); err != nil {
				return
			}
			off = end
		}
	}
}

func (p *writerPlayback) finish() {
	_ = p.w.Close()
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *writerPlayback) Done() <-chan struct{} { return p.done }

func (p *writerPlayback) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
}
