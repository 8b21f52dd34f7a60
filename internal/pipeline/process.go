package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/spotter/internal/common"
	"github.com/MeKo-Tech/spotter/internal/detector"
	"github.com/MeKo-Tech/spotter/internal/frame"
)

// Process detects objects in one frame.
func (p *Pipeline) Process(f *frame.Frame) ([]detector.Detection, error) {
	res, err := p.Analyze(context.Background(), f)
	if err != nil {
		return nil, err
	}
	return res.Detections, nil
}

// ProcessBatch accepts a batch but only supports batches of exactly one
// frame; larger batches fail with ErrUnsupportedBatchSize and nothing runs.
func (p *Pipeline) ProcessBatch(frames []*frame.Frame) ([]detector.Detection, error) {
	if len(frames) > 1 {
		return nil, fmt.Errorf("%w: got %d frames, want 1", detector.ErrUnsupportedBatchSize, len(frames))
	}
	if len(frames) == 0 {
		return nil, errors.New("empty batch")
	}
	return p.Process(frames[0])
}

// ProcessContext is Process with a deadline.
func (p *Pipeline) ProcessContext(ctx context.Context, f *frame.Frame) ([]detector.Detection, error) {
	res, err := p.Analyze(ctx, f)
	if err != nil {
		return nil, err
	}
	return res.Detections, nil
}

// ProcessImage converts img to a frame and detects objects in it.
func (p *Pipeline) ProcessImage(ctx context.Context, img image.Image) (*FrameResult, error) {
	f, err := frame.FromImage(img, p.cfg.Channels)
	if err != nil {
		return nil, err
	}
	return p.Analyze(ctx, f)
}

type outcome struct {
	res *FrameResult
	err error
}

// Analyze detects objects in f and reports stage timings. When ctx expires
// first, it returns an error wrapping detector.ErrInferenceTimeout. The
// abandoned inference keeps the pipeline busy until it returns; its result
// is discarded and the input binding is rebuilt for the next frame.
func (p *Pipeline) Analyze(ctx context.Context, f *frame.Frame) (*FrameResult, error) {
	if f == nil {
		return nil, errors.New("input frame is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}
	if !p.busy.CompareAndSwap(false, true) {
		return nil, ErrPipelineBusy
	}

	// Without a deadline or cancellation there is nothing to race against.
	if ctx.Done() == nil {
		defer p.busy.Store(false)
		return p.runFrame(f)
	}

	done := make(chan outcome, 1)
	go func() {
		res, err := p.runFrame(f)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		p.busy.Store(false)
		return o.res, o.err
	case <-ctx.Done():
		p.profiler.RecordTimeout()
		go p.recoverAbandoned(done)
		return nil, contextError(ctx.Err())
	}
}

// recoverAbandoned waits for a timed-out frame, drops its result and resets
// the session binding before accepting new frames.
func (p *Pipeline) recoverAbandoned(done <-chan outcome) {
	o := <-done
	p.mu.Lock()
	if !p.closed {
		p.session.Reset()
	}
	p.mu.Unlock()
	p.busy.Store(false)
	slog.Debug("Abandoned inference finished", "error", o.err)
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", detector.ErrInferenceTimeout, err)
	}
	return err
}

// prepare converts the channel count if needed and resizes to the network
// input size. The returned frame may alias the pipeline's scratch buffer.
func (p *Pipeline) prepare(f *frame.Frame) (*frame.Frame, error) {
	in := f
	if p.cfg.Channels > 0 && f.Channels != p.cfg.Channels {
		converted, err := frame.FromImage(f, p.cfg.Channels)
		if err != nil {
			return nil, err
		}
		in = converted
	}
	return frame.EnsureSize(in, p.targetW, p.targetH, &p.scratch)
}

func (p *Pipeline) runFrame(f *frame.Frame) (*FrameResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPipelineClosed
	}

	sw := common.StartStopwatch()
	input, err := p.prepare(f)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}
	sw.Lap("preprocess")

	raw, err := p.session.Run([]*frame.Frame{input})
	if err != nil {
		p.profiler.RecordError()
		return nil, err
	}
	sw.Lap("inference")

	dets, err := p.decoder.Decode(raw, f)
	if err != nil {
		p.profiler.RecordError()
		return nil, err
	}
	sw.Lap("decode")

	timing := StageTimings{
		PreprocessNs: sw.Get("preprocess").Nanoseconds(),
		InferenceNs:  sw.Get("inference").Nanoseconds(),
		DecodeNs:     sw.Get("decode").Nanoseconds(),
		TotalNs:      sw.Elapsed().Nanoseconds(),
	}
	slog.Debug("Frame processed", "detections", len(dets), "stages", sw.String())
	p.profiler.Record(timing, len(dets))

	return &FrameResult{
		Width:      f.Width,
		Height:     f.Height,
		Detections: dets,
		Timing:     timing,
	}, nil
}
