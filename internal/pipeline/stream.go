package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MeKo-Tech/spotter/internal/detector"
	"github.com/MeKo-Tech/spotter/internal/frame"
)

// Run consumes frames from in until it is closed or ctx is done, sending one
// FrameResult per frame to out in arrival order. Per-frame failures, timeouts
// included, are reported in FrameResult.Err and do not stop the loop. Run
// closes out before returning.
func (p *Pipeline) Run(ctx context.Context, in <-chan *frame.Frame, out chan<- FrameResult) error {
	defer close(out)

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			seq++
			res := p.runWithTimeout(ctx, f)
			res.Sequence = seq
			select {
			case out <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (p *Pipeline) runWithTimeout(parent context.Context, f *frame.Frame) FrameResult {
	ctx := parent
	if p.cfg.FrameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, p.cfg.FrameTimeout)
		defer cancel()
	}

	res, err := p.Analyze(ctx, f)
	if err != nil {
		switch {
		case errors.Is(err, detector.ErrInferenceTimeout):
			slog.Warn("Frame timed out", "timeout", p.cfg.FrameTimeout)
		case errors.Is(err, ErrPipelineBusy):
			slog.Debug("Frame dropped, pipeline busy")
		default:
			slog.Error("Frame failed", "error", err)
		}
		out := FrameResult{Err: err}
		if f != nil {
			out.Width, out.Height = f.Width, f.Height
		}
		return out
	}
	return *res
}
