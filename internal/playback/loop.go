package playback

import (
	"context"
	"errors"
	"io"
)

// runDecodeLoop pumps one open segment from decoder through the optional
// tempo filter into the sink until the decoder is exhausted or ctx is
// cancelled. It returns completed=true only on natural end of segment, after
// whatever the filter still holds has been written.
//
// Position is published after each successful write as the segment offset
// plus the decoder timestamp, clamped to totalMs. Sink writes block, so the
// loop runs at playback pace.
func runDecodeLoop(ctx context.Context, h *sessionHandle, totalMs int64, publish func(positionMs int64)) (completed bool, err error) {
	var buf []byte
	write := func(out *Frame) error {
		buf = EncodePCM(buf, out.Samples)
		if _, err := h.sink.Write(buf); err != nil {
			return err
		}
		publish(clampPosition(h.segment.OffsetMs+h.decoder.Position().Milliseconds(), totalMs))
		return nil
	}

	for {
		if ctx.Err() != nil {
			return false, nil
		}

		frame, err := h.decoder.ReadFrame()
		if errors.Is(err, io.EOF) {
			if h.filter == nil {
				return true, nil
			}
			tail, err := h.filter.Drain(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return false, nil
				}
				return false, newPlaybackError(OpFilter, h.index, err)
			}
			if !tail.Empty() {
				if err := write(tail); err != nil {
					if ctx.Err() != nil {
						return false, nil
					}
					return false, newPlaybackError(OpOutput, h.index, err)
				}
			}
			return true, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			return false, newPlaybackError(OpDecode, h.index, err)
		}
		if frame.Empty() {
			continue
		}

		out := frame
		if h.filter != nil {
			if err := h.filter.Push(frame); err != nil {
				return false, newPlaybackError(OpFilter, h.index, err)
			}
			out, err = h.filter.Pull()
			if err != nil {
				return false, newPlaybackError(OpFilter, h.index, err)
			}
			if out.Empty() {
				// filter is still priming
				continue
			}
		}

		if err := write(out); err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			return false, newPlaybackError(OpOutput, h.index, err)
		}
	}
}

func clampPosition(positionMs, totalMs int64) int64 {
	if positionMs < 0 {
		return 0
	}
	if positionMs > totalMs {
		return totalMs
	}
	return positionMs
}
