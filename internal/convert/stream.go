package convert

import (
	"bytes"
	"context"
	"io"

	apperrors "routecodex/internal/errors"
)

// ConvertStream wraps the registry's format-to-format stream transform and
// enforces the spec §8 boundary behaviour: "an upstream SSE stream that
// ends without terminator and without a wrapper error is surfaced as
// SSE_DECODE_ERROR".
func (c *Converter) ConvertStream(ctx context.Context, upstream io.Reader, adapterCtx Context) (io.Reader, error) {
	clientFormat := entryProtocol(adapterCtx.EntryEndpoint)
	tee := &terminatorTrackingReader{r: upstream}

	translated, err := c.registry.TranslateStream(ctx, adapterCtx.ProviderProtocol, clientFormat, adapterCtx.OriginalModelID, tee)
	if err != nil {
		return nil, apperrors.NewKind(apperrors.KindSSEDecodeError, 502, err.Error())
	}

	pr, pw := io.Pipe()
	go func() {
		n, copyErr := io.Copy(pw, translated)
		if copyErr != nil {
			pw.CloseWithError(apperrors.NewKind(apperrors.KindSSEDecodeError, 502, copyErr.Error()))
			return
		}
		if n > 0 && !tee.sawTerminator {
			pw.CloseWithError(apperrors.NewKind(apperrors.KindSSEDecodeError, 502, "upstream stream ended without a terminator frame"))
			return
		}
		pw.Close()
	}()
	return pr, nil
}

// terminatorTrackingReader passes bytes through unchanged while watching
// for a "data: [DONE]" or terminal "event:" frame, the two shapes the
// teacher's Gemini→OpenAI stream transform emits on graceful completion.
type terminatorTrackingReader struct {
	r             io.Reader
	buf           bytes.Buffer
	sawTerminator bool
}

func (t *terminatorTrackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.inspect(p[:n])
	}
	return n, err
}

func (t *terminatorTrackingReader) inspect(chunk []byte) {
	t.buf.Write(chunk)
	for {
		line, rerr := t.buf.ReadBytes('\n')
		if rerr != nil {
			// put back the incomplete remainder
			t.buf.Reset()
			t.buf.Write(line)
			return
		}
		trimmed := bytes.TrimSpace(line)
		if bytes.Equal(trimmed, []byte("data: [DONE]")) || bytes.HasPrefix(trimmed, []byte("event: done")) || bytes.HasPrefix(trimmed, []byte("event: error")) {
			t.sawTerminator = true
		}
	}
}
