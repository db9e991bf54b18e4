package sse

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadFrames_SplitsOnBlankLines(t *testing.T) {
	input := "event: message_start\ndata: {\"a\":1}\n\n" +
		"data: line1\ndata: line2\n\n"

	var frames []Frame
	err := ReadFrames(strings.NewReader(input), func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	require.Equal(t, "message_start", frames[0].Event)
	require.Equal(t, `{"a":1}`, frames[0].Data)

	require.Equal(t, "line1\nline2", frames[1].Data)
}

func TestReadFrames_DropsCommentLines(t *testing.T) {
	input := ": this is a comment\ndata: payload\n\n"

	var frames []Frame
	err := ReadFrames(strings.NewReader(input), func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, "payload", frames[0].Data)
}

func TestReadFrames_FnErrorStopsScan(t *testing.T) {
	input := "data: one\n\ndata: two\n\n"
	stop := errors.New("stop")

	called := 0
	err := ReadFrames(strings.NewReader(input), func(f Frame) error {
		called++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, called)
}

func TestWriter_WriteEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec)
	require.NoError(t, err)

	err = sw.WriteEvent("content_block_delta", map[string]any{"type": "content_block_delta", "index": 0})
	require.NoError(t, err)

	body := rec.Body.String()
	require.Contains(t, body, "event: content_block_delta\n")
	require.Contains(t, body, `"index":0`)
	require.True(t, strings.HasSuffix(body, "\n\n"))

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestWriter_WriteRaw_AddsTrailingBlankLine(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, sw.WriteRaw([]byte("event: ping\ndata: {}")))

	require.Equal(t, "event: ping\ndata: {}\n\n", rec.Body.String())
}

func TestWriter_WriteError_OpenAICompatDone(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, sw.WriteError("upstream_error", "boom", true))

	body := rec.Body.String()
	require.Contains(t, body, `"type":"upstream_error"`)
	require.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestWriter_WriteError_WithoutDoneSentinel(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, sw.WriteError("internal", "oops", false))

	require.NotContains(t, rec.Body.String(), "[DONE]")
}
