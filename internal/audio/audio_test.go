package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandMicrophoneStreamsStdout(t *testing.T) {
	requireShell(t)
	mic, err := NewCommandMicrophone(`sh -c 'printf abcd; sleep 5'`, Format{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)
	require.NoError(t, mic.Available())

	stream, err := mic.Acquire(context.Background())
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf))
	assert.Equal(t, 16000, stream.Format().SampleRate)

	_, err = mic.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, stream.Release())
	require.NoError(t, stream.Release())

	again, err := mic.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestCommandMicrophoneMissingProgram(t *testing.T) {
	mic, err := NewCommandMicrophone("definitely-not-a-recorder -q", Format{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)

	assert.ErrorIs(t, mic.Available(), ErrNoDevice)
	_, err = mic.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestCommandMicrophoneEarlyExitIsReported(t *testing.T) {
	requireShell(t)
	mic, err := NewCommandMicrophone(`sh -c 'echo "device busy" >&2; exit 1'`, Format{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)

	_, err = mic.Acquire(context.Background())
	require.ErrorIs(t, err, ErrNoDevice)
	assert.Contains(t, err.Error(), "device busy")

	// a failed acquisition does not leave the microphone marked busy
	_, err = mic.Acquire(context.Background())
	assert.NotErrorIs(t, err, ErrBusy)
}

func TestNewCommandMicrophoneRejectsEmpty(t *testing.T) {
	_, err := NewCommandMicrophone("   ", Format{})
	assert.Error(t, err)
}

func pcmRamp(n int) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*100-5000)))
	}
	return pcm
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := pcmRamp(160)
	f := Format{SampleRate: 16000, Channels: 1}

	data, err := EncodeWAV(pcm, f)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	got, gotFormat, err := DecodeWAV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, f, gotFormat)
	assert.Equal(t, pcm, got)
}

func TestEncodeWAVRejectsOddPayload(t *testing.T) {
	_, err := EncodeWAV([]byte{1, 2, 3}, Format{SampleRate: 16000, Channels: 1})
	assert.Error(t, err)
}

func TestFileMicrophone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	pcm := pcmRamp(320)
	require.NoError(t, WriteWAVFile(path, pcm, Format{SampleRate: 8000, Channels: 1}))

	mic := NewFileMicrophone(path)
	require.NoError(t, mic.Available())

	stream, err := mic.Acquire(context.Background())
	require.NoError(t, err)
	_, err = mic.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
	assert.Equal(t, 8000, stream.Format().SampleRate)
	require.NoError(t, stream.Release())

	assert.ErrorIs(t, NewFileMicrophone(filepath.Join(t.TempDir(), "none.wav")).Available(), ErrNoDevice)
}
