package upload

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearbird/hearbird/internal/errors"
)

// makeWAV encodes a short 16-bit mono sawtooth as a real WAV file
func makeWAV(t *testing.T) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	const sampleRate = 48000
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	data := make([]int, sampleRate/10)
	for i := range data {
		data[i] = (i % 100) * 100
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return content
}

func newUpload(name, contentType string, content []byte) *Upload {
	return &Upload{
		Filename:    name,
		ContentType: contentType,
		Size:        int64(len(content)),
		Content:     bytes.NewReader(content),
	}
}

func requireValidation(t *testing.T, err error, check string) *errors.ValidationError {
	t.Helper()

	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	assert.Equal(t, check, ve.Check)
	return ve
}

func TestValidateAcceptsSupportedSignatures(t *testing.T) {
	t.Parallel()

	padding := bytes.Repeat([]byte{0x00}, 32)
	tests := []struct {
		name        string
		filename    string
		contentType string
		header      []byte
	}{
		{"mp3 frame sync", "song.mp3", "audio/mpeg", []byte{0xFF, 0xFB, 0x90, 0x64}},
		{"mp3 frame sync alt", "song.MP3", "audio/mp3", []byte{0xFF, 0xFA, 0x90, 0x64}},
		{"mp3 id3", "song.mp3", "audio/mpeg", []byte("ID3\x04\x00")},
		{"webm ebml", "clip.webm", "audio/webm;codecs=opus", []byte{0x1A, 0x45, 0xDF, 0xA3}},
		{"ogg", "clip.ogg", "audio/ogg", []byte("OggS\x00\x02")},
		{"m4a ftyp", "memo.m4a", "audio/x-m4a", []byte("\x00\x00\x00\x20ftypM4A ")},
		{"aac adts", "memo.aac", "audio/aac", []byte{0xFF, 0xF1, 0x50, 0x80}},
	}

	v := NewValidator(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			content := append(append([]byte{}, tt.header...), padding...)
			require.NoError(t, v.Validate(newUpload(tt.filename, tt.contentType, content)))
		})
	}
}

func TestValidateStrictWAV(t *testing.T) {
	t.Parallel()

	good := makeWAV(t)
	v := NewValidator(Config{StrictWAV: true})

	require.NoError(t, v.Validate(newUpload("recording.wav", "audio/wav", good)))

	// RIFF magic without a usable WAVE body
	bogus := append([]byte("RIFF\x24\x00\x00\x00"), bytes.Repeat([]byte{0x01}, 64)...)
	err := v.Validate(newUpload("recording.wav", "audio/x-wav", bogus))
	requireValidation(t, err, CheckWAVHeader)

	lenient := NewValidator(Config{StrictWAV: false})
	require.NoError(t, lenient.Validate(newUpload("recording.wav", "audio/x-wav", bogus)))
}

func TestValidateCheckOrder(t *testing.T) {
	t.Parallel()

	mp3 := append([]byte{0xFF, 0xFB}, bytes.Repeat([]byte{0x00}, 16)...)
	tests := []struct {
		name    string
		upload  *Upload
		check   string
		message string
	}{
		{
			name:    "missing filename",
			upload:  newUpload("", "audio/mpeg", mp3),
			check:   CheckFilename,
			message: "Missing audio filename",
		},
		{
			name:    "disallowed extension wins over bad mime",
			upload:  newUpload("notes.txt", "text/plain", mp3),
			check:   CheckExtension,
			message: "Unsupported file format: .txt. Allowed formats: .aac, .m4a, .mp3, .mp4, .ogg, .wav, .webm",
		},
		{
			name:    "no extension",
			upload:  newUpload("recording", "audio/mpeg", mp3),
			check:   CheckExtension,
		},
		{
			name:    "bad content type",
			upload:  newUpload("song.mp3", "application/octet-stream", mp3),
			check:   CheckContentType,
			message: "Unsupported MIME type: application/octet-stream",
		},
		{
			name:    "empty file",
			upload:  newUpload("song.mp3", "audio/mpeg", nil),
			check:   CheckSize,
			message: "File is empty",
		},
		{
			name:    "unknown signature",
			upload:  newUpload("song.mp3", "audio/mpeg", []byte("<?php echo 1; ?>")),
			check:   CheckSignature,
			message: "Invalid audio file format",
		},
		{
			name:    "shorter than any signature",
			upload:  newUpload("song.mp3", "audio/mpeg", []byte{0xFF}),
			check:   CheckSignature,
		},
	}

	v := NewValidator(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ve := requireValidation(t, v.Validate(tt.upload), tt.check)
			if tt.message != "" {
				assert.Equal(t, tt.message, ve.Message)
			}
		})
	}
}

func TestValidateSignatureIsAuthoritative(t *testing.T) {
	t.Parallel()

	// Every allowed extension/MIME pairing is rejected when the bytes lie
	payload := []byte("MZ\x90\x00\x03\x00\x00\x00\x04\x00")
	v := NewValidator(Config{})

	for _, ext := range AllowedExtensions {
		for _, contentType := range AllowedContentTypes {
			err := v.Validate(newUpload("file"+ext, contentType, payload))
			requireValidation(t, err, CheckSignature)
		}
	}
}

// countingReader records how often the content is read
type countingReader struct {
	io.ReadSeeker
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.ReadSeeker.Read(p)
}

func TestValidateOversizeRejectedBeforeReading(t *testing.T) {
	t.Parallel()

	const limit = 1024
	content := append([]byte{0xFF, 0xFB}, bytes.Repeat([]byte{0x00}, limit-1)...)
	reader := &countingReader{ReadSeeker: bytes.NewReader(content)}

	v := NewValidator(Config{MaxSize: limit})
	err := v.Validate(&Upload{
		Filename:    "song.mp3",
		ContentType: "audio/mpeg",
		Size:        limit + 1,
		Content:     reader,
	})

	ve := requireValidation(t, err, CheckSize)
	assert.True(t, strings.HasPrefix(ve.Message, "File too large: 1025 bytes"), ve.Message)
	assert.Zero(t, reader.reads)

	// exactly at the limit passes
	exact := newUpload("song.mp3", "audio/mpeg", content[:limit])
	require.NoError(t, v.Validate(exact))
}

func TestValidateRewindsStream(t *testing.T) {
	t.Parallel()

	content := append([]byte("OggS"), bytes.Repeat([]byte{0x07}, 100)...)
	reader := bytes.NewReader(content)
	_, err := reader.Seek(50, io.SeekStart)
	require.NoError(t, err)

	v := NewValidator(Config{})
	require.NoError(t, v.Validate(&Upload{
		Filename:    "clip.ogg",
		ContentType: "audio/ogg",
		Size:        int64(len(content)),
		Content:     reader,
	}))

	copied, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, copied)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "wav", DetectFormat([]byte("RIFF\x00\x00\x00\x00")))
	assert.Equal(t, "mp3", DetectFormat([]byte{0xFF, 0xF3, 0x00}))
	assert.Equal(t, "aac", DetectFormat([]byte{0xFF, 0xF9, 0x00}))
	assert.Equal(t, "mp4", DetectFormat([]byte("\x00\x00\x00\x18ftyp")))
	assert.Empty(t, DetectFormat([]byte{0xFF, 0xFF}))
	assert.Empty(t, DetectFormat(nil))
}

func TestSecureFilename(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for range 100 {
		name := SecureFilename("../../etc/passwd.WAV")
		assert.Regexp(t, `^audio_[0-9a-f]{32}\.wav$`, name)
		assert.NotContains(t, name, "passwd")
		seen[name] = struct{}{}
	}
	assert.Len(t, seen, 100)

	assert.True(t, strings.HasSuffix(SecureFilename("noext"), ".wav"))
}

func TestContentTypeForIsAllowed(t *testing.T) {
	t.Parallel()

	for _, ext := range AllowedExtensions {
		assert.True(t, allowedContentType(ContentTypeFor("x"+ext)), ext)
	}
	assert.False(t, allowedContentType(ContentTypeFor("x.exe")))
}
