// Package upload validates inbound audio uploads before anything touches disk.
package upload

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-audio/wav"
	"github.com/labstack/gommon/bytes"

	"github.com/hearbird/hearbird/internal/errors"
)

// DefaultMaxSize is the largest accepted upload (50 MiB)
const DefaultMaxSize int64 = 50 * 1024 * 1024

// Check names reported in ValidationError.Check
const (
	CheckFilename    = "filename"
	CheckExtension   = "extension"
	CheckContentType = "content_type"
	CheckSize        = "size"
	CheckSignature   = "signature"
	CheckWAVHeader   = "wav_header"
)

// AllowedExtensions are the accepted file extensions, lower case with dot
var AllowedExtensions = []string{".aac", ".m4a", ".mp3", ".mp4", ".ogg", ".wav", ".webm"}

// AllowedContentTypes are the accepted declared MIME types
var AllowedContentTypes = []string{
	"audio/mpeg",
	"audio/mp3",
	"audio/wav",
	"audio/wave",
	"audio/x-wav",
	"audio/webm",
	"audio/ogg",
	"audio/aac",
	"audio/m4a",
	"audio/x-m4a",
	"audio/mp4",
}

// Upload is an inbound file as received from the client. None of its
// fields are trusted until Validate succeeds.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.ReadSeeker
}

// Config holds validator limits
type Config struct {
	MaxSize   int64 // bytes, DefaultMaxSize when zero
	StrictWAV bool  // RIFF uploads must also decode as a WAVE header
}

// Validator checks uploads against the allow-lists and signature table
type Validator struct {
	maxSize   int64
	strictWAV bool
}

// NewValidator creates a Validator
func NewValidator(cfg Config) *Validator {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	return &Validator{maxSize: cfg.MaxSize, strictWAV: cfg.StrictWAV}
}

// MaxSize returns the configured size limit in bytes
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Validate runs every check in order and stops at the first failure. It
// returns *errors.ValidationError for rejected input. The content stream is
// rewound to the start before returning.
func (v *Validator) Validate(u *Upload) error {
	if u == nil || strings.TrimSpace(u.Filename) == "" {
		return errors.NewValidation(CheckFilename, "Missing audio filename")
	}

	ext := Extension(u.Filename)
	if !slices.Contains(AllowedExtensions, ext) {
		return errors.NewValidation(CheckExtension,
			"Unsupported file format: %s. Allowed formats: %s", ext, strings.Join(AllowedExtensions, ", "))
	}

	if !allowedContentType(u.ContentType) {
		return errors.NewValidation(CheckContentType, "Unsupported MIME type: %s", u.ContentType)
	}

	if u.Size > v.maxSize {
		return errors.NewValidation(CheckSize, "File too large: %d bytes. Maximum size: %s",
			u.Size, bytes.Format(v.maxSize))
	}
	if u.Size <= 0 {
		return errors.NewValidation(CheckSize, "File is empty")
	}

	if u.Content == nil {
		return errors.NewValidation(CheckSignature, "Invalid audio file format")
	}

	format, err := v.sniff(u.Content)
	if err != nil {
		return err
	}
	if format == "" {
		return errors.NewValidation(CheckSignature, "Invalid audio file format")
	}

	if format == "wav" && v.strictWAV {
		valid := wav.NewDecoder(u.Content).IsValidFile()
		if err := rewind(u.Content); err != nil {
			return err
		}
		if !valid {
			return errors.NewValidation(CheckWAVHeader, "Invalid WAV file")
		}
	}

	return nil
}

// sniff reads the leading bytes, restores the stream position and reports
// the detected container format
func (v *Validator) sniff(r io.ReadSeeker) (string, error) {
	if err := rewind(r); err != nil {
		return "", err
	}

	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", errors.New(err).
			Component("upload").
			Category(errors.CategoryFileIO).
			Context("operation", "read_upload_header").
			Build()
	}

	if err := rewind(r); err != nil {
		return "", err
	}

	return DetectFormat(header[:n]), nil
}

func rewind(r io.Seeker) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return errors.New(fmt.Errorf("failed to rewind upload: %w", err)).
			Component("upload").
			Category(errors.CategoryFileIO).
			Context("operation", "rewind_upload").
			Build()
	}
	return nil
}

// allowedContentType compares the media type, ignoring parameters such as
// "; codecs=opus" and letter case
func allowedContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return slices.Contains(AllowedContentTypes, mediaType)
}

// ContentTypeFor maps an allowed extension to the MIME type a browser would
// declare for it. Used when the caller has no declared type, such as the CLI.
func ContentTypeFor(name string) string {
	switch Extension(name) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".webm":
		return "audio/webm"
	case ".ogg":
		return "audio/ogg"
	case ".aac":
		return "audio/aac"
	case ".m4a":
		return "audio/x-m4a"
	case ".mp4":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the lower-cased extension of name, including the dot
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
