package upload

import (
	"strings"

	"github.com/google/uuid"
)

// SecureFilename returns a server-generated name for storing an upload. Only
// the validated extension of the original name is kept, so client input
// can never influence the directory or base name.
func SecureFilename(original string) string {
	ext := Extension(original)
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		ext = ".wav"
	}
	return "audio_" + strings.ReplaceAll(uuid.NewString(), "-", "") + ext
}
