package upload

import "bytes"

// HeaderSize is the number of leading bytes inspected for a format signature
const HeaderSize = 8

// signature is a magic byte sequence expected at a fixed offset
type signature struct {
	format string
	offset int
	magic  []byte
	mask   []byte // optional per-byte mask applied before comparison
}

// signatures lists the container formats the analyzer can decode. Order
// matters only for reporting the detected format name.
var signatures = []signature{
	{format: "wav", magic: []byte("RIFF")},
	{format: "mp3", magic: []byte("ID3")},
	// MPEG audio frame sync: 11 set bits, then version/layer bits
	{format: "mp3", magic: []byte{0xFF, 0xFB}},
	{format: "mp3", magic: []byte{0xFF, 0xFA}},
	{format: "mp3", magic: []byte{0xFF, 0xF3}},
	{format: "mp3", magic: []byte{0xFF, 0xF2}},
	// ADTS AAC sync word, protection bit either way
	{format: "aac", magic: []byte{0xFF, 0xF0}, mask: []byte{0xFF, 0xF6}},
	{format: "webm", magic: []byte{0x1A, 0x45, 0xDF, 0xA3}},
	{format: "ogg", magic: []byte("OggS")},
	// ISO base media (m4a, mp4): box size then "ftyp"
	{format: "mp4", offset: 4, magic: []byte("ftyp")},
}

// DetectFormat returns the container format whose signature matches header,
// or "" when none does.
func DetectFormat(header []byte) string {
	for _, sig := range signatures {
		if sig.matches(header) {
			return sig.format
		}
	}
	return ""
}

func (s signature) matches(header []byte) bool {
	end := s.offset + len(s.magic)
	if len(header) < end {
		return false
	}
	window := header[s.offset:end]
	if s.mask == nil {
		return bytes.Equal(window, s.magic)
	}
	for i := range s.magic {
		if window[i]&s.mask[i] != s.magic[i] {
			return false
		}
	}
	return true
}
