package upload

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vidsum/vidsum-api/internal/store"
)

// sniffHeaderLen is how many leading bytes of a stream are buffered for
// magic-byte detection before the rest is streamed to disk.
const sniffHeaderLen = 3072

var extensionToFileType = map[string]store.FileType{
	"mp4": store.FileTypeVideo, "mkv": store.FileTypeVideo, "webm": store.FileTypeVideo,
	"mov": store.FileTypeVideo, "avi": store.FileTypeVideo, "flv": store.FileTypeVideo, "wmv": store.FileTypeVideo,

	"mp3": store.FileTypeAudio, "wav": store.FileTypeAudio, "flac": store.FileTypeAudio,
	"aac": store.FileTypeAudio, "m4a": store.FileTypeAudio, "ogg": store.FileTypeAudio, "wma": store.FileTypeAudio,

	"srt": store.FileTypeSubtitle, "vtt": store.FileTypeSubtitle, "ass": store.FileTypeSubtitle,
	"ssa": store.FileTypeSubtitle, "sub": store.FileTypeSubtitle,
}

var mimePrefixToFileType = map[string]store.FileType{
	"video/": store.FileTypeVideo,
	"audio/": store.FileTypeAudio,
}

// mime types for subtitle formats don't follow a clean "type/" prefix
// convention, so they're matched by exact value instead.
var subtitleMimeTypes = map[string]bool{
	"text/plain": true, "application/x-subrip": true, "text/vtt": true,
	"text/x-ssa": true, "application/octet-stream": true,
}

// extensionFileType derives the logical file_type from a sanitized
// extension, or "" if the extension is not on the allow-list.
func extensionFileType(ext string) store.FileType {
	return extensionToFileType[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// mimeFileType derives the logical file_type implied by a MIME type. A
// subtitle MIME is accepted only in combination with one of the
// recognized subtitle extensions, since subtitle MIME types are not
// reliably distinctive on their own.
func mimeFileType(mime string, ext string) store.FileType {
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	for prefix, ft := range mimePrefixToFileType {
		if strings.HasPrefix(mime, prefix) {
			return ft
		}
	}
	if subtitleMimeTypes[mime] && extensionFileType(ext) == store.FileTypeSubtitle {
		return store.FileTypeSubtitle
	}
	return ""
}

// sniffFileType inspects header, the leading bytes of an upload stream,
// and derives the file_type implied by its magic bytes, independent of
// any client-declared Content-Type header. Returns "" if the sniffed
// MIME type isn't one this service recognizes.
func sniffFileType(header []byte, ext string) store.FileType {
	if len(header) == 0 {
		return ""
	}
	return mimeFileType(mimetype.Detect(header).String(), ext)
}

const maxSanitizedNameLen = 200

var controlCharPattern = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// sanitizeName strips path separators and control characters from a
// declared upload filename, clamps its length, and rejects names that
// reduce to empty or to dot-only segments.
func sanitizeName(name string) (string, bool) {
	name = filepath.Base(filepath.Clean(name))
	name = controlCharPattern.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", false
	}
	if len(name) > maxSanitizedNameLen {
		name = name[:maxSanitizedNameLen]
	}
	return name, true
}
