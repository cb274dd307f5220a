// Package operation holds the closed table of supported conversions. Every
// admission decision — accepted input types, output extension, routing —
// derives from this table, and it is validated once at startup so an
// inconsistent entry fails the process instead of a request.
package operation

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// KeepInputExt marks operations whose output keeps the source container
// (compressors, croppers, upscalers).
const KeepInputExt = "*"

type Spec struct {
	// OutputExt is the extension of the produced artifact, or KeepInputExt.
	OutputExt string
	// Accepts is the set of sniffed MIME types admissible for this operation.
	Accepts []string
}

var registry = map[string]Spec{
	// Documents
	"pdf-to-docx": {"docx", []string{"application/pdf"}},
	"docx-to-pdf": {"pdf", []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"}},
	"doc-to-pdf":  {"pdf", []string{"application/msword"}},
	"rtf-to-pdf":  {"pdf", []string{"application/rtf"}},
	"pdf-to-txt":  {"txt", []string{"application/pdf"}},
	"txt-to-pdf":  {"pdf", []string{"text/plain"}},
	"pptx-to-pdf": {"pdf", []string{"application/vnd.openxmlformats-officedocument.presentationml.presentation"}},
	"pdf-compress": {"pdf", []string{"application/pdf"}},
	"epub-to-mobi": {"mobi", []string{"application/epub+zip"}},
	"mobi-to-epub": {"epub", []string{"application/x-mobipocket-ebook"}},

	// Images
	"jpg-to-png":        {"png", []string{"image/jpeg"}},
	"png-to-jpg":        {"jpg", []string{"image/png"}},
	"heic-to-jpg":       {"jpg", []string{"image/heic", "image/heif"}},
	"webp-to-jpg":       {"jpg", []string{"image/webp"}},
	"svg-to-png":        {"png", []string{"image/svg+xml"}},
	"bmp-to-jpg":        {"jpg", []string{"image/bmp"}},
	"tiff-to-jpg":       {"jpg", []string{"image/tiff"}},
	"jpg-to-webp":       {"webp", []string{"image/jpeg"}},
	"png-to-webp":       {"webp", []string{"image/png"}},
	"remove-background": {"png", []string{"image/jpeg", "image/png", "image/webp"}},
	"image-upscaler":    {KeepInputExt, []string{"image/jpeg", "image/png", "image/webp"}},
	"image-compress":    {KeepInputExt, []string{"image/jpeg", "image/png", "image/webp", "image/gif"}},
	"add-watermark":     {KeepInputExt, []string{"image/jpeg", "image/png", "application/pdf"}},
	"crop-image":        {KeepInputExt, []string{"image/jpeg", "image/png", "image/webp"}},
	"resize-image":      {KeepInputExt, []string{"image/jpeg", "image/png", "image/webp"}},

	// Audio
	"mp4-to-mp3":  {"mp3", []string{"video/mp4"}},
	"wav-to-mp3":  {"mp3", []string{"audio/wav"}},
	"mp3-to-wav":  {"wav", []string{"audio/mpeg"}},
	"aac-to-mp3":  {"mp3", []string{"audio/mpeg"}},
	"flac-to-mp3": {"mp3", []string{"audio/flac"}},

	// Video
	"mov-to-mp4":     {"mp4", []string{"video/quicktime"}},
	"avi-to-mp4":     {"mp4", []string{"video/x-msvideo"}},
	"mkv-to-mp4":     {"mp4", []string{"video/x-matroska"}},
	"mp4-to-gif":     {"gif", []string{"video/mp4"}},
	"gif-to-mp4":     {"mp4", []string{"image/gif"}},
	"video-compress": {KeepInputExt, []string{"video/mp4", "video/quicktime", "video/x-msvideo", "video/webm"}},

	// Data
	"xlsx-to-csv": {"csv", []string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}},
	"csv-to-xlsx": {"xlsx", []string{"text/csv"}},
	"json-to-csv": {"csv", []string{"application/json"}},
	"srt-to-vtt":  {"vtt", []string{"application/x-subrip"}},
}

// Lookup returns the spec for a converter name. Unknown operations are
// rejected at admission rather than silently routed somewhere.
func Lookup(name string) (Spec, bool) {
	s, ok := registry[name]
	return s, ok
}

// Names returns every registered operation, for exhaustive tests and
// startup validation.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// OutputExtFor resolves the output extension for an operation given the
// uploaded filename. Keep-input operations fall back to "bin" when the
// upload carries no extension.
func OutputExtFor(name, inputFileName string) (string, bool) {
	s, ok := registry[name]
	if !ok {
		return "", false
	}
	if s.OutputExt != KeepInputExt {
		return s.OutputExt, true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(inputFileName), "."))
	if ext == "" {
		ext = "bin"
	}
	return ext, true
}

// Validate checks the registry for entries that would misbehave at request
// time. Called once from main.
func Validate() error {
	for name, s := range registry {
		if name == "" {
			return errors.New("operation with empty name")
		}
		if s.OutputExt == "" {
			return errors.Errorf("operation %q has no output extension", name)
		}
		if len(s.Accepts) == 0 {
			return errors.Errorf("operation %q accepts no input types", name)
		}
		for _, m := range s.Accepts {
			if !strings.Contains(m, "/") {
				return errors.Errorf("operation %q accepts malformed MIME type %q", name, m)
			}
		}
	}
	return nil
}
