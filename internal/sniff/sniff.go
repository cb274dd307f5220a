// Package sniff determines a file's actual type from its leading bytes.
// Client-declared MIME types and filename extensions are untrustworthy, so
// admission decisions are made from content alone.
package sniff

import (
	"bytes"
	"encoding/hex"
	"sort"
)

type FileType struct {
	MIME        string
	Extension   string
	Description string
}

type signature struct {
	prefix []byte
	ft     FileType
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Plain prefix signatures, checked longest-first so specific signatures are
// never masked by shorter generic ones. Container formats (RIFF, ISO BMFF,
// EBML, ZIP) need more than a prefix and are resolved separately.
var signatures = []signature{
	{mustHex("D0CF11E0A1B11AE1"), FileType{"application/msword", "doc", "Legacy Word Document"}},
	{mustHex("7B5C727466"), FileType{"application/rtf", "rtf", "Rich Text Format"}},
	{mustHex("3C3F786D6C"), FileType{"image/svg+xml", "svg", "SVG Image"}},
	{mustHex("89504E47"), FileType{"image/png", "png", "PNG Image"}},
	{mustHex("47494638"), FileType{"image/gif", "gif", "GIF Image"}},
	{mustHex("25504446"), FileType{"application/pdf", "pdf", "PDF Document"}},
	{mustHex("49492A00"), FileType{"image/tiff", "tiff", "TIFF Image"}},
	{mustHex("4D4D002A"), FileType{"image/tiff", "tiff", "TIFF Image"}},
	{mustHex("664C6143"), FileType{"audio/flac", "flac", "FLAC Audio"}},
	{mustHex("57454256"), FileType{"text/vtt", "vtt", "WebVTT Subtitle"}},
	{mustHex("FFD8FF"), FileType{"image/jpeg", "jpg", "JPEG Image"}},
	{mustHex("494433"), FileType{"audio/mpeg", "mp3", "MP3 Audio"}},
	{mustHex("EFBBBF"), FileType{"text/plain", "txt", "UTF-8 Text"}},
	{mustHex("424D"), FileType{"image/bmp", "bmp", "Bitmap Image"}},
	{mustHex("7B"), FileType{"application/json", "json", "JSON Data"}},
	{mustHex("2C"), FileType{"text/csv", "csv", "CSV Data"}},
	{mustHex("31"), FileType{"application/x-subrip", "srt", "SubRip Subtitle"}},
}

func init() {
	sort.SliceStable(signatures, func(i, j int) bool {
		return len(signatures[i].prefix) > len(signatures[j].prefix)
	})
}

var (
	riffMagic = []byte("RIFF")
	ftypMagic = []byte("ftyp")
	ebmlMagic = mustHex("1A45DFA3")
	zipMagic  = mustHex("504B0304")
	mobiMagic = []byte("BOOKMOBI")
)

// Detect inspects the leading window of a file (callers pass up to 4 KiB)
// and returns its type. No match means the content is unidentifiable and
// must be rejected, never assumed to be text.
func Detect(prefix []byte) (FileType, bool) {
	if len(prefix) == 0 {
		return FileType{}, false
	}
	if ft, ok := detectContainer(prefix); ok {
		return ft, true
	}
	for _, s := range signatures {
		if bytes.HasPrefix(prefix, s.prefix) {
			return s.ft, true
		}
	}
	return FileType{}, false
}

func detectContainer(p []byte) (FileType, bool) {
	switch {
	case bytes.HasPrefix(p, riffMagic):
		return detectRIFF(p)
	case len(p) >= 12 && bytes.Equal(p[4:8], ftypMagic):
		return detectISOBMFF(p)
	case bytes.HasPrefix(p, ebmlMagic):
		return detectEBML(p)
	case bytes.HasPrefix(p, zipMagic):
		return detectZip(p)
	// Palm database header: the MOBI type identifier sits at offset 60.
	case len(p) >= 68 && bytes.Equal(p[60:68], mobiMagic):
		return FileType{"application/x-mobipocket-ebook", "mobi", "MOBI E-book"}, true
	}
	return FileType{}, false
}

// RIFF is shared by WAV, WebP and AVI; the form type at offset 8
// disambiguates.
func detectRIFF(p []byte) (FileType, bool) {
	if len(p) < 12 {
		return FileType{}, false
	}
	switch string(p[8:12]) {
	case "WAVE":
		return FileType{"audio/wav", "wav", "WAV Audio"}, true
	case "WEBP":
		return FileType{"image/webp", "webp", "WebP Image"}, true
	case "AVI ":
		return FileType{"video/x-msvideo", "avi", "AVI Video"}, true
	}
	return FileType{}, false
}

// ISO base media files (MP4, MOV, HEIC) declare a major brand in the ftyp
// box; the box length prefix alone cannot distinguish them.
func detectISOBMFF(p []byte) (FileType, bool) {
	switch string(p[8:12]) {
	case "qt  ":
		return FileType{"video/quicktime", "mov", "QuickTime Video"}, true
	case "heic", "heix", "hevc", "mif1":
		return FileType{"image/heic", "heic", "HEIC Image"}, true
	case "heif", "msf1":
		return FileType{"image/heif", "heif", "HEIF Image"}, true
	default:
		// mp42, isom, mp41, avc1 and friends
		return FileType{"video/mp4", "mp4", "MP4 Video"}, true
	}
}

// EBML carries both Matroska and WebM; the DocType string appears within
// the header.
func detectEBML(p []byte) (FileType, bool) {
	if bytes.Contains(p, []byte("matroska")) {
		return FileType{"video/x-matroska", "mkv", "Matroska Video"}, true
	}
	return FileType{"video/webm", "webm", "WebM Video"}, true
}

var (
	pptxPrefix = mustHex("504B030414000600")
	xlsxPrefix = mustHex("504B030414000800")
)

// ZIP containers: the longer Office signatures are tried first, then EPUB,
// which mandates an uncompressed "mimetype" entry at the start of the
// archive so its MIME string is visible in the leading window. Everything
// else is treated as a Word document, the dominant ZIP-based upload.
func detectZip(p []byte) (FileType, bool) {
	switch {
	case bytes.HasPrefix(p, pptxPrefix):
		return FileType{"application/vnd.openxmlformats-officedocument.presentationml.presentation", "pptx", "PowerPoint Presentation"}, true
	case bytes.HasPrefix(p, xlsxPrefix):
		return FileType{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", "Excel Spreadsheet"}, true
	case bytes.Contains(p, []byte("mimetypeapplication/epub+zip")):
		return FileType{"application/epub+zip", "epub", "EPUB E-book"}, true
	}
	return FileType{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "docx", "Word Document"}, true
}
