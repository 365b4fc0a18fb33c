package sniffer

import (
	"bytes"
	"net/textproto"
	"regexp"
	"strings"
)

const (
	MIMEJPEG    = "image/jpeg"
	MIMEJPG     = "image/jpg"
	MIMEPNG     = "image/png"
	MIMEGIF     = "image/gif"
	MIMEWEBP    = "image/webp"
	MIMESVG     = "image/svg+xml"
	headLimit   = 16
	svgProbeLen = 1024
)

var (
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
)

// signatures lists the accepted prefixes per declared type. SVG is text
// and is sniffed separately.
var signatures = map[string][][]byte{
	MIMEJPEG: {jpegMagic},
	MIMEJPG:  {jpegMagic},
	MIMEPNG:  {pngMagic},
	MIMEGIF:  {[]byte("GIF87a"), []byte("GIF89a")},
	MIMEWEBP: {[]byte("RIFF")},
}

var extensions = map[string]string{
	MIMEJPEG: "jpg",
	MIMEJPG:  "jpg",
	MIMEPNG:  "png",
	MIMEGIF:  "gif",
	MIMEWEBP: "webp",
	MIMESVG:  "svg",
}

var (
	svgTagPattern    = regexp.MustCompile(`(?i)<svg[\s>]`)
	xmlPrologPattern = regexp.MustCompile(`<\?xml`)
)

// Allowed reports whether mime is on the upload allow-list.
func Allowed(mime string) bool {
	_, ok := extensions[mime]
	return ok
}

// Extension maps an allowed type to the extension used in storage keys.
func Extension(mime string) (string, bool) {
	ext, ok := extensions[mime]
	return ext, ok
}

// Validate reports whether data starts the way the declared type says it
// should. Only prefixes are checked, never the full structure.
func Validate(data []byte, mime string) bool {
	if mime == MIMESVG {
		return isSVG(data)
	}

	candidates, ok := signatures[mime]
	if !ok {
		return false
	}

	head := data
	if len(head) > headLimit {
		head = head[:headLimit]
	}
	for _, magic := range candidates {
		if len(head) >= len(magic) && bytes.Equal(head[:len(magic)], magic) {
			return true
		}
	}
	return false
}

func isSVG(data []byte) bool {
	if len(data) > svgProbeLen {
		data = data[:svgProbeLen]
	}
	text := strings.ToValidUTF8(string(data), "�")
	return svgTagPattern.MatchString(text) || xmlPrologPattern.MatchString(text)
}

// DeclaredType returns the media type a multipart part claims, without
// parameters and lower-cased.
func DeclaredType(header textproto.MIMEHeader) string {
	contentType := header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
