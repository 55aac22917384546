// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package http implements an HTTP/1.1 protocol layer on top of a
// reactor.Server connection: an incremental request parser driven by a
// state machine, regex-routed method tables, and static file serving.
// Grounded on original_source/source/http/http.hpp.
package http

import (
	"os"
	"strings"
)

// split divides src on sep, collapsing consecutive separators so that no
// empty segment is ever produced — the original's Util::Split skips a
// match found at the current offset instead of emitting "".
func split(src, sep string) []string {
	var result []string
	offset := 0
	for offset < len(src) {
		pos := strings.Index(src[offset:], sep)
		if pos < 0 {
			result = append(result, src[offset:])
			break
		}
		pos += offset
		if pos == offset {
			offset += len(sep)
			continue
		}
		result = append(result, src[offset:pos])
		offset = pos + len(sep)
	}
	return result
}

// hexToI returns the numeric value of a hex digit, or -1 if c is not one.
func hexToI(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}

// urlEncode percent-encodes url, leaving unreserved characters untouched.
// convertSpaceToPlus replaces ' ' with '+' instead of "%20".
func urlEncode(url string, convertSpaceToPlus bool) string {
	var b strings.Builder
	for i := 0; i < len(url); i++ {
		c := url[i]
		switch {
		case c == '.' || c == '-' || c == '_' || c == '~' || isAlnum(c):
			b.WriteByte(c)
		case c == ' ' && convertSpaceToPlus:
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(hexByte(c)))
		}
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func hexByte(c byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[c>>4], digits[c&0xf]})
}

// urlDecode percent-decodes url. A '%' escape only decodes when followed by
// two valid hex digits; otherwise the '%' (and any trailing partial escape)
// passes through unchanged — stricter than the original, which never
// validates the hex digits, but identical on every well-formed input.
func urlDecode(url string, convertSpaceToPlus bool) string {
	var b strings.Builder
	for i := 0; i < len(url); i++ {
		c := url[i]
		switch {
		case c == '+' && convertSpaceToPlus:
			b.WriteByte(' ')
		case c == '%' && i+2 < len(url):
			v1, v2 := hexToI(url[i+1]), hexToI(url[i+2])
			if v1 >= 0 && v2 >= 0 {
				b.WriteByte(byte(v1*16 + v2))
				i += 2
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// isValidPath rejects any path whose ".." segments would walk above its
// root, by tracking directory depth rather than relying on filepath.Clean.
func isValidPath(path string) bool {
	depth := 0
	for _, seg := range split(path, "/") {
		if seg == ".." {
			depth--
			if depth < 0 {
				return false
			}
		} else {
			depth++
		}
	}
	return true
}

func isDirectory(name string) bool {
	fi, err := os.Stat(name)
	return err == nil && fi.IsDir()
}

func isRegular(name string) bool {
	fi, err := os.Stat(name)
	return err == nil && fi.Mode().IsRegular()
}

// getFileMime returns the MIME type registered for filename's extension,
// or the generic octet-stream type if none is registered.
func getFileMime(filename string) string {
	ext := extOf(filename)
	if mime, ok := mimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

func extOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return ""
	}
	return filename[idx:]
}

// statusDesc returns the reason phrase for code, or "Unknown" if
// unregistered.
func statusDesc(code int) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	return "Unknown"
}
