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

package http

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitCollapsesConsecutiveSeparators(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, split("a//b/c", "/"))
	require.Equal(t, []string(nil), split("", "/"))
	require.Equal(t, []string{"word=C++"}, split("word=C++", "&"))
}

func TestUrlDecodeValidAndInvalidEscapes(t *testing.T) {
	require.Equal(t, "hello world", urlDecode("hello%20world", false))
	require.Equal(t, "hello+world", urlDecode("hello+world", false))
	require.Equal(t, "hello world", urlDecode("hello+world", true))
	// Invalid hex passes through unchanged.
	require.Equal(t, "100%zz", urlDecode("100%zz", false))
	// Trailing partial escape passes through unchanged.
	require.Equal(t, "abc%2", urlDecode("abc%2", false))
}

func TestIsValidPathRejectsEscapingRoot(t *testing.T) {
	require.True(t, isValidPath("/a/b/../c"))
	require.True(t, isValidPath("/a/../b/../c"))
	require.False(t, isValidPath("/../a"))
	require.False(t, isValidPath("/a/../../b"))
}

func TestGetFileMimeKnownAndUnknownExtension(t *testing.T) {
	require.Equal(t, "text/html", getFileMime("/var/www/index.html"))
	require.Equal(t, "application/json", getFileMime("data.json"))
	require.Equal(t, "application/octet-stream", getFileMime("noext"))
	require.Equal(t, "application/octet-stream", getFileMime("file.unknownext"))
}

func TestStatusDescKnownAndUnknown(t *testing.T) {
	require.Equal(t, "OK", statusDesc(200))
	require.Equal(t, "Not Found", statusDesc(404))
	require.Equal(t, "Unknown", statusDesc(999))
}
