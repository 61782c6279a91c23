// Package dedup identifies duplicate document submissions by a normalized
// filename+size fingerprint.
package dedup

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// copySuffixRe matches the suffixes browsers and file managers append when a
// file is re-saved: "(1)", " 2", "-3", "_copy", " copy". Applied to the name
// stem (extension removed) until no suffix remains, so "report copy (2)"
// reduces to "report".
var copySuffixRe = regexp.MustCompile(`(?i)(?:[ _-]*\(\d+\)|[ _-]+(?:copy|\d+))$`)

// Key builds the dedup key for a file: percent-decoded, copy-suffix-stripped,
// whitespace-collapsed, lowercased name joined with the byte size as
// "name::size". Two files with equal keys are treated as the same document
// regardless of display name differences.
//
// Files without a usable name or size have no key (ok is false) and bypass
// duplicate detection entirely.
func Key(name string, size int64) (key string, ok bool) {
	if size <= 0 {
		return "", false
	}

	n := strings.TrimSpace(name)
	if decoded, err := url.QueryUnescape(n); err == nil {
		n = decoded
	}

	ext := path.Ext(n)
	stem := strings.TrimSuffix(n, ext)
	for {
		stripped := copySuffixRe.ReplaceAllString(stem, "")
		if stripped == stem {
			break
		}
		stem = stripped
	}

	stem = strings.Join(strings.Fields(stem), " ")
	if stem == "" {
		return "", false
	}

	return fmt.Sprintf("%s%s::%d", strings.ToLower(stem), strings.ToLower(ext), size), true
}
