package fetch

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// dangerousExtensions are file types we refuse to download outright.
var dangerousExtensions = []string{".exe", ".bat", ".cmd", ".scr", ".pif", ".sh"}

var (
	unsafeChars  = regexp.MustCompile(`[<>:"/\\|?*]`)
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

const maxFilenameLength = 200

// ValidateURL checks a user-supplied URL before any network activity. A
// non-nil result is always a *FetchError of kind BadInput.
func ValidateURL(rawURL string, maxLength int) error {
	if rawURL == "" {
		return &FetchError{Kind: BadInput, Ref: rawURL, Err: errors.New("empty URL")}
	}
	if maxLength > 0 && len(rawURL) > maxLength {
		return &FetchError{Kind: BadInput, Ref: rawURL, Err: errors.Errorf("URL longer than %d characters", maxLength)}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return &FetchError{Kind: BadInput, Ref: rawURL, Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return &FetchError{Kind: BadInput, Ref: rawURL, Err: errors.New("URL must have a scheme and host")}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &FetchError{Kind: BadInput, Ref: rawURL, Err: errors.Errorf("unsupported scheme %q", u.Scheme)}
	}

	lowerPath := strings.ToLower(u.Path)
	for _, ext := range dangerousExtensions {
		if strings.HasSuffix(lowerPath, ext) {
			return &FetchError{Kind: BadInput, Ref: rawURL, Err: errors.Errorf("refusing %s file", ext)}
		}
	}
	return nil
}

// isGofileURL reports whether the link points at gofile.io and needs
// resolving into a direct download URL first.
func isGofileURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	return host == "gofile.io" || strings.HasSuffix(host, ".gofile.io")
}

// FilenameFromURL derives a safe local filename from a URL. Unusable
// names fall back to the given fallback, or a timestamped default.
func FilenameFromURL(rawURL, fallback string) string {
	var name string
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}

	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	name = controlChars.ReplaceAllString(name, "")

	lower := strings.ToLower(name)
	if len(name) < 3 || name == "." || lower == "download" || lower == "file" || lower == "index" {
		if fallback != "" {
			return fallback
		}
		return "download_" + time.Now().Format("20060102_150405") + ".bin"
	}

	if !strings.Contains(name, ".") {
		name += ".bin"
	}

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		name = name[:maxFilenameLength-len(ext)] + ext
	}
	return name
}

// uniquePath returns dir/name, appending a _HHMMSS suffix to the stem if
// that path already exists.
func uniquePath(dir, name string) string {
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return dest
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, stem+time.Now().Format("_150405")+ext)
}
