package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/SunilSharmaNP/ssm/config"
	"github.com/SunilSharmaNP/ssm/progress"
)

// DirectLinkResolver turns a file-host page URL (gofile.io) into a direct
// download URL plus any headers the host requires.
type DirectLinkResolver interface {
	Resolve(ctx context.Context, pageURL string) (directURL string, header http.Header, err error)
}

// Request describes one input to materialize on local disk.
type Request struct {
	UserID     string
	SessionKey string
	URL        string

	// Dir is the directory downloads land in. Empty falls back to the
	// user's root working directory.
	Dir string

	// Index/Total position this file inside a multi-input batch, for
	// progress text only.
	Index int
	Total int

	Handle progress.Handle

	// Cancelled is polled between chunks. Nil means never cancelled.
	Cancelled func() bool
}

func (r *Request) cancelled() bool {
	return r.Cancelled != nil && r.Cancelled()
}

func (r *Request) destDir(cfg *config.Config) string {
	if r.Dir != "" {
		return r.Dir
	}
	return cfg.UserDir(r.UserID)
}

// Fetcher downloads job inputs into each job's working directory.
type Fetcher struct {
	cfg      *config.Config
	log      *logrus.Entry
	reporter *progress.Reporter
	resolver DirectLinkResolver
	client   *http.Client
}

func NewFetcher(cfg *config.Config, log *logrus.Entry, reporter *progress.Reporter, resolver DirectLinkResolver) *Fetcher {
	return &Fetcher{
		cfg:      cfg,
		log:      log,
		reporter: reporter,
		resolver: resolver,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: cfg.ReadTimeout,
			},
		},
	}
}

// LocalFile validates an already-local input and returns its path.
func (f *Fetcher) LocalFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &FetchError{Kind: BadInput, Ref: path, Err: err}
	}
	if info.IsDir() {
		return "", &FetchError{Kind: BadInput, Ref: path, Err: errors.New("is a directory")}
	}
	if info.Size() > f.cfg.MaxFileSize {
		return "", &FetchError{Kind: TooLarge, Ref: path}
	}
	return path, nil
}

// FromURL downloads req.URL into the request's work directory and
// returns the local path. gofile.io links are resolved to direct URLs
// first.
func (f *Fetcher) FromURL(ctx context.Context, req Request) (string, error) {
	if err := ValidateURL(req.URL, f.cfg.MaxURLLength); err != nil {
		return "", err
	}
	if req.cancelled() {
		return "", &FetchError{Kind: Cancelled, Ref: req.URL}
	}

	rawURL := req.URL
	var extraHeader http.Header
	if isGofileURL(rawURL) {
		if f.resolver == nil {
			return "", &FetchError{Kind: BadInput, Ref: rawURL, Err: errors.New("gofile links are not supported")}
		}
		f.report(ctx, req, "🔍 Processing gofile.io link...")
		direct, hdr, err := f.resolver.Resolve(ctx, rawURL)
		if err != nil {
			return "", &FetchError{Kind: BadInput, Ref: rawURL, Err: err}
		}
		rawURL = direct
		extraHeader = hdr
	}

	dir := req.destDir(f.cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create work dir")
	}

	name := FilenameFromURL(rawURL, "")

	// A HEAD probe gets us the size up front and the post-redirect name.
	totalSize := int64(0)
	if resp, err := f.head(ctx, rawURL, extraHeader); err == nil {
		totalSize = resp.ContentLength
		if final := resp.Request.URL.String(); final != rawURL {
			name = FilenameFromURL(final, name)
		}
		resp.Body.Close()
	} else {
		f.log.WithError(err).WithField("url", rawURL).Warn("HEAD probe failed, proceeding with GET")
	}
	if totalSize < 0 {
		totalSize = 0
	}
	if totalSize > f.cfg.MaxFileSize {
		return "", &FetchError{Kind: TooLarge, Ref: req.URL}
	}

	dest := uniquePath(dir, name)

	attempts := f.cfg.DownloadRetries
	if attempts <= 0 {
		attempts = 2
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		written, err := f.download(ctx, req, rawURL, extraHeader, dest, totalSize)
		if err == nil {
			if verr := f.verifySize(dest, totalSize); verr != nil {
				f.report(ctx, req, fmt.Sprintf("❌ Download Failed!\nFile: %s\nError: file size mismatch", name))
				return "", verr
			}
			f.report(ctx, req, fmt.Sprintf(
				"✅ URL Download Complete! (%d/%d)\nFile: %s\nSize: %s",
				req.Index, req.Total, name, progress.Size(written)))
			return dest, nil
		}

		var fe *FetchError
		if errors.As(err, &fe) {
			switch fe.Kind {
			case Cancelled:
				os.Remove(dest)
				f.report(ctx, req, "🚫 Download Cancelled!")
				return "", err
			case TooLarge:
				// Retrying cannot shrink the file.
				os.Remove(dest)
				f.report(ctx, req, fmt.Sprintf("❌ Download Failed!\nFile: %s\nError: file exceeds the size limit", name))
				return "", err
			}
		}

		lastErr = err
		f.log.WithError(err).WithFields(logrus.Fields{
			"url":     rawURL,
			"attempt": attempt,
		}).Warn("download attempt failed")
		if attempt < attempts {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				os.Remove(dest)
				return "", &FetchError{Kind: Cancelled, Ref: req.URL, Err: ctx.Err()}
			}
		}
	}

	os.Remove(dest)
	f.report(ctx, req, fmt.Sprintf("❌ Download Failed!\nFile: %s", name))
	return "", &FetchError{Kind: RetryExhausted, Ref: req.URL, Err: lastErr}
}

func (f *Fetcher) head(ctx context.Context, rawURL string, hdr http.Header) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdr {
		httpReq.Header[k] = vs
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, errors.Errorf("HEAD status %d", resp.StatusCode)
	}
	return resp, nil
}

// download performs a single GET attempt, streaming the body to dest in
// chunks with a cancellation check between each.
func (f *Fetcher) download(ctx context.Context, req Request, rawURL string, hdr http.Header, dest string, totalSize int64) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	for k, vs := range hdr {
		httpReq.Header[k] = vs
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, errors.Errorf("GET status %d", resp.StatusCode)
	}

	if totalSize == 0 && resp.ContentLength > 0 {
		totalSize = resp.ContentLength
	}
	if totalSize > f.cfg.MaxFileSize {
		return 0, &FetchError{Kind: TooLarge, Ref: req.URL}
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, errors.Wrap(err, "create output file")
	}
	defer out.Close()

	name := filepath.Base(dest)
	start := time.Now()
	buf := make([]byte, f.cfg.URLChunkSize)
	var written int64

	for {
		if req.cancelled() {
			return written, &FetchError{Kind: Cancelled, Ref: req.URL}
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, errors.Wrap(werr, "write chunk")
			}
			written += int64(n)
			if written > f.cfg.MaxFileSize {
				return written, &FetchError{Kind: TooLarge, Ref: req.URL}
			}
			f.report(ctx, req, downloadProgressText(name, written, totalSize, start))
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (f *Fetcher) verifySize(dest string, expected int64) error {
	info, err := os.Stat(dest)
	if err != nil {
		return errors.Wrap(err, "stat downloaded file")
	}
	actual := info.Size()
	if expected > 0 && abs64(actual-expected) > f.cfg.SizeTolerance {
		os.Remove(dest)
		return &FetchError{
			Kind: SizeMismatch,
			Ref:  dest,
			Err:  errors.Errorf("expected %d bytes, got %d", expected, actual),
		}
	}
	return nil
}

func (f *Fetcher) report(ctx context.Context, req Request, text string) {
	if req.Handle == nil || f.reporter == nil {
		return
	}
	f.reporter.Report(ctx, req.Handle, text)
}

// downloadProgressText builds the status message shown while bytes move.
func downloadProgressText(name string, current, total int64, start time.Time) string {
	elapsed := time.Since(start)
	if total <= 0 {
		return fmt.Sprintf(
			"📥 Downloading\nFile: %s\nDownloaded: %s\nSpeed: %s\n\nUse /cancel to stop this operation",
			name, progress.Size(current), progress.Speed(current, elapsed))
	}

	frac := float64(current) / float64(total)
	status := "Downloading..."
	if current >= total {
		status = "Complete!"
	}
	return fmt.Sprintf(
		"📥 Downloading\nFile: %s\nSize: %s\n%s %.1f%%\nSpeed: %s | ETA: %s\nStatus: %s\n\nUse /cancel to stop this operation",
		name, progress.Size(total), progress.Bar(frac), frac*100,
		progress.Speed(current, elapsed), progress.ETA(current, total, elapsed), status)
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
