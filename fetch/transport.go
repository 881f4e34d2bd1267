package fetch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/SunilSharmaNP/ssm/progress"
)

// MediaInfo describes a transport-hosted file before downloading it.
type MediaInfo struct {
	FileName string
	Size     int64
	Duration float64
}

// MediaDownloader is the chat-transport side of fetching: it can inspect
// a media reference and stream it to local disk.
type MediaDownloader interface {
	MediaInfo(ctx context.Context, ref string) (MediaInfo, error)
	DownloadMedia(ctx context.Context, ref, dest string, progress func(current, total int64) error) error
}

// errCancelledSentinel aborts a transport download from inside the
// progress callback.
var errCancelledSentinel = errors.New("cancelled by user")

// FromTransport downloads a chat-attached file identified by ref into
// the request's work directory and returns the local path.
func (f *Fetcher) FromTransport(ctx context.Context, dl MediaDownloader, ref string, req Request) (string, error) {
	info, err := dl.MediaInfo(ctx, ref)
	if err != nil {
		return "", &FetchError{Kind: BadInput, Ref: ref, Err: err}
	}
	if info.Size > f.cfg.MaxFileSize {
		f.report(ctx, req, fmt.Sprintf(
			"❌ File Too Large!\nFile: %s\nSize: %s\nLimit: %s",
			info.FileName, progress.Size(info.Size), progress.Size(f.cfg.MaxFileSize)))
		return "", &FetchError{Kind: TooLarge, Ref: ref}
	}

	dir := req.destDir(f.cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create work dir")
	}

	name := info.FileName
	if name == "" {
		name = "media_" + time.Now().Format("20060102_150405") + ".bin"
	}
	dest := uniquePath(dir, name)

	start := time.Now()
	err = dl.DownloadMedia(ctx, ref, dest, func(current, total int64) error {
		if req.cancelled() {
			return errCancelledSentinel
		}
		f.report(ctx, req, downloadProgressText(name, current, total, start))
		return nil
	})
	if err != nil {
		os.Remove(dest)
		if errors.Is(err, errCancelledSentinel) {
			f.report(ctx, req, "🚫 Download Cancelled!")
			return "", &FetchError{Kind: Cancelled, Ref: ref}
		}
		return "", &FetchError{Kind: RetryExhausted, Ref: ref, Err: err}
	}

	if verr := f.verifySize(dest, info.Size); verr != nil {
		return "", verr
	}
	f.report(ctx, req, fmt.Sprintf(
		"✅ Download Complete! (%d/%d)\nFile: %s",
		req.Index, req.Total, name))
	return dest, nil
}
