package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/SunilSharmaNP/ssm/config"
	"github.com/SunilSharmaNP/ssm/ffmpeg"
	"github.com/SunilSharmaNP/ssm/probe"
	"github.com/SunilSharmaNP/ssm/progress"
)

// VideoSender is the chat-transport side of delivering a finished video.
type VideoSender interface {
	SendVideo(ctx context.Context, chatID, path, thumbnail, caption string, duration float64, progress func(current, total int64) error) error
}

// ErrTooLargeForTransport means the result exceeds what the transport
// accepts and should go to a file host instead.
var ErrTooLargeForTransport = errors.New("file exceeds transport size limit")

// errUploadCancelled aborts an in-flight upload once the user's cancel
// flag flips.
var errUploadCancelled = errors.New("upload cancelled by user")

// TransportUploader delivers finished videos back through the chat
// transport, with a generated mid-video thumbnail.
type TransportUploader struct {
	cfg      *config.Config
	log      *logrus.Entry
	reporter *progress.Reporter
	prober   *probe.Prober
	executor *ffmpeg.Executor
	sender   VideoSender
}

func NewTransportUploader(cfg *config.Config, log *logrus.Entry, reporter *progress.Reporter, prober *probe.Prober, executor *ffmpeg.Executor, sender VideoSender) *TransportUploader {
	return &TransportUploader{
		cfg:      cfg,
		log:      log,
		reporter: reporter,
		prober:   prober,
		executor: executor,
		sender:   sender,
	}
}

// UploadRequest describes one delivery.
type UploadRequest struct {
	ChatID    string
	Path      string
	Caption   string
	Thumbnail string // optional custom thumbnail, generated when empty
	Handle    progress.Handle
	Cancelled func() bool
}

// Upload sends the file at req.Path to the chat. Files over the transport
// limit return ErrTooLargeForTransport so the caller can fall back to a
// file host.
func (u *TransportUploader) Upload(ctx context.Context, req UploadRequest) error {
	info, err := os.Stat(req.Path)
	if err != nil {
		return errors.Wrap(err, "stat upload file")
	}
	if info.Size() > u.cfg.MaxFileSize {
		return ErrTooLargeForTransport
	}
	name := filepath.Base(req.Path)

	var duration float64
	if props, err := u.prober.Probe(ctx, req.Path); err == nil {
		duration = props.DurationSeconds
	} else {
		u.log.WithError(err).Warn("could not probe upload, sending without duration")
	}

	thumb := req.Thumbnail
	generated := false
	if thumb == "" && duration > 0 {
		if t, err := u.makeThumbnail(ctx, req.Path, duration); err == nil {
			thumb = t
			generated = true
		} else {
			u.log.WithError(err).Warn("thumbnail generation failed, sending without")
		}
	}
	if generated {
		defer os.Remove(thumb)
	}

	u.report(ctx, req, fmt.Sprintf(
		"📤 Starting Upload...\nFile: %s\nSize: %s",
		name, progress.Size(info.Size())))

	start := time.Now()
	err = u.sender.SendVideo(ctx, req.ChatID, req.Path, thumb, req.Caption, duration, func(current, total int64) error {
		if req.Cancelled != nil && req.Cancelled() {
			return errUploadCancelled
		}
		u.report(ctx, req, transportProgressText(name, current, total, start))
		return nil
	})
	if err != nil {
		if errors.Is(err, errUploadCancelled) {
			u.report(ctx, req, "🚫 Upload Cancelled!")
			return errors.Wrap(err, "upload")
		}
		u.report(ctx, req, fmt.Sprintf("❌ Upload Failed!\nFile: %s", name))
		return errors.Wrap(err, "send video")
	}

	u.report(ctx, req, fmt.Sprintf("✅ Upload Complete!\nFile: %s", name))
	return nil
}

// makeThumbnail grabs a frame from the middle of the video.
func (u *TransportUploader) makeThumbnail(ctx context.Context, path string, duration float64) (string, error) {
	thumb := strings.TrimSuffix(path, filepath.Ext(path)) + ".jpg"
	args := ffmpeg.ThumbnailArgs(path, thumb, duration/2)
	if err := u.executor.Run(ctx, args, ffmpeg.RunOptions{}); err != nil {
		os.Remove(thumb)
		return "", err
	}
	if _, err := os.Stat(thumb); err != nil {
		return "", err
	}
	return thumb, nil
}

func (u *TransportUploader) report(ctx context.Context, req UploadRequest, text string) {
	if req.Handle == nil || u.reporter == nil {
		return
	}
	u.reporter.Report(ctx, req.Handle, text)
}

func transportProgressText(name string, current, total int64, start time.Time) string {
	elapsed := time.Since(start)
	frac := 0.0
	if total > 0 {
		frac = float64(current) / float64(total)
	}
	status := "Uploading..."
	if total > 0 && current >= total {
		status = "Complete!"
	}
	return fmt.Sprintf(
		"📤 Uploading\nFile: %s\nSize: %s\n%s %.1f%%\nSpeed: %s | ETA: %s\nStatus: %s\n\nUse /cancel to stop this operation",
		name, progress.Size(total), progress.Bar(frac), frac*100,
		progress.Speed(current, elapsed), progress.ETA(current, total, elapsed), status)
}
