package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/SunilSharmaNP/ssm/fetch"
	"github.com/SunilSharmaNP/ssm/ffmpeg"
	"github.com/SunilSharmaNP/ssm/probe"
	"github.com/SunilSharmaNP/ssm/progress"
	"github.com/SunilSharmaNP/ssm/session"
	"github.com/SunilSharmaNP/ssm/upload"
)

// fetchInputs materializes every input into the job's work directory,
// in order.
func (o *Orchestrator) fetchInputs(ctx context.Context, job *Job) ([]string, error) {
	paths := make([]string, 0, len(job.Inputs))
	for i, in := range job.Inputs {
		if o.isCancelled(job) {
			return nil, errCancelled
		}
		req := fetch.Request{
			UserID:     job.UserID,
			SessionKey: job.SessionKey,
			Dir:        o.workDir(job),
			URL:        in.Ref,
			Index:      i + 1,
			Total:      len(job.Inputs),
			Handle:     o.handle(job.ID),
			Cancelled:  func() bool { return o.isCancelled(job) },
		}

		var (
			path string
			err  error
		)
		switch in.Origin {
		case SourceURL:
			path, err = o.deps.Fetcher.FromURL(ctx, req)
		case SourceTransport:
			if o.deps.Downloader == nil {
				err = errors.New("transport downloads are not configured")
			} else {
				path, err = o.deps.Fetcher.FromTransport(ctx, o.deps.Downloader, in.Ref, req)
			}
		case SourceLocal:
			path, err = o.deps.Fetcher.LocalFile(in.Ref)
		default:
			err = errors.Errorf("unknown input origin %q", in.Origin)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "input %d/%d", i+1, len(job.Inputs))
		}
		paths = append(paths, path)
		o.setProgress(job, float64(i+1)/float64(len(job.Inputs)))
	}
	return paths, nil
}

// analyze probes every video input sequentially. A probe failure aborts
// the job; merging content we cannot analyze only fails later and worse.
// Audio and subtitle inputs are classified by extension and skipped.
func (o *Orchestrator) analyze(ctx context.Context, job *Job, paths []string) ([]*probe.MediaProperties, error) {
	props := make([]*probe.MediaProperties, len(paths))
	for i, p := range paths {
		if job.Inputs[i].Kind != KindVideo {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
		mp, err := o.deps.Prober.Probe(pctx, p)
		cancel()
		if err != nil {
			return nil, errors.Wrapf(err, "analyze input %d/%d", i+1, len(paths))
		}
		props[i] = mp
		o.setProgress(job, float64(i+1)/float64(len(paths)))
	}
	return props, nil
}

// merge joins the inputs into one file according to the job's mode.
// The user-chosen output name is reserved for the last stage, so a
// merge that feeds a post-encode writes an intermediate file.
func (o *Orchestrator) merge(ctx context.Context, job *Job, paths []string, props []*probe.MediaProperties) (string, error) {
	name := o.outputName(job, "merged")
	if job.wantsEncode() {
		name = fmt.Sprintf("merged_%d.mkv", time.Now().Unix())
	}
	out := filepath.Join(o.workDir(job), name)

	switch job.Mode {
	case ModeMergeVideoAudio:
		o.reportTo(ctx, job, "🎵 Merging audio track...")
		args := ffmpeg.MuxAudioArgs(paths[0], paths[1], out)
		return out, o.runFF(ctx, job, args, props[0].DurationSeconds, "Merging")
	case ModeMergeVideoSubtitle:
		o.reportTo(ctx, job, "💬 Adding subtitles...")
		args := ffmpeg.MuxSubtitleArgs(paths[0], paths[1], out)
		return out, o.runFF(ctx, job, args, props[0].DurationSeconds, "Merging")
	}
	return o.mergeVideos(ctx, job, paths, props, out)
}

// mergeVideos concatenates video inputs. Compatible inputs are joined
// without re-encoding; anything else is standardized to a common format
// first. A fast merge that fails or produces an unusable file falls
// back to the slow path.
func (o *Orchestrator) mergeVideos(ctx context.Context, job *Job, paths []string, props []*probe.MediaProperties, out string) (string, error) {
	total := totalKnownDuration(props)

	if compatible(props) {
		o.reportTo(ctx, job, "⚡ Starting fast merge (no re-encoding)...")
		err := o.concat(ctx, job, paths, out, total, "Merging")
		if err == nil {
			if verr := o.verify(ctx, out); verr == nil {
				return out, nil
			}
			err = errors.New("fast merge produced an unusable file")
		}
		if o.isCancelled(job) || isCancelErr(err) {
			return "", err
		}
		o.log.WithError(err).Warn("fast merge failed, falling back to standardization")
		os.Remove(out)
	}

	parts, generated, err := o.standardize(ctx, job, paths, props)
	if err != nil {
		return "", err
	}
	if err := o.concat(ctx, job, parts, out, total, "Merging"); err != nil {
		return "", err
	}
	for _, p := range generated {
		os.Remove(p)
	}
	return out, nil
}

// standardize re-encodes non-conforming inputs to shared target
// parameters so the results can be losslessly concatenated. Inputs
// already matching the target pass through untouched. It returns the
// ordered part list and the subset it generated.
func (o *Orchestrator) standardize(ctx context.Context, job *Job, paths []string, props []*probe.MediaProperties) (parts, generated []string, err error) {
	target := targetParams(props)
	dir := o.workDir(job)
	stamp := time.Now().Unix()

	for i, in := range paths {
		if o.isCancelled(job) {
			return nil, nil, errCancelled
		}
		if conformsToTarget(props[i], target) {
			parts = append(parts, in)
			continue
		}
		o.reportTo(ctx, job, fmt.Sprintf("🛠️ Standardizing video %d of %d...", i+1, len(paths)))

		dst := filepath.Join(dir, fmt.Sprintf("std_%d_%d.mkv", i, stamp))
		var dur float64
		if props[i] != nil {
			dur = props[i].DurationSeconds
		}
		args := ffmpeg.StandardizeArgs(in, dst, target)
		label := fmt.Sprintf("Standardizing %d/%d", i+1, len(paths))
		if err := o.runFF(ctx, job, args, dur, label); err != nil {
			return nil, nil, errors.Wrapf(err, "standardize input %d", i+1)
		}
		parts = append(parts, dst)
		generated = append(generated, dst)
	}
	return parts, generated, nil
}

// conformsToTarget reports whether a probed input already matches the
// standardization target closely enough to be stream-copied into the
// concat.
func conformsToTarget(p *probe.MediaProperties, t ffmpeg.TargetParams) bool {
	return p != nil &&
		p.Width == t.Width && p.Height == t.Height &&
		p.PixelFormat == t.PixelFormat &&
		p.AudioSampleRate == t.AudioSampleRate &&
		p.VideoCodec == "h264" && p.AudioCodec == "aac" &&
		math.Abs(p.FrameRate-t.FPS) <= 0.1
}

func (o *Orchestrator) concat(ctx context.Context, job *Job, paths []string, out string, totalDur float64, label string) error {
	list := filepath.Join(o.workDir(job), "concat_list.txt")
	if err := ffmpeg.WriteConcatList(list, paths); err != nil {
		return err
	}
	defer os.Remove(list)
	return o.runFF(ctx, job, ffmpeg.ConcatArgs(list, out), totalDur, label)
}

// encode re-encodes the merged file with the user's stored settings.
func (o *Orchestrator) encode(ctx context.Context, job *Job, in string) (string, error) {
	settings, err := o.deps.Settings.Get(job.UserID)
	if err != nil {
		return "", errors.Wrap(err, "load encode settings")
	}
	resolved, err := settings.Resolve()
	if err != nil {
		return "", errors.Wrap(err, "resolve encode settings")
	}

	var dur float64
	pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	if mp, err := o.deps.Prober.Probe(pctx, in); err == nil {
		dur = mp.DurationSeconds
	}
	cancel()

	out := filepath.Join(o.workDir(job), o.outputName(job, "encoded"))
	args := ffmpeg.EncodeArgs(in, out, resolved.EncodeParams())
	if err := o.runFF(ctx, job, args, dur, "Encoding"); err != nil {
		return "", err
	}
	os.Remove(in)
	return out, nil
}

// verify rejects results that are empty or carry no video stream.
func (o *Orchestrator) verify(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "verify output")
	}
	if info.Size() == 0 {
		return errors.New("output file is empty")
	}
	pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()
	mp, err := o.deps.Prober.Probe(pctx, path)
	if err != nil {
		return errors.Wrap(err, "verify output")
	}
	if !mp.HasVideo {
		return errors.New("output has no video stream")
	}
	return nil
}

// deliver hands the result to the requested destination. Transport
// delivery falls back to the link host when the file is too big.
func (o *Orchestrator) deliver(ctx context.Context, job *Job, path string) error {
	handle := o.handle(job.ID)

	if job.Dest == DestTransport && o.deps.Transport != nil {
		err := o.deps.Transport.Upload(ctx, upload.UploadRequest{
			ChatID:    job.ChatID,
			Path:      path,
			Caption:   filepath.Base(path),
			Handle:    handle,
			Cancelled: func() bool { return o.isCancelled(job) },
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, upload.ErrTooLargeForTransport) {
			return err
		}
		o.reportTo(ctx, job, "📦 File too large for direct delivery, uploading to GoFile...")
	}

	if o.deps.Gofile == nil {
		return errors.New("no upload destination available")
	}
	link, err := o.deps.Gofile.UploadFile(ctx, path, handle, func() bool { return o.isCancelled(job) })
	if err != nil {
		return err
	}
	o.mu.Lock()
	job.Result.DownloadPage = link
	o.mu.Unlock()
	o.reportTo(ctx, job, fmt.Sprintf("✅ Uploaded! Download: %s", link))
	return nil
}

// runFF executes one ffmpeg invocation with progress reporting and the
// process attached to the session for cancellation.
func (o *Orchestrator) runFF(ctx context.Context, job *Job, args []string, totalDur float64, label string) error {
	handle := o.handle(job.ID)
	start := time.Now()

	var proc *session.CmdProcess
	opts := ffmpeg.RunOptions{
		TotalDuration: totalDur,
		OnStart: func(cmd *exec.Cmd, done <-chan struct{}) {
			proc = session.NewCmdProcess(cmd, done)
			o.deps.Registry.AttachProcess(job.UserID, job.SessionKey, proc)
		},
		OnProgress: func(fraction float64) {
			o.setProgress(job, fraction)
			if handle == nil {
				return
			}
			text := fmt.Sprintf("🔄 %s...\n%s %.1f%%\nElapsed: %s\nUse /cancel to stop this operation",
				label, progress.Bar(fraction), fraction*100,
				time.Since(start).Round(time.Second))
			o.deps.Reporter.Report(ctx, handle, text)
		},
	}

	err := o.deps.Runner.Run(ctx, args, opts)
	if proc != nil {
		o.deps.Registry.DetachProcess(job.UserID, job.SessionKey, proc)
	}
	// A cancel can land right as the process exits cleanly; the user's
	// intent wins either way.
	if o.isCancelled(job) {
		return errCancelled
	}
	return err
}

func (o *Orchestrator) outputName(job *Job, fallback string) string {
	name := job.OutputName
	if name == "" {
		name = fmt.Sprintf("%s_%s", fallback, time.Now().Format("20060102_150405"))
	}
	if filepath.Ext(name) == "" {
		name += ".mkv"
	}
	return name
}

// compatible reports whether every input was probed and the set can be
// concatenated without re-encoding.
func compatible(props []*probe.MediaProperties) bool {
	for _, p := range props {
		if p == nil {
			return false
		}
	}
	return probe.CompatibleForFastMerge(props)
}

func totalKnownDuration(props []*probe.MediaProperties) float64 {
	var total float64
	for _, p := range props {
		if p != nil {
			total += p.DurationSeconds
		}
	}
	return total
}

// targetParams picks shared encode parameters for standardization: the
// most common width and height across the probed inputs, normalized
// frame rate, pixel format, and audio sample rate.
func targetParams(props []*probe.MediaProperties) ffmpeg.TargetParams {
	target := ffmpeg.TargetParams{
		Width:           1280,
		Height:          720,
		FPS:             30.0,
		PixelFormat:     "yuv420p",
		AudioSampleRate: 48000,
	}
	if w, ok := mostCommon(props, func(p *probe.MediaProperties) int { return p.Width }); ok {
		target.Width = w
	}
	if h, ok := mostCommon(props, func(p *probe.MediaProperties) int { return p.Height }); ok {
		target.Height = h
	}
	return target
}

// mostCommon returns the most frequent value among probed inputs,
// breaking ties toward the value seen first.
func mostCommon(props []*probe.MediaProperties, get func(*probe.MediaProperties) int) (int, bool) {
	counts := make(map[int]int)
	var order []int
	for _, p := range props {
		if p == nil || get(p) <= 0 {
			continue
		}
		v := get(p)
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best, bestCount := 0, 0
	for _, v := range order {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best, bestCount > 0
}
