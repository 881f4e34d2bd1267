package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/SunilSharmaNP/ssm/config"
	"github.com/SunilSharmaNP/ssm/exceptions"
	"github.com/SunilSharmaNP/ssm/fetch"
	"github.com/SunilSharmaNP/ssm/ffmpeg"
	"github.com/SunilSharmaNP/ssm/probe"
	"github.com/SunilSharmaNP/ssm/progress"
	"github.com/SunilSharmaNP/ssm/session"
	"github.com/SunilSharmaNP/ssm/store"
	"github.com/SunilSharmaNP/ssm/upload"
)

// Prober inspects local media files.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.MediaProperties, error)
}

// Runner executes ffmpeg commands.
type Runner interface {
	Run(ctx context.Context, args []string, opts ffmpeg.RunOptions) error
}

// InputFetcher materializes job inputs on local disk.
type InputFetcher interface {
	FromURL(ctx context.Context, req fetch.Request) (string, error)
	FromTransport(ctx context.Context, dl fetch.MediaDownloader, ref string, req fetch.Request) (string, error)
	LocalFile(path string) (string, error)
}

// TransportSender delivers a finished file through the chat transport.
type TransportSender interface {
	Upload(ctx context.Context, req upload.UploadRequest) error
}

// LinkUploader pushes a finished file to a file host and returns a link.
// cancelled is polled during the transfer; nil means never cancelled.
type LinkUploader interface {
	UploadFile(ctx context.Context, path string, handle progress.Handle, cancelled func() bool) (string, error)
}

// Deps bundles everything an Orchestrator drives.
type Deps struct {
	Registry   *session.Registry
	Reporter   *progress.Reporter
	Prober     Prober
	Runner     Runner
	Fetcher    InputFetcher
	Downloader fetch.MediaDownloader
	Settings   store.Store
	Transport  TransportSender
	Gofile     LinkUploader
	Exceptions exceptions.Reporter
}

// Orchestrator owns the whole merge/encode pipeline: admission,
// execution, progress, cancellation, and delivery.
type Orchestrator struct {
	cfg  *config.Config
	log  *logrus.Entry
	deps Deps

	// admission is swappable for tests.
	admission func(*config.Config) error

	mu      sync.Mutex
	jobs    map[string]*Job
	handles map[string]progress.Handle
	active  map[sessionID]string // session -> job ID
	sem     chan struct{}
}

// sessionID keys the active-session map. Struct fields rather than a
// joined string, so users with lookalike names never share a slot.
type sessionID struct {
	userID     string
	sessionKey string
}

func NewOrchestrator(cfg *config.Config, log *logrus.Entry, deps Deps) *Orchestrator {
	if deps.Exceptions == nil {
		deps.Exceptions = &exceptions.NoopReporter{}
	}
	maxJobs := cfg.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 5
	}
	return &Orchestrator{
		cfg:       cfg,
		log:       log,
		deps:      deps,
		admission: checkResources,
		jobs:      make(map[string]*Job),
		handles:   make(map[string]progress.Handle),
		active:    make(map[sessionID]string),
		sem:       make(chan struct{}, maxJobs),
	}
}

// validateMode checks the input set against the mode: merges need at
// least two inputs led by a video, encode takes exactly one.
func validateMode(mode Mode, inputs []MediaRef) error {
	switch mode {
	case ModeEncode:
		if len(inputs) != 1 {
			return ErrBadMode
		}
	case ModeMergeVideoVideo:
		if len(inputs) < 2 {
			return ErrNoInputs
		}
		for _, in := range inputs {
			if in.Kind != KindVideo {
				return ErrBadMode
			}
		}
	case ModeMergeVideoAudio, ModeMergeVideoSubtitle:
		if len(inputs) != 2 {
			return ErrBadMode
		}
		want := KindAudio
		if mode == ModeMergeVideoSubtitle {
			want = KindSubtitle
		}
		if inputs[0].Kind != KindVideo || inputs[1].Kind != want {
			return ErrBadMode
		}
	default:
		return ErrBadMode
	}
	return nil
}

func sessionKeyed(userID, sessionKey string) sessionID {
	if sessionKey == "" {
		sessionKey = "default"
	}
	return sessionID{userID: userID, sessionKey: sessionKey}
}

// Submit admits a job and starts it in the background. It rejects rather
// than queues when the session is busy or the global cap is reached.
func (o *Orchestrator) Submit(req Request, handle progress.Handle) (Job, error) {
	if len(req.Inputs) == 0 {
		return Job{}, ErrNoInputs
	}
	for i := range req.Inputs {
		if req.Inputs[i].Kind == "" {
			req.Inputs[i].Kind = KindForRef(req.Inputs[i].Ref)
		}
	}
	if req.Mode == "" {
		req.Mode = inferMode(req.Inputs)
	}
	if err := validateMode(req.Mode, req.Inputs); err != nil {
		return Job{}, err
	}
	if req.Dest == "" {
		req.Dest = DestTransport
	}

	key := sessionKeyed(req.UserID, req.SessionKey)

	o.mu.Lock()
	if _, busy := o.active[key]; busy {
		o.mu.Unlock()
		return Job{}, ErrAlreadyRunning
	}
	select {
	case o.sem <- struct{}{}:
	default:
		o.mu.Unlock()
		return Job{}, ErrTooManyJobs
	}

	job := &Job{
		ID:         shortuuid.New(),
		UserID:     req.UserID,
		SessionKey: req.SessionKey,
		ChatID:     req.ChatID,
		Inputs:     req.Inputs,
		Mode:       req.Mode,
		PostEncode: req.PostEncode,
		Dest:       req.Dest,
		OutputName: req.OutputName,
		Status:     StatusQueued,
		CreatedAt:  time.Now(),
	}
	o.jobs[job.ID] = job
	o.handles[job.ID] = handle
	o.active[key] = job.ID
	o.mu.Unlock()

	if err := o.admission(o.cfg); err != nil {
		o.release(job, key)
		o.finish(job, StatusFailed, errors.Wrap(err, "insufficient system resources"))
		return o.snapshot(job.ID)
	}

	o.deps.Registry.BeginSession(req.UserID, req.SessionKey)
	go o.run(job, key)

	return o.snapshot(job.ID)
}

// Job returns a snapshot of one tracked job.
func (o *Orchestrator) Job(id string) (Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

// Jobs returns snapshots of every tracked job.
func (o *Orchestrator) Jobs() []Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, *j)
	}
	return out
}

// CancelJob cancels one job by ID.
func (o *Orchestrator) CancelJob(id string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if j.Status.IsTerminal() {
		return nil
	}
	o.deps.Registry.Cancel(j.UserID, j.SessionKey)
	return nil
}

// RequestCancel sweeps every active session of a user: flips cancel
// flags, terminates processes, and clears the user's working directory.
func (o *Orchestrator) RequestCancel(userID string) CancelSummary {
	var sum CancelSummary

	o.mu.Lock()
	for _, j := range o.jobs {
		if j.UserID == userID && !j.Status.IsTerminal() {
			sum.QueueCleared++
		}
	}
	o.mu.Unlock()

	sum.ProcessesTerminated = o.deps.Registry.CancelAll(userID)

	dir := o.cfg.UserDir(userID)
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			sum.FilesCleaned++
		}
		return nil
	})
	if err := os.RemoveAll(dir); err != nil {
		o.log.WithError(err).WithField("dir", dir).Warn("cancel cleanup failed")
	}
	return sum
}

func (o *Orchestrator) snapshot(id string) (Job, error) {
	return o.Job(id)
}

func (o *Orchestrator) release(job *Job, key sessionID) {
	o.mu.Lock()
	delete(o.active, key)
	delete(o.handles, job.ID)
	o.mu.Unlock()
	<-o.sem
}

// run drives one job through every stage. It never returns an error;
// failures land on the job itself.
func (o *Orchestrator) run(job *Job, key sessionID) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("job panic: %v", r)
			o.deps.Exceptions.ReportException(err)
			o.log.WithField("job", job.ID).Error(err)
			o.finish(job, StatusFailed, err)
		}
		o.cleanup(job)
		o.deps.Registry.EndSession(job.UserID, job.SessionKey)
		o.release(job, key)
	}()

	o.setStarted(job)

	resultPath, err := o.execute(ctx, job)
	if err != nil {
		o.cleanup(job)
		if o.isCancelled(job) || isCancelErr(err) {
			o.reportTo(ctx, job, "🚫 Operation Cancelled!")
			o.finish(job, StatusCancelled, err)
			return
		}
		o.reportTo(ctx, job, fmt.Sprintf("❌ Failed: %s", userMessage(err)))
		o.deps.Exceptions.ReportException(err)
		o.finish(job, StatusFailed, err)
		return
	}

	o.setResultSize(job, resultPath)
	o.transition(job, StatusFinalizing, "cleaning up")
	o.cleanup(job)
	o.reportTo(ctx, job, "✅ All Done! Operation Complete!")
	o.finish(job, StatusCompleted, nil)
}

// execute runs the stage sequence and returns the delivered result path.
func (o *Orchestrator) execute(ctx context.Context, job *Job) (string, error) {
	if err := os.MkdirAll(o.workDir(job), 0o755); err != nil {
		return "", errors.Wrap(err, "create work dir")
	}

	o.transition(job, StatusFetching, "fetching inputs")
	paths, err := o.fetchInputs(ctx, job)
	if err != nil {
		return "", err
	}

	o.transition(job, StatusAnalyzing, "analyzing inputs")
	props, err := o.analyze(ctx, job, paths)
	if err != nil {
		return "", err
	}
	if o.isCancelled(job) {
		return "", errCancelled
	}

	current := paths[0]
	if len(paths) > 1 {
		o.transition(job, StatusMerging, "merging")
		current, err = o.merge(ctx, job, paths, props)
		if err != nil {
			return "", err
		}
	}

	if job.wantsEncode() {
		o.transition(job, StatusEncoding, "encoding")
		current, err = o.encode(ctx, job, current)
		if err != nil {
			return "", err
		}
	}

	o.transition(job, StatusVerifying, "verifying output")
	if err := o.verify(ctx, current); err != nil {
		return "", err
	}
	if o.isCancelled(job) {
		return "", errCancelled
	}

	o.transition(job, StatusUploading, "uploading")
	if err := o.deliver(ctx, job, current); err != nil {
		return "", err
	}
	return current, nil
}

var errCancelled = errors.New("cancelled by user")

func isCancelErr(err error) bool {
	if errors.Is(err, errCancelled) || errors.Is(err, context.Canceled) {
		return true
	}
	var fe *fetch.FetchError
	return errors.As(err, &fe) && fe.Kind == fetch.Cancelled
}

// userMessage maps internal failures to text fit for a chat message.
func userMessage(err error) string {
	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fetch.BadInput:
			return "one of the inputs is invalid"
		case fetch.TooLarge:
			return "an input exceeds the size limit"
		case fetch.SizeMismatch:
			return "a download arrived incomplete, please try again"
		case fetch.RetryExhausted:
			return "a download kept failing, please try again later"
		}
	}
	var pe *probe.ProbeError
	if errors.As(err, &pe) {
		return "an input could not be analyzed as video"
	}
	var ee *ffmpeg.ExecError
	if errors.As(err, &ee) {
		return "video processing failed"
	}
	return err.Error()
}

func (o *Orchestrator) isCancelled(job *Job) bool {
	return o.deps.Registry.IsCancelled(job.UserID, job.SessionKey)
}

func (o *Orchestrator) handle(jobID string) progress.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handles[jobID]
}

func (o *Orchestrator) reportTo(ctx context.Context, job *Job, text string) {
	h := o.handle(job.ID)
	if h == nil {
		return
	}
	o.deps.Reporter.Report(ctx, h, text)
}

// transition moves the job to the next status, resetting stage progress.
func (o *Orchestrator) transition(job *Job, to Status, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !isValidTransition(job.Status, to) {
		o.log.WithFields(logrus.Fields{
			"job": job.ID, "from": job.Status, "to": to,
		}).Warn("skipping invalid status transition")
		return
	}
	job.Status = to
	job.Stage = stage
	job.Fraction = 0
}

// setProgress records stage progress, keeping the fraction monotonic
// within the stage.
func (o *Orchestrator) setProgress(job *Job, fraction float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fraction > 1 {
		fraction = 1
	}
	if fraction > job.Fraction {
		job.Fraction = fraction
	}
}

func (o *Orchestrator) setStarted(job *Job) {
	o.mu.Lock()
	job.StartedAt = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) setResultSize(job *Job, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	o.mu.Lock()
	job.Result.Path = path
	job.Result.SizeBytes = info.Size()
	o.mu.Unlock()
}

func (o *Orchestrator) finish(job *Job, status Status, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job.Status.IsTerminal() {
		return
	}
	job.Status = status
	job.CompletedAt = time.Now()
	if err != nil {
		job.Error = err.Error()
	}
}

// workDir is the job's own scratch directory. Keeping each job under
// its own subdirectory lets two sessions of one user run side by side.
func (o *Orchestrator) workDir(job *Job) string {
	return filepath.Join(o.cfg.UserDir(job.UserID), job.ID)
}

// cleanup removes the job's working directory and its progress state.
// Anything worth keeping has been uploaded before this runs. The user
// directory itself goes too once its last job is gone.
func (o *Orchestrator) cleanup(job *Job) {
	h := o.handle(job.ID)
	if h != nil {
		o.deps.Reporter.Forget(h)
	}
	dir := o.workDir(job)
	if err := os.RemoveAll(dir); err != nil {
		o.log.WithError(err).WithField("dir", dir).Warn("cleanup failed")
	}
	os.Remove(o.cfg.UserDir(job.UserID))
}
