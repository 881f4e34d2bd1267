package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/SunilSharmaNP/ssm/progress"
)

// GofileClient talks to the gofile.io API: uploading results and
// resolving share links into direct download URLs.
type GofileClient struct {
	APIURL  string
	Token   string
	Retries int

	log      *logrus.Entry
	reporter *progress.Reporter
	client   *http.Client
}

func NewGofileClient(apiURL, token string, retries int, log *logrus.Entry, reporter *progress.Reporter) *GofileClient {
	if apiURL == "" {
		apiURL = "https://api.gofile.io"
	}
	if retries <= 0 {
		retries = 5
	}
	return &GofileClient{
		APIURL:   strings.TrimRight(apiURL, "/"),
		Token:    token,
		Retries:  retries,
		log:      log,
		reporter: reporter,
		client:   &http.Client{},
	}
}

type gofileResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// getServer asks gofile which server to upload to and picks one at
// random, as the API docs suggest.
func (c *GofileClient) getServer(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.Retries; attempt++ {
		name, err := c.fetchServer(ctx)
		if err == nil {
			return name, nil
		}
		lastErr = err
		c.log.WithError(err).WithField("attempt", attempt).Warn("gofile server lookup failed")
		if attempt < c.Retries {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", errors.Wrap(lastErr, "get gofile server")
}

func (c *GofileClient) fetchServer(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL+"/servers", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed gofileResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "decode servers response")
	}
	if parsed.Status != "ok" {
		return "", errors.Errorf("gofile status %q", parsed.Status)
	}

	var data struct {
		Servers []struct {
			Name string `json:"name"`
		} `json:"servers"`
	}
	if err := json.Unmarshal(parsed.Data, &data); err != nil {
		return "", errors.Wrap(err, "decode servers data")
	}
	if len(data.Servers) == 0 {
		return "", errors.New("no gofile servers available")
	}
	return data.Servers[rand.Intn(len(data.Servers))].Name, nil
}

// UploadFile streams path to gofile and returns the public download page
// URL. handle, when non-nil, receives progress updates. cancelled is
// polled between chunks; nil means never cancelled.
func (c *GofileClient) UploadFile(ctx context.Context, path string, handle progress.Handle, cancelled func() bool) (string, error) {
	c.report(ctx, handle, "🔗 Connecting to GoFile servers...")
	server, err := c.getServer(ctx)
	if err != nil {
		c.report(ctx, handle, "❌ GoFile Upload Failed!\nError: could not reach gofile servers")
		return "", err
	}
	return c.uploadVia(ctx, fmt.Sprintf("https://%s.gofile.io/uploadFile", server), path, handle, cancelled)
}

// uploadVia runs the retried multipart upload against a concrete upload
// endpoint.
func (c *GofileClient) uploadVia(ctx context.Context, uploadURL, path string, handle progress.Handle, cancelled func() bool) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrap(err, "stat upload file")
	}
	name := filepath.Base(path)

	c.report(ctx, handle, fmt.Sprintf(
		"🚀 Starting GoFile Upload...\nFile: %s\nSize: %s",
		name, progress.Size(info.Size())))

	var lastErr error
	for attempt := 1; attempt <= c.Retries; attempt++ {
		page, err := c.doUpload(ctx, uploadURL, path, name, info.Size(), handle, cancelled)
		if err == nil {
			c.report(ctx, handle, fmt.Sprintf(
				"✅ GoFile Upload Complete!\nFile: %s\nLink: %s", name, page))
			return page, nil
		}
		// The pipe surfaces writeForm's cancel as the request error, but
		// the flag itself is the authoritative signal.
		if errors.Is(err, errUploadCancelled) || (cancelled != nil && cancelled()) {
			c.report(ctx, handle, "🚫 Upload Cancelled!")
			return "", errUploadCancelled
		}
		lastErr = err
		c.log.WithError(err).WithField("attempt", attempt).Warn("gofile upload failed")
		if attempt < c.Retries {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	c.report(ctx, handle, fmt.Sprintf("❌ GoFile Upload Failed!\nFile: %s", name))
	return "", errors.Wrap(lastErr, "gofile upload")
}

func (c *GofileClient) doUpload(ctx context.Context, uploadURL, path, name string, size int64, handle progress.Handle, cancelled func() bool) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	start := time.Now()

	go func() {
		err := c.writeForm(ctx, mw, file, name, size, start, handle, cancelled)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", errors.Errorf("upload status %d", resp.StatusCode)
	}

	var parsed gofileResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "decode upload response")
	}
	if parsed.Status != "ok" {
		return "", errors.Errorf("gofile status %q", parsed.Status)
	}

	var data struct {
		DownloadPage string `json:"downloadPage"`
	}
	if err := json.Unmarshal(parsed.Data, &data); err != nil {
		return "", errors.Wrap(err, "decode upload data")
	}
	if data.DownloadPage == "" {
		return "", errors.New("upload response missing download page")
	}
	return data.DownloadPage, nil
}

func (c *GofileClient) writeForm(ctx context.Context, mw *multipart.Writer, file *os.File, name string, size int64, start time.Time, handle progress.Handle, cancelled func() bool) error {
	if c.Token != "" {
		if err := mw.WriteField("token", c.Token); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}

	buf := make([]byte, 256*1024)
	var sent int64
	for {
		if cancelled != nil && cancelled() {
			return errUploadCancelled
		}
		n, rerr := file.Read(buf)
		if n > 0 {
			if _, werr := part.Write(buf[:n]); werr != nil {
				return werr
			}
			sent += int64(n)
			c.report(ctx, handle, uploadProgressText(name, sent, size, start))
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func uploadProgressText(name string, current, total int64, start time.Time) string {
	elapsed := time.Since(start)
	frac := 0.0
	if total > 0 {
		frac = float64(current) / float64(total)
	}
	return fmt.Sprintf(
		"🔗 Uploading to GoFile.io...\nFile: %s\nTotal Size: %s\n%s %.1f%%\nUploaded: %s\nSpeed: %s | ETA: %s",
		name, progress.Size(total), progress.Bar(frac), frac*100,
		progress.Size(current), progress.Speed(current, elapsed),
		progress.ETA(current, total, elapsed))
}

func (c *GofileClient) report(ctx context.Context, handle progress.Handle, text string) {
	if handle == nil || c.reporter == nil {
		return
	}
	c.reporter.Report(ctx, handle, text)
}

// Resolve turns a gofile.io share link into a direct download URL plus
// the cookie header the download servers require. Folders resolve to
// their first downloadable file.
func (c *GofileClient) Resolve(ctx context.Context, pageURL string) (string, http.Header, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", nil, errors.Wrap(err, "parse gofile link")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	id := parts[len(parts)-1]
	if id == "" {
		return "", nil, errors.New("gofile link has no content id")
	}

	token, err := c.guestToken(ctx)
	if err != nil {
		return "", nil, err
	}

	link, err := c.firstContentLink(ctx, id, token)
	if err != nil {
		return "", nil, err
	}

	header := http.Header{}
	header.Set("Cookie", "accountToken="+token)
	return link, header, nil
}

// guestToken creates a throwaway gofile account and returns its token.
func (c *GofileClient) guestToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL+"/accounts", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "create gofile account")
	}
	defer resp.Body.Close()

	var parsed gofileResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "decode accounts response")
	}
	if parsed.Status != "ok" {
		return "", errors.Errorf("gofile accounts status %q", parsed.Status)
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(parsed.Data, &data); err != nil {
		return "", errors.Wrap(err, "decode accounts data")
	}
	if data.Token == "" {
		return "", errors.New("gofile accounts response missing token")
	}
	return data.Token, nil
}

type gofileContent struct {
	Type     string                   `json:"type"`
	Name     string                   `json:"name"`
	Link     string                   `json:"link"`
	Public   bool                     `json:"public"`
	Children map[string]gofileContent `json:"children"`
}

func (c *GofileClient) firstContentLink(ctx context.Context, id, token string) (string, error) {
	contentsURL := fmt.Sprintf("%s/contents/%s?wt=4fd6sg89d7s6&cache=true", c.APIURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentsURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "fetch gofile contents")
	}
	defer resp.Body.Close()

	var parsed gofileResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "decode contents response")
	}
	switch parsed.Status {
	case "ok":
	case "error-notFound":
		return "", errors.New("file not found on gofile")
	case "error-notPublic":
		return "", errors.New("gofile folder is not public")
	case "error-passwordRequired", "error-passwordWrong":
		return "", errors.New("gofile link is password protected")
	default:
		return "", errors.Errorf("gofile contents status %q", parsed.Status)
	}

	var root gofileContent
	if err := json.Unmarshal(parsed.Data, &root); err != nil {
		return "", errors.Wrap(err, "decode contents data")
	}

	if link := findLink(root); link != "" {
		return link, nil
	}
	return "", errors.New("no downloadable content in gofile link")
}

// findLink walks the content tree depth-first for the first file link.
func findLink(content gofileContent) string {
	if content.Type == "file" && content.Link != "" {
		return content.Link
	}
	for _, child := range content.Children {
		if child.Type == "folder" && !child.Public {
			continue
		}
		if link := findLink(child); link != "" {
			return link
		}
	}
	return ""
}
