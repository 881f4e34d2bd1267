package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SunilSharmaNP/ssm/config"
	"github.com/SunilSharmaNP/ssm/ffmpeg"
	"github.com/SunilSharmaNP/ssm/probe"
	"github.com/SunilSharmaNP/ssm/progress"
)

func discardLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestGofileResolve(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"status":"ok","data":{"token":"guest-token"}}`)
	})
	mux.HandleFunc("/contents/abc123", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer guest-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"status":"ok","data":{
			"type":"folder","name":"stuff","public":true,
			"children":{
				"f1":{"type":"file","name":"movie.mkv","link":"https://store1.gofile.io/download/movie.mkv"}
			}
		}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewGofileClient(srv.URL, "", 1, discardLog(), nil)
	direct, header, err := c.Resolve(context.Background(), "https://gofile.io/d/abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://store1.gofile.io/download/movie.mkv", direct)
	assert.Equal(t, "accountToken=guest-token", header.Get("Cookie"))
}

func TestGofileResolveErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","data":{"token":"guest-token"}}`)
	})
	mux.HandleFunc("/contents/gone", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error-notFound","data":{}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewGofileClient(srv.URL, "", 1, discardLog(), nil)
	_, _, err := c.Resolve(context.Background(), "https://gofile.io/d/gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGofileUpload(t *testing.T) {
	payload := strings.Repeat("v", 4096)

	t.Run("uploads and returns the download page", func(t *testing.T) {
		var gotToken, gotFile string

		mux := http.NewServeMux()
		mux.HandleFunc("/servers", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"ok","data":{"servers":[{"name":"store1"}]}}`)
		})
		mux.HandleFunc("/uploadFile", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			gotToken = r.FormValue("token")
			file, hdr, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			data, err := io.ReadAll(file)
			require.NoError(t, err)
			assert.Len(t, data, len(payload))
			gotFile = hdr.Filename
			fmt.Fprint(w, `{"status":"ok","data":{"downloadPage":"https://gofile.io/d/xyz789"}}`)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		path := filepath.Join(t.TempDir(), "result.mkv")
		require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

		c := NewGofileClient(srv.URL, "secret-token", 1, discardLog(), nil)
		// Point uploads back at the test server instead of a real
		// gofile storage host.
		page, err := c.uploadVia(context.Background(), srv.URL+"/uploadFile", path, nil, nil)
		require.NoError(t, err)

		assert.Equal(t, "https://gofile.io/d/xyz789", page)
		assert.Equal(t, "secret-token", gotToken)
		assert.Equal(t, "result.mkv", gotFile)
	})

	t.Run("retries failed uploads", func(t *testing.T) {
		var hits int32
		mux := http.NewServeMux()
		mux.HandleFunc("/uploadFile", func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&hits, 1) == 1 {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			io.Copy(io.Discard, r.Body)
			fmt.Fprint(w, `{"status":"ok","data":{"downloadPage":"https://gofile.io/d/retry"}}`)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		path := filepath.Join(t.TempDir(), "result.mkv")
		require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

		c := NewGofileClient(srv.URL, "", 3, discardLog(), nil)
		page, err := c.uploadVia(context.Background(), srv.URL+"/uploadFile", path, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://gofile.io/d/retry", page)
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	})

	t.Run("cancellation aborts without retrying", func(t *testing.T) {
		var hits int32
		mux := http.NewServeMux()
		mux.HandleFunc("/uploadFile", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			io.Copy(io.Discard, r.Body)
			fmt.Fprint(w, `{"status":"ok","data":{"downloadPage":"https://gofile.io/d/nope"}}`)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		path := filepath.Join(t.TempDir(), "result.mkv")
		require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

		c := NewGofileClient(srv.URL, "", 3, discardLog(), nil)
		_, err := c.uploadVia(context.Background(), srv.URL+"/uploadFile", path, nil,
			func() bool { return true })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cancelled")
		assert.LessOrEqual(t, atomic.LoadInt32(&hits), int32(1))
	})

	t.Run("server lookup exhausts retries", func(t *testing.T) {
		var hits int32
		mux := http.NewServeMux()
		mux.HandleFunc("/servers", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			fmt.Fprint(w, `{"status":"error","data":{}}`)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		c := NewGofileClient(srv.URL, "", 2, discardLog(), nil)
		_, err := c.getServer(context.Background())
		require.Error(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	})
}

type fakeSender struct {
	sent      bool
	thumbnail string
	duration  float64
	err       error
	steps     []int64
}

func (s *fakeSender) SendVideo(_ context.Context, _, path, thumbnail, _ string, duration float64, progress func(current, total int64) error) error {
	if s.err != nil {
		return s.err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	s.sent = true
	s.thumbnail = thumbnail
	s.duration = duration
	for _, step := range s.steps {
		if err := progress(step, info.Size()); err != nil {
			return err
		}
	}
	return nil
}

func testUploader(t *testing.T, sender VideoSender) *TransportUploader {
	t.Helper()
	cfg := &config.Config{MaxFileSize: 1 << 20, DownloadDir: t.TempDir()}
	entry := discardLog()
	return NewTransportUploader(cfg, entry,
		progress.NewReporter(entry, time.Hour),
		probe.NewProber("ffprobe"),
		ffmpeg.NewExecutor("ffmpeg", entry),
		sender)
}

func TestTransportUpload(t *testing.T) {
	t.Run("rejects oversized files", func(t *testing.T) {
		sender := &fakeSender{}
		u := testUploader(t, sender)

		path := filepath.Join(t.TempDir(), "huge.mkv")
		require.NoError(t, os.WriteFile(path, make([]byte, 2<<20), 0o644))

		err := u.Upload(context.Background(), UploadRequest{ChatID: "7", Path: path})
		assert.ErrorIs(t, err, ErrTooLargeForTransport)
		assert.False(t, sender.sent)
	})

	t.Run("cancellation aborts the send", func(t *testing.T) {
		sender := &fakeSender{steps: []int64{100, 200}}
		u := testUploader(t, sender)

		path := filepath.Join(t.TempDir(), "clip.mkv")
		require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))

		err := u.Upload(context.Background(), UploadRequest{
			ChatID:    "7",
			Path:      path,
			Cancelled: func() bool { return true },
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cancelled")
	})

	t.Run("missing file errors before sending", func(t *testing.T) {
		sender := &fakeSender{}
		u := testUploader(t, sender)

		err := u.Upload(context.Background(), UploadRequest{ChatID: "7", Path: "/nope/missing.mkv"})
		require.Error(t, err)
		assert.False(t, sender.sent)
	})
}
