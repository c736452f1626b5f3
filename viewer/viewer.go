// Package viewer serves live views of the stereo pipeline over HTTP. Each
// named view is an MJPEG stream fed by Publish; the most recent point cloud
// is downloadable as a PCD file. Publishing never blocks on slow clients:
// every client always receives the latest frame and skips the ones it
// missed.
package viewer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/youtalk/rgbd/pointcloud"
)

const streamBoundary = "frame"

// view is one named MJPEG stream slot.
type view struct {
	mu      sync.RWMutex
	frame   []byte // latest JPEG bytes
	seq     uint64
	updated chan struct{} // closed and replaced on every publish
}

func newView() *view {
	return &view{updated: make(chan struct{})}
}

func (v *view) publish(frame []byte) {
	v.mu.Lock()
	v.frame = frame
	v.seq++
	close(v.updated)
	v.updated = make(chan struct{})
	v.mu.Unlock()
}

// snapshot returns the latest frame, its sequence number, and a channel that
// closes when a newer frame arrives.
func (v *view) snapshot() ([]byte, uint64, <-chan struct{}) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.frame, v.seq, v.updated
}

// Server publishes pipeline imagery over HTTP.
type Server struct {
	addr   string
	logger golog.Logger

	mu    sync.RWMutex
	views map[string]*view
	cloud []byte

	httpServer *http.Server
	listener   net.Listener

	activeBackgroundWorkers sync.WaitGroup
}

// NewServer returns an unstarted viewer server for the given listen address.
func NewServer(addr string, logger golog.Logger) *Server {
	return &Server{
		addr:   addr,
		logger: logger,
		views:  make(map[string]*view),
	}
}

// Start begins listening and serving; it returns once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "viewer cannot listen on %q", s.addr)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/view/", s.handleStream)
	mux.HandleFunc("/cloud.pcd", s.handleCloud)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("viewer server stopped", "error", err)
		}
	}, s.activeBackgroundWorkers.Done)

	s.logger.Infow("viewer listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address; empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Publish encodes img as JPEG and makes it the current frame of the named
// view, creating the view on first use.
func (s *Server) Publish(name string, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return errors.Wrapf(err, "encoding frame for view %q", name)
	}
	s.viewFor(name).publish(buf.Bytes())
	return nil
}

func (s *Server) viewFor(name string) *view {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[name]
	if !ok {
		v = newView()
		s.views[name] = v
	}
	return v
}

// PublishCloud makes cloud the current download at /cloud.pcd, encoded as
// binary PCD.
func (s *Server) PublishCloud(cloud *pointcloud.Cloud) error {
	var buf bytes.Buffer
	if err := pointcloud.ToPCD(cloud, &buf, pointcloud.PCDBinary); err != nil {
		return errors.Wrap(err, "encoding point cloud")
	}
	s.mu.Lock()
	s.cloud = buf.Bytes()
	s.mu.Unlock()
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.views))
	for name := range s.views {
		names = append(names, name)
	}
	haveCloud := s.cloud != nil
	s.mu.RUnlock()
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!doctype html><title>stereo viewer</title><body>")
	for _, name := range names {
		fmt.Fprintf(w, `<figure style="display:inline-block"><img src="/view/%s"><figcaption>%s</figcaption></figure>`, name, name)
	}
	if haveCloud {
		fmt.Fprint(w, `<p><a href="/cloud.pcd">latest point cloud</a></p>`)
	}
	fmt.Fprint(w, "</body>")
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path[len("/view/"):]
	s.mu.RLock()
	v, ok := s.views[name]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)

	var lastSeq uint64
	for {
		frame, seq, updated := v.snapshot()
		if frame != nil && seq != lastSeq {
			lastSeq = seq
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
		select {
		case <-updated:
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleCloud(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	data := s.cloud
	s.mu.RUnlock()
	if data == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="cloud.pcd"`)
	if _, err := w.Write(data); err != nil {
		s.logger.Debugw("cloud download aborted", "error", err)
	}
}

// Close shuts the server down and waits for the serve loop to exit.
func (s *Server) Close(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.activeBackgroundWorkers.Wait()
	return err
}
