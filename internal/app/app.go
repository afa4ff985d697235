package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"trafficcounter/internal/capture"
	"trafficcounter/internal/config"
	"trafficcounter/internal/frame"
	"trafficcounter/internal/hub"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/repository/sqlite"
	"trafficcounter/internal/routes"
	"trafficcounter/internal/session"
	"trafficcounter/internal/storage"
	"trafficcounter/internal/vision"
)

const (
	shutdownTimeout = 5 * time.Second
	// firstFrameTimeout bounds how long a snapshot waits on a capture session
	// that has not published yet.
	firstFrameTimeout = 10 * time.Second
)

type App struct {
	config   *config.Config
	logger   *logger.Logger
	db       *sqlite.DB
	store    *storage.SnapshotStore
	repo     *sqlite.SnapshotRepository
	viewers  *hub.Hub
	manager  *session.Manager
	encoding frame.Encoding
}

// NewApp wires the application from an already loaded configuration.
func NewApp(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc, err := cfg.Encoding()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := sqlite.New(cfg.DatabasePath, log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	repo := sqlite.NewSnapshotRepository(db)

	a := &App{
		config:   cfg,
		logger:   log,
		db:       db,
		repo:     repo,
		store:    storage.NewSnapshotStore(cfg.SnapshotDir, repo, log),
		viewers:  hub.New(routes.StreamTraffic, log),
		manager:  session.NewManager(log),
		encoding: enc,
	}
	a.manager.Register(routes.StreamCapture, a.captureSession)
	a.manager.Register(routes.StreamVideo, a.videoSession)
	a.manager.Register(routes.StreamTraffic, a.trafficSession)

	return a, nil
}

// captureSession owns the device or stream for VIDEO_URL. It publishes raw
// frames that the video and traffic sessions read through feeds, so exclusive
// sources such as UDP ports and V4L2 devices are opened once.
func (a *App) captureSession() (*session.Session, error) {
	src, err := capture.Open(a.config.VideoURL)
	if err != nil {
		return nil, err
	}
	opts := session.Options{
		CaptureRate: a.config.CaptureFrameRate,
		OutputRate:  a.config.OutputFrameRate,
	}
	return session.New(routes.StreamCapture, src, nil, opts, a.logger), nil
}

// derive builds a session processing the capture session's frames at its rate.
func (a *App) derive(name string, proc session.Processor) (*session.Session, error) {
	upstream, err := a.manager.Get(routes.StreamCapture)
	if err != nil {
		return nil, err
	}
	opts := session.Options{
		CaptureRate: upstream.CaptureRate(),
		OutputRate:  a.config.OutputFrameRate,
	}
	return session.New(name, session.NewFeed(upstream), proc, opts, a.logger), nil
}

// videoSession re-encodes the source without analysis.
func (a *App) videoSession() (*session.Session, error) {
	enc, err := vision.NewEncoder(a.encoding)
	if err != nil {
		return nil, err
	}
	return a.derive(routes.StreamVideo, enc)
}

// trafficSession runs every captured frame through a fresh analyzer, so the
// counter starts from zero with each session.
func (a *App) trafficSession() (*session.Session, error) {
	analyzer, err := vision.NewAnalyzer(AnalyzerOptions(a.config))
	if err != nil {
		return nil, err
	}
	s, err := a.derive(routes.StreamTraffic, analyzer)
	if err != nil {
		analyzer.Close()
		return nil, err
	}
	return s, nil
}

// AnalyzerOptions maps the configuration onto analyzer options.
func AnalyzerOptions(cfg *config.Config) vision.Options {
	opts := vision.DefaultOptions()
	opts.RegionOfInterest = cfg.RegionOfInterest
	opts.MinArea = float64(cfg.MinBlobArea)
	opts.MaxArea = float64(cfg.MaxBlobArea)
	opts.MaxDistance = cfg.MaxMatchDistance
	opts.KernelSize = cfg.KernelSize
	opts.Threshold = float32(cfg.BinaryThreshold)
	if enc, err := cfg.Encoding(); err == nil {
		opts.Encoding = enc
	}
	return opts
}

// capture takes a single frame. While the capture session is running the
// source is already held, so its next frame is encoded instead of opening
// the source a second time.
func (a *App) capture() (*frame.Frame, error) {
	s, ok := a.manager.Lookup(routes.StreamCapture)
	if !ok || s.Closed() {
		return capture.Snapshot(a.config.VideoURL, a.encoding)
	}

	f, _ := s.Latest()
	if f == nil {
		ctx, cancel := context.WithTimeout(context.Background(), firstFrameTimeout)
		defer cancel()
		var err error
		if f, err = s.NewGenerator(0).Next(ctx); err != nil {
			return nil, fmt.Errorf("wait for frame from %s: %w", routes.StreamCapture, err)
		}
	}

	enc, err := vision.NewEncoder(a.encoding)
	if err != nil {
		return nil, err
	}
	return enc.Process(f)
}

// Run serves HTTP until ctx is cancelled, then shuts the server down and
// releases every session.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	go a.viewers.Run(ctx)
	go a.viewers.Pump(ctx, func() (*session.Generator, error) {
		s, err := a.manager.Get(routes.StreamTraffic)
		if err != nil {
			return nil, err
		}
		return s.NewGenerator(a.config.OutputFrameRate), nil
	})

	router := routes.SetupRoutes(a.manager, a.viewers, a.store, a.repo, a.capture, a.config, a.logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: router,
	}

	a.logger.Info("Traffic counter listening on http://localhost:%d", a.config.Port)
	a.logger.Info("Video source: %s", a.config.VideoURL)
	a.logger.Info("Snapshots: %s", a.store.Dir())

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (a *App) close() {
	a.manager.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Error("Close database: %v", err)
	}
	a.logger.Close()
}
