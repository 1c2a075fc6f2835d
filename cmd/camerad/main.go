// Command camerad runs the per-camera pipeline engines for every camera in
// the configuration file, supervised under a single restart tree.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/nvrengine/camerad/internal/config"
	"github.com/nvrengine/camerad/internal/nvr"
	"github.com/nvrengine/camerad/internal/storage"
)

// cameraService adapts an *nvr.Engine to suture.Service so the supervisor
// restarts a camera's engine on its own, independent of every other camera
// (§3 "one pipeline engine per camera per lifecycle instance").
type cameraService struct {
	id     string
	engine *nvr.Engine
}

func (s *cameraService) Serve(ctx context.Context) error {
	if err := s.engine.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.engine.Disconnect()
	return s.engine.Wait()
}

// slogAdapter implements nvr.Logger and storage.Logger over *slog.Logger so
// both packages get the same structured-logging surface, passed in at
// construction instead of reaching for a global.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

func main() {
	configPath := flag.String("config", "/etc/camerad/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	adapter := slogAdapter{l: logger}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	storageSvc := storage.New(adapter)
	supervisor := suture.NewSimple("camerad")

	for _, camCfg := range cfg.Cameras {
		if !camCfg.Enabled {
			logger.Info("camera disabled, skipping", "camera_id", camCfg.ID)
			continue
		}

		camera, err := camCfg.ToCamera()
		if err != nil {
			logger.Error("invalid camera configuration", "camera_id", camCfg.ID, "error", err)
			continue
		}

		engineCfg := nvr.EngineConfig{
			RecordingRoot: cfg.Storage.RecordingRoot,
			MinFreeGB:     cfg.Storage.MinFreeGB,
			CleanupMaxAge: daysToDuration(cfg.Storage.CleanupMaxAgeD),
			CleanupTargetGB: cfg.Storage.CleanupTargetGB,
			RTSPTimeouts: nvr.RTSPTimeouts{
				TCPTimeoutMs:    cfg.RTSP.TCPTimeoutMs,
				ConnectTimeoutS: cfg.RTSP.ConnectTimeoutS,
				LatencyMs:       cfg.RTSP.LatencyMs,
				RetryCount:      cfg.RTSP.SourceRetryCount,
			},
			Reconnect:                cfg.Backoff.ToReconnectPolicy(cfg.Watchdog),
			RecordingRetryInterval:   secondsToDuration(cfg.Backoff.RecordingRetryIntervalS),
			RecordingRetryMaxAttempt: cfg.Backoff.RecordingRetryMaxAttempts,
		}

		engine := nvr.NewEngine(camera, engineCfg, storageSvc, adapter)
		supervisor.Add(&cameraService{id: camera.ID, engine: engine})
		logger.Info("camera registered", "camera_id", camera.ID, "rtsp_url", camera.RTSPURL)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := supervisor.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("camerad shutting down")
}

func daysToDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
