package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dash-packager/internal/cmaf"
	"dash-packager/internal/packager"
	"dash-packager/internal/platform/config"
	"dash-packager/internal/platform/logger"
	"dash-packager/internal/platform/metrics"
	"dash-packager/internal/storage"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	outputDir := config.GetEnv("OUTPUT_DIR", "./out")
	backend := config.GetEnv("STORAGE_BACKEND", "local")

	cfg := packager.Config{
		TargetDuration:      config.GetEnvDuration("TARGET_DURATION", packager.DefaultTargetDuration),
		AlignmentTolerance:  config.GetEnvDuration("ALIGNMENT_TOLERANCE", packager.DefaultAlignmentTolerance),
		KeyframeFallbackMax: config.GetEnvDuration("KEYFRAME_FALLBACK_MAX", 0),
		RefreshPeriod:       config.GetEnvDuration("REFRESH_PERIOD", 0),
		StorageRetries:      config.GetEnvInt("STORAGE_RETRIES", packager.DefaultStorageRetries),
		StartNumber:         uint64(config.GetEnvInt("START_NUMBER", 0)),
		ManifestLocation:    config.GetEnv("MANIFEST_LOCATION", packager.DefaultManifestLocation),
		InitLocation:        config.GetEnv("INIT_LOCATION", packager.DefaultInitLocation),
		SegmentLocation:     config.GetEnv("SEGMENT_LOCATION", packager.DefaultSegmentLocation),
	}

	log := logger.New(logLevel, logFormat)

	var store storage.Storage
	switch backend {
	case "gcs":
		gcs, err := storage.NewGCSStorage(context.Background(),
			config.GetEnv("GCS_BUCKET", ""),
			config.GetEnv("GCS_PREFIX", ""))
		if err != nil {
			log.Error("gcs storage init failed", "error", err)
			os.Exit(1)
		}
		defer gcs.Close()
		store = gcs
	default:
		local, err := storage.NewLocalStorage(outputDir)
		if err != nil {
			log.Error("local storage init failed", "error", err)
			os.Exit(1)
		}
		store = local
	}

	met := metrics.New()
	pkg := packager.New(cfg, cmaf.New(), store, log, met)
	if err := pkg.Start(); err != nil {
		log.Error("packager start failed", "error", err)
		os.Exit(1)
	}
	h := packager.NewHandler(store, cfg.ManifestLocation, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetActiveTracks(pkg.ActiveTracks()) }).ServeHTTP(w, req)
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/"+cfg.ManifestLocation, h.GetManifest)
	r.Get("/{file}", h.GetFile)

	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("packager starting",
		"port", port,
		"storage_backend", backend,
		"target_duration", cfg.TargetDuration.String(),
	)

	// A nil channel blocks forever, so without the demo source only a
	// signal ends the process.
	var demoDone chan struct{}
	if config.GetEnvBool("DEMO_SOURCE", false) {
		demoDone = make(chan struct{})
		go func() {
			defer close(demoDone)
			runDemoSource(pkg, log, config.GetEnvDuration("DEMO_DURATION", 30*time.Second))
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case <-demoDone:
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := pkg.Close(ctx); err != nil {
		log.Error("packager close error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("packager stopped")
}

// runDemoSource feeds synthetic video and audio tracks through the packager
// so a freshly built binary produces a playable presentation without an
// upstream encoder attached.
func runDemoSource(pkg *packager.Packager, log *slog.Logger, duration time.Duration) {
	// 1920x1080 parameter sets; payload bytes are synthetic.
	sps := []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
	}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}

	video, err := pkg.AddTrack(packager.TrackDescriptor{
		ID:        "video_0",
		Kind:      packager.TrackKindVideo,
		Timescale: 90000,
		Codec:     "avc1.64001e",
		SPS:       [][]byte{sps},
		PPS:       [][]byte{pps},
		Width:     1920,
		Height:    1080,
		FrameRate: "30/1",
	})
	if err != nil {
		log.Error("demo video track", "error", err)
		return
	}
	audio, err := pkg.AddTrack(packager.TrackDescriptor{
		ID:         "audio_0",
		Kind:       packager.TrackKindAudio,
		Timescale:  48000,
		Codec:      "mp4a.40.2",
		SampleRate: 48000,
		Channels:   2,
	})
	if err != nil {
		log.Error("demo audio track", "error", err)
		return
	}
	if err := pkg.Start(); err != nil {
		log.Error("demo start", "error", err)
		return
	}

	ctx := context.Background()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		const frameDur = 3000 // 30 fps at 90 kHz
		frames := int(duration.Seconds() * 30)
		for i := 0; i < frames; i++ {
			ts := uint64(i) * frameDur
			err := video.WriteSample(ctx, packager.Sample{
				DTS:      ts,
				PTS:      ts,
				Duration: frameDur,
				Keyframe: i%60 == 0, // keyframe every 2 s
				Payload:  make([]byte, 4096),
			})
			if err != nil {
				log.Warn("demo video sample", "error", err)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		const sampleDur = 1024 // AAC frame at 48 kHz
		count := int(duration.Seconds() * 48000 / sampleDur)
		for i := 0; i < count; i++ {
			ts := uint64(i) * sampleDur
			err := audio.WriteSample(ctx, packager.Sample{
				DTS:      ts,
				PTS:      ts,
				Duration: sampleDur,
				Payload:  make([]byte, 256),
			})
			if err != nil {
				log.Warn("demo audio sample", "error", err)
			}
		}
	}()

	wg.Wait()
	log.Info("demo source finished", "duration", duration.String())
}
