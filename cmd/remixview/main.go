// Command remixview replays a synthetic legacy capture through the scene manager. It runs
// headless by default; -window opens a glfw window whose cursor drives texture picks and whose
// clicks request highlights.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/gekko3d/remix"
	"github.com/gekko3d/remix/rt/config"
	"github.com/gekko3d/remix/rt/gpu"
	"github.com/gekko3d/remix/rt/query"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "remixview:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "TOML config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	strict := flag.Bool("strict", false, "Panic on lifecycle violations")
	framesInFlight := flag.Int("frames-in-flight", 0, "Override max frames in flight")
	workers := flag.Int("workers", 0, "Override legacy hash search workers")
	policy := flag.String("policy", "", "Override eviction policy (oldest-unused, random)")
	frames := flag.Int("frames", 600, "Frames to run, 0 runs until interrupted")
	objects := flag.Int("objects", 64, "Synthetic props per frame")
	seed := flag.Uint64("seed", 1, "Synthetic stream seed")
	fps := flag.Int("fps", 0, "Producer frame rate, 0 is unpaced")
	malformed := flag.Int("malformed-every", 0, "Inject a malformed draw call every n frames")
	window := flag.Bool("window", false, "Open a window for interactive picks")
	useGPU := flag.Bool("gpu", false, "Upload buffers to a wgpu device")
	pickMap := flag.String("pickmap", "", "BMP or PNG surface ID dump to resolve picks against")
	dumpSurfaces := flag.String("dump-surfaces", "", "Write the final surface grid to this BMP file")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	dumpConfig := flag.Bool("dump-config", false, "Print the resolved config and exit")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	cfg.Resolve(config.Flags{
		Debug:             *debug,
		Strict:            *strict,
		MaxFramesInFlight: *framesInFlight,
		Workers:           *workers,
		Policy:            *policy,
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *dumpConfig {
		out, err := cfg.Encode()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	logger := remix.NewDefaultLogger("remixview", cfg.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("metrics: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Infof("metrics on http://%s/metrics", *metricsAddr)
	}

	builder := remix.NewHostBuilder().
		UseConfig(cfg).
		UseLogger(logger).
		UseSurfaceGrid(windowWidth/gridDownscale, windowHeight/gridDownscale, 4)

	if *pickMap != "" {
		m, err := query.LoadSurfaceMap(*pickMap)
		if err != nil {
			return err
		}
		builder.UseSurfaceMap(m)
	}
	if *useGPU {
		dev, err := openDevice()
		if err != nil {
			return err
		}
		defer dev.Release()
		up := gpu.NewWgpuUploader(dev.device)
		defer up.ReleaseAll()
		builder.UseUploader(up)
	}

	host, err := builder.Build()
	if err != nil {
		return err
	}

	framesCh := make(chan remix.Frame, cfg.MaxFramesInFlight)
	stream := newSynthStream(synthConfig{Objects: *objects, Seed: *seed, MalformedEvery: *malformed})
	go produce(ctx, stream, framesCh, *fps)
	src := chanSource{frames: framesCh}

	start := time.Now()
	if *window {
		err = runWindowed(ctx, host, src, *frames)
	} else {
		err = host.Run(ctx, src, *frames)
	}
	if err != nil {
		return err
	}

	stats := host.Scene().Stats()
	logger.Infof("%s in %s", stats, time.Since(start).Round(time.Millisecond))
	if cfg.Debug {
		logger.Debugf("\n%s", host.Profiler().GetStatsString())
	}

	if *dumpSurfaces != "" && host.Surfaces() != nil {
		f, err := os.Create(*dumpSurfaces)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := host.Surfaces().WriteBMP(f); err != nil {
			return err
		}
	}
	return nil
}

func runWindowed(ctx context.Context, host *remix.Host, src chanSource, frames int) error {
	v, err := openViewer(host)
	if err != nil {
		return err
	}
	defer v.Close()

	for n := 0; frames <= 0 || n < frames; {
		if ctx.Err() != nil || v.ShouldClose() {
			return nil
		}
		if err := v.Poll(); err != nil {
			return err
		}
		f, ok := src.tryNextFrame()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		if _, err := host.RunFrame(f); err != nil {
			return err
		}
		n++
	}
	return nil
}
