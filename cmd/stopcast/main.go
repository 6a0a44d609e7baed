package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ivlev/stopcast/internal/api"
	"github.com/ivlev/stopcast/internal/config"
	"github.com/ivlev/stopcast/internal/engine"
	"github.com/ivlev/stopcast/internal/logger"
	"github.com/ivlev/stopcast/internal/metrics"
	"github.com/ivlev/stopcast/internal/queue"
	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/service"
	"github.com/ivlev/stopcast/internal/store"
	"github.com/ivlev/stopcast/internal/system"
)

// Подставляется при сборке: -ldflags "-X main.buildVersion=..."
var buildVersion = "dev"

func main() {
	configPtr := flag.String("config", "stopcast.yaml", "Путь к YAML конфигурации (отсутствующий файл допустим)")
	envPtr := flag.String("env", ".env", "Путь к .env файлу")
	addrPtr := flag.String("addr", "", "Адрес HTTP сервера (перекрывает конфиг)")
	renderPtr := flag.String("render", "", "Разовый рендер: путь к сценарию или \"latest\" (самый свежий файл в -scenarios)")
	scenariosPtr := flag.String("scenarios", "", "Каталог сценариев для -render latest")
	outputPtr := flag.String("output", "", "Путь к видео для -render (по умолчанию videos/scenario_<id>.mp4)")
	presetPtr := flag.String("preset", "", "Пресет формата: 16:9, 9:16, 4:5")
	flag.Parse()

	if err := config.LoadEnv(*envPtr); err != nil {
		fmt.Fprintf(os.Stderr, "load env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPtr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	cfg.BuildVersion = buildVersion
	if *addrPtr != "" {
		cfg.Server.Addr = *addrPtr
	}
	if *scenariosPtr != "" {
		cfg.Paths.Scenarios = *scenariosPtr
	}
	switch *presetPtr {
	case "16:9":
		cfg.Render.Width, cfg.Render.Height = 1920, 1080
	case "9:16":
		cfg.Render.Width, cfg.Render.Height = 1080, 1920
	case "4:5":
		cfg.Render.Width, cfg.Render.Height = 1080, 1350
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	system.InitResourceLimits(log)

	for _, d := range []string{cfg.Paths.Videos, cfg.Paths.Temp} {
		if err := os.MkdirAll(d, 0755); err != nil {
			log.Error("create directory failed", "path", d, "error", err)
			os.Exit(1)
		}
	}

	if *renderPtr != "" {
		err = renderOnce(cfg, log, *renderPtr, *outputPtr)
	} else {
		err = serve(cfg, log)
	}
	if err != nil {
		log.Error("stopcast failed", "error", err)
		os.Exit(1)
	}
}

func renderOnce(cfg *config.Config, log *slog.Logger, input, output string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if input == "latest" {
		latest, err := scenario.FindLatest(cfg.Paths.Scenarios)
		if err != nil {
			return fmt.Errorf("%w: put a scenario into %s", err, cfg.Paths.Scenarios)
		}
		input = latest
		log.Info("scenario selected", "path", input)
	}
	sc, err := scenario.ReadFile(input)
	if err != nil {
		return err
	}
	if sc.ID == "" {
		base := filepath.Base(input)
		sc.ID = strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), " ", "_")
	}
	if output == "" {
		output = filepath.Join(cfg.Paths.Videos, scenario.VideoFileName(sc.ID))
	}

	pipeline, err := engine.New(ctx, cfg, log, system.ExecRunner{}, nil)
	if err != nil {
		return err
	}
	rep, err := pipeline.RenderFile(ctx, sc, output)
	if err != nil {
		return err
	}
	log.Info("video ready", "output", output, "duration", rep.Physical, "elapsed", rep.Total.Round(time.Millisecond))
	return nil
}

func serve(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	removed, err := system.CleanStaleDirs(cfg.Paths.Temp, engine.TempPrefix, cfg.Paths.StaleAfter, time.Now())
	if err != nil {
		log.Warn("stale temp cleanup failed", "error", err)
	}
	if len(removed) > 0 {
		log.Info("stale temp directories removed", "count", len(removed))
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	met := metrics.New()
	pipeline, err := engine.New(ctx, cfg, log, system.ExecRunner{}, met)
	if err != nil {
		return err
	}
	q := queue.New(pipeline, st, log, met)
	svc := service.New(st, q, cfg.Paths.Videos, log)

	if n, err := svc.Resume(ctx); err != nil {
		log.Warn("resume interrupted renders failed", "error", err)
	} else if n > 0 {
		log.Info("interrupted renders requeued", "count", n)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		q.Run(workerCtx)
	}()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.Router(api.NewHandler(svc, log, met))}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	log.Info("server starting",
		"addr", cfg.Server.Addr,
		"build", cfg.BuildVersion,
		"store", cfg.Store.Driver,
		"size", fmt.Sprintf("%dx%d", cfg.Render.Width, cfg.Render.Height),
		"fps", cfg.Render.FPS,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutdown signal received, draining connections")
	case err := <-serveErr:
		stopWorker()
		<-workerDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	// текущий рендер прерывается, его запись останется generating и будет поднята Resume
	stopWorker()
	<-workerDone
	log.Info("server stopped")
	return nil
}
