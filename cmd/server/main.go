package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/syncroom/internal/adapters/http"
	wssignal "github.com/dkeye/syncroom/internal/adapters/signal"
	"github.com/dkeye/syncroom/internal/adapters/speech"
	"github.com/dkeye/syncroom/internal/adapters/store/memory"
	"github.com/dkeye/syncroom/internal/adapters/store/mongostore"
	"github.com/dkeye/syncroom/internal/app"
	"github.com/dkeye/syncroom/internal/app/orch"
	"github.com/dkeye/syncroom/internal/config"
	"github.com/dkeye/syncroom/internal/domain"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	translator, synth, closeSpeech := openSpeech(ctx, cfg)
	defer closeSpeech()

	rooms := app.NewRoomManager(store, app.WithSummarizer(app.TranscriptDigest{}))
	o := orch.New(ctx, orch.Deps{
		Registry:    app.NewRegistry(),
		Rooms:       rooms,
		Store:       store,
		Policy:      app.SimplePolicy{},
		Translator:  translator,
		Synthesizer: synth,
		Session: orch.SessionSettings{
			Cooldown:       cfg.Session.Cooldown,
			Heartbeat:      cfg.Session.Heartbeat,
			ReleaseTimeout: cfg.Session.ReleaseTimeout,
			PrepareLimit:   cfg.Session.PrepareLimit,
		},
	})
	ctl := wssignal.NewSignalWSController(o,
		wssignal.WithPressLimiter(wssignal.NewRoomRateLimiter(cfg.RateLimit.Presses, cfg.RateLimit.Window)),
		wssignal.WithPlayTimeout(cfg.Playback.Timeout),
		wssignal.WithReadLimit(cfg.ReadLimit),
		wssignal.WithPingPeriod(cfg.PingPeriod),
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, o, ctl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("SyncRoom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return app.NewReaper(store, cfg.Reaper.TTL, cfg.Reaper.Interval).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (domain.RoomStore, func(), error) {
	if cfg.Store.Driver != "mongo" {
		log.Info().Str("module", "main").Msg("using in-memory room store")
		return memory.New(), func() {}, nil
	}
	client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(dctx)
	}
	s := mongostore.New(client, cfg.Mongo.Database)
	if err := s.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	log.Info().Str("module", "main").Str("db", cfg.Mongo.Database).Msg("using mongo room store")
	return s, closeFn, nil
}

// openSpeech picks cloud adapters when keys are configured and degrades to
// passthrough translation and browser voices otherwise.
func openSpeech(ctx context.Context, cfg *config.Config) (domain.Translator, domain.Synthesizer, func()) {
	closeFn := func() {}

	var translator domain.Translator = speech.PassthroughTranslator{}
	if cfg.Azure.TranslatorKey != "" {
		translator = speech.NewAzureTranslator(cfg.Azure.TranslatorKey, cfg.Azure.TranslatorRegion,
			speech.WithTranslatorTimeout(cfg.Azure.TranslatorTimeout))
		if cfg.Redis.Addr != "" {
			rdb, err := speech.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				log.Warn().Err(err).Str("module", "main").Msg("translation cache disabled")
			} else {
				translator = speech.NewCachedTranslator(translator, rdb, cfg.Redis.TTL)
				closeFn = func() { _ = rdb.Close() }
			}
		}
	} else {
		log.Warn().Str("module", "main").Msg("no translator key, translation is passthrough")
	}

	var synth domain.Synthesizer = speech.BrowserSynthesizer{}
	if cfg.Azure.SpeechKey != "" {
		synth = speech.NewAzureSynthesizer(cfg.Azure.SpeechKey, cfg.Azure.SpeechRegion,
			speech.WithAudioFormat(cfg.Azure.AudioFormat),
			speech.WithHTTPTimeout(cfg.Azure.TTSTimeout))
	} else {
		log.Info().Str("module", "main").Msg("no speech key, clips are voiced by the browser")
	}
	return translator, synth, closeFn
}
