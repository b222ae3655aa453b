package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"github.com/openai/openai-go/v3/option"

	"carescribe/internal/audio"
	"carescribe/internal/bus"
	"carescribe/internal/config"
	"carescribe/internal/domain"
	"carescribe/internal/interview"
	"carescribe/internal/ipc"
	"carescribe/internal/llm"
	"carescribe/internal/notify"
	"carescribe/internal/proxy"
	"carescribe/internal/report"
	"carescribe/internal/service"
	"carescribe/internal/tts"
	"carescribe/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	socket := cli.StringP("socket", "s", "", "Control socket path (overrides CARESCRIBE_SOCKET)")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	if *socket != "" {
		cfg.Socket = *socket
	}

	log.Debug("Loaded config", "chat", cfg.ChatProvider, "stt", cfg.STTProvider)

	httpClient, err := proxy.NewClient(cfg.SocksProxy, 0)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", cfg.SocksProxy, "err", err)
		os.Exit(1)
	}

	factory := &llm.Factory{
		Provider:           string(cfg.ChatProvider),
		APIKey:             cfg.OpenAIAPIKey,
		BaseURL:            cfg.OpenAIBaseURL,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		HTTPClient:         httpClient,
	}
	questions, err := factory.New(cfg.InterviewModel)
	if err != nil {
		log.Error("Failed to create interview provider", "err", err)
		os.Exit(1)
	}
	writer, err := factory.New(cfg.ReportModel)
	if err != nil {
		log.Error("Failed to create report provider", "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded chat providers", "interview", cfg.InterviewModel, "report", cfg.ReportModel)

	transcriber, closeSTT, err := newTranscriber(cfg, httpClient)
	if err != nil {
		log.Error("Failed to init transcriber", "provider", cfg.STTProvider, "err", err)
		os.Exit(1)
	}
	defer closeSTT()

	log.Debug("Loaded transcriber", "provider", cfg.STTProvider)

	rec := audio.NewRecorder()
	if err := rec.Init(); err != nil {
		// typed interviews still work; recording reports the missing device
		log.Warn("Failed to init audio", "err", err)
	} else {
		defer rec.Close()
	}

	var cue *notify.Cue
	if cfg.CueSound != "" {
		if cue, err = notify.LoadCue(cfg.CueSound); err != nil {
			log.Warn("Cue disabled", "err", err)
		}
	}

	var pub *bus.Publisher
	if cfg.BusURL != "" {
		if pub, err = bus.NewPublisher(cfg.BusURL, 0); err != nil {
			log.Warn("Bus disabled", "url", cfg.BusURL, "err", err)
		} else {
			defer pub.Close()
		}
	}

	var voice *tts.Speaker
	if cfg.SpeakQuestions {
		voice = tts.NewSpeaker(cfg.STTLanguage)
	}

	var svc *service.Service

	manager := interview.NewManager(questions, report.New(writer), interview.Config{
		MaxTurns:         cfg.MaxTurns,
		FinalizeDelay:    cfg.FinalizeDelay,
		QuestionTimeout:  cfg.QuestionTimeout,
		SynthesisTimeout: cfg.ReportTimeout,
		OnTurn: func(session string, t domain.Turn) {
			if pub != nil {
				pub.Turn(session, t)
			}
			if voice != nil && t.Speaker == domain.SpeakerAssistant {
				go func() {
					if err := voice.Speak(t.Text); err != nil {
						log.Warn("Failed to voice out", "err", err)
					}
				}()
			}
		},
		OnState: func(session string, st interview.State) {
			if pub == nil {
				return
			}
			pub.State(session, string(st))
			if st == interview.StateTerminated {
				if rep, err := svc.GetFinalReport(session); err == nil {
					pub.Report(session, rep)
				}
			}
		},
	})

	segCfg := audio.Config{
		SilenceThreshold: cfg.SilenceThreshold,
		SilenceDuration:  cfg.SilenceDuration,
		KeepAudio:        cfg.KeepSegmentAudio,
	}
	if cue != nil {
		segCfg.OnEvent = cue.OnEvent
	}

	svc = service.New(service.Config{
		Manager: manager,
		Source:  rec,
		Transcription: &audio.TranscriptionClient{
			Transcriber: transcriber,
			Language:    cfg.STTLanguage,
			Vocabulary:  cfg.STTVocabulary,
			Timeout:     cfg.STTTimeout,
		},
		Segmenter: segCfg,
		OnSegmentEvent: func(session string, ev audio.Event) {
			if pub == nil {
				return
			}
			switch ev.Kind {
			case audio.EventSegmentSaved, audio.EventSegmentUpdated, audio.EventSegmentDeleted:
				pub.Segment(session, ev)
			default:
				pub.State(session, "recorder:"+string(ev.Kind)+":"+string(ev.State))
			}
		},
	})
	defer svc.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := &handler{svc: svc}
	srv := ipc.NewServer(cfg.Socket, h.Handle)
	if err := srv.Start(ctx); err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}

	log.Info("Boot up - successful", "socket", cfg.Socket)

	<-ctx.Done()
	log.Info("Shutting down")
	srv.Close()
	srv.Wait()
}

func newTranscriber(cfg *config.Config, httpClient *http.Client) (stt.Transcriber, func(), error) {
	switch cfg.STTProvider {
	case config.STTWhisper:
		w, err := stt.NewWhisper(cfg.WhisperModelPath, stt.WhisperOptions{})
		if err != nil {
			return nil, nil, err
		}
		return w, func() { w.Close() }, nil
	case config.STTCompat:
		return stt.NewCompat(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.STTModel, httpClient), func() {}, nil
	default:
		opts := []option.RequestOption{
			option.WithAPIKey(cfg.OpenAIAPIKey),
			option.WithHTTPClient(httpClient),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
		}
		return stt.NewOpenAI(cfg.STTModel, opts...), func() {}, nil
	}
}
