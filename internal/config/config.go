package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type ChatProvider string

const (
	ChatOpenAI     ChatProvider = "openai"
	ChatOpenRouter ChatProvider = "openrouter"
)

type STTProvider string

const (
	STTOpenAI  STTProvider = "openai"
	STTCompat  STTProvider = "compat"
	STTWhisper STTProvider = "whisper"
)

const DefaultVocabulary = "NDIS, PRN, de-escalation, redirection, behaviour support plan, antecedent, restrictive practice, support worker, participant"

type Config struct {
	// Chat completion
	ChatProvider       ChatProvider `env:"CHAT_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey       string       `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string       `env:"OPENAI_BASE_URL"`
	OpenRouterReferrer string       `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string       `env:"OPENROUTER_TITLE"`
	InterviewModel     string       `env:"INTERVIEW_MODEL" envDefault:"gpt-4o-mini"`
	ReportModel        string       `env:"REPORT_MODEL" envDefault:"gpt-4o"`

	// Interview
	MaxTurns        int           `env:"INTERVIEW_MAX_TURNS" envDefault:"10"`
	FinalizeDelay   time.Duration `env:"INTERVIEW_FINALIZE_DELAY" envDefault:"1500ms"`
	QuestionTimeout time.Duration `env:"INTERVIEW_QUESTION_TIMEOUT" envDefault:"60s"`
	ReportTimeout   time.Duration `env:"REPORT_TIMEOUT" envDefault:"3m"`

	// Transcription
	STTProvider      STTProvider   `env:"STT_PROVIDER" envDefault:"openai"`
	STTModel         string        `env:"STT_MODEL" envDefault:"whisper-1"`
	STTLanguage      string        `env:"STT_LANGUAGE" envDefault:"en"`
	STTVocabulary    string        `env:"STT_VOCABULARY"`
	STTTimeout       time.Duration `env:"STT_TIMEOUT" envDefault:"60s"`
	WhisperModelPath string        `env:"WHISPER_MODEL_PATH" envDefault:"models/ggml-base.en.bin"`

	// Audio
	SilenceThreshold float64       `env:"SILENCE_THRESHOLD" envDefault:"5"`
	SilenceDuration  time.Duration `env:"SILENCE_DURATION" envDefault:"3s"`
	KeepSegmentAudio bool          `env:"KEEP_SEGMENT_AUDIO" envDefault:"false"`

	// Outputs
	SocksProxy     string `env:"SOCKS_PROXY"`
	BusURL         string `env:"BUS_URL"`
	SpeakQuestions bool   `env:"SPEAK_QUESTIONS" envDefault:"false"`
	CueSound       string `env:"CUE_SOUND"`

	Socket string `env:"CARESCRIBE_SOCKET" envDefault:"/tmp/carescribe.sock"`
}

// Load reads envFile when it exists, then the process environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.STTVocabulary == "" {
		cfg.STTVocabulary = DefaultVocabulary
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ChatProvider {
	case ChatOpenAI, ChatOpenRouter:
	default:
		return fmt.Errorf("CHAT_PROVIDER: unknown provider %q", c.ChatProvider)
	}
	switch c.STTProvider {
	case STTOpenAI, STTCompat, STTWhisper:
	default:
		return fmt.Errorf("STT_PROVIDER: unknown provider %q", c.STTProvider)
	}

	if c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY not set")
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("INTERVIEW_MAX_TURNS must be positive, got %d", c.MaxTurns)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 100 {
		return fmt.Errorf("SILENCE_THRESHOLD must be within 0-100, got %v", c.SilenceThreshold)
	}
	if c.STTProvider == STTWhisper && c.WhisperModelPath == "" {
		return errors.New("WHISPER_MODEL_PATH not set")
	}
	return nil
}
