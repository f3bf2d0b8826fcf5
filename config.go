package voicechat

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/tiagosor/voicechat/transcription"
)

// Config is the env-driven server configuration.
type Config struct {
	Addr string

	// STTProvider selects the transcription backend: "deepgram" (default),
	// "google", or "multi" to race both and forward the fastest.
	STTProvider string

	DeepgramAPIKey   string
	DeepgramModel    string
	DeepgramLanguage string
	SmartFormat      bool
	InterimResults   bool
	EndpointingMs    int
	SampleRate       int
	Encoding         string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	BedrockModelID     string
	SystemPromptFile   string

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsModel   string
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when present. Missing required variables are an error.
func LoadConfig() (Config, error) {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := Config{
		Addr:               ":" + getEnv("PORT", "8081"),
		STTProvider:        getEnv("STT_PROVIDER", "deepgram"),
		DeepgramAPIKey:     os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:      getEnv("DEEPGRAM_MODEL", "nova-2"),
		DeepgramLanguage:   getEnv("DEEPGRAM_LANGUAGE", "en-US"),
		SmartFormat:        getEnvBool("DEEPGRAM_SMART_FORMAT", true),
		InterimResults:     getEnvBool("DEEPGRAM_INTERIM_RESULTS", true),
		EndpointingMs:      getEnvInt("DEEPGRAM_ENDPOINTING", 300),
		SampleRate:         getEnvInt("AUDIO_SAMPLE_RATE", 16000),
		Encoding:           getEnv("AUDIO_ENCODING", "linear16"),
		AWSRegion:          os.Getenv("AWS_REGION"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		BedrockModelID:     os.Getenv("BEDROCK_MODEL_ID"),
		SystemPromptFile:   os.Getenv("SYSTEM_PROMPT_FILE"),
		ElevenLabsAPIKey:   os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:  getEnv("ELEVENLABS_VOICE_ID", "Rachel"),
		ElevenLabsModel:    getEnv("ELEVENLABS_MODEL", "eleven_multilingual_v2"),
	}

	required := map[string]string{
		"AWS_REGION":            cfg.AWSRegion,
		"AWS_ACCESS_KEY_ID":     cfg.AWSAccessKeyID,
		"AWS_SECRET_ACCESS_KEY": cfg.AWSSecretAccessKey,
		"BEDROCK_MODEL_ID":      cfg.BedrockModelID,
		"ELEVENLABS_API_KEY":    cfg.ElevenLabsAPIKey,
	}
	if cfg.STTProvider == "deepgram" || cfg.STTProvider == "multi" {
		required["DEEPGRAM_API_KEY"] = cfg.DeepgramAPIKey
	}
	for name, value := range required {
		if value == "" {
			return Config{}, fmt.Errorf("missing required environment variable: %s", name)
		}
	}

	return cfg, nil
}

// STTSessionConfig builds the provider-agnostic transcription stream
// configuration from the server config.
func (c Config) STTSessionConfig() transcription.SessionConfig {
	return transcription.SessionConfig{
		Model:          c.DeepgramModel,
		Language:       c.DeepgramLanguage,
		SampleRate:     c.SampleRate,
		Encoding:       c.Encoding,
		SmartFormat:    c.SmartFormat,
		InterimResults: c.InterimResults,
		EndpointingMs:  c.EndpointingMs,
	}
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	return v == "true"
}

func getEnvInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
