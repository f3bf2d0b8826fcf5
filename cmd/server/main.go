package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog"

	"github.com/tiagosor/voicechat"
	"github.com/tiagosor/voicechat/llm/bedrock"
	"github.com/tiagosor/voicechat/transcription"
	"github.com/tiagosor/voicechat/transcription/deepgram"
	"github.com/tiagosor/voicechat/transcription/google"
	"github.com/tiagosor/voicechat/transcription/selector"
	"github.com/tiagosor/voicechat/tts/elevenlabs"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := voicechat.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	var transcriber transcription.Provider
	switch cfg.STTProvider {
	case "google":
		speechClient, err := speech.NewClient(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create google speech client")
		}
		defer speechClient.Close()
		transcriber = google.NewProvider(speechClient)
	case "multi":
		speechClient, err := speech.NewClient(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create google speech client")
		}
		defer speechClient.Close()
		transcriber = selector.NewProvider(logger,
			deepgram.NewProvider(cfg.DeepgramAPIKey),
			google.NewProvider(speechClient),
		)
	default:
		transcriber = deepgram.NewProvider(cfg.DeepgramAPIKey)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load AWS configuration")
	}

	responder := bedrock.NewResponder(
		bedrockruntime.NewFromConfig(awsCfg),
		bedrock.Options{
			ModelID:          cfg.BedrockModelID,
			SystemPromptFile: cfg.SystemPromptFile,
		},
		logger,
	)

	synthesizer := elevenlabs.NewSynthesizer(elevenlabs.Options{
		APIKey:  cfg.ElevenLabsAPIKey,
		VoiceID: cfg.ElevenLabsVoiceID,
		ModelID: cfg.ElevenLabsModel,
	}, logger)

	registry := voicechat.NewRegistry(transcriber, responder, synthesizer, cfg.STTSessionConfig(), logger)
	server := voicechat.New(cfg.Addr, registry, logger)

	logger.Info().
		Str("sttProvider", transcriber.Name()).
		Str("bedrockModel", cfg.BedrockModelID).
		Str("voiceId", cfg.ElevenLabsVoiceID).
		Msg("voice chat server configured")

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := server.Stop(); err != nil {
		logger.Error().Err(err).Msg("error during server shutdown")
	}
}
