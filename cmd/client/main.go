package main

import (
	"bufio"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiagosor/voicechat"
	"github.com/tiagosor/voicechat/client"
)

// similarityThreshold controls deduplication of near-identical final
// transcripts the provider occasionally re-emits.
const similarityThreshold = 0.85

func main() {
	var serverURL = flag.String("url", "ws://localhost:8081/ws", "WebSocket server URL")
	var outputPath = flag.String("output", "", "Output file path for the conversation log (optional)")
	var audioDir = flag.String("audio-dir", "", "Directory for received TTS audio files (optional)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()

	mic, err := NewMicrophoneReader()
	if err != nil {
		logger.Error().Err(err).Msg("failed to open microphone")
		return
	}
	defer mic.Close()

	var bufWriter *bufio.Writer
	if *outputPath != "" {
		outputFile, err := os.Create(*outputPath)
		if err != nil {
			logger.Error().Err(err).Msg("failed to create output file")
			return
		}
		defer outputFile.Close()

		bufWriter = bufio.NewWriter(outputFile)
		defer bufWriter.Flush()
	}

	logLine := func(line string) {
		fmt.Print(line)
		if bufWriter != nil {
			if _, err := bufWriter.WriteString(line); err != nil {
				logger.Error().Err(err).Msg("failed to write to output file")
			} else {
				bufWriter.Flush()
			}
		}
	}

	recents := NewTranscriptBuffer(8)
	var audioSeq atomic.Int64
	terminal := make(chan struct{})

	var mgr *client.Manager
	mgr = client.NewManager(*serverURL, client.Handlers{
		OnStateChange: func(st client.State) {
			logger.Info().Str("state", string(st)).Msg("connection state")
			if st == client.StateConnected {
				if err := mgr.StartRecording(); err != nil {
					logger.Error().Err(err).Msg("failed to start recording")
				}
			}
		},
		OnTranscription: func(res voicechat.TranscriptionResultPayload) {
			if res.IsInterim {
				return
			}
			if recents.IsSimilar(res.Text, similarityThreshold) {
				return
			}
			recents.Add(res.Text)
			timestamp := time.Now().Format("15:04:05")
			logLine(fmt.Sprintf("[%s] you: %s\n", timestamp, res.Text))
		},
		OnAIResponse: func(res voicechat.AIResponsePayload) {
			timestamp := time.Now().Format("15:04:05")
			logLine(fmt.Sprintf("[%s] assistant: %s\n", timestamp, res.Text))
		},
		OnTTSAudio: func(audio voicechat.TTSAudioPayload) {
			if *audioDir == "" {
				return
			}
			data, err := base64.StdEncoding.DecodeString(audio.AudioData)
			if err != nil {
				logger.Error().Err(err).Msg("failed to decode TTS audio")
				return
			}
			name := filepath.Join(*audioDir, fmt.Sprintf("reply-%03d.%s", audioSeq.Add(1), audio.Format))
			if err := os.WriteFile(name, data, 0o644); err != nil {
				logger.Error().Err(err).Msg("failed to save TTS audio")
				return
			}
			logger.Info().Str("file", name).Msg("saved TTS audio")
		},
		OnTranscriptionError: func(msg string) {
			logger.Error().Str("error", msg).Msg("transcription error")
		},
		OnAIError: func(msg string) {
			logger.Error().Str("error", msg).Msg("AI error")
		},
		OnTTSError: func(msg string) {
			logger.Error().Str("error", msg).Msg("TTS error")
		},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("connection failed permanently")
			close(terminal)
		},
	}, logger)

	mgr.Connect()

	// Microphone pump. Chunks are dropped by the manager until the server
	// acknowledges recording-started.
	go func() {
		buf := make([]byte, framesPerBuffer*2)
		for {
			n, err := mic.Read(buf)
			if err != nil {
				logger.Error().Err(err).Msg("audio read error")
				return
			}
			mgr.SendAudioChunk(buf[:n])
		}
	}()

	fmt.Println("Recording... Press Ctrl+C to stop.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-terminal:
	}

	if err := mgr.StopRecording(); err != nil {
		logger.Debug().Err(err).Msg("stop recording")
	}
	mgr.Disconnect()
	fmt.Println("\nDone.")
}
