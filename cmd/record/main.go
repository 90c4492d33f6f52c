// Command record captures one voice recording from the default microphone,
// streams it to the live transcription service, and prints the transcript.
// Recording stops automatically after sustained silence, or on Ctrl-C.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/casebase/voicechat/internal/capture"
	"github.com/casebase/voicechat/internal/config"
	"github.com/casebase/voicechat/internal/session"
	"github.com/casebase/voicechat/internal/transcription"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	listDevices := flag.Bool("list-devices", false, "List available audio input devices")
	savePath := flag.String("save", "", "Write the recording as a WAV file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *listDevices {
		devices, err := capture.ListInputDevices()
		if err != nil {
			slog.Error("Failed to list audio devices", "error", err)
			os.Exit(1)
		}

		fmt.Println("Available audio input devices:")
		for i, device := range devices {
			fmt.Printf("[%d] %s\n", i, device.Name)
			fmt.Printf("    Max Input Channels: %d\n", device.MaxInputChannels)
			fmt.Printf("    Default Sample Rate: %f\n", device.DefaultSampleRate)
			fmt.Println()
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	manager := session.NewManager(func() (*transcription.StreamClient, error) {
		return transcription.NewStreamClient(transcription.StreamConfig{
			Endpoint:   cfg.Speech.StreamingURL,
			APIKey:     cfg.Speech.APIKey,
			SampleRate: cfg.Speech.SampleRate,
			Channels:   cfg.Speech.Channels,
			Language:   cfg.Speech.Language,
			Model:      cfg.Speech.Model,
		})
	}, session.Config{
		SilenceThreshold: cfg.Session.SilenceThreshold,
		SilenceHold:      cfg.Session.GetSilenceHoldDuration(),
	}, nil)

	mic, err := capture.NewMicSource(cfg.Speech.SampleRate, cfg.Speech.Channels, cfg.Session.FrameSize)
	if err != nil {
		slog.Error("Failed to open microphone", "error", err)
		os.Exit(1)
	}

	sess, err := manager.Start(context.Background(), mic)
	if err != nil {
		mic.Close()
		slog.Error("Failed to start recording session", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Stopping recording")
		sess.Stop()
	}()

	fmt.Println("Recording... speak now. Stops after silence, or press Ctrl-C.")

	var reason session.StopReason
	for ev := range sess.Events() {
		switch ev.Type {
		case session.EventInterim:
			fmt.Printf("\r... %s", ev.Text)
		case session.EventTranscript:
			fmt.Printf("\r%s\n", ev.Text)
		case session.EventStopped:
			reason = ev.Reason
		}
	}
	<-sess.Done()

	if dropped := mic.DroppedFrames(); dropped > 0 {
		slog.Warn("Capture frames dropped", "count", dropped)
	}

	fmt.Printf("\nStopped (%s)\n", reason)
	fmt.Printf("Transcript: %s\n", sess.Transcript())

	if *savePath != "" {
		wav, err := sess.Recording()
		if err != nil {
			slog.Error("Failed to encode recording", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*savePath, wav, 0o644); err != nil {
			slog.Error("Failed to write recording", "error", err)
			os.Exit(1)
		}
		slog.Info("Recording saved", "path", *savePath, "bytes", len(wav))
	}
}
