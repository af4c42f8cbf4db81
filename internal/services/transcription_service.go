package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/buscai/backend/internal/config"
	log "github.com/sirupsen/logrus"
)

var ErrTranscriptionUnavailable = errors.New("speech transcription is not available")

// SpeechTranscriber turns WhatsApp voice notes into search text with Google
// Cloud Speech.
type SpeechTranscriber struct {
	client       *speech.Client
	languageCode string
}

// NewSpeechTranscriber returns a transcriber that always fails with
// ErrTranscriptionUnavailable when speech is disabled or the client cannot
// be created.
func NewSpeechTranscriber(ctx context.Context, cfg config.SpeechConfig) *SpeechTranscriber {
	t := &SpeechTranscriber{languageCode: cfg.LanguageCode}
	if !cfg.Enabled {
		return t
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		log.Printf("Warning: Failed to initialize speech client: %v", err)
		return t
	}
	t.client = client
	return t
}

func (s *SpeechTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if s.client == nil {
		return "", ErrTranscriptionUnavailable
	}
	if len(audio) == 0 {
		return "", errors.New("audio data is empty")
	}

	encoding, sampleRate, err := encodingForMIME(mimeType)
	if err != nil {
		return "", err
	}

	speechReq := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            sampleRate,
			LanguageCode:               s.languageCode,
			EnableAutomaticPunctuation: false,
			Model:                      "latest_short",
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: audio,
			},
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := s.client.Recognize(timeoutCtx, speechReq)
	if err != nil {
		return "", fmt.Errorf("recognition failed: %w", err)
	}

	var transcript strings.Builder
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			transcript.WriteString(result.Alternatives[0].Transcript)
			transcript.WriteString(" ")
		}
	}

	text := strings.TrimSpace(transcript.String())
	if text == "" {
		return "", errors.New("no transcription results")
	}
	return text, nil
}

// encodingForMIME maps the media types WhatsApp delivers to a speech
// encoding. Voice notes are Opus in an Ogg container at 16 kHz.
func encodingForMIME(mimeType string) (speechpb.RecognitionConfig_AudioEncoding, int32, error) {
	base := strings.TrimSpace(strings.SplitN(strings.ToLower(mimeType), ";", 2)[0])
	switch base {
	case "audio/ogg", "audio/opus":
		return speechpb.RecognitionConfig_OGG_OPUS, 16000, nil
	case "audio/amr":
		return speechpb.RecognitionConfig_AMR, 8000, nil
	case "audio/amr-wb":
		return speechpb.RecognitionConfig_AMR_WB, 16000, nil
	case "audio/webm":
		return speechpb.RecognitionConfig_WEBM_OPUS, 48000, nil
	case "audio/flac", "audio/x-flac":
		return speechpb.RecognitionConfig_FLAC, 0, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, 0, fmt.Errorf("unsupported audio type: %s", mimeType)
	}
}

func (s *SpeechTranscriber) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
