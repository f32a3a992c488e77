// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_live

import (
	"context"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/rapidaai/live-bridge/pkg/commons"
)

// Gemini Live defaults.
const (
	DefaultVoice = "Zephyr"

	// InputMIMEType matches the 16 kHz PCM produced by the transport side.
	InputMIMEType = "audio/pcm;rate=16000"

	eventBufferSize = 256
)

// GeminiOpener opens Gemini Live sessions over the v1alpha Live API.
type GeminiOpener struct {
	logger commons.Logger
	apiKey string
	model  string
}

// NewGeminiOpener builds the opener used for every session of the process.
func NewGeminiOpener(logger commons.Logger, apiKey, model string) *GeminiOpener {
	return &GeminiOpener{logger: logger, apiKey: apiKey, model: model}
}

// Open connects a Gemini Live session configured for audio responses with
// input/output transcription, and starts the receive loop that feeds the
// event stream.
func (g *GeminiOpener) Open(ctx context.Context, cfg SessionConfig) (Channel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      g.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1alpha"},
	})
	if err != nil {
		return nil, &RemoteChannelError{Err: err}
	}

	session, err := client.Live.Connect(ctx, g.model, g.buildConfig(cfg))
	if err != nil {
		return nil, &RemoteChannelError{Err: err}
	}

	ch := &geminiChannel{
		logger:    g.logger,
		sessionID: cfg.SessionID,
		session:   session,
		events:    make(chan Event, eventBufferSize),
	}
	go ch.runReceiveLoop()

	g.logger.Infow("Gemini live channel opened",
		"session", cfg.SessionID, "model", g.model, "voice", voiceOrDefault(cfg.SpeakerProfile))
	return ch, nil
}

// buildConfig mirrors the production tuning for conversational latency:
// aggressive speech start/end detection, short prefix padding, 200ms silence
// window, transcription on both directions, affective dialog enabled.
func (g *GeminiOpener) buildConfig(cfg SessionConfig) *genai.LiveConnectConfig {
	return &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		},
		MediaResolution: genai.MediaResolutionMedium,
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: voiceOrDefault(cfg.SpeakerProfile),
				},
			},
		},
		RealtimeInputConfig: &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{
				Disabled:                 false,
				StartOfSpeechSensitivity: genai.StartSensitivityHigh,
				EndOfSpeechSensitivity:   genai.EndSensitivityHigh,
				PrefixPaddingMs:          genai.Ptr[int32](10),
				SilenceDurationMs:        genai.Ptr[int32](200),
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		EnableAffectiveDialog:    genai.Ptr(true),
	}
}

func voiceOrDefault(voice string) string {
	if voice == "" {
		return DefaultVoice
	}
	return voice
}

// ============================================================================
// geminiChannel
// ============================================================================

type geminiChannel struct {
	logger    commons.Logger
	sessionID string
	session   *genai.Session
	events    chan Event
	closed    atomic.Bool
	once      sync.Once
}

func (c *geminiChannel) SendAudio(_ context.Context, pcm []byte) error {
	err := c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: InputMIMEType},
	})
	if err != nil {
		return &RemoteChannelError{Err: err}
	}
	return nil
}

func (c *geminiChannel) SendVideo(_ context.Context, data []byte, mimeType string) error {
	err := c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Video: &genai.Blob{Data: data, MIMEType: mimeType},
	})
	if err != nil {
		return &RemoteChannelError{Err: err}
	}
	return nil
}

// SendText submits a complete user turn. Realtime input is not used for text;
// client content with turnComplete makes the model respond immediately.
func (c *geminiChannel) SendText(_ context.Context, text string) error {
	err := c.session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{
			{Role: genai.RoleUser, Parts: []*genai.Part{{Text: text}}},
		},
		TurnComplete: genai.Ptr(true),
	})
	if err != nil {
		return &RemoteChannelError{Err: err}
	}
	return nil
}

func (c *geminiChannel) Events() <-chan Event {
	return c.events
}

// Close shuts the underlying websocket; the receive loop observes the
// resulting error and emits the terminal ClosedEvent.
func (c *geminiChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.session.Close()
	})
	return err
}

// runReceiveLoop translates Gemini server messages into channel events,
// preserving arrival order. It terminates with exactly one ClosedEvent.
func (c *geminiChannel) runReceiveLoop() {
	defer close(c.events)

	for {
		msg, err := c.session.Receive()
		if err != nil {
			if c.closed.Load() {
				c.events <- ClosedEvent{}
			} else {
				c.logger.Errorw("Gemini live stream failed",
					"session", c.sessionID, "error", err)
				c.events <- ClosedEvent{Err: &RemoteChannelError{Err: err}}
			}
			return
		}

		if msg.GoAway != nil {
			c.logger.Infow("Gemini requested disconnect", "session", c.sessionID)
			c.events <- ClosedEvent{}
			return
		}

		sc := msg.ServerContent
		if sc == nil {
			continue
		}

		// Interrupted turns are not forwarded: the client is already
		// talking over them.
		if sc.Interrupted {
			c.events <- InterruptionEvent{}
			continue
		}

		if t := sc.InputTranscription; t != nil && t.Text != "" {
			c.events <- TranscriptEvent{Text: t.Text, Source: TranscriptSourceUser, Final: t.Finished}
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			c.events <- TranscriptEvent{Text: t.Text, Source: TranscriptSourceModel, Final: t.Finished}
		}

		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					c.events <- AudioEvent{Data: part.InlineData.Data}
				}
				if part.Text != "" {
					c.events <- TranscriptEvent{Text: part.Text, Source: TranscriptSourceModel}
				}
			}
		}

		if sc.TurnComplete {
			c.events <- TurnCompleteEvent{}
		}
	}
}
