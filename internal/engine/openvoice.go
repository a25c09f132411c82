package engine

import (
	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
	"github.com/voicegrid/voicegrid/internal/voicestore"
)

// DefaultOpenVoiceURL is where the OpenVoice model service listens on a
// single-host deployment.
const DefaultOpenVoiceURL = "http://127.0.0.1:9871"

// NewOpenVoice creates the OpenVoice adapter. The voice blob is the tone
// color embedding the model service computes during extraction.
func NewOpenVoice(url string, store *voicestore.Store, logger *zap.Logger) Engine {
	if url == "" {
		url = DefaultOpenVoiceURL
	}
	return newUpstreamEngine(types.EngineOpenVoice, url, store, logger)
}
