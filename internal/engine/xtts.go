package engine

import (
	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
	"github.com/voicegrid/voicegrid/internal/voicestore"
)

// DefaultXTTSURL is where the XTTS model service listens on a single-host
// deployment.
const DefaultXTTSURL = "http://127.0.0.1:9870"

// NewXTTS creates the XTTS adapter. The voice blob is the speaker
// embedding the model service computes during extraction.
func NewXTTS(url string, store *voicestore.Store, logger *zap.Logger) Engine {
	if url == "" {
		url = DefaultXTTSURL
	}
	return newUpstreamEngine(types.EngineXTTS, url, store, logger)
}
