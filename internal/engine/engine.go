// Package engine adapts the worker runtime to the TTS model services. The
// model runtimes themselves are separate processes with their own HTTP
// APIs; each adapter speaks one of those APIs and manages the voice
// artifacts the engine needs.
package engine

import (
	"context"

	"github.com/voicegrid/voicegrid/internal/types"
)

// ExtractParams carries voice enrollment inputs alongside the raw audio.
type ExtractParams struct {
	VoiceID   string
	VoiceName string

	// Reference transcript for engines that need it (gpt-sovits).
	PromptText string
	PromptLang string
}

// Engine is the capability contract a worker hosts. Implementations are
// not safe for concurrent Load/Unload, which the worker serialises through
// its lifecycle state machine; Synthesize and ExtractVoice may be called
// concurrently once loaded.
type Engine interface {
	// Type identifies the engine family.
	Type() types.Engine

	// Load prepares the engine for synthesis. For upstream-backed engines
	// this verifies connectivity to the model service.
	Load(ctx context.Context) error

	// Unload releases the engine's resources.
	Unload(ctx context.Context) error

	// Synthesize renders text as WAV audio using a stored voice.
	Synthesize(ctx context.Context, req types.SynthesizeRequest) ([]byte, error)

	// ExtractVoice enrolls a new voice from reference audio and persists
	// its artifact, returning the stored metadata.
	ExtractVoice(ctx context.Context, audio []byte, params ExtractParams) (types.VoiceInfo, error)
}
