// Package types defines shared domain types used by both the gateway and
// the workers. Field names follow the JSON wire format exchanged on the
// registration, heartbeat and synthesis endpoints.
package types

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ─── Engine ──────────────────────────────────────────────────────────────────

// Engine identifies the TTS model family a worker hosts.
type Engine string

const (
	EngineXTTS      Engine = "xtts"
	EngineOpenVoice Engine = "openvoice"
	EngineGPTSoVITS Engine = "gpt-sovits"
)

// Engines lists all known engines in a stable order. Used for per-engine
// stats so every engine appears in the output even with zero nodes.
func Engines() []Engine {
	return []Engine{EngineXTTS, EngineOpenVoice, EngineGPTSoVITS}
}

// ParseEngine validates an engine tag from the wire.
func ParseEngine(s string) (Engine, error) {
	switch Engine(s) {
	case EngineXTTS, EngineOpenVoice, EngineGPTSoVITS:
		return Engine(s), nil
	}
	return "", InvalidRequest("unknown engine: " + s)
}

// ─── Worker lifecycle ────────────────────────────────────────────────────────

// Status represents a worker's lifecycle state. Workers are the source of
// truth for their own state; the registry records transitions faithfully.
type Status string

const (
	// StatusStandby means the process is up but the model is not loaded.
	StatusStandby Status = "standby"

	// StatusLoading means a load_model call is in progress.
	StatusLoading Status = "loading"

	// StatusReady means the model is loaded and the worker accepts work.
	StatusReady Status = "ready"

	// StatusBusy is a reserved saturation substate. Workers report it but
	// never enter it on their own; treated like ready for selection.
	StatusBusy Status = "busy"

	// StatusError means the last lifecycle operation failed.
	StatusError Status = "error"

	// StatusOffline means the worker missed heartbeats or was stopped.
	StatusOffline Status = "offline"
)

// ParseStatus validates a status string from the wire.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusStandby, StatusLoading, StatusReady, StatusBusy, StatusError, StatusOffline:
		return Status(s), nil
	}
	return "", InvalidRequest("unknown status: " + s)
}

// ─── Node ────────────────────────────────────────────────────────────────────

// Node is the registry's record for a single worker. Timestamps are epoch
// seconds to match the heartbeat wire format.
type Node struct {
	NodeID        string  `json:"node_id"`
	Engine        Engine  `json:"engine_type"`
	Host          string  `json:"host"`
	Port          int     `json:"port"`
	Status        Status  `json:"status"`
	ModelLoaded   bool    `json:"model_loaded"`
	RegisteredAt  float64 `json:"registered_at"`
	LastHeartbeat float64 `json:"last_heartbeat"`

	// Live resource gauges, percentages 0–100.
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	GPUPercent       float64 `json:"gpu_percent"`
	GPUMemoryPercent float64 `json:"gpu_memory_percent"`

	// Counters reported via heartbeats.
	RequestCount      int64   `json:"request_count"`
	ErrorCount        int64   `json:"error_count"`
	AvgResponseTimeMS float64 `json:"avg_response_time"`
	CurrentConcurrent int64   `json:"current_concurrent"`
}

// Address returns the worker's host:port network address.
func (n *Node) Address() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// IsAvailable reports whether the node can be selected for work:
// ready with its model loaded.
func (n *Node) IsAvailable() bool {
	return n.Status == StatusReady && n.ModelLoaded
}

// Metrics is the transient snapshot a worker sends with each heartbeat.
// The registry copies the relevant fields onto the node record; the
// snapshot itself is not retained.
type Metrics struct {
	NodeID    string  `json:"node_id"`
	Timestamp float64 `json:"timestamp"`

	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	MemoryUsedMB     float64 `json:"memory_used_mb"`
	GPUPercent       float64 `json:"gpu_percent"`
	GPUMemoryPercent float64 `json:"gpu_memory_percent"`
	GPUMemoryUsedMB  float64 `json:"gpu_memory_used_mb"`

	Status            Status  `json:"status"`
	CurrentConcurrent int64   `json:"current_concurrent"`
	QueueSize         int     `json:"queue_size"`
	RequestCount      int64   `json:"request_count"`
	ErrorCount        int64   `json:"error_count"`
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
}

// Command is a lifecycle control command sent to a worker's /command
// endpoint: activate, standby or stop (plus the load_model/unload_model
// aliases).
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// ─── API requests / responses ────────────────────────────────────────────────

// SynthesizeRequest is the body of POST /api/synthesize (and the worker's
// /synthesize). Use Normalize before Validate to apply defaults.
type SynthesizeRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	Engine       Engine  `json:"engine,omitempty"`
	Language     string  `json:"language,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
	Pitch        float64 `json:"pitch,omitempty"`
}

// Normalize fills in defaults for optional fields left at their zero value.
func (r *SynthesizeRequest) Normalize() {
	if r.Language == "" {
		r.Language = "zh"
	}
	if r.OutputFormat == "" {
		r.OutputFormat = "wav"
	}
	if r.Speed == 0 {
		r.Speed = 1.0
	}
	if r.Pitch == 0 {
		r.Pitch = 1.0
	}
}

// Validate checks the request constraints: text length 1–5000, voice_id
// required, speed and pitch within [0.5, 2.0].
func (r *SynthesizeRequest) Validate() error {
	if r.Text == "" {
		return InvalidRequest("text is required")
	}
	// Character limit, not bytes: multi-byte scripts count per rune.
	if utf8.RuneCountInString(r.Text) > 5000 {
		return InvalidRequest("text exceeds 5000 characters")
	}
	if r.VoiceID == "" {
		return InvalidRequest("voice_id is required")
	}
	if r.Speed < 0.5 || r.Speed > 2.0 {
		return InvalidRequest("speed must be between 0.5 and 2.0")
	}
	if r.Pitch < 0.5 || r.Pitch > 2.0 {
		return InvalidRequest("pitch must be between 0.5 and 2.0")
	}
	if r.Engine != "" {
		if _, err := ParseEngine(string(r.Engine)); err != nil {
			return err
		}
	}
	return nil
}

// SynthesizeResponse is the structured failure body returned when a
// synthesis could not produce audio. Successful calls return raw
// audio/wav bytes instead.
type SynthesizeResponse struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message,omitempty"`
	AudioURL   string  `json:"audio_url,omitempty"`
	AudioSize  int     `json:"audio_size,omitempty"`
	DurationMS float64 `json:"duration_ms,omitempty"`
	EngineUsed string  `json:"engine_used,omitempty"`
	NodeUsed   string  `json:"node_used,omitempty"`
}

// ExtractVoiceResponse is the JSON result of a voice enrollment.
type ExtractVoiceResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
	VoiceName string `json:"voice_name,omitempty"`
	Engine    string `json:"engine,omitempty"`
}

// BatchSynthesizeRequest is the body of POST /api/batch_synthesize.
type BatchSynthesizeRequest struct {
	Texts    []string `json:"texts"`
	VoiceID  string   `json:"voice_id"`
	Engine   Engine   `json:"engine,omitempty"`
	Language string   `json:"language,omitempty"`
}

// BatchItemResult reports the outcome of one item in a batch.
type BatchItemResult struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	Size    int    `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchSynthesizeResponse aggregates per-item outcomes. Partial failure is
// reported, not raised: Success is true only when every item succeeded.
type BatchSynthesizeResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message,omitempty"`
	Results   []BatchItemResult `json:"results"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// VoiceInfo describes a stored voice artifact. The prompt fields are only
// set for gpt-sovits voices, whose upstream needs the reference transcript.
type VoiceInfo struct {
	VoiceID   string  `json:"voice_id"`
	Name      string  `json:"name"`
	Engine    string  `json:"engine"`
	CreatedAt float64 `json:"created_at"`

	PromptText string `json:"prompt_text,omitempty"`
	PromptLang string `json:"prompt_lang,omitempty"`
}

// ─── Announcements ───────────────────────────────────────────────────────────

// AnnouncementType is the severity of an operator announcement.
type AnnouncementType string

const (
	AnnouncementInfo        AnnouncementType = "info"
	AnnouncementWarning     AnnouncementType = "warning"
	AnnouncementError       AnnouncementType = "error"
	AnnouncementMaintenance AnnouncementType = "maintenance"
)

// Announcement is an operator message shown on dashboards. Stored in
// memory for the gateway process lifetime only.
type Announcement struct {
	ID        string           `json:"id"`
	Type      AnnouncementType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	CreatedAt float64          `json:"created_at"`
	ExpiresAt *float64         `json:"expires_at,omitempty"`
}

// IsExpired reports whether the announcement has passed its expiry.
// Announcements without an expiry never expire.
func (a *Announcement) IsExpired() bool {
	return a.ExpiresAt != nil && Now() > *a.ExpiresAt
}

// ─── Cluster status ──────────────────────────────────────────────────────────

// EngineStats counts nodes of one engine by liveness tier.
type EngineStats struct {
	Total  int `json:"total"`
	Online int `json:"online"`
	Ready  int `json:"ready"`
}

// RegistryStats summarises the whole registry. Online counts every node
// whose status is not offline; ready counts available nodes.
type RegistryStats struct {
	TotalNodes  int                    `json:"total_nodes"`
	OnlineNodes int                    `json:"online_nodes"`
	ReadyNodes  int                    `json:"ready_nodes"`
	Engines     map[string]EngineStats `json:"engines"`
}

// SystemStatus is the full cluster overview pushed to dashboards and
// served on GET /api/status.
type SystemStatus struct {
	OnlineNodes       int                    `json:"online_nodes"`
	TotalNodes        int                    `json:"total_nodes"`
	TotalRequests     int64                  `json:"total_requests"`
	CurrentConcurrent int64                  `json:"current_concurrent"`
	AvgResponseTimeMS float64                `json:"avg_response_time_ms"`
	Engines           map[string]EngineStats `json:"engines"`
	Announcements     []Announcement         `json:"announcements,omitempty"`
}

// HealthCheck is the payload of GET /health and GET /api/health.
type HealthCheck struct {
	Status        string         `json:"status"` // healthy, degraded, unhealthy
	Version       string         `json:"version"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Timestamp     float64        `json:"timestamp"`
	Components    map[string]any `json:"components,omitempty"`
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// NewID returns an opaque 8-hex-char identifier, short enough for node and
// announcement ids while keeping collisions negligible at cluster scale.
func NewID() string {
	return uuid.NewString()[:8]
}

// Now returns the current time as epoch seconds, the timestamp unit used
// throughout the wire format.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
