// Package voicestore persists enrolled voice artifacts on disk. Each voice
// gets its own directory holding an engine-opaque blob (reference audio or
// a speaker embedding, the engine decides) and a voice.json side file with
// the metadata the gateway lists.
package voicestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
)

const (
	blobFile = "voice.bin"
	metaFile = "voice.json"
)

// checkID rejects voice ids that would resolve outside the store root.
// Ids come from client input and are used as directory names.
func checkID(voiceID string) error {
	if voiceID == "" ||
		voiceID == "." || voiceID == ".." ||
		strings.ContainsAny(voiceID, `/\`) {
		return types.InvalidRequest(fmt.Sprintf("invalid voice_id %q", voiceID))
	}
	return nil
}

// Store manages voice artifact directories under a single root.
type Store struct {
	root   string
	logger *zap.Logger
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create voices dir: %w", err)
	}
	return &Store{root: dir, logger: logger.Named("voicestore")}, nil
}

// Save writes a voice artifact: the blob plus its metadata side file.
// An existing voice with the same id is overwritten.
func (s *Store) Save(info types.VoiceInfo, blob []byte) error {
	if err := checkID(info.VoiceID); err != nil {
		return err
	}
	dir := filepath.Join(s.root, info.VoiceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create voice dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, blobFile), blob, 0o644); err != nil {
		return fmt.Errorf("write voice blob: %w", err)
	}

	meta, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal voice metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), meta, 0o644); err != nil {
		return fmt.Errorf("write voice metadata: %w", err)
	}

	s.logger.Info("voice saved",
		zap.String("voice_id", info.VoiceID),
		zap.String("engine", info.Engine),
		zap.Int("blob_bytes", len(blob)),
	)
	return nil
}

// Load returns a voice's metadata and blob.
func (s *Store) Load(voiceID string) (types.VoiceInfo, []byte, error) {
	info, err := s.Info(voiceID)
	if err != nil {
		return types.VoiceInfo{}, nil, err
	}

	blob, err := os.ReadFile(filepath.Join(s.root, voiceID, blobFile))
	if err != nil {
		return types.VoiceInfo{}, nil, fmt.Errorf("read voice blob: %w", err)
	}
	return info, blob, nil
}

// Info returns a voice's metadata without loading the blob.
func (s *Store) Info(voiceID string) (types.VoiceInfo, error) {
	if err := checkID(voiceID); err != nil {
		return types.VoiceInfo{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, voiceID, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return types.VoiceInfo{}, types.VoiceNotFound(voiceID)
		}
		return types.VoiceInfo{}, fmt.Errorf("read voice metadata: %w", err)
	}

	var info types.VoiceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return types.VoiceInfo{}, fmt.Errorf("parse voice metadata: %w", err)
	}
	return info, nil
}

// List returns metadata for every stored voice, newest first. Directories
// without a readable side file are skipped.
func (s *Store) List() ([]types.VoiceInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read voices dir: %w", err)
	}

	var voices []types.VoiceInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := s.Info(e.Name())
		if err != nil {
			s.logger.Debug("skipping voice dir", zap.String("dir", e.Name()), zap.Error(err))
			continue
		}
		voices = append(voices, info)
	}

	sort.Slice(voices, func(i, j int) bool {
		return voices[i].CreatedAt > voices[j].CreatedAt
	})
	return voices, nil
}

// Delete removes a voice's directory.
func (s *Store) Delete(voiceID string) error {
	if err := checkID(voiceID); err != nil {
		return err
	}
	dir := filepath.Join(s.root, voiceID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return types.VoiceNotFound(voiceID)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete voice: %w", err)
	}
	s.logger.Info("voice deleted", zap.String("voice_id", voiceID))
	return nil
}

// BlobPath returns the on-disk path of a voice's blob, for engines that
// pass a file path to their upstream instead of bytes.
func (s *Store) BlobPath(voiceID string) (string, error) {
	if err := checkID(voiceID); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, voiceID, blobFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", types.VoiceNotFound(voiceID)
		}
		return "", err
	}
	return path, nil
}
