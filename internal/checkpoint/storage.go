// internal/checkpoint/storage.go
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Storage persists checkpoint snapshot maps as zstd-compressed JSON under
// baseDir/snapshots/<scope>/<session>/<checkpoint>.json.zst.
type Storage struct {
	baseDir string
	mu      sync.RWMutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewStorage creates snapshot storage rooted at baseDir.
func NewStorage(baseDir string, compressionLevel int) *Storage {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	decoder, _ := zstd.NewReader(nil)

	return &Storage{
		baseDir: baseDir,
		encoder: encoder,
		decoder: decoder,
	}
}

// sessionDir returns the snapshot directory for a session.
func (s *Storage) sessionDir(scope, sessionID string) string {
	return filepath.Join(s.baseDir, "snapshots", scope, sessionID)
}

func (s *Storage) snapshotPath(scope, sessionID, checkpointID string) string {
	return filepath.Join(s.sessionDir(scope, sessionID), checkpointID+".json.zst")
}

// Save persists a checkpoint's snapshot map, overwriting any previous save.
// Called once per checkpoint, at completion time.
func (s *Storage) Save(scope, sessionID, checkpointID string, snapshots map[Key]Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.sessionDir(scope, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	raw, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}

	compressed := s.encoder.EncodeAll(raw, nil)
	if err := os.WriteFile(s.snapshotPath(scope, sessionID, checkpointID), compressed, 0644); err != nil {
		return fmt.Errorf("write snapshots: %w", err)
	}
	return nil
}

// Load returns a checkpoint's snapshot map, or an empty map when no
// snapshots were ever saved for it.
func (s *Storage) Load(scope, sessionID, checkpointID string) (map[Key]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	compressed, err := os.ReadFile(s.snapshotPath(scope, sessionID, checkpointID))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[Key]Snapshot), nil
		}
		return nil, fmt.Errorf("read snapshots: %w", err)
	}

	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshots: %w", err)
	}

	snapshots := make(map[Key]Snapshot)
	if err := json.Unmarshal(raw, &snapshots); err != nil {
		return nil, fmt.Errorf("unmarshal snapshots: %w", err)
	}
	return snapshots, nil
}

// DeleteMany removes the saved snapshots for the given checkpoints.
// Best-effort: a missing target is not an error, and the first real
// failure is returned only after every target has been attempted.
func (s *Storage) DeleteMany(scope, sessionID string, checkpointIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, id := range checkpointIDs {
		err := os.Remove(s.snapshotPath(scope, sessionID, id))
		if err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("delete snapshot %s: %w", id, err)
		}
	}
	return firstErr
}

// DeleteSession removes every snapshot belonging to a session.
func (s *Storage) DeleteSession(scope, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return os.RemoveAll(s.sessionDir(scope, sessionID))
}
