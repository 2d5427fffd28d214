package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/airbyte-operator/pkg/metrics"
	"github.com/cuemby/airbyte-operator/pkg/types"
)

const (
	ServerReady   = "ready"
	ServerBlocked = "blocked"
)

// Announcement is what the leader publishes to consumers of the server
type Announcement struct {
	ServerName   string `json:"server_name"`
	ServerStatus string `json:"server_status"`
}

// AnnouncementFor derives the announcement for the given status
func AnnouncementFor(name string, status types.Status) Announcement {
	a := Announcement{ServerName: name, ServerStatus: ServerBlocked}
	if status.Kind == types.StatusReady {
		a.ServerStatus = ServerReady
	}
	return a
}

// Announcer publishes readiness to consumers of the server
type Announcer interface {
	Announce(ctx context.Context, a Announcement) error
}

// FileAnnouncer writes the announcement as JSON to a file that consumers
// watch. The file is replaced atomically.
type FileAnnouncer struct {
	Path string
}

// NewFileAnnouncer creates an announcer writing to path
func NewFileAnnouncer(path string) *FileAnnouncer {
	return &FileAnnouncer{Path: path}
}

// Announce implements Announcer
func (f *FileAnnouncer) Announce(_ context.Context, a Announcement) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode announcement: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create announcement directory: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write announcement: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("failed to replace announcement: %w", err)
	}

	metrics.Announcements.Inc()
	return nil
}

// ReadAnnouncement loads an announcement written by FileAnnouncer
func ReadAnnouncement(path string) (Announcement, error) {
	var a Announcement
	data, err := os.ReadFile(path)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("failed to decode announcement: %w", err)
	}
	return a, nil
}
