package api

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/soaringjerry/Quill/internal/models"
)

// Snapshot is the JSON document used for memory-store persistence and for
// seeding an empty database.
type Snapshot struct {
	Users     []SnapshotUser      `json:"users"`
	Questions []*models.Question  `json:"questions"`
	Forms     []*models.Form      `json:"forms"`
	Responses []SnapshotResponse  `json:"responses"`
	Audit     []models.AuditEntry `json:"audit,omitempty"`
}

// SnapshotUser carries credentials that the public user JSON hides. Seed files
// may give a plain Password instead of a hash.
type SnapshotUser struct {
	models.User
	PassHash []byte `json:"pass_hash,omitempty"`
	Password string `json:"password,omitempty"`
}

type SnapshotResponse struct {
	models.Response
	DayKey string `json:"day_key,omitempty"`
}

func LoadSnapshot(path string) (*Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}
