package transporters

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one JSON document per transporter. Saves go through a
// temp file and rename so a crash never truncates a record.
type FileStore struct {
	dir string
	log *log.Logger
}

func NewFileStore(dir string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.Default()
	}
	return &FileStore{dir: dir, log: logger}
}

func (s *FileStore) path(actorID string) string {
	// Actor ids are opaque; keep the filename safe.
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, actorID)
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Load(actorID string) (Data, bool) {
	raw, err := os.ReadFile(s.path(actorID))
	if err != nil {
		return Data{}, false
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		// Malformed record: skip it and start fresh rather than fail.
		s.log.Printf("transporter record %s corrupt, ignoring: %v", actorID, err)
		return Data{}, false
	}
	return d, true
}

func (s *FileStore) Save(d Data) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Printf("save transporter %s: %v", d.ActorID, err)
		return
	}
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		s.log.Printf("save transporter %s: %v", d.ActorID, err)
		return
	}
	path := s.path(d.ActorID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		s.log.Printf("save transporter %s: %v", d.ActorID, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.log.Printf("save transporter %s: %v", d.ActorID, err)
	}
}
