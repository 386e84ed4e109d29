package edgeconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

// DefaultEmbeddedDir is where serverless deployments place config snapshots.
const DefaultEmbeddedDir = "/opt/edge-configs"

// embeddedSnapshot is a config bundled with the deployment as <dir>/<id>.json.
type embeddedSnapshot struct {
	Digest string                         `json:"digest"`
	Items  map[string]jsoniter.RawMessage `json:"items"`

	items Items
}

func (s *embeddedSnapshot) get(key string) Value {
	return s.items[key]
}

// loadEmbedded reads the snapshot for id. A missing file is not an error.
func loadEmbedded(dir, id string) (*embeddedSnapshot, error) {
	path := filepath.Join(dir, filepath.Base(id)+".json")
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read embedded config %s: %w", path, err)
	}

	var snap embeddedSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode embedded config %s: %w", path, err)
	}
	snap.items = itemsFromRaw(snap.Items)
	return &snap, nil
}

// embeddedSnapshot returns the bundled snapshot when embedded reads are
// enabled and the file exists. It is loaded once per client.
func (c *Client) embeddedSnapshot() *embeddedSnapshot {
	if c.embeddedDir == "" {
		return nil
	}
	c.embedOnce.Do(func() {
		snap, err := loadEmbedded(c.embeddedDir, c.connection.ID)
		if err != nil {
			c.log.Warn().Err(err).Msg("ignoring embedded config")
			return
		}
		if snap != nil {
			c.log.Debug().Str("digest", snap.Digest).Int("items", len(snap.items)).Msg("using embedded config")
		}
		c.embedded = snap
	})
	return c.embedded
}
