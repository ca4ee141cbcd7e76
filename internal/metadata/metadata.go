// Package metadata defines the serialized payload handed to external build
// tools. Builders run as separate processes, so the payload travels through
// an environment variable; the root-render step additionally writes it to a
// versions.json file next to the revision subdirectories.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/polybuild/internal/vcs"
)

// EnvVar is the environment variable carrying the JSON payload to the
// external documentation tool.
const EnvVar = "POLYBUILD_DATA"

// VersionsFile is the root-level data file mirroring the payload for static
// template rendering.
const VersionsFile = "versions.json"

// Payload is the per-revision metadata bundle. Revisions always holds the
// full original target set regardless of sibling failures.
type Payload struct {
	Revisions []vcs.Revision `json:"revisions"`
	Current   vcs.Revision   `json:"current"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Encode serializes the payload for the env channel.
func (p *Payload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

// Decode parses a payload from its env-channel form. Exposed for consumers
// embedding polybuild and for tests.
func Decode(s string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &p, nil
}

// DataFactory produces the payload passed to a builder. The default bundles
// the full target set and the current revision; callers may substitute their
// own to add extension data.
type DataFactory func(all []vcs.Revision, current vcs.Revision) *Payload

// DefaultData is the standard DataFactory.
func DefaultData(all []vcs.Revision, current vcs.Revision) *Payload {
	return &Payload{Revisions: all, Current: current}
}

// WriteVersions writes the list of successfully built revisions as
// versions.json in dir.
func WriteVersions(dir string, built []vcs.Revision) error {
	data, err := json.MarshalIndent(built, "", "  ")
	if err != nil {
		return fmt.Errorf("encode versions: %w", err)
	}
	file := filepath.Join(dir, VersionsFile)
	if err := os.WriteFile(file, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}
