package assets

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest lists the files a deployment needs and where they land under
// the asset root.
type Manifest struct {
	Files []File `yaml:"files"`
}

// File is one downloadable asset. An empty SHA256 is resolved from the hub
// metadata on first download and remembered in the lock file.
type File struct {
	Repo     string `yaml:"repo"`
	Filename string `yaml:"filename"`
	Revision string `yaml:"revision"`
	SHA256   string `yaml:"sha256"`
	// Target is the path relative to the asset root. Defaults to Filename.
	Target string `yaml:"target"`
}

func (f File) target() string {
	if f.Target != "" {
		return f.Target
	}

	return f.Filename
}

func (f File) key() string { return f.Repo + "/" + f.Filename }

// LoadManifest reads and validates a YAML manifest.
func LoadManifest(p string) (Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	return ParseManifest(data)
}

func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}

	if len(m.Files) == 0 {
		return Manifest{}, errors.New("parse manifest: no files")
	}

	for i := range m.Files {
		f := &m.Files[i]
		if f.Repo == "" || f.Filename == "" {
			return Manifest{}, fmt.Errorf("parse manifest: file %d needs repo and filename", i)
		}

		if f.Revision == "" {
			f.Revision = "main"
		}

		if f.SHA256 != "" && !isSHA256Hex(f.SHA256) {
			return Manifest{}, fmt.Errorf("parse manifest: %s: malformed sha256", f.key())
		}

		t := path.Clean(f.target())
		if path.IsAbs(t) || t == ".." || strings.HasPrefix(t, "../") {
			return Manifest{}, fmt.Errorf("parse manifest: %s: target escapes the asset root", f.key())
		}
	}

	return m, nil
}
