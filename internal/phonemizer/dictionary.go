package phonemizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// entries maps language to word to phonemes.
type entries map[string]map[string]string

// Dictionary is a per-language pronunciation override table. Lookups are
// lock-free; Reload swaps the whole table.
type Dictionary struct {
	path  string
	log   *slog.Logger
	table atomic.Pointer[entries]
}

// NewDictionary builds an in-memory dictionary.
func NewDictionary(table map[string]map[string]string) *Dictionary {
	d := &Dictionary{log: slog.Default()}
	e := entries(table)
	d.table.Store(&e)

	return d
}

// LoadDictionary reads a JSON or YAML dictionary. A missing file yields an
// empty dictionary and a warning; the path is remembered for Reload.
func LoadDictionary(path string, log *slog.Logger) (*Dictionary, error) {
	if log == nil {
		log = slog.Default()
	}

	d := &Dictionary{path: path, log: log.With(slog.String("component", "dictionary"))}

	empty := entries{}
	d.table.Store(&empty)

	if path == "" {
		return d, nil
	}

	if err := d.Reload(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.log.Warn("dictionary not found, continuing without", slog.String("path", path))
			return d, nil
		}

		return nil, err
	}

	return d, nil
}

// Reload re-reads the dictionary file. On error the previous table stays.
func (d *Dictionary) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read dictionary: %w", err)
	}

	var table entries

	switch strings.ToLower(filepath.Ext(d.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &table)
	default:
		err = json.Unmarshal(data, &table)
	}

	if err != nil {
		return fmt.Errorf("parse dictionary %s: %w", d.path, err)
	}

	if table == nil {
		table = entries{}
	}

	d.table.Store(&table)
	d.log.Info("dictionary loaded", slog.String("path", d.path), slog.Int("languages", len(table)))

	return nil
}

// Lookup finds word for lang, exact first and then lowercased.
func (d *Dictionary) Lookup(lang, word string) (string, bool) {
	words, ok := (*d.table.Load())[lang]
	if !ok {
		return "", false
	}

	if ph, ok := words[word]; ok {
		return ph, true
	}

	ph, ok := words[strings.ToLower(word)]

	return ph, ok
}

// Watch reloads the dictionary whenever its file is written or recreated,
// until ctx is done. Reload errors are logged and the old table is kept.
func (d *Dictionary) Watch(ctx context.Context) error {
	if d.path == "" {
		return errors.New("dictionary has no backing file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create dictionary watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are seen.
	dir := filepath.Dir(d.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(d.path)

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Clean(event.Name) != target {
					continue
				}

				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				d.log.Debug("dictionary changed", slog.String("op", event.Op.String()))

				if err := d.Reload(); err != nil {
					d.log.Warn("dictionary reload failed", slog.String("error", err.Error()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				d.log.Warn("dictionary watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}
