package phonemizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDictionaryLookupOrder(t *testing.T) {
	d := NewDictionary(map[string]map[string]string{
		"en_us": {"Nice": "naɪs!", "nice": "naɪs", "gif": "dʒɪf"},
	})

	tests := []struct {
		lang, word string
		want       string
		ok         bool
	}{
		{"en_us", "Nice", "naɪs!", true},
		{"en_us", "NICE", "naɪs", true},
		{"en_us", "GIF", "dʒɪf", true},
		{"en_us", "other", "", false},
		{"de", "nice", "", false},
	}

	for _, tt := range tests {
		got, ok := d.Lookup(tt.lang, tt.word)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Lookup(%q, %q) = %q, %v; want %q, %v", tt.lang, tt.word, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLoadDictionaryFormats(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "dict.json")
	writeFile(t, jsonPath, `{"en_us": {"neu": "nɔɪ"}}`)

	yamlPath := filepath.Join(dir, "dict.yaml")
	writeFile(t, yamlPath, "en_us:\n  neu: nɔɪ\n")

	for _, path := range []string{jsonPath, yamlPath} {
		d, err := LoadDictionary(path, quietLogger())
		if err != nil {
			t.Fatalf("LoadDictionary(%s): %v", path, err)
		}

		if ph, ok := d.Lookup("en_us", "neu"); !ok || ph != "nɔɪ" {
			t.Errorf("%s: Lookup = %q, %v", filepath.Base(path), ph, ok)
		}
	}
}

func TestLoadDictionaryMissingIsEmpty(t *testing.T) {
	d, err := LoadDictionary(filepath.Join(t.TempDir(), "absent.json"), quietLogger())
	if err != nil {
		t.Fatalf("LoadDictionary: %v", err)
	}

	if _, ok := d.Lookup("en_us", "x"); ok {
		t.Error("empty dictionary reported a hit")
	}
}

func TestLoadDictionaryMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.json")
	writeFile(t, path, `{"en_us": [1, 2]}`)

	if _, err := LoadDictionary(path, quietLogger()); err == nil {
		t.Error("LoadDictionary succeeded on malformed file")
	}
}

func TestReloadKeepsTableOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.json")
	writeFile(t, path, `{"en_us": {"a": "eɪ"}}`)

	d, err := LoadDictionary(path, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, `not json`)

	if err := d.Reload(); err == nil {
		t.Fatal("Reload succeeded on bad file")
	}

	if ph, ok := d.Lookup("en_us", "a"); !ok || ph != "eɪ" {
		t.Errorf("table lost after failed reload: %q, %v", ph, ok)
	}
}

func TestDictionaryWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.json")
	writeFile(t, path, `{"en_us": {"tomato": "təmeɪtoʊ"}}`)

	d, err := LoadDictionary(path, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, path, `{"en_us": {"tomato": "təmɑːtəʊ"}}`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ph, _ := d.Lookup("en_us", "tomato"); ph == "təmɑːtəʊ" {
			return
		}

		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("dictionary was not reloaded after the file changed")
}

func TestWatchWithoutFile(t *testing.T) {
	if err := NewDictionary(nil).Watch(context.Background()); err == nil {
		t.Error("Watch on in-memory dictionary succeeded")
	}
}
