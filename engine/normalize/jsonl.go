package normalize

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

// FileName is the processed corpus file of one source.
func FileName(vehicle string, src domain.Source) string {
	return fmt.Sprintf("%s_%s.jsonl", vehicle, src)
}

// Glob matches every processed corpus file of a vehicle.
func Glob(dir, vehicle string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, vehicle+"_*.jsonl"))
}

// WriteJSONL replaces path with one document per line.
func WriteJSONL(path string, docs []domain.Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			f.Close()
			return fmt.Errorf("encode %s/%s: %w", d.Source, d.SourceID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadJSONL loads documents from path. Malformed lines are skipped and
// counted.
func ReadJSONL(path string) (docs []domain.Document, bad int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var d domain.Document
		if err := json.Unmarshal(line, &d); err != nil {
			bad++
			continue
		}
		docs = append(docs, d)
	}
	return docs, bad, sc.Err()
}

// CountLines counts non-empty lines, for status reports.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			n++
		}
	}
	return n, sc.Err()
}

// readJSON decodes one raw file.
func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
