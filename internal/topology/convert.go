package topology

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

type Options struct {
	ModelPath string
	// BackupPath holds the untouched export. When it exists it is the source
	// of every run, so the conversion can be repeated safely.
	BackupPath string
	DryRun     bool
}

// DefaultBackupPath puts model_original.json next to the model.
func DefaultBackupPath(modelPath string) string {
	return filepath.Join(filepath.Dir(modelPath), "model_original.json")
}

// ConvertFile patches the model at opts.ModelPath, creating a backup first.
func ConvertFile(opts Options) (*Report, error) {
	if opts.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if opts.BackupPath == "" {
		opts.BackupPath = DefaultBackupPath(opts.ModelPath)
	}

	doc, err := readSource(opts)
	if err != nil {
		return nil, err
	}

	report, err := Patch(doc)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", opts.ModelPath, err)
	}
	if opts.DryRun {
		return report, nil
	}

	var buf bytes.Buffer
	if err := Encode(&buf, doc, false); err != nil {
		return nil, err
	}
	if err := os.WriteFile(opts.ModelPath, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write model: %w", err)
	}
	log.Printf("Saved: %s", opts.ModelPath)

	// read back what was written so the report reflects the file on disk
	written, err := readDoc(opts.ModelPath)
	if err != nil {
		return nil, err
	}
	report.Verification, err = Verify(written)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func readSource(opts Options) (map[string]any, error) {
	if _, err := os.Stat(opts.BackupPath); err == nil {
		log.Printf("Using original backup: %s", opts.BackupPath)
		return readDoc(opts.BackupPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat backup: %w", err)
	}

	doc, err := readDoc(opts.ModelPath)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return doc, nil
	}

	var buf bytes.Buffer
	if err := Encode(&buf, doc, true); err != nil {
		return nil, err
	}
	if err := os.WriteFile(opts.BackupPath, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}
	log.Printf("Created backup: %s", opts.BackupPath)
	return doc, nil
}

func readDoc(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
