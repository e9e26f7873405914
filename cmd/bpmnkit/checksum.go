package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// manifest maps a document base name to its lower-case SHA-256 digest.
type manifest map[string]string

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func digestFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return digest(data), nil
}

// readManifest parses sha256sum output: "<hex>  <name>" per line, with an
// optional "*" binary marker before the name. Lines that do not carry a full
// digest are ignored.
func readManifest(r io.Reader) (manifest, error) {
	m := make(manifest)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || len(fields[0]) != sha256.Size*2 {
			continue
		}
		if _, err := hex.DecodeString(fields[0]); err != nil {
			continue
		}
		name := strings.TrimPrefix(fields[len(fields)-1], "*")
		m[name] = strings.ToLower(fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	return m, nil
}

// loadManifests merges several checksum files. A later file wins on a
// repeated name.
func loadManifests(paths []string) (manifest, error) {
	merged := make(manifest)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open checksums: %w", err)
		}
		m, err := readManifest(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for name, sum := range m {
			merged[name] = sum
		}
	}
	return merged, nil
}

// check compares a document against its listed digest and returns a
// problem description, or "" when it matches.
func (m manifest) check(path string, data []byte) string {
	want, listed := m[filepath.Base(path)]
	switch {
	case !listed:
		return "not listed in checksum file"
	case want != digest(data):
		return "checksum mismatch"
	}
	return ""
}

// writeSidecar writes "<hex>  <basename>" to path + ".sha256" so that
// `sha256sum -c` and `bpmnkit verify --checksums` both accept it.
func writeSidecar(path string) error {
	sum, err := digestFile(path)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", path, err)
	}
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(path))
	if err := os.WriteFile(path+".sha256", []byte(line), 0o644); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	return nil
}
