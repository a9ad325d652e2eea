// Package testsupport provides fixtures shared by package tests: tiny MP4
// files and a fake watermark ML backend.
package testsupport

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// MinimalMP4 returns an ftyp box followed by an mdat box holding payload.
func MinimalMP4(payload []byte) []byte {
	out := make([]byte, 0, 20+8+len(payload))

	out = binary.BigEndian.AppendUint32(out, 20)
	out = append(out, "ftyp"...)
	out = append(out, "isom"...)
	out = binary.BigEndian.AppendUint32(out, 0x200)
	out = append(out, "isom"...)

	out = binary.BigEndian.AppendUint32(out, uint32(8+len(payload)))
	out = append(out, "mdat"...)
	return append(out, payload...)
}

// WriteFile writes data under dir and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
