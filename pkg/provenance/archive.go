package provenance

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const manifestEntry = "manifest.json"

// Builder holds a validated manifest definition on its way to being signed.
type Builder struct {
	manifest Manifest
}

// BuilderFromJSON parses and validates a manifest definition.
func BuilderFromJSON(data []byte) (*Builder, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest definition: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Builder{manifest: m}, nil
}

// Manifest returns the definition held by the builder.
func (b *Builder) Manifest() Manifest {
	return b.manifest
}

// ToArchive writes the signing-ready archive: a zip holding the manifest definition.
func (b *Builder) ToArchive(w io.Writer) error {
	data, err := b.manifest.JSON()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	zw := zip.NewWriter(w)
	entry, err := zw.CreateHeader(&zip.FileHeader{Name: manifestEntry, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("create archive entry: %w", err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("write archive entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// BuilderFromArchive rehydrates a builder written by ToArchive.
func BuilderFromArchive(r io.ReaderAt, size int64) (*Builder, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != manifestEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive entry: %w", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read archive entry: %w", err)
		}
		return BuilderFromJSON(data)
	}
	return nil, fmt.Errorf("archive has no %s", manifestEntry)
}

func archiveBytes(b *Builder) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.ToArchive(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
