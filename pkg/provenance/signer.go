package provenance

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"watermark-gateway/pkg/apperror"
	"watermark-gateway/pkg/watermark"
)

// Signer turns a watermarked video into a signed asset.
type Signer struct {
	identity   *Identity
	scratchDir string
	title      string
	format     string
}

func NewSigner(identity *Identity, scratchDir string) *Signer {
	return &Signer{
		identity:   identity,
		scratchDir: scratchDir,
		title:      DefaultTitle,
		format:     DefaultFormat,
	}
}

// Sign builds the manifest for bits, signs it together with the bytes at
// videoPath and persists the signed asset at destPath. Failures before the
// asset is written are returned as *apperror.SigningError.
func (s *Signer) Sign(ctx context.Context, videoPath string, bits watermark.BitVector, destPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	definition, err := BuildManifest(s.title, s.format, bits).JSON()
	if err != nil {
		return "", &apperror.SigningError{Stage: "manifest", Err: err}
	}

	builder, err := BuilderFromJSON(definition)
	if err != nil {
		return "", &apperror.SigningError{Stage: "manifest", Err: err}
	}

	var zipped bytes.Buffer
	if err := builder.ToArchive(&zipped); err != nil {
		return "", &apperror.SigningError{Stage: "archive", Err: err}
	}

	builder, err = BuilderFromArchive(bytes.NewReader(zipped.Bytes()), int64(zipped.Len()))
	if err != nil {
		return "", &apperror.SigningError{Stage: "archive", Err: err}
	}

	src, err := os.Open(videoPath)
	if err != nil {
		return "", &apperror.SigningError{Stage: "open source", Err: err}
	}
	defer src.Close()

	dest, err := os.CreateTemp(s.scratchDir, "signed-*.mp4")
	if err != nil {
		return "", fmt.Errorf("create signed asset: %w", err)
	}
	tmpPath := dest.Name()
	keep := false
	defer func() {
		if !keep {
			dest.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := builder.Sign(s.identity.CallbackSigner(), src, dest); err != nil {
		return "", &apperror.SigningError{Stage: "sign", Err: err}
	}

	if err := dest.Sync(); err != nil {
		return "", fmt.Errorf("sync signed asset: %w", err)
	}
	if err := dest.Close(); err != nil {
		return "", fmt.Errorf("close signed asset: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("create asset directory: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("persist signed asset: %w", err)
	}
	keep = true

	return destPath, nil
}

// Sign copies src into dst and appends the signed credential box.
func (b *Builder) Sign(signer *CallbackSigner, src io.Reader, dst io.Writer) error {
	archive, err := archiveBytes(b)
	if err != nil {
		return err
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dst, h), src); err != nil {
		return fmt.Errorf("copy asset: %w", err)
	}
	assetHash := h.Sum(nil)

	signature, err := signer.Sign(signingPayload(assetHash, archive))
	if err != nil {
		return fmt.Errorf("signing callback: %w", err)
	}

	return writeCredentialBox(dst, Credential{
		Alg:       signer.Alg(),
		PublicKey: signer.PublicKey(),
		Archive:   archive,
		AssetHash: hex.EncodeToString(assetHash),
		Signature: signature,
	})
}
