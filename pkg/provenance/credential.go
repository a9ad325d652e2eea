package provenance

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// credentialBoxID is the ISO BMFF extended type used for the manifest store box.
var credentialBoxID = uuid.MustParse("d8fec3d6-1b0e-483c-9297-5828877ec481")

// Credential is the payload of the trailing uuid box of a signed asset.
type Credential struct {
	Alg       string `json:"alg"`
	PublicKey []byte `json:"public_key"`
	Archive   []byte `json:"archive"`
	AssetHash string `json:"asset_hash"`
	Signature []byte `json:"signature"`
}

// VerifiedAsset is what Verify learns from a signed asset.
type VerifiedAsset struct {
	Manifest  Manifest
	PublicKey ed25519.PublicKey
	AssetHash string
	AssetSize int64
}

// signingPayload is sha256(asset) || sha256(archive).
func signingPayload(assetHash, archive []byte) []byte {
	archiveHash := sha256.Sum256(archive)
	payload := make([]byte, 0, len(assetHash)+len(archiveHash))
	payload = append(payload, assetHash...)
	return append(payload, archiveHash[:]...)
}

func writeCredentialBox(w io.Writer, cred Credential) error {
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	var header bytes.Buffer
	size := uint64(8 + 16 + len(payload))
	if size > 0xFFFFFFFF {
		binary.Write(&header, binary.BigEndian, uint32(1))
		header.WriteString("uuid")
		binary.Write(&header, binary.BigEndian, size+8)
	} else {
		binary.Write(&header, binary.BigEndian, uint32(size))
		header.WriteString("uuid")
	}
	header.Write(credentialBoxID[:])

	if _, err := w.Write(header.Bytes()); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// Verify checks the credential appended to a signed asset: the asset hash over
// every byte before the credential box, and the signature over asset and archive.
func Verify(path string) (*VerifiedAsset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	offset, cred, err := findCredential(f, info.Size())
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, offset)); err != nil {
		return nil, fmt.Errorf("hash asset: %w", err)
	}
	assetHash := h.Sum(nil)
	if hex.EncodeToString(assetHash) != cred.AssetHash {
		return nil, errors.New("asset hash mismatch")
	}

	if cred.Alg != AlgEd25519 {
		return nil, fmt.Errorf("unsupported signature algorithm %q", cred.Alg)
	}
	if len(cred.PublicKey) != ed25519.PublicKeySize {
		return nil, errors.New("malformed public key")
	}
	pub := ed25519.PublicKey(cred.PublicKey)
	if !ed25519.Verify(pub, signingPayload(assetHash, cred.Archive), cred.Signature) {
		return nil, errors.New("signature verification failed")
	}

	b, err := BuilderFromArchive(bytes.NewReader(cred.Archive), int64(len(cred.Archive)))
	if err != nil {
		return nil, err
	}

	return &VerifiedAsset{
		Manifest:  b.Manifest(),
		PublicKey: pub,
		AssetHash: cred.AssetHash,
		AssetSize: offset,
	}, nil
}

// findCredential walks the top-level boxes and returns the offset and payload
// of the last credential box.
func findCredential(r io.ReaderAt, fileSize int64) (int64, *Credential, error) {
	var (
		offset   int64
		found    = int64(-1)
		foundLen int64
		hdr      [16]byte
	)

	for offset < fileSize {
		if fileSize-offset < 8 {
			return 0, nil, errors.New("truncated box header")
		}
		if _, err := r.ReadAt(hdr[:8], offset); err != nil {
			return 0, nil, fmt.Errorf("read box header: %w", err)
		}

		size := int64(binary.BigEndian.Uint32(hdr[:4]))
		boxType := string(hdr[4:8])
		headerLen := int64(8)

		switch size {
		case 0:
			size = fileSize - offset
		case 1:
			if _, err := r.ReadAt(hdr[8:16], offset+8); err != nil {
				return 0, nil, fmt.Errorf("read large box size: %w", err)
			}
			size = int64(binary.BigEndian.Uint64(hdr[8:16]))
			headerLen = 16
		}
		if size < headerLen || offset+size > fileSize {
			return 0, nil, fmt.Errorf("invalid %q box size %d at offset %d", boxType, size, offset)
		}

		if boxType == "uuid" && size >= headerLen+16 {
			var id uuid.UUID
			if _, err := r.ReadAt(id[:], offset+headerLen); err != nil {
				return 0, nil, fmt.Errorf("read box uuid: %w", err)
			}
			if id == credentialBoxID {
				found = offset
				foundLen = size
			}
		}
		offset += size
	}

	if found < 0 {
		return 0, nil, errors.New("asset carries no provenance credential")
	}

	headerLen := int64(8 + 16)
	var sizeField [4]byte
	if _, err := r.ReadAt(sizeField[:], found); err != nil {
		return 0, nil, err
	}
	if binary.BigEndian.Uint32(sizeField[:]) == 1 {
		headerLen += 8
	}

	payload := make([]byte, foundLen-headerLen)
	if _, err := r.ReadAt(payload, found+headerLen); err != nil {
		return 0, nil, fmt.Errorf("read credential: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return 0, nil, fmt.Errorf("parse credential: %w", err)
	}
	return found, &cred, nil
}
