// Package provenance builds and signs the provenance manifest bound to every
// watermarked asset, and verifies signed assets.
package provenance

import (
	"encoding/json"
	"fmt"

	"watermark-gateway/pkg/watermark"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultTitle  = "watermarked_video.mp4"
	DefaultFormat = "video/mp4"

	WatermarkLabel  = "c2pa.watermark"
	WatermarkAction = "c2pa.watermarked"

	AgentName    = "C2PA Watermarking Service"
	AgentVersion = "1.0"
)

var manifestValidator = validator.New()

// Manifest is the claim embedded into a signed asset.
type Manifest struct {
	Title              string      `json:"title" validate:"required"`
	Format             string      `json:"format" validate:"required"`
	ClaimGeneratorInfo []AgentInfo `json:"claim_generator_info" validate:"required,min=1,dive"`
	Assertions         []Assertion `json:"assertions" validate:"required,min=1,dive"`
}

type AgentInfo struct {
	Name    string `json:"name" validate:"required"`
	Version string `json:"version" validate:"required"`
}

type Assertion struct {
	Label string        `json:"label" validate:"required"`
	Data  WatermarkData `json:"data"`
}

// WatermarkData asserts the payload carried by the invisible watermark. The
// original bit count is kept so the padded fingerprint can be decoded exactly.
type WatermarkData struct {
	MessageBitsHex string    `json:"message_bits_hex" validate:"omitempty,hexadecimal"`
	MessageBitsLen int       `json:"message_bits_len" validate:"gte=0"`
	Action         string    `json:"action" validate:"required"`
	SoftwareAgent  AgentInfo `json:"softwareAgent"`
}

// BuildManifest creates the claim for an asset carrying bits.
func BuildManifest(title, format string, bits watermark.BitVector) Manifest {
	agent := AgentInfo{Name: AgentName, Version: AgentVersion}
	return Manifest{
		Title:              title,
		Format:             format,
		ClaimGeneratorInfo: []AgentInfo{agent},
		Assertions: []Assertion{{
			Label: WatermarkLabel,
			Data: WatermarkData{
				MessageBitsHex: watermark.Fingerprint(bits),
				MessageBitsLen: len(bits),
				Action:         WatermarkAction,
				SoftwareAgent:  agent,
			},
		}},
	}
}

// JSON renders the manifest definition handed to the archive builder.
func (m Manifest) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Validate checks the structural requirements of a manifest definition.
func (m Manifest) Validate() error {
	if err := manifestValidator.Struct(m); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}

// Watermark returns the watermark assertion, if present.
func (m Manifest) Watermark() (WatermarkData, bool) {
	for _, a := range m.Assertions {
		if a.Label == WatermarkLabel {
			return a.Data, true
		}
	}
	return WatermarkData{}, false
}
