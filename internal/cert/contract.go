package cert

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// MetadataSpec is the only contract metadata spec version accepted.
const MetadataSpec = "nft-1.0.0"

// ContractMetadata describes the certification collection as a whole.
type ContractMetadata struct {
	Spec          string `json:"spec"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Icon          string `json:"icon,omitempty"`
	BaseURI       string `json:"base_uri,omitempty"`
	Reference     string `json:"reference,omitempty"`
	ReferenceHash string `json:"reference_hash,omitempty"`
}

// Validate checks the spec tag, required names and the reference pairing.
func (m ContractMetadata) Validate() error {
	if m.Spec != MetadataSpec {
		return fmt.Errorf("spec must be %q, got %q", MetadataSpec, m.Spec)
	}
	if m.Name == "" || m.Symbol == "" {
		return errors.New("name and symbol are required")
	}
	if (m.Reference == "") != (m.ReferenceHash == "") {
		return errors.New("reference and reference_hash must be set together")
	}
	if m.ReferenceHash != "" {
		raw, err := base64.StdEncoding.DecodeString(m.ReferenceHash)
		if err != nil || len(raw) != 32 {
			return errors.New("reference_hash must be base64 of 32 bytes")
		}
	}
	return nil
}
