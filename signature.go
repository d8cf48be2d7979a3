// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// SignatureInfo contains parsed signature data from (signature) file.
type SignatureInfo struct {
	Version   uint32
	Signature []byte
}

// ReadSignature reads and parses the (signature) special file if present.
// Returns nil if the signature file doesn't exist.
func (a *Archive) ReadSignature() (*SignatureInfo, error) {
	if !a.HasFile(signatureName) {
		return nil, nil
	}

	data, err := a.ReadFile(signatureName)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	return parseSignature(data)
}

func parseSignature(data []byte) (*SignatureInfo, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("signature data too small: %d bytes", len(data))
	}

	version := binary.LittleEndian.Uint32(data[0:4])
	sigLength := binary.LittleEndian.Uint32(data[4:8])

	if uint64(len(data)) < 8+uint64(sigLength) {
		return nil, fmt.Errorf("signature data truncated: expected %d bytes, got %d", 8+uint64(sigLength), len(data))
	}

	return &SignatureInfo{
		Version:   version,
		Signature: append([]byte(nil), data[8:8+sigLength]...),
	}, nil
}

// Kind names the signature scheme recorded in Version.
func (s *SignatureInfo) Kind() string {
	switch s.Version {
	case 0:
		return "weak"
	case 1:
		return "strong"
	}
	return fmt.Sprintf("unknown(%d)", s.Version)
}

// Validate checks that the signature has the minimum size for its scheme.
// It does not verify the signature cryptographically.
func (s *SignatureInfo) Validate() error {
	if s == nil {
		return fmt.Errorf("no signature available")
	}

	switch s.Version {
	case 0:
		if len(s.Signature) < 64 {
			return fmt.Errorf("weak signature too short: %d bytes", len(s.Signature))
		}
	case 1:
		if len(s.Signature) < 256 {
			return fmt.Errorf("strong signature too short: %d bytes", len(s.Signature))
		}
	default:
		return fmt.Errorf("%w: signature version %d", ErrUnsupported, s.Version)
	}
	return nil
}
