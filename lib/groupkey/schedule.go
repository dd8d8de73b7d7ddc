// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package groupkey

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

// secretSize is the size of epoch, commit, and derived secrets.
const secretSize = 32

// MaxExportLength is the longest secret ExportSecret can derive
// (the HKDF-SHA256 output limit).
const MaxExportLength = 255 * sha256.Size

// BLAKE3 derive-key contexts. Each use of the hash gets its own.
const (
	contextFingerprint   = "sgm 2026-01 signing key fingerprint"
	contextKeyPackageRef = "sgm 2026-01 key package reference"
	contextTranscript    = "sgm 2026-01 transcript"
)

// HKDF labels.
const (
	labelEpoch    = "sgm epoch"
	labelConfirm  = "sgm confirm"
	labelExporter = "sgm exporter"
	labelExport   = "sgm export "
)

// Fingerprint returns the short fingerprint of a signing public key:
// the first three bytes of its BLAKE3 hash as six lowercase hex digits.
func Fingerprint(signatureKey []byte) string {
	sum := deriveHash(contextFingerprint, signatureKey)
	return hex.EncodeToString(sum[:3])
}

// GroupID returns label + "-" + Fingerprint(signatureKey).
func GroupID(label string, signatureKey []byte) string {
	return label + "-" + Fingerprint(signatureKey)
}

func deriveHash(context string, parts ...[]byte) []byte {
	hasher := blake3.NewDeriveKey(context)
	for _, part := range parts {
		hasher.Write(part)
	}
	return hasher.Sum(nil)
}

// initialTranscript seeds the transcript hash of a new group.
func initialTranscript(groupID string) []byte {
	return deriveHash(contextTranscript, []byte(groupID))
}

// nextTranscript chains commit content onto the transcript.
func nextTranscript(previous, content []byte) []byte {
	return deriveHash(contextTranscript, previous, content)
}

// nextEpochSecret derives the epoch secret for epoch from the previous
// epoch secret and the commit secret, bound to the group and the new
// transcript.
func nextEpochSecret(previous, commitSecret []byte, groupID string, epoch uint64, transcript []byte) ([]byte, error) {
	info := []byte(labelEpoch)
	info = binary.BigEndian.AppendUint16(info, uint16(len(groupID)))
	info = append(info, groupID...)
	info = binary.BigEndian.AppendUint64(info, epoch)
	info = append(info, transcript...)

	secret := make([]byte, secretSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, commitSecret, previous, info), secret); err != nil {
		return nil, fmt.Errorf("deriving epoch secret: %w", err)
	}
	return secret, nil
}

// expand is HKDF-Expand-SHA256.
func expand(secret []byte, label string, length int) ([]byte, error) {
	if length <= 0 || length > MaxExportLength {
		return nil, fmt.Errorf("length %d out of range [1, %d]", length, MaxExportLength)
	}
	output := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, secret, []byte(label)), output); err != nil {
		return nil, fmt.Errorf("expanding %q: %w", label, err)
	}
	return output, nil
}

// confirmationTag is keyed BLAKE3 over the transcript, keyed by a
// secret expanded from the epoch secret.
func confirmationTag(epochSecret, transcript []byte) ([]byte, error) {
	key, err := expand(epochSecret, labelConfirm, secretSize)
	if err != nil {
		return nil, err
	}
	hasher, err := blake3.NewKeyed(key)
	if err != nil {
		return nil, fmt.Errorf("keying confirmation hash: %w", err)
	}
	hasher.Write(transcript)
	return hasher.Sum(nil), nil
}

// exportSecret derives a label-scoped secret from the epoch secret.
func exportSecret(epochSecret []byte, label string, length int) ([]byte, error) {
	exporter, err := expand(epochSecret, labelExporter, secretSize)
	if err != nil {
		return nil, err
	}
	return expand(exporter, labelExport+label, length)
}
