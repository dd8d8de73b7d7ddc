// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package groupkey

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/bureau-foundation/sgm/lib/codec"
)

func TestKeyPackageRoundTrip(t *testing.T) {
	alice := newTestProvider(t, "alice_00000001")
	created, err := alice.NewKeyPackage()
	if err != nil {
		t.Fatalf("NewKeyPackage: %v", err)
	}

	parsed, err := ParseKeyPackage(created.Encoded())
	if err != nil {
		t.Fatalf("ParseKeyPackage: %v", err)
	}
	if parsed.Identity != "alice_00000001" {
		t.Errorf("Identity = %q", parsed.Identity)
	}
	if !bytes.Equal(parsed.SignatureKey, alice.signatureKey()) {
		t.Error("SignatureKey does not match the provider's signing key")
	}
	if parsed.InitKey != created.InitKey {
		t.Errorf("InitKey = %q, want %q", parsed.InitKey, created.InitKey)
	}
	if parsed.Ref() != created.Ref() {
		t.Errorf("Ref = %s, want %s", parsed.Ref(), created.Ref())
	}
	if len(parsed.Ref()) != 64 {
		t.Errorf("Ref length = %d, want 64 hex digits", len(parsed.Ref()))
	}

	if _, found := alice.storage.Get([]byte(prefixInitKey + created.Ref())); !found {
		t.Error("init private key not stored under the key package reference")
	}
}

func TestKeyPackagesAreDistinct(t *testing.T) {
	alice := newTestProvider(t, "alice_00000001")
	first := publishedKeyPackage(t, alice)
	second := publishedKeyPackage(t, alice)
	if first.Ref() == second.Ref() {
		t.Error("two key packages share a reference")
	}
	if first.InitKey == second.InitKey {
		t.Error("two key packages share an init key")
	}
}

func TestParseKeyPackageRejects(t *testing.T) {
	alice := newTestProvider(t, "alice_00000001")
	valid := publishedKeyPackage(t, alice)

	reencode := func(mutate func(*KeyPackage)) []byte {
		t.Helper()
		copied := *valid
		mutate(&copied)
		data, err := codec.Marshal(copied)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return data
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not a key package")},
		{"truncated", valid.Encoded()[:len(valid.Encoded())/2]},
		{"wrong type", reencode(func(k *KeyPackage) { k.Type = typeCommit })},
		{"wrong version", reencode(func(k *KeyPackage) { k.ProtocolVersion = 9 })},
		{"renamed identity", reencode(func(k *KeyPackage) { k.Identity = "mallory_00000001" })},
		{"swapped init key", reencode(func(k *KeyPackage) {
			other := publishedKeyPackage(t, alice)
			k.InitKey = other.InitKey
		})},
		{"bad init key", reencode(func(k *KeyPackage) { k.InitKey = "age1notakey" })},
		{"short signature key", reencode(func(k *KeyPackage) { k.SignatureKey = k.SignatureKey[:16] })},
		{"no signature", reencode(func(k *KeyPackage) { k.Signature = nil })},
		{"missing identity", reencode(func(k *KeyPackage) { k.Identity = "" })},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseKeyPackage(test.data)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("ParseKeyPackage error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestParseKeyPackageRejectsUnknownFields(t *testing.T) {
	alice := newTestProvider(t, "alice_00000001")
	valid := publishedKeyPackage(t, alice)

	var fields map[string]any
	if err := codec.Unmarshal(valid.Encoded(), &fields); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	fields["extra"] = "field"
	data, err := codec.Marshal(fields)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := ParseKeyPackage(data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("ParseKeyPackage error = %v, want ErrMalformed", err)
	}
}

func TestGroupID(t *testing.T) {
	alice := newTestProvider(t, "alice_00000001")
	fingerprint := Fingerprint(alice.signatureKey())
	if !regexp.MustCompile(`^[0-9a-f]{6}$`).MatchString(fingerprint) {
		t.Fatalf("Fingerprint = %q, want 6 lowercase hex digits", fingerprint)
	}
	if Fingerprint(alice.signatureKey()) != fingerprint {
		t.Error("Fingerprint is not deterministic")
	}

	groupID := GroupID("chat", alice.signatureKey())
	if groupID != "chat-"+fingerprint {
		t.Errorf("GroupID = %q, want chat-%s", groupID, fingerprint)
	}
	if !strings.HasPrefix(GroupID("a-b", alice.signatureKey()), "a-b-") {
		t.Error("label with a dash not preserved")
	}
}
