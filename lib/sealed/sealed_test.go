// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"strings"
	"testing"
)

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}

	if !strings.HasPrefix(keypair.PrivateKey, "AGE-SECRET-KEY-1") {
		t.Errorf("PrivateKey = %q, want prefix AGE-SECRET-KEY-1", keypair.PrivateKey)
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", keypair.PublicKey)
	}

	derived, err := PublicKeyOf(keypair.PrivateKey)
	if err != nil {
		t.Fatalf("PublicKeyOf() error: %v", err)
	}
	if derived != keypair.PublicKey {
		t.Errorf("PublicKeyOf() = %q, want %q", derived, keypair.PublicKey)
	}
}

func TestGenerateKeypair_Unique(t *testing.T) {
	keypair1, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	keypair2, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	if keypair1.PrivateKey == keypair2.PrivateKey {
		t.Error("two generated keypairs have identical private keys")
	}
}

func TestEncryptDecrypt_MultipleRecipients(t *testing.T) {
	var keypairs []Keypair
	var publicKeys []string
	for range 3 {
		keypair, err := GenerateKeypair()
		if err != nil {
			t.Fatalf("GenerateKeypair() error: %v", err)
		}
		keypairs = append(keypairs, keypair)
		publicKeys = append(publicKeys, keypair.PublicKey)
	}

	plaintext := []byte("commit secret for epoch 4")
	ciphertext, err := Encrypt(plaintext, publicKeys...)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}

	for i, keypair := range keypairs {
		decrypted, err := Decrypt(ciphertext, keypair.PrivateKey)
		if err != nil {
			t.Fatalf("recipient %d: Decrypt() error: %v", i, err)
		}
		if !bytes.Equal(decrypted, plaintext) {
			t.Fatalf("recipient %d: got %q, want %q", i, decrypted, plaintext)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	intended, _ := GenerateKeypair()
	other, _ := GenerateKeypair()

	ciphertext, err := Encrypt([]byte("secret"), intended.PublicKey)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if _, err := Decrypt(ciphertext, other.PrivateKey); err == nil {
		t.Fatal("Decrypt() with wrong key should fail")
	}
}

func TestEncrypt_NoRecipients(t *testing.T) {
	if _, err := Encrypt([]byte("data")); err == nil {
		t.Fatal("Encrypt() with no recipients should fail")
	}
}

func TestEncrypt_InvalidRecipientKey(t *testing.T) {
	if _, err := Encrypt([]byte("data"), "not-a-valid-key"); err == nil {
		t.Fatal("Encrypt() with invalid recipient key should fail")
	}
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	keypair, _ := GenerateKeypair()
	ciphertext, err := Encrypt([]byte("data"), keypair.PublicKey)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF
	if _, err := Decrypt(ciphertext, keypair.PrivateKey); err == nil {
		t.Fatal("Decrypt() of corrupted ciphertext should fail")
	}
	if _, err := Decrypt([]byte("garbage"), keypair.PrivateKey); err == nil {
		t.Fatal("Decrypt() of garbage should fail")
	}
}

func TestEncryptDecrypt_EmptyPlaintext(t *testing.T) {
	keypair, _ := GenerateKeypair()
	ciphertext, err := Encrypt(nil, keypair.PublicKey)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	decrypted, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if len(decrypted) != 0 {
		t.Fatalf("got %d bytes, want 0", len(decrypted))
	}
}

func TestParseKeys(t *testing.T) {
	keypair, _ := GenerateKeypair()
	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey(valid) error: %v", err)
	}
	if err := ParsePublicKey("age1invalid"); err == nil {
		t.Error("ParsePublicKey(invalid) should fail")
	}
	if _, err := PublicKeyOf("AGE-SECRET-KEY-1INVALID"); err == nil {
		t.Error("PublicKeyOf(invalid) should fail")
	}
}
