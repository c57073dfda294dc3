package resolver

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// decryptAESGCMPayload reverses the base64(key)/base64(iv)/
// base64(ciphertext+tag) encoding some intermediary wrapper pages use to
// hide the direct link from casual page inspection. Standard library
// crypto/aes + crypto/cipher is the audited, canonical choice for AES-GCM in
// Go; no example repo in the pack ships a third-party AEAD wrapper worth
// preferring over it.
func decryptAESGCMPayload(keyB64, ivB64, dataB64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("resolver: decode key: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("resolver: decode iv: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return nil, fmt.Errorf("resolver: decode data: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("resolver: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("resolver: build gcm: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return nil, fmt.Errorf("resolver: iv length %d, want %d", len(iv), gcm.NonceSize())
	}

	plaintext, err := gcm.Open(nil, iv, data, nil)
	if err != nil {
		return nil, fmt.Errorf("resolver: authenticate/decrypt payload: %w", err)
	}
	return plaintext, nil
}
