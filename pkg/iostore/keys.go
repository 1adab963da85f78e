package iostore

import (
	"crypto/aes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
)

// KeySize is the AES-256 key length used for encrypted containers.
const KeySize = 32

// Keys maps normalized encryption key GUIDs to AES-256 keys.
type Keys map[string][]byte

// NormalizeGUID lowercases a GUID and strips braces so that key file
// entries and table of contents references compare equal.
func NormalizeGUID(guid string) string {
	guid = strings.TrimSpace(guid)
	guid = strings.TrimPrefix(guid, "{")
	guid = strings.TrimSuffix(guid, "}")
	return strings.ToLower(guid)
}

// LoadKeys reads an encryption key file: a JSON object (comments and
// trailing commas allowed) mapping key GUIDs to hex encoded AES-256 keys.
// Entries whose key does not decode to KeySize bytes are reported in the
// returned skipped list rather than failing the whole file.
func LoadKeys(path string) (Keys, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read encryption keys: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, nil, fmt.Errorf("parse encryption keys %s: %w", path, err)
	}

	keys := make(Keys, len(raw))
	var skipped []string
	for guid, hexKey := range raw {
		hexKey = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"), "0X")
		key, err := hex.DecodeString(hexKey)
		if err != nil || len(key) != KeySize {
			skipped = append(skipped, guid)
			continue
		}
		keys[NormalizeGUID(guid)] = key
	}
	return keys, skipped, nil
}

// Lookup returns the key registered for guid.
func (k Keys) Lookup(guid string) ([]byte, bool) {
	key, ok := k[NormalizeGUID(guid)]
	return key, ok
}

// encryptedSize rounds n up to the AES block size.
func encryptedSize(n uint64) uint64 {
	return (n + aes.BlockSize - 1) &^ (aes.BlockSize - 1)
}

// decryptECB decrypts data in place, block by block.
func decryptECB(key, data []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("aes cipher: %w", err)
	}
	if len(data)%aes.BlockSize != 0 {
		return fmt.Errorf("encrypted payload length %d is not a multiple of %d", len(data), aes.BlockSize)
	}
	for off := 0; off < len(data); off += aes.BlockSize {
		block.Decrypt(data[off:off+aes.BlockSize], data[off:off+aes.BlockSize])
	}
	return nil
}

// encryptECB pads data with zeros to the block size and encrypts it.
func encryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	out := make([]byte, encryptedSize(uint64(len(data))))
	copy(out, data)
	for off := 0; off < len(out); off += aes.BlockSize {
		block.Encrypt(out[off:off+aes.BlockSize], out[off:off+aes.BlockSize])
	}
	return out, nil
}
