// Package integrity seals and verifies records with HMAC-SHA256 over a
// canonical byte encoding, and wraps confidential/secret payloads with
// AEAD encryption keyed by a rotating key registry. Evidence Store and
// Audit Log both depend on it; neither silently recovers from a failed
// verification.
package integrity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
)

// Engine implements seal/verify/encrypt/decrypt over an integrity key and
// a rotating set of 256-bit AEAD keys.
type Engine struct {
	integrityKey []byte
	keys         map[string][]byte // key_id -> 32-byte AEAD key
	currentKeyID string
}

// KeyRing supplies the active and historical encryption keys. Callers
// populate it at startup from configuration (§6 encryption_key_ring).
type KeyRing map[string][]byte

// New builds an Engine. integrityKey seals/verifies hashes; keyRing holds
// every known 32-byte AEAD key by id; currentKeyID selects which one new
// encryptions use (reads still work against any id present in keyRing, so
// rotation never breaks existing ciphertext).
func New(integrityKey []byte, keyRing KeyRing, currentKeyID string) (*Engine, error) {
	if len(integrityKey) == 0 {
		return nil, fmt.Errorf("integrity: integrity key must not be empty")
	}
	for id, k := range keyRing {
		if len(k) != 32 {
			return nil, fmt.Errorf("integrity: key %q must be 32 bytes, got %d", id, len(k))
		}
	}
	if currentKeyID != "" {
		if _, ok := keyRing[currentKeyID]; !ok {
			return nil, fmt.Errorf("integrity: current key id %q not present in key ring", currentKeyID)
		}
	}
	return &Engine{integrityKey: integrityKey, keys: keyRing, currentKeyID: currentKeyID}, nil
}

// Canonical encodes a record into a deterministic byte sequence: map keys
// are sorted recursively and every scalar is length-prefixed, so two
// structurally-equal records always canonicalise to the same bytes
// regardless of map iteration order.
func Canonical(record map[string]interface{}) []byte {
	var buf []byte
	buf = appendValue(buf, record)
	return buf
}

func appendValue(buf []byte, v interface{}) []byte {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = appendLenPrefixed(buf, []byte(fmt.Sprintf("map:%d", len(keys))))
		for _, k := range keys {
			buf = appendLenPrefixed(buf, []byte(k))
			buf = appendValue(buf, t[k])
		}
		return buf
	case []interface{}:
		buf = appendLenPrefixed(buf, []byte(fmt.Sprintf("list:%d", len(t))))
		for _, item := range t {
			buf = appendValue(buf, item)
		}
		return buf
	case string:
		return appendLenPrefixed(buf, []byte("s:"+t))
	case nil:
		return appendLenPrefixed(buf, []byte("n:"))
	default:
		return appendLenPrefixed(buf, []byte(fmt.Sprintf("v:%v", t)))
	}
}

func appendLenPrefixed(buf []byte, b []byte) []byte {
	var lenBytes [8]byte
	binary.BigEndian.PutUint64(lenBytes[:], uint64(len(b)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, b...)
}

// Seal computes the hex-encoded HMAC-SHA256 of the canonicalised record.
func (e *Engine) Seal(record map[string]interface{}) string {
	mac := hmac.New(sha256.New, e.integrityKey)
	mac.Write(Canonical(record))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether hash matches the record's canonical HMAC. It
// never returns an error: a mismatch is a false result, and the caller
// (Evidence Store, Audit Log) converts that into a KindIntegrityError.
func (e *Engine) Verify(record map[string]interface{}, hash string) bool {
	expected := e.Seal(record)
	return hmac.Equal([]byte(expected), []byte(hash))
}

// VerifyOrError is Verify plus the IntegrityError conversion callers want
// when tamper detection must fail the operation outright.
func (e *Engine) VerifyOrError(operation string, record map[string]interface{}, hash string) error {
	if !e.Verify(record, hash) {
		return errs.IntegrityError(operation, fmt.Errorf("hash mismatch"))
	}
	return nil
}

// Ciphertext bundles the AEAD output with its key id and nonce so
// Decrypt can look up the right key without needing any sidecar state.
type Ciphertext struct {
	KeyID string
	Nonce []byte
	Data  []byte
}

func sensitivityRequiresEncryption(s domain.DataSensitivity) bool {
	return s == domain.SensitivityConfidential || s == domain.SensitivitySecret
}

// Encrypt seals data with the current AEAD key when sensitivity demands
// it (confidential/secret per I2); callers for public/internal data
// should not call this, matching the policy table in pkg/access.
func (e *Engine) Encrypt(data []byte, sensitivity domain.DataSensitivity) (*Ciphertext, error) {
	if !sensitivityRequiresEncryption(sensitivity) {
		return &Ciphertext{Data: data}, nil
	}
	if e.currentKeyID == "" {
		return nil, errs.EncryptionError("encrypt", fmt.Errorf("no current encryption key configured"))
	}
	key := e.keys[e.currentKeyID]
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.EncryptionError("encrypt", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.EncryptionError("encrypt", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.EncryptionError("encrypt", err)
	}
	sealed := gcm.Seal(nil, nonce, data, nil)
	return &Ciphertext{KeyID: e.currentKeyID, Nonce: nonce, Data: sealed}, nil
}

// Decrypt reverses Encrypt, looking the key up by KeyID so rotation never
// breaks reads of data encrypted under a previous key.
func (e *Engine) Decrypt(ct *Ciphertext) ([]byte, error) {
	if ct.KeyID == "" {
		return ct.Data, nil
	}
	key, ok := e.keys[ct.KeyID]
	if !ok {
		return nil, errs.EncryptionError("decrypt", fmt.Errorf("unknown key id %q", ct.KeyID))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.EncryptionError("decrypt", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.EncryptionError("decrypt", err)
	}
	plain, err := gcm.Open(nil, ct.Nonce, ct.Data, nil)
	if err != nil {
		return nil, errs.EncryptionError("decrypt", err)
	}
	return plain, nil
}

// RotateKey introduces a new current key without invalidating old ones.
func (e *Engine) RotateKey(keyID string, key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("integrity: rotated key must be 32 bytes, got %d", len(key))
	}
	if e.keys == nil {
		e.keys = make(map[string][]byte)
	}
	e.keys[keyID] = key
	e.currentKeyID = keyID
	return nil
}
