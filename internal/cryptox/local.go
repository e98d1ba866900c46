package cryptox

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/common"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	edekFormatVersion = 1
	gcmNonceSize      = 12
	dekSize           = 32

	// edek layout: format(1) + key version(4) + document id(16) + nonce(12) + wrapped dek
	edekHeaderSize = 1 + 4 + 16 + gcmNonceSize
)

// LocalConfig holds the root secrets for a LocalProvider. Standard secrets
// are versioned so document keys can be re-wrapped under a newer version;
// deterministic and vector secrets are deliberately unversioned because
// their ciphertext must stay stable across rekeys (the stored category
// ciphertext and index vectors are never rewritten).
type LocalConfig struct {
	StandardSecrets     map[uint32][]byte
	CurrentVersion      uint32
	DeterministicSecret []byte
	VectorSecret        []byte
}

// LocalProvider implements Provider with key material derived locally from
// root secrets, the way a standalone (no external key service) deployment
// runs. Per-tenant keys come from HKDF over the tenant login, so tenants
// never share keys; labels feed the HKDF info for domain separation.
type LocalProvider struct {
	cfg LocalConfig
}

// NewLocalProvider validates the secret configuration.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if len(cfg.StandardSecrets) == 0 {
		return nil, fmt.Errorf("%w: no standard secrets configured", common.ErrEncryptionService)
	}
	if _, ok := cfg.StandardSecrets[cfg.CurrentVersion]; !ok {
		return nil, fmt.Errorf("%w: current key version %d has no secret", common.ErrEncryptionService, cfg.CurrentVersion)
	}
	for v, s := range cfg.StandardSecrets {
		if len(s) < 16 {
			return nil, fmt.Errorf("%w: standard secret for version %d is too short", common.ErrEncryptionService, v)
		}
	}
	if len(cfg.DeterministicSecret) < 16 || len(cfg.VectorSecret) < 16 {
		return nil, fmt.Errorf("%w: deterministic/vector secrets must be at least 16 bytes", common.ErrEncryptionService)
	}
	return &LocalProvider{cfg: cfg}, nil
}

// deriveKey produces a 32-byte subkey bound to purpose, tenant and label.
func deriveKey(secret []byte, purpose, tenant, label string) ([]byte, error) {
	info := fmt.Sprintf("%s|%s|%s", purpose, tenant, label)
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("%w: key derivation: %v", common.ErrEncryptionService, err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryptionService, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryptionService, err)
	}
	return aead, nil
}

func (p *LocalProvider) tenantKEK(tenant string, version uint32) ([]byte, error) {
	secret, ok := p.cfg.StandardSecrets[version]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key version %d", common.ErrDecryption, version)
	}
	return deriveKey(secret, "standard-kek", tenant, "")
}

func checkTenant(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("%w: empty tenant", common.ErrAuthentication)
	}
	return nil
}

// wrapDEK seals dek under the tenant KEK of the given version, binding the
// document id as associated data.
func (p *LocalProvider) wrapDEK(tenant string, version uint32, docID uuid.UUID, dek []byte) (EDEK, error) {
	kek, err := p.tenantKEK(tenant, version)
	if err != nil {
		return "", err
	}
	aead, err := newGCM(kek)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrEncryptionService, err)
	}
	sealed := aead.Seal(nil, nonce, dek, docID[:])

	raw := make([]byte, 0, edekHeaderSize+len(sealed))
	raw = append(raw, edekFormatVersion)
	raw = binary.BigEndian.AppendUint32(raw, version)
	raw = append(raw, docID[:]...)
	raw = append(raw, nonce...)
	raw = append(raw, sealed...)
	return encodeEdek(raw), nil
}

// unwrapDEK parses and opens an EDEK, returning the document key, its
// wrapping key version and the document id.
func (p *LocalProvider) unwrapDEK(tenant string, edek EDEK) ([]byte, uint32, uuid.UUID, error) {
	raw, err := edek.raw()
	if err != nil {
		return nil, 0, uuid.Nil, fmt.Errorf("%w: edek encoding: %v", common.ErrDecryption, err)
	}
	if len(raw) <= edekHeaderSize || raw[0] != edekFormatVersion {
		return nil, 0, uuid.Nil, fmt.Errorf("%w: malformed edek", common.ErrDecryption)
	}
	version := binary.BigEndian.Uint32(raw[1:5])
	docID, err := uuid.FromBytes(raw[5:21])
	if err != nil {
		return nil, 0, uuid.Nil, fmt.Errorf("%w: malformed edek", common.ErrDecryption)
	}
	nonce := raw[21:edekHeaderSize]
	sealed := raw[edekHeaderSize:]

	kek, err := p.tenantKEK(tenant, version)
	if err != nil {
		return nil, 0, uuid.Nil, err
	}
	aead, err := newGCM(kek)
	if err != nil {
		return nil, 0, uuid.Nil, err
	}
	dek, err := aead.Open(nil, nonce, sealed, docID[:])
	if err != nil {
		return nil, 0, uuid.Nil, fmt.Errorf("%w: edek does not open under tenant key", common.ErrDecryption)
	}
	return dek, version, docID, nil
}

func (p *LocalProvider) EncryptDocument(_ context.Context, tenant string, fields map[string][]byte) (map[string]Opaque, EDEK, error) {
	if err := checkTenant(tenant); err != nil {
		return nil, "", err
	}

	dek := make([]byte, dekSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, "", fmt.Errorf("%w: %v", common.ErrEncryptionService, err)
	}
	aead, err := newGCM(dek)
	if err != nil {
		return nil, "", err
	}

	out := make(map[string]Opaque, len(fields))
	for name, plaintext := range fields {
		nonce := make([]byte, gcmNonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return nil, "", fmt.Errorf("%w: %v", common.ErrEncryptionService, err)
		}
		sealed := aead.Seal(nonce, nonce, plaintext, []byte(name))
		out[name] = encodeOpaque(sealed)
	}

	edek, err := p.wrapDEK(tenant, p.cfg.CurrentVersion, uuid.New(), dek)
	if err != nil {
		return nil, "", err
	}
	return out, edek, nil
}

func (p *LocalProvider) DecryptDocument(_ context.Context, tenant string, fields map[string]Opaque, edek EDEK) (map[string][]byte, error) {
	if err := checkTenant(tenant); err != nil {
		return nil, err
	}
	dek, _, _, err := p.unwrapDEK(tenant, edek)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(dek)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(fields))
	for name, ciphertext := range fields {
		raw, err := ciphertext.raw()
		if err != nil {
			return nil, fmt.Errorf("%w: field %q encoding: %v", common.ErrDecryption, name, err)
		}
		if len(raw) < gcmNonceSize {
			return nil, fmt.Errorf("%w: field %q ciphertext too short", common.ErrDecryption, name)
		}
		plaintext, err := aead.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], []byte(name))
		if err != nil {
			return nil, fmt.Errorf("%w: field %q", common.ErrDecryption, name)
		}
		out[name] = plaintext
	}
	return out, nil
}

func (p *LocalProvider) deterministicKey(tenant, label string) ([]byte, error) {
	return deriveKey(p.cfg.DeterministicSecret, "deterministic", tenant, label)
}

func (p *LocalProvider) EncryptDeterministic(_ context.Context, tenant, label string, plaintext []byte) (Deterministic, error) {
	if err := checkTenant(tenant); err != nil {
		return "", err
	}
	key, err := p.deterministicKey(tenant, label)
	if err != nil {
		return "", err
	}
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	// Synthetic nonce derived from the plaintext makes encryption
	// deterministic for a fixed tenant+label key.
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(label))
	mac.Write(plaintext)
	nonce := mac.Sum(nil)[:gcmNonceSize]

	sealed := aead.Seal(append([]byte{}, nonce...), nonce, plaintext, []byte(label))
	return encodeDeterministic(sealed), nil
}

func (p *LocalProvider) DecryptDeterministic(_ context.Context, tenant, label string, ciphertext Deterministic) ([]byte, error) {
	if err := checkTenant(tenant); err != nil {
		return nil, err
	}
	key, err := p.deterministicKey(tenant, label)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	raw, err := ciphertext.raw()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding: %v", common.ErrDecryption, err)
	}
	if len(raw) < gcmNonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}
	plaintext, err := aead.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], []byte(label))
	if err != nil {
		return nil, fmt.Errorf("%w: label %q", common.ErrDecryption, label)
	}
	return plaintext, nil
}

func (p *LocalProvider) EncryptVectors(_ context.Context, tenant, label string, vectors map[string][]float32) (map[string]CipherVector, error) {
	if err := checkTenant(tenant); err != nil {
		return nil, err
	}
	out := make(map[string]CipherVector, len(vectors))
	for name, v := range vectors {
		enc, err := p.transformVector(tenant, label, v)
		if err != nil {
			return nil, err
		}
		out[name] = CipherVector(enc)
	}
	return out, nil
}

func (p *LocalProvider) GenerateQueryVectors(_ context.Context, tenant, label string, vectors map[string][]float32) (map[string][]float32, error) {
	if err := checkTenant(tenant); err != nil {
		return nil, err
	}
	// Query vectors use the same keyed isometry as stored vectors, so the
	// index compares them directly.
	out := make(map[string][]float32, len(vectors))
	for name, v := range vectors {
		enc, err := p.transformVector(tenant, label, v)
		if err != nil {
			return nil, err
		}
		out[name] = enc
	}
	return out, nil
}

// transformVector applies a per-tenant, per-label orthogonal transform
// (keyed coordinate permutation plus sign flips). Distances between vectors
// of the same tenant are preserved exactly; vectors of different tenants go
// through unrelated transforms.
func (p *LocalProvider) transformVector(tenant, label string, v []float32) ([]float32, error) {
	key, err := deriveKey(p.cfg.VectorSecret, "vector", tenant, label)
	if err != nil {
		return nil, err
	}
	ks, err := newKeystream(key)
	if err != nil {
		return nil, err
	}

	n := len(v)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	// Fisher-Yates driven by the keystream.
	for i := n - 1; i > 0; i-- {
		j := int(ks.uint64() % uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}

	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sign := float32(1)
		if ks.uint64()&1 == 1 {
			sign = -1
		}
		out[i] = sign * v[perm[i]]
	}
	return out, nil
}

func (p *LocalProvider) RekeyEdek(_ context.Context, tenant string, edek EDEK) (EDEK, error) {
	if err := checkTenant(tenant); err != nil {
		return "", err
	}
	dek, _, docID, err := p.unwrapDEK(tenant, edek)
	if err != nil {
		return "", err
	}
	// Same document key, same document id, fresh nonce under the current
	// version: the result always differs byte-wise from the input.
	return p.wrapDEK(tenant, p.cfg.CurrentVersion, docID, dek)
}

// keystream is a deterministic random stream (AES-CTR over a zero IV) used
// to derive the vector permutation from a key.
type keystream struct {
	stream cipher.Stream
}

func newKeystream(key []byte) (*keystream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryptionService, err)
	}
	iv := make([]byte, aes.BlockSize)
	return &keystream{stream: cipher.NewCTR(block, iv)}, nil
}

func (k *keystream) uint64() uint64 {
	var buf [8]byte
	k.stream.XORKeyStream(buf[:], buf[:])
	return binary.BigEndian.Uint64(buf[:])
}
