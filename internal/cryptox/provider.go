package cryptox

import "context"

// Provider is the tenant-scoped encryption capability. The tenant argument
// is the organization's stable login; all key material is derived from it,
// so ciphertext produced for one tenant is unlinkable to any other's.
//
// Labels act as domain-separation tags: encrypting a "note/category" never
// shares key material with "note/embedding".
//
// Errors are reported through the sentinels in internal/common:
// ErrAuthentication when the tenant context cannot be resolved,
// ErrDecryption for malformed ciphertext or wrapped keys, and
// ErrEncryptionService when the backing key service fails.
type Provider interface {
	// EncryptDocument encrypts the labeled plaintext fields under one fresh
	// per-document key and returns the per-field ciphertext together with
	// the wrapped key.
	EncryptDocument(ctx context.Context, tenant string, fields map[string][]byte) (map[string]Opaque, EDEK, error)

	// DecryptDocument reverses EncryptDocument using the document's wrapped key.
	DecryptDocument(ctx context.Context, tenant string, fields map[string]Opaque, edek EDEK) (map[string][]byte, error)

	// EncryptDeterministic produces equality-preserving ciphertext: repeated
	// calls with identical tenant, label and plaintext yield identical output.
	EncryptDeterministic(ctx context.Context, tenant, label string, plaintext []byte) (Deterministic, error)

	// DecryptDeterministic reverses EncryptDeterministic.
	DecryptDeterministic(ctx context.Context, tenant, label string, ciphertext Deterministic) ([]byte, error)

	// EncryptVectors transforms embeddings into similarity-preserving
	// ciphertext for storage in the search index.
	EncryptVectors(ctx context.Context, tenant, label string, vectors map[string][]float32) (map[string]CipherVector, error)

	// GenerateQueryVectors builds the query-side representation used to
	// search against stored CipherVectors. It is not required to share an
	// encoding with EncryptVectors, only to be comparable to it.
	GenerateQueryVectors(ctx context.Context, tenant, label string, vectors map[string][]float32) (map[string][]float32, error)

	// RekeyEdek re-wraps the same underlying document key under the current
	// tenant key version. The returned EDEK differs byte-wise from the input
	// but decrypts the same ciphertext; no field ciphertext changes.
	RekeyEdek(ctx context.Context, tenant string, edek EDEK) (EDEK, error)
}
