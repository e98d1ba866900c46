// Package cryptox defines the per-tenant field-encryption capability used by
// the note store: opaque (decrypt-only) fields, deterministic
// (equality-preserving) fields, and similarity-preserving vector fields,
// plus rekeying of a document's wrapped key.
//
// Every field is exactly one of the three ciphertext kinds. The distinct Go
// types keep a deterministic ciphertext from ever being decrypted as an
// opaque one and vice versa.
package cryptox

import "encoding/base64"

// Opaque is semantically secure ciphertext. It reveals nothing without the
// document's wrapped key and cannot be filtered on. Base64-encoded so it can
// live in a text column.
type Opaque string

// Deterministic is equality-preserving ciphertext: the same tenant, label
// and plaintext always produce the same value, so rows can be filtered by
// ciphertext equality without decryption. Base64-encoded.
type Deterministic string

// EDEK is a per-document data key wrapped by a tenant key, base64-encoded.
// Rekeying replaces the EDEK without touching any field ciphertext.
type EDEK string

// CipherVector is a similarity-preserving encryption of an embedding:
// approximate distances between vectors of the same tenant are preserved, so
// a search index can rank them without decryption.
type CipherVector []float32

func encodeOpaque(raw []byte) Opaque {
	return Opaque(base64.StdEncoding.EncodeToString(raw))
}

func (o Opaque) raw() ([]byte, error) {
	return base64.StdEncoding.DecodeString(string(o))
}

func encodeDeterministic(raw []byte) Deterministic {
	return Deterministic(base64.StdEncoding.EncodeToString(raw))
}

func (d Deterministic) raw() ([]byte, error) {
	return base64.StdEncoding.DecodeString(string(d))
}

func encodeEdek(raw []byte) EDEK {
	return EDEK(base64.StdEncoding.EncodeToString(raw))
}

func (e EDEK) raw() ([]byte, error) {
	return base64.StdEncoding.DecodeString(string(e))
}
