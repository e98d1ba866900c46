// Package common defines the sentinel errors shared by the storage,
// crypto and search layers. Callers should use errors.Is to match them.
package common

import "errors"

var (
	// ErrNotFound means no row exists for the requested (id, tenant) pair.
	// A row owned by a different tenant produces the same error, so callers
	// cannot distinguish "missing" from "belongs to someone else".
	ErrNotFound = errors.New("not found")

	// ErrAuthentication means the tenant context could not be resolved to
	// key material.
	ErrAuthentication = errors.New("tenant authentication failed")

	// ErrDecryption means the ciphertext or wrapped document key is
	// malformed or was produced under a different key.
	ErrDecryption = errors.New("decryption failed")

	// ErrEncryptionService means the backing key/crypto service rejected the
	// request or is unreachable. Retryable from the caller's point of view.
	ErrEncryptionService = errors.New("encryption service error")

	// ErrStorage wraps relational store failures.
	ErrStorage = errors.New("storage error")
)
