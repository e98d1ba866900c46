// Package models holds the server-side domain types: organizations
// (tenants), notes in both encrypted and plaintext form, and attachments.
package models

import "time"

// Organization is a tenant. Login is the stable external tenant key that
// the crypto provider derives per-tenant key material from; it never
// changes. Organizations are provisioned out of band and read-only here.
type Organization struct {
	ID      int64
	Login   string
	Name    string
	Created time.Time
	Updated time.Time
}
