package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/flagx"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/timex"
)

// JsonConfig is the DTO used for reading JSON configuration files. Interval
// fields use timex.Duration so both "15m" and integer nanoseconds parse;
// standard secrets are keyed by their decimal version number.
type JsonConfig struct {
	DatabaseDSN         *string           `json:"database_dsn"`
	QdrantHost          *string           `json:"qdrant_host"`
	QdrantPort          *int              `json:"qdrant_port"`
	QdrantCollection    *string           `json:"qdrant_collection"`
	OllamaURL           *string           `json:"ollama_url"`
	EmbedModel          *string           `json:"embed_model"`
	ChatModel           *string           `json:"chat_model"`
	StandardSecrets     map[string]string `json:"standard_secrets"`
	CurrentKeyVersion   *uint32           `json:"current_key_version"`
	DeterministicSecret *string           `json:"deterministic_secret"`
	VectorSecret        *string           `json:"vector_secret"`
	S3RootUser          *string           `json:"s3_root_user"`
	S3RootPassword      *string           `json:"s3_root_password"`
	S3Bucket            *string           `json:"s3_bucket"`
	S3Region            *string           `json:"s3_region"`
	S3BaseEndpoint      *string           `json:"s3_base_endpoint"`
	PresignExpiry       *timex.Duration   `json:"presign_expiry"`
}

func overlayString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flags; when
// neither is set, no JSON file is loaded. Keys absent from the file keep
// their current (default) values.
//
// If the file cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	overlayString(&config.DatabaseDSN, c.DatabaseDSN)
	overlayString(&config.QdrantHost, c.QdrantHost)
	if c.QdrantPort != nil {
		config.QdrantPort = *c.QdrantPort
	}
	overlayString(&config.QdrantCollection, c.QdrantCollection)
	overlayString(&config.OllamaURL, c.OllamaURL)
	overlayString(&config.EmbedModel, c.EmbedModel)
	overlayString(&config.ChatModel, c.ChatModel)
	if len(c.StandardSecrets) > 0 {
		secrets := make(map[uint32]string, len(c.StandardSecrets))
		for version, secret := range c.StandardSecrets {
			v, err := strconv.ParseUint(version, 10, 32)
			if err != nil {
				panic(err)
			}
			secrets[uint32(v)] = secret
		}
		config.StandardSecrets = secrets
	}
	if c.CurrentKeyVersion != nil {
		config.CurrentKeyVersion = *c.CurrentKeyVersion
	}
	overlayString(&config.DeterministicSecret, c.DeterministicSecret)
	overlayString(&config.VectorSecret, c.VectorSecret)
	overlayString(&config.S3RootUser, c.S3RootUser)
	overlayString(&config.S3RootPassword, c.S3RootPassword)
	overlayString(&config.S3Bucket, c.S3Bucket)
	overlayString(&config.S3Region, c.S3Region)
	overlayString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.PresignExpiry != nil {
		config.PresignExpiry = time.Duration(c.PresignExpiry.Duration)
	}
}
