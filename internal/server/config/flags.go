package config

import (
	"flag"
	"os"
	"time"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string    PostgreSQL DSN
//	-qh string   Qdrant host
//	-qp int      Qdrant gRPC port
//	-qc string   Qdrant collection name
//	-o string    Ollama base URL
//	-em string   embedding model name
//	-cm string   chat model name
//	-u string    S3 root user
//	-p string    S3 root password
//	-b string    S3 bucket name
//	-g string    S3 region
//	-e string    S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-x int       presign expiry, minutes
//
// Root secrets are deliberately not settable via flags; they come from the
// JSON configuration file (or the defaults, in development).
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-qh", "-qp", "-qc", "-o", "-em", "-cm", "-u", "-p", "-b", "-g", "-e", "-x"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.QdrantHost, "qh", config.QdrantHost, "Qdrant host")
	fs.IntVar(&config.QdrantPort, "qp", config.QdrantPort, "Qdrant gRPC port")
	fs.StringVar(&config.QdrantCollection, "qc", config.QdrantCollection, "Qdrant collection")
	fs.StringVar(&config.OllamaURL, "o", config.OllamaURL, "Ollama base URL")
	fs.StringVar(&config.EmbedModel, "em", config.EmbedModel, "embedding model")
	fs.StringVar(&config.ChatModel, "cm", config.ChatModel, "chat model")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	presignExpiry := fs.Int("x", int(config.PresignExpiry.Minutes()), "presign expiry (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.PresignExpiry = time.Duration(*presignExpiry) * time.Minute
}
