// Package server initializes and runs the notes engine: it opens the
// database and runs migrations, builds the crypto provider from the
// configured root secrets, connects the search index and the embedding
// client, and wires the note service. Request transport (HTTP, gRPC) is an
// external collaborator and not part of this process.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/cryptox"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/logging"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/config"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/embeddings"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/repomanager"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/search"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/services"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	index       search.Index
	noteService *services.NoteService
}

// NoteService exposes the wired service for embedding callers (transports,
// schedulers) built on top of this app.
func (app *App) NoteService() *services.NoteService {
	return app.noteService
}

func localCryptoConfig(c *config.Config) cryptox.LocalConfig {
	secrets := make(map[uint32][]byte, len(c.StandardSecrets))
	for version, secret := range c.StandardSecrets {
		secrets[version] = []byte(secret)
	}
	return cryptox.LocalConfig{
		StandardSecrets:     secrets,
		CurrentVersion:      c.CurrentKeyVersion,
		DeterministicSecret: []byte(c.DeterministicSecret),
		VectorSecret:        []byte(c.VectorSecret),
	}
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := &repomanager.PostgresRepositoryManager{}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	provider, err := cryptox.NewLocalProvider(localCryptoConfig(c))
	if err != nil {
		return nil, fmt.Errorf("crypto init error: %w", err)
	}

	index, err := search.NewQdrantIndex(search.Config{
		Host:       c.QdrantHost,
		Port:       c.QdrantPort,
		Collection: c.QdrantCollection,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("search init error: %w", err)
	}

	ollama, err := embeddings.NewOllamaClient(embeddings.Config{
		ServerURL:  c.OllamaURL,
		EmbedModel: c.EmbedModel,
		ChatModel:  c.ChatModel,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings init error: %w", err)
	}

	presigner := services.NewS3Presigner(services.S3Config{
		RootUser:     c.S3RootUser,
		RootPassword: c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		Expiry:       c.PresignExpiry,
	})

	noteService := services.NewNoteService(db, rm, provider, index, ollama, ollama, presigner, logger)

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		index:       index,
		noteService: noteService,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run makes the search collection ready and then blocks until the process
// is signalled to stop.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	if err := app.index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("search collection init error: %w", err)
	}

	<-ctx.Done()

	app.logger.Info(ctx, "shutting down")
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err.Error())
	}
	return nil
}
