package index

import (
	"context"
	"encoding/json"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coverbot/policyqa/types"
)

// chunkRow is the gorm model for a stored document chunk. Embeddings are
// serialized as JSON; search runs over an in-memory mirror, so the database
// is only a persistence layer for modest corpora.
type chunkRow struct {
	ID         string `gorm:"primaryKey"`
	Domain     string `gorm:"index"`
	DocType    string
	DocumentID string
	Section    string
	Page       int
	Text       string
	Embedding  string // JSON-encoded []float64
	TokenCount int
}

// TableName sets the table name for chunkRow.
func (chunkRow) TableName() string { return "chunks" }

// SQLiteIndex is an Index persisted in an embedded SQLite database. Chunks
// are mirrored in memory on open and on every Add; reads never touch the
// database.
type SQLiteIndex struct {
	db     *gorm.DB
	mirror *InMemoryIndex
	logger *zap.Logger
}

// OpenSQLiteIndex opens (creating if needed) a SQLite-backed index at path
// and loads all stored chunks into the in-memory mirror.
func OpenSQLiteIndex(path string, logger *zap.Logger) (*SQLiteIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrIndexUnavailable, "open sqlite index").WithCause(err)
	}
	if err := db.AutoMigrate(&chunkRow{}); err != nil {
		return nil, types.NewError(types.ErrIndexUnavailable, "migrate chunk table").WithCause(err)
	}

	ix := &SQLiteIndex{
		db:     db,
		mirror: NewInMemoryIndex(logger),
		logger: logger.With(zap.String("component", "sqlite_index")),
	}
	if err := ix.load(context.Background()); err != nil {
		return nil, err
	}
	return ix, nil
}

func (ix *SQLiteIndex) load(ctx context.Context) error {
	var rows []chunkRow
	if err := ix.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return types.NewError(types.ErrIndexUnavailable, "load chunks").WithCause(err)
	}
	if len(rows) == 0 {
		return nil
	}
	chunks := make([]types.DocumentChunk, 0, len(rows))
	for _, r := range rows {
		chunk, err := rowToChunk(r)
		if err != nil {
			ix.logger.Warn("skipping undecodable chunk", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		chunks = append(chunks, chunk)
	}
	return ix.mirror.Add(ctx, chunks)
}

// Add persists chunks and updates the in-memory mirror.
func (ix *SQLiteIndex) Add(ctx context.Context, chunks []types.DocumentChunk) error {
	rows := make([]chunkRow, 0, len(chunks))
	for _, c := range chunks {
		if c.Embedding == nil {
			return types.NewError(types.ErrInvalidInput, "chunk "+c.ID+" has no embedding")
		}
		emb, err := json.Marshal(c.Embedding)
		if err != nil {
			return types.NewError(types.ErrInternalError, "encode embedding").WithCause(err)
		}
		rows = append(rows, chunkRow{
			ID:         c.ID,
			Domain:     string(c.Domain),
			DocType:    string(c.DocType),
			DocumentID: c.Source.DocumentID,
			Section:    c.Source.Section,
			Page:       c.Source.Page,
			Text:       c.Text,
			Embedding:  string(emb),
			TokenCount: c.TokenCount,
		})
	}
	if err := ix.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return types.NewError(types.ErrIndexUnavailable, "persist chunks").WithCause(err)
	}
	return ix.mirror.Add(ctx, chunks)
}

// VectorSearch delegates to the in-memory mirror.
func (ix *SQLiteIndex) VectorSearch(ctx context.Context, embedding []float64, topK int, domain types.Domain) ([]Hit, error) {
	return ix.mirror.VectorSearch(ctx, embedding, topK, domain)
}

// KeywordSearch delegates to the in-memory mirror.
func (ix *SQLiteIndex) KeywordSearch(ctx context.Context, query string, topK int, domain types.Domain) ([]Hit, error) {
	return ix.mirror.KeywordSearch(ctx, query, topK, domain)
}

// Health pings the underlying database.
func (ix *SQLiteIndex) Health(ctx context.Context) error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return types.NewError(types.ErrIndexUnavailable, "sqlite handle").WithCause(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return types.NewError(types.ErrIndexUnavailable, "sqlite ping").WithCause(err)
	}
	return nil
}

func rowToChunk(r chunkRow) (types.DocumentChunk, error) {
	var emb []float64
	if err := json.Unmarshal([]byte(r.Embedding), &emb); err != nil {
		return types.DocumentChunk{}, err
	}
	return types.DocumentChunk{
		ID:      r.ID,
		Domain:  types.Domain(r.Domain),
		DocType: types.DocType(r.DocType),
		Source: types.SourceRef{
			DocumentID: r.DocumentID,
			Section:    r.Section,
			Page:       r.Page,
		},
		Text:       r.Text,
		Embedding:  emb,
		TokenCount: r.TokenCount,
	}, nil
}
