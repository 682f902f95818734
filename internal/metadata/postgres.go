package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/postgres"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS generation_documents (
	generation TEXT   NOT NULL,
	doc_id     BIGINT NOT NULL,
	title      TEXT   NOT NULL,
	url        TEXT   NOT NULL,
	PRIMARY KEY (generation, doc_id)
)`

// Postgres stores document metadata in generation_documents, keyed by
// generation ID. Writing a staged generation's rows never changes what a
// published generation resolves to.
type Postgres struct {
	client *postgres.Client
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{
		client: client,
		db:     client.DB,
		logger: slog.Default().With("component", "metadata-postgres"),
	}
}

// StoreDocuments replaces the rows of generation with docs in one
// transaction, bulk-loaded with COPY.
func (p *Postgres) StoreDocuments(ctx context.Context, generation string, docs []Document) error {
	err := p.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("creating documents table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM generation_documents WHERE generation = $1`, generation); err != nil {
			return fmt.Errorf("clearing documents of %s: %w", generation, err)
		}
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("generation_documents", "generation", "doc_id", "title", "url"))
		if err != nil {
			return fmt.Errorf("preparing copy: %w", err)
		}
		for _, d := range docs {
			if _, err := stmt.ExecContext(ctx, generation, int64(d.DocID), d.Title, d.URL); err != nil {
				stmt.Close()
				return fmt.Errorf("copying document %d: %w", d.DocID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flushing copy: %w", err)
		}
		return stmt.Close()
	})
	if err != nil {
		return err
	}
	p.logger.Info("documents stored", "generation", generation, "documents", len(docs))
	return nil
}

// DropDocuments deletes the rows of generation.
func (p *Postgres) DropDocuments(ctx context.Context, generation string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM generation_documents WHERE generation = $1`, generation)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
			return nil
		}
		return fmt.Errorf("dropping documents of %s: %w", generation, err)
	}
	n, _ := res.RowsAffected()
	p.logger.Info("documents dropped", "generation", generation, "documents", n)
	return nil
}

// ForGeneration returns a Source reading generation's rows. It fails when
// the table does not hold exactly want rows for generation, so a searcher
// never serves a generation whose documents were not stored.
func (p *Postgres) ForGeneration(ctx context.Context, generation string, want int) (Source, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM generation_documents WHERE generation = $1`, generation,
	).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("counting documents of %s: %w", generation, err)
	}
	if n != want {
		return nil, apperrors.Configuration(nil, "generation %s has %d documents in postgres, manifest lists %d", generation, n, want)
	}
	return &generationSource{db: p.db, generation: generation}, nil
}

type generationSource struct {
	db         *sql.DB
	generation string
}

func (g *generationSource) Documents(ctx context.Context, ids []uint32) (map[uint32]Document, error) {
	out := make(map[uint32]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	rows, err := g.db.QueryContext(ctx,
		`SELECT doc_id, title, url FROM generation_documents WHERE generation = $1 AND doc_id = ANY($2)`,
		g.generation, pq.Array(keys),
	)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  int64
			doc Document
		)
		if err := rows.Scan(&id, &doc.Title, &doc.URL); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		doc.DocID = uint32(id)
		out[doc.DocID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return out, nil
}
