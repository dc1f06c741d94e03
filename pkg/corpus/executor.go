package corpus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ceci-ai/botchain/pkg/models"
	"github.com/ceci-ai/botchain/pkg/stages"
)

// ErrUnknownTemplate is returned for a template_id outside the closed set.
var ErrUnknownTemplate = errors.New("unknown query template")

// queryTemplates is the closed set of parameterized queries SQL-GEN may
// select instead of emitting ad-hoc SQL. Template executions cost zero
// tokens; the stage only picks an id and parameters.
var queryTemplates = map[string]string{
	"decisions_by_government": `
		SELECT id, title, summary FROM decisions
		WHERE government_number = $1
		ORDER BY decision_date DESC`,
	"decisions_by_government_topic": `
		SELECT id, title, summary FROM decisions
		WHERE government_number = $1 AND topic = $2
		ORDER BY decision_date DESC`,
	"decisions_by_topic": `
		SELECT id, title, summary FROM decisions
		WHERE topic = $1
		ORDER BY decision_date DESC`,
	"decision_by_number": `
		SELECT id, title, summary, content FROM decisions
		WHERE government_number = $1 AND decision_number = $2`,
	"count_by_government": `
		SELECT COUNT(*) FROM decisions WHERE government_number = $1`,
	"count_by_government_topic": `
		SELECT COUNT(*) FROM decisions
		WHERE government_number = $1 AND topic = $2`,
}

// Result is the SQL-EXEC output: either a ranked row list or a bare count.
type Result struct {
	Artifacts  []models.ResultArtifact
	TotalCount int
	IsCount    bool
	Count      int
}

// Executor runs data-stage queries on the corpus database.
type Executor struct {
	pool *pgxpool.Pool
}

// NewExecutor connects a pgx pool to the corpus database.
func NewExecutor(ctx context.Context, cfg Config) (*Executor, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse corpus DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create corpus pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping corpus database: %w", err)
	}
	return &Executor{pool: pool}, nil
}

// NewExecutorFromPool wraps an existing pool (useful for testing).
func NewExecutorFromPool(pool *pgxpool.Pool) *Executor {
	return &Executor{pool: pool}
}

// Close releases the connection pool.
func (e *Executor) Close() {
	e.pool.Close()
}

// Ping reports corpus database health.
func (e *Executor) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return e.pool.Ping(ctx)
}

// Execute runs the SQL-GEN output. hardCap bounds the number of rows read
// regardless of what the generated SQL asks for.
func (e *Executor) Execute(ctx context.Context, gen *stages.SQLGenResponse, hardCap int) (*Result, error) {
	sql := gen.SQL
	if gen.TemplateID != "" {
		tmpl, ok := queryTemplates[gen.TemplateID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, gen.TemplateID)
		}
		sql = tmpl
	}
	if strings.TrimSpace(sql) == "" {
		return nil, errors.New("sqlgen produced neither sql nor template_id")
	}

	if gen.QueryType == "count" {
		var count int
		if err := e.pool.QueryRow(ctx, sql, gen.Parameters...).Scan(&count); err != nil {
			return nil, fmt.Errorf("count query failed: %w", err)
		}
		return &Result{IsCount: true, Count: count}, nil
	}

	rows, err := e.pool.Query(ctx, sql, gen.Parameters...)
	if err != nil {
		return nil, fmt.Errorf("corpus query failed: %w", err)
	}
	defer rows.Close()

	artifacts, err := scanArtifacts(rows, hardCap)
	if err != nil {
		return nil, err
	}
	return &Result{Artifacts: artifacts, TotalCount: len(artifacts)}, nil
}

// FetchByID loads a single artifact with its full content. Used when a
// reference resolved to a specific decision and no SQL-GEN call is needed.
// Returns (nil, nil) when the id does not exist.
func (e *Executor) FetchByID(ctx context.Context, id string) (*models.ResultArtifact, error) {
	const q = `SELECT id, title, summary, content FROM decisions WHERE id = $1`
	var a models.ResultArtifact
	err := e.pool.QueryRow(ctx, q, id).Scan(&a.ID, &a.Title, &a.Summary, &a.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch artifact %s: %w", id, err)
	}
	return &a, nil
}

// scanArtifacts maps result rows to artifacts by column name, tolerating
// queries that omit summary/content.
func scanArtifacts(rows pgx.Rows, hardCap int) ([]models.ResultArtifact, error) {
	cols := rows.FieldDescriptions()
	colIdx := make(map[string]int, len(cols))
	for i, c := range cols {
		colIdx[strings.ToLower(c.Name)] = i
	}
	if _, ok := colIdx["id"]; !ok {
		return nil, errors.New("corpus query must select an id column")
	}

	var artifacts []models.ResultArtifact
	for rows.Next() {
		if hardCap > 0 && len(artifacts) >= hardCap {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read corpus row: %w", err)
		}
		a := models.ResultArtifact{ID: asString(values[colIdx["id"]])}
		if i, ok := colIdx["title"]; ok {
			a.Title = asString(values[i])
		}
		if i, ok := colIdx["summary"]; ok {
			a.Summary = asString(values[i])
		}
		if i, ok := colIdx["content"]; ok {
			a.Content = asString(values[i])
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("corpus rows: %w", err)
	}
	return artifacts, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}
