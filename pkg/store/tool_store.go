package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/artificer-dev/artificer/pkg/models"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations
const pgUniqueViolation = "23505"

// ToolStore persists authored tools.
type ToolStore struct {
	db *stdsql.DB
}

// NewToolStore creates a tool store backed by the given connection pool.
func NewToolStore(db *stdsql.DB) *ToolStore {
	return &ToolStore{db: db}
}

// ToolFilter narrows List results.
type ToolFilter struct {
	ActiveOnly    bool
	ExcludeBugged bool
	Category      string
}

const toolColumns = `id, name, description, category, tags, required_params, optional_params,
	return_schema, examples, code, entrypoint, requirements,
	is_active, is_bugged, bug_count, first_failure_at, last_failure_at, failure_log,
	execution_count, last_executed_at, created_at, updated_at`

// Create inserts a new tool. The ID and timestamps are filled in when unset.
// A name collision returns ErrDuplicateName.
func (s *ToolStore) Create(ctx context.Context, tool *models.Tool) error {
	if tool.ID == "" {
		tool.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = now
	}
	tool.UpdatedAt = now

	tags, err := marshalJSON(tool.Tags, "[]")
	if err != nil {
		return err
	}
	required, err := marshalJSON(tool.RequiredParams, "[]")
	if err != nil {
		return err
	}
	optional, err := marshalJSON(tool.OptionalParams, "{}")
	if err != nil {
		return err
	}
	requirements, err := marshalJSON(tool.Requirements, "[]")
	if err != nil {
		return err
	}
	failureLog, err := marshalJSON(tool.FailureLog, "[]")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tools (id, name, description, category, tags, required_params, optional_params,
			return_schema, examples, code, entrypoint, requirements,
			is_active, is_bugged, bug_count, first_failure_at, last_failure_at, failure_log,
			execution_count, last_executed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		tool.ID, tool.Name, tool.Description, tool.Category, tags, required, optional,
		nullableRaw(tool.ReturnSchema), nullableRaw(tool.Examples), tool.Code, tool.Entrypoint, requirements,
		tool.Active, tool.Bugged, tool.BugCount, tool.FirstFailureAt, tool.LastFailureAt, failureLog,
		tool.ExecutionCount, tool.LastExecutedAt, tool.CreatedAt, tool.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateName, tool.Name)
		}
		return fmt.Errorf("failed to insert tool: %w", err)
	}
	return nil
}

// Get returns a tool by ID, or ErrNotFound.
func (s *ToolStore) Get(ctx context.Context, id string) (*models.Tool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE id = $1`, id)
	return scanTool(row)
}

// GetByName returns a tool by name, or ErrNotFound.
func (s *ToolStore) GetByName(ctx context.Context, name string) (*models.Tool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE name = $1`, name)
	return scanTool(row)
}

// List returns tools matching the filter, ordered by creation time.
func (s *ToolStore) List(ctx context.Context, filter ToolFilter) ([]*models.Tool, error) {
	query := `SELECT ` + toolColumns + ` FROM tools WHERE TRUE`
	var args []any

	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	if filter.ExcludeBugged {
		query += ` AND NOT is_bugged`
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	defer rows.Close()

	var tools []*models.Tool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

// ListBugged returns all tools currently flagged as bugged.
func (s *ToolStore) ListBugged(ctx context.Context) ([]*models.Tool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE is_bugged ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bugged tools: %w", err)
	}
	defer rows.Close()

	var tools []*models.Tool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

// Update rewrites the mutable fields of a tool and bumps updated_at.
// Bug bookkeeping fields are managed by RecordFailure/ClearBug and are
// deliberately not touched here.
func (s *ToolStore) Update(ctx context.Context, tool *models.Tool) error {
	tool.UpdatedAt = time.Now().UTC()

	tags, err := marshalJSON(tool.Tags, "[]")
	if err != nil {
		return err
	}
	required, err := marshalJSON(tool.RequiredParams, "[]")
	if err != nil {
		return err
	}
	optional, err := marshalJSON(tool.OptionalParams, "{}")
	if err != nil {
		return err
	}
	requirements, err := marshalJSON(tool.Requirements, "[]")
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tools SET
			name = $2, description = $3, category = $4, tags = $5,
			required_params = $6, optional_params = $7, return_schema = $8, examples = $9,
			code = $10, entrypoint = $11, requirements = $12, is_active = $13, updated_at = $14
		WHERE id = $1`,
		tool.ID, tool.Name, tool.Description, tool.Category, tags,
		required, optional, nullableRaw(tool.ReturnSchema), nullableRaw(tool.Examples),
		tool.Code, tool.Entrypoint, requirements, tool.Active, tool.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateName, tool.Name)
		}
		return fmt.Errorf("failed to update tool: %w", err)
	}
	return requireRow(res)
}

// Delete removes a tool by ID.
func (s *ToolStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tool: %w", err)
	}
	return requireRow(res)
}

// Deactivate flags a tool inactive without deleting it.
func (s *ToolStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tools SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate tool: %w", err)
	}
	return requireRow(res)
}

// ClearBug restores a bugged tool to service. The failure log is kept:
// it is an append-only history.
func (s *ToolStore) ClearBug(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tools SET is_bugged = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear bug status: %w", err)
	}
	return requireRow(res)
}

// SetBugged force-flags a tool as bugged (agent-loop quarantine path).
func (s *ToolStore) SetBugged(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tools SET is_bugged = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to set bug status: %w", err)
	}
	return requireRow(res)
}

// RecordSuccess bumps execution stats after a successful run.
func (s *ToolStore) RecordSuccess(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tools SET
			execution_count = execution_count + 1,
			last_executed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return requireRow(res)
}

// RecordFailure appends a bug report, bumps counters, and quarantines the
// tool. Windowed failures (agent-loop invocations) get one retry: the tool
// flips to bugged when a second failure lands in the same invocation window.
// Windowless failures (direct API executions) quarantine immediately.
// Returns the updated tool.
func (s *ToolStore) RecordFailure(ctx context.Context, id string, report models.BugReport) (*models.Tool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rawLog []byte
	err = tx.QueryRowContext(ctx,
		`SELECT failure_log FROM tools WHERE id = $1 FOR UPDATE`, id).Scan(&rawLog)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock tool row: %w", err)
	}

	var log []models.BugReport
	if len(rawLog) > 0 {
		if err := json.Unmarshal(rawLog, &log); err != nil {
			return nil, fmt.Errorf("failed to decode failure log: %w", err)
		}
	}

	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now().UTC()
	}

	// A windowless failure quarantines at once; two failures sharing an
	// invocation window quarantine the tool
	quarantine := report.Window == ""
	for _, prior := range log {
		if report.Window != "" && prior.Window == report.Window {
			quarantine = true
			break
		}
	}
	log = append(log, report)

	updatedLog, err := marshalJSON(log, "[]")
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE tools SET
			failure_log = $2,
			bug_count = bug_count + 1,
			is_bugged = is_bugged OR $3,
			first_failure_at = COALESCE(first_failure_at, NOW()),
			last_failure_at = NOW(),
			execution_count = execution_count + 1,
			last_executed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+toolColumns, id, updatedLog, quarantine)

	tool, err := scanTool(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit failure record: %w", err)
	}
	return tool, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTool.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTool(row rowScanner) (*models.Tool, error) {
	var (
		tool         models.Tool
		tags         []byte
		required     []byte
		optional     []byte
		returnSchema []byte
		examples     []byte
		requirements []byte
		failureLog   []byte
		firstFailure stdsql.NullTime
		lastFailure  stdsql.NullTime
		lastExecuted stdsql.NullTime
	)

	err := row.Scan(
		&tool.ID, &tool.Name, &tool.Description, &tool.Category, &tags, &required, &optional,
		&returnSchema, &examples, &tool.Code, &tool.Entrypoint, &requirements,
		&tool.Active, &tool.Bugged, &tool.BugCount, &firstFailure, &lastFailure, &failureLog,
		&tool.ExecutionCount, &lastExecuted, &tool.CreatedAt, &tool.UpdatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tool: %w", err)
	}

	if err := unmarshalJSON(tags, &tool.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(required, &tool.RequiredParams); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(optional, &tool.OptionalParams); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(requirements, &tool.Requirements); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(failureLog, &tool.FailureLog); err != nil {
		return nil, err
	}
	if len(returnSchema) > 0 {
		tool.ReturnSchema = json.RawMessage(returnSchema)
	}
	if len(examples) > 0 {
		tool.Examples = json.RawMessage(examples)
	}
	tool.FirstFailureAt = nullTimePtr(firstFailure)
	tool.LastFailureAt = nullTimePtr(lastFailure)
	tool.LastExecutedAt = nullTimePtr(lastExecuted)

	return &tool, nil
}

func marshalJSON(v any, empty string) ([]byte, error) {
	if v == nil {
		return []byte(empty), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON column: %w", err)
	}
	if string(data) == "null" {
		return []byte(empty), nil
	}
	return data, nil
}

func unmarshalJSON(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode JSON column: %w", err)
	}
	return nil
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullTimePtr(t stdsql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRow(res stdsql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
