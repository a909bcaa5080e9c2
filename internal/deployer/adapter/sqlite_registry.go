package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/sqlite"
)

// Compile-time check: DeployRegistry satisfies app.Registry.
var _ app.Registry = (*DeployRegistry)(nil)

// deploySchema creates the deployments table. Timestamps are RFC3339 UTC
// strings, so lexicographic comparison orders them correctly.
const deploySchema = `
CREATE TABLE IF NOT EXISTS deployments (
    deploy_id      TEXT PRIMARY KEY,
    app            TEXT NOT NULL,
    image_tag      TEXT NOT NULL,
    container_id   TEXT NOT NULL DEFAULT '',
    container_port INTEGER NOT NULL DEFAULT 0,
    host_port      INTEGER NOT NULL DEFAULT 0,
    status         TEXT NOT NULL,
    error          TEXT NOT NULL DEFAULT '',
    source_kind    TEXT NOT NULL,
    source_ref     TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL,
    expires_at     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_deployments_app_created ON deployments(app, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments(status);
`

// deployColumns is the column list every SELECT uses, in scanDeploy order.
const deployColumns = `deploy_id, app, image_tag, container_id, container_port, host_port, status, error, source_kind, source_ref, created_at, expires_at`

// deployRow is the SQLite row shape for the deployments table.
type deployRow struct {
	DeployID      string
	App           string
	ImageTag      string
	ContainerID   string
	ContainerPort int
	HostPort      int
	Status        string
	Error         string
	SourceKind    string
	SourceRef     string
	CreatedAt     string
	ExpiresAt     string
}

// fromDeployRow converts a SQLite row to an app.DeployRecord.
func fromDeployRow(row deployRow) *app.DeployRecord {
	return &app.DeployRecord{
		DeployID:      row.DeployID,
		App:           row.App,
		ImageTag:      row.ImageTag,
		ContainerID:   row.ContainerID,
		ContainerPort: row.ContainerPort,
		HostPort:      row.HostPort,
		Status:        row.Status,
		Error:         row.Error,
		SourceKind:    row.SourceKind,
		SourceRef:     row.SourceRef,
		CreatedAt:     row.CreatedAt,
		ExpiresAt:     row.ExpiresAt,
	}
}

// scanner is the common surface of *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanDeploy reads one row in deployColumns order.
func scanDeploy(s scanner) (*app.DeployRecord, error) {
	var row deployRow
	err := s.Scan(
		&row.DeployID, &row.App, &row.ImageTag, &row.ContainerID,
		&row.ContainerPort, &row.HostPort, &row.Status, &row.Error,
		&row.SourceKind, &row.SourceRef, &row.CreatedAt, &row.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return fromDeployRow(row), nil
}

// DeployRegistry persists deployment records in SQLite.
type DeployRegistry struct {
	db      *sql.DB
	timeout time.Duration

	// allocMu makes the used-port scan and the row update in
	// AllocateHostPort one atomic unit. The per-app build lock only
	// serializes deploys of the same app; without this, two apps
	// deploying at once can scan the same snapshot and claim one port.
	allocMu sync.Mutex
}

// NewDeployRegistry creates the registry and ensures the schema exists.
func NewDeployRegistry(ctx context.Context, client *sqlite.Client, timeout time.Duration) (*DeployRegistry, error) {
	if timeout <= 0 {
		timeout = domain.RegistryTimeout
	}
	r := &DeployRegistry{db: client.DB, timeout: timeout}

	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, deploySchema); err != nil {
		return nil, fmt.Errorf("deploy registry: init schema: %w", err)
	}
	return r, nil
}

// opCtx bounds a single registry operation.
func (r *DeployRegistry) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Create inserts a new deployment record.
// Returns domain.ErrAlreadyExists if the deploy ID is already registered.
func (r *DeployRegistry) Create(ctx context.Context, rec app.DeployRecord) error {
	ctx, span := tracer.Start(ctx, "sqlite.deployments.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
	)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deployments (`+deployColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DeployID, rec.App, rec.ImageTag, rec.ContainerID,
		rec.ContainerPort, rec.HostPort, rec.Status, rec.Error,
		rec.SourceKind, rec.SourceRef, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		if sqlite.IsConstraintViolation(err) {
			return fmt.Errorf("deploy registry: create: %w", domain.ErrAlreadyExists)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deploy registry: create: %w", err)
	}

	return nil
}

// GetByID retrieves a deployment record by deploy ID.
// Returns domain.ErrNotFound when no record exists.
func (r *DeployRegistry) GetByID(ctx context.Context, deployID string) (*app.DeployRecord, error) {
	ctx, span := tracer.Start(ctx, "sqlite.deployments.get_by_id")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
	)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+deployColumns+` FROM deployments WHERE deploy_id = ?`, deployID)

	rec, err := scanDeploy(row)
	if err != nil {
		if sqlite.IsNoRows(err) {
			return nil, fmt.Errorf("deploy registry: get by id: %w", domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("deploy registry: get by id: %w", err)
	}
	return rec, nil
}

// LatestByApp retrieves the app's most recent deployment of any status.
// Returns domain.ErrNotFound when the app has never deployed.
func (r *DeployRegistry) LatestByApp(ctx context.Context, appName string) (*app.DeployRecord, error) {
	ctx, span := tracer.Start(ctx, "sqlite.deployments.latest_by_app")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
	)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	// rowid breaks ties between deploys created within the same second.
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deployColumns+` FROM deployments WHERE app = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, appName)

	rec, err := scanDeploy(row)
	if err != nil {
		if sqlite.IsNoRows(err) {
			return nil, fmt.Errorf("deploy registry: latest by app: %w", domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("deploy registry: latest by app: %w", err)
	}
	return rec, nil
}

// RunningByApp retrieves the app's newest running deployment.
// Returns domain.ErrNotFound when none is running.
func (r *DeployRegistry) RunningByApp(ctx context.Context, appName string) (*app.DeployRecord, error) {
	ctx, span := tracer.Start(ctx, "sqlite.deployments.running_by_app")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
	)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+deployColumns+` FROM deployments WHERE app = ? AND status = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		appName, string(domain.DeployStatusRunning))

	rec, err := scanDeploy(row)
	if err != nil {
		if sqlite.IsNoRows(err) {
			return nil, fmt.Errorf("deploy registry: running by app: %w", domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("deploy registry: running by app: %w", err)
	}
	return rec, nil
}

// List retrieves deployment records newest first, optionally filtered by
// app. limit caps the result; callers clamp it to their page size.
func (r *DeployRegistry) List(ctx context.Context, appName string, limit int) ([]app.DeployRecord, error) {
	ctx, span := tracer.Start(ctx, "sqlite.deployments.list")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
	)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	query := `SELECT ` + deployColumns + ` FROM deployments`
	args := []any{}
	if appName != "" {
		query += ` WHERE app = ?`
		args = append(args, appName)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("deploy registry: list: %w", err)
	}
	defer rows.Close()

	return collectDeploys(rows, "list")
}

// UpdateStatus records a status transition, replacing the failure reason.
// Returns domain.ErrNotFound when the deploy does not exist.
func (r *DeployRegistry) UpdateStatus(ctx context.Context, deployID string, status domain.DeployStatus, reason string) error {
	ctx, span := tracer.Start(ctx, "sqlite.deployments.update_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("deploy.status", string(status)),
	)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE deployments SET status = ?, error = ? WHERE deploy_id = ?`,
		string(status), reason, deployID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deploy registry: update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deploy registry: update status: %w", domain.ErrNotFound)
	}

	return nil
}

// SetContainer records the engine-assigned container ID.
// Returns domain.ErrNotFound when the deploy does not exist.
func (r *DeployRegistry) SetContainer(ctx context.Context, deployID, containerID string) error {
	ctx, span := tracer.Start(ctx, "sqlite.deployments.set_container")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPDATE"),
	)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE deployments SET container_id = ? WHERE deploy_id = ?`,
		containerID, deployID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deploy registry: set container: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deploy registry: set container: %w", domain.ErrNotFound)
	}

	return nil
}

// AllocateHostPort picks the lowest port in [start, end] not held by a
// live deployment, verifies it with a listen probe, and binds it to the
// deployment row. Ports held by terminal deployments count as free.
// Returns domain.ErrPortExhausted when the range is spent.
func (r *DeployRegistry) AllocateHostPort(ctx context.Context, deployID string, start, end int) (int, error) {
	ctx, span := tracer.Start(ctx, "sqlite.deployments.allocate_port")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
	)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	rows, err := r.db.QueryContext(ctx,
		`SELECT host_port FROM deployments WHERE host_port > 0 AND status NOT IN (?, ?, ?)`,
		string(domain.DeployStatusFailed), string(domain.DeployStatusStopped), string(domain.DeployStatusExpired))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deploy registry: allocate port: %w", err)
	}
	defer rows.Close()

	used := make(map[int]bool)
	for rows.Next() {
		var port int
		if err := rows.Scan(&port); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("deploy registry: allocate port: %w", err)
		}
		used[port] = true
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deploy registry: allocate port: %w", err)
	}

	for port := start; port <= end; port++ {
		if used[port] {
			continue
		}
		// The registry only knows its own allocations; other host
		// processes may hold the port. A listen probe catches those.
		if !portBindable(port) {
			continue
		}

		res, err := r.db.ExecContext(ctx,
			`UPDATE deployments SET host_port = ? WHERE deploy_id = ?`, port, deployID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("deploy registry: allocate port: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("deploy registry: allocate port: %w", domain.ErrNotFound)
		}
		span.SetAttributes(attribute.Int("deploy.host_port", port))
		return port, nil
	}

	return 0, fmt.Errorf("no free host port in %d-%d: %w", start, end, domain.ErrPortExhausted)
}

// portBindable reports whether the port can be bound right now.
func portBindable(port int) bool {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// ListExpired retrieves running deployments whose expiry is at or before
// cutoff (RFC3339 UTC). Deployments with no expiry never appear.
func (r *DeployRegistry) ListExpired(ctx context.Context, cutoff string) ([]app.DeployRecord, error) {
	ctx, span := tracer.Start(ctx, "sqlite.deployments.list_expired")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
	)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deployColumns+` FROM deployments
		 WHERE status = ? AND expires_at != '' AND expires_at <= ?
		 ORDER BY created_at ASC`,
		string(domain.DeployStatusRunning), cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("deploy registry: list expired: %w", err)
	}
	defer rows.Close()

	return collectDeploys(rows, "list expired")
}

// PruneHistory deletes the app's terminal deployments beyond the newest
// keep records and returns the deleted rows so the caller can remove
// their containers and images. Live deployments are never pruned.
func (r *DeployRegistry) PruneHistory(ctx context.Context, appName string, keep int) ([]app.DeployRecord, error) {
	ctx, span := tracer.Start(ctx, "sqlite.deployments.prune_history")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "DELETE"),
	)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("deploy registry: prune history: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+deployColumns+` FROM deployments
		 WHERE app = ? AND status IN (?, ?, ?)
		   AND rowid NOT IN (
		     SELECT rowid FROM deployments WHERE app = ?
		     ORDER BY created_at DESC, rowid DESC LIMIT ?
		   )
		 ORDER BY created_at ASC`,
		appName,
		string(domain.DeployStatusFailed), string(domain.DeployStatusStopped), string(domain.DeployStatusExpired),
		appName, keep)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("deploy registry: prune history: %w", err)
	}
	pruned, err := collectDeploys(rows, "prune history")
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(pruned) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(pruned)), ", ")
	args := make([]any, 0, len(pruned))
	for _, rec := range pruned {
		args = append(args, rec.DeployID)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM deployments WHERE deploy_id IN (`+placeholders+`)`, args...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("deploy registry: prune history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("deploy registry: prune history: %w", err)
	}

	span.SetAttributes(attribute.Int("deploy.pruned", len(pruned)))
	return pruned, nil
}

// collectDeploys drains a result set in deployColumns order.
func collectDeploys(rows *sql.Rows, op string) ([]app.DeployRecord, error) {
	var recs []app.DeployRecord
	for rows.Next() {
		rec, err := scanDeploy(rows)
		if err != nil {
			return nil, fmt.Errorf("deploy registry: %s: %w", op, err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deploy registry: %s: %w", op, err)
	}
	return recs, nil
}
