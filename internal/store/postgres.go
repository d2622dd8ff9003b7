package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sportgrid/catalog-cli/internal/db"
	"github.com/sportgrid/catalog-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool    // nil inside a transaction
	q    db.Querier // pool or open tx
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, q: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with a mock pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS proposals (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	event_id        BIGINT,
	edition_id      BIGINT,
	status          TEXT NOT NULL DEFAULT 'pending',
	confidence      DOUBLE PRECISION,
	agent           TEXT NOT NULL DEFAULT '',
	justification   JSONB,
	changes         JSONB,
	approved_blocks JSONB,
	user_overrides  JSONB,
	reviewed_by     TEXT NOT NULL DEFAULT '',
	reviewed_at     TIMESTAMPTZ,
	archive_reason  TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS application_records (
	id              TEXT PRIMARY KEY,
	proposal_id     TEXT NOT NULL REFERENCES proposals(id),
	block           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	applied_changes JSONB,
	logs            JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	applied_at      TIMESTAMPTZ,
	UNIQUE (proposal_id, block)
);

CREATE TABLE IF NOT EXISTS events (
	id                 BIGSERIAL PRIMARY KEY,
	name               TEXT NOT NULL,
	slug               TEXT NOT NULL UNIQUE,
	description        TEXT NOT NULL DEFAULT '',
	website_url        TEXT NOT NULL DEFAULT '',
	facebook_url       TEXT NOT NULL DEFAULT '',
	instagram_url      TEXT NOT NULL DEFAULT '',
	city               TEXT NOT NULL DEFAULT '',
	country_code       TEXT NOT NULL DEFAULT '',
	subdivision_name   TEXT NOT NULL DEFAULT '',
	region_code        TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	is_featured        BOOLEAN NOT NULL DEFAULT FALSE,
	current_edition_id BIGINT,
	data_source        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	archived_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS editions (
	id               BIGSERIAL PRIMARY KEY,
	event_id         BIGINT NOT NULL REFERENCES events(id),
	year             INTEGER,
	start_date       TIMESTAMPTZ,
	end_date         TIMESTAMPTZ,
	registration_url TEXT NOT NULL DEFAULT '',
	timezone         TEXT NOT NULL DEFAULT '',
	customer_type    TEXT,
	organizer_id     BIGINT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS races (
	id              BIGSERIAL PRIMARY KEY,
	edition_id      BIGINT NOT NULL REFERENCES editions(id),
	name            TEXT NOT NULL DEFAULT '',
	distance_meters DOUBLE PRECISION NOT NULL DEFAULT 0,
	race_type       TEXT NOT NULL DEFAULT '',
	start_time      TEXT NOT NULL DEFAULT '',
	archived        BOOLEAN NOT NULL DEFAULT FALSE,
	archived_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS organizers (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_stats (
	runner           TEXT PRIMARY KEY,
	analyzed         BIGINT NOT NULL DEFAULT 0,
	validated        BIGINT NOT NULL DEFAULT 0,
	ignored          BIGINT NOT NULL DEFAULT 0,
	failures         BIGINT NOT NULL DEFAULT 0,
	low_confidence   BIGINT NOT NULL DEFAULT 0,
	featured_event   BIGINT NOT NULL DEFAULT 0,
	premium_customer BIGINT NOT NULL DEFAULT 0,
	new_races        BIGINT NOT NULL DEFAULT 0,
	other            BIGINT NOT NULL DEFAULT 0,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_proposals_target ON proposals(event_id, edition_id);
CREATE INDEX IF NOT EXISTS idx_application_records_proposal ON application_records(proposal_id);
CREATE INDEX IF NOT EXISTS idx_editions_event ON editions(event_id);
CREATE INDEX IF NOT EXISTS idx_races_edition ON races(edition_id);
CREATE INDEX IF NOT EXISTS idx_organizers_name ON organizers(lower(name));
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.q.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// WithTx runs fn inside a transaction. A non-zero editionID takes a
// transaction-scoped advisory lock so at most one application per edition is
// in flight; a concurrent attempt blocks until the first commits.
func (s *PostgresStore) WithTx(ctx context.Context, editionID int64, fn func(Store) error) error {
	if s.pool == nil {
		return eris.New("postgres: nested transaction")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	if editionID != 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, editionID); err != nil {
			return eris.Wrap(err, "postgres: advisory lock")
		}
	}

	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

// --- proposals ---

func (s *PostgresStore) CreateProposal(ctx context.Context, p *model.Proposal) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.ProposalStatusPending
	}

	justification, err := marshalMap(p.Justification)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal justification")
	}
	changes, err := marshalMap(p.Changes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal changes")
	}
	approved, err := marshalAny(p.ApprovedBlocks)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal approved blocks")
	}
	overrides, err := marshalMap(p.UserOverrides)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal overrides")
	}

	_, err = s.q.Exec(ctx,
		`INSERT INTO proposals
		 (id, kind, event_id, edition_id, status, confidence, agent, justification,
		  changes, approved_blocks, user_overrides, reviewed_by, reviewed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, string(p.Kind), p.EventID, p.EditionID, string(p.Status), p.Confidence,
		p.Agent, justification, changes, approved, overrides,
		p.ReviewedBy, p.ReviewedAt, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert proposal")
}

var proposalColumns = []string{
	"id", "kind", "event_id", "edition_id", "status", "confidence", "agent",
	"justification", "changes", "approved_blocks", "user_overrides",
	"reviewed_by", "reviewed_at", "created_at", "updated_at",
}

// BulkCreateProposals inserts a batch of proposals using the COPY protocol.
// Not available inside a transaction.
func (s *PostgresStore) BulkCreateProposals(ctx context.Context, proposals []model.Proposal) (int, error) {
	if s.pool == nil {
		return 0, eris.New("postgres: bulk insert inside a transaction")
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(proposals))
	for i := range proposals {
		p := &proposals[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		if p.Status == "" {
			p.Status = model.ProposalStatusPending
		}

		justification, err := marshalMap(p.Justification)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal justification")
		}
		changes, err := marshalMap(p.Changes)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal changes")
		}
		approved, err := marshalAny(p.ApprovedBlocks)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal approved blocks")
		}
		overrides, err := marshalMap(p.UserOverrides)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal overrides")
		}

		rows = append(rows, []any{
			p.ID, string(p.Kind), p.EventID, p.EditionID, string(p.Status), p.Confidence,
			p.Agent, justification, changes, approved, overrides,
			p.ReviewedBy, p.ReviewedAt, p.CreatedAt, p.UpdatedAt,
		})
	}

	n, err := db.CopyFrom(ctx, s.pool, "proposals", proposalColumns, rows)
	return int(n), err
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	row := s.q.QueryRow(ctx, proposalSelect+` WHERE id = $1`, id)
	p, err := scanProposalPg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("proposal not found: %s", id)
	}
	return p, err
}

func (s *PostgresStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]model.Proposal, error) {
	query := proposalSelect + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Kind != "" {
		query += ` AND kind = ` + arg(string(filter.Kind))
	}
	if filter.EventID != 0 {
		query += ` AND event_id = ` + arg(filter.EventID)
	}
	if filter.EditionID != 0 {
		query += ` AND edition_id = ` + arg(filter.EditionID)
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list proposals")
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		p, err := scanProposalPg(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, eris.Wrap(rows.Err(), "postgres: list proposals iterate")
}

func (s *PostgresStore) CountProposals(ctx context.Context, status model.ProposalStatus) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM proposals WHERE status = $1`, string(status),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count proposals")
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus, reviewedBy string) error {
	now := time.Now().UTC()
	tag, err := s.q.Exec(ctx,
		`UPDATE proposals SET status = $1, reviewed_by = $2, reviewed_at = $3, updated_at = $4 WHERE id = $5`,
		string(status), reviewedBy, now, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update proposal status %s", id)
	}
	return checkTag(tag, "proposal", id)
}

func (s *PostgresStore) ArchivePendingSiblings(ctx context.Context, eventID, editionID int64, exceptID, reason string) (int, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE proposals SET status = $1, archive_reason = $2, updated_at = $3
		 WHERE event_id = $4 AND edition_id = $5 AND status = $6 AND id != $7`,
		string(model.ProposalStatusArchived), reason, time.Now().UTC(),
		eventID, editionID, string(model.ProposalStatusPending), exceptID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: archive siblings")
	}
	return int(tag.RowsAffected()), nil
}

// --- application records ---

func (s *PostgresStore) CreateApplicationRecord(ctx context.Context, rec *model.ApplicationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	changes, err := marshalMap(rec.AppliedChanges)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal applied changes")
	}
	logs, err := marshalAny(rec.Logs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal logs")
	}

	_, err = s.q.Exec(ctx,
		`INSERT INTO application_records (id, proposal_id, block, status, applied_changes, logs, created_at, applied_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.ProposalID, string(rec.Block), string(rec.Status), changes, logs, rec.CreatedAt, rec.AppliedAt,
	)
	return eris.Wrapf(err, "postgres: insert application record for %s/%s", rec.ProposalID, rec.Block)
}

func (s *PostgresStore) FindApplicationRecord(ctx context.Context, proposalID string, block model.Block) (*model.ApplicationRecord, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, proposal_id, block, status, applied_changes, logs, created_at, applied_at
		 FROM application_records WHERE proposal_id = $1 AND block = $2`,
		proposalID, string(block),
	)

	var rec model.ApplicationRecord
	var blockCol, status string
	var changesJSON, logsJSON []byte
	var appliedAt *time.Time
	err := row.Scan(&rec.ID, &rec.ProposalID, &blockCol, &status, &changesJSON, &logsJSON, &rec.CreatedAt, &appliedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find application record")
	}
	rec.Block = model.Block(blockCol)
	rec.Status = model.ApplicationStatus(status)
	rec.AppliedAt = appliedAt
	if len(changesJSON) > 0 {
		if err := json.Unmarshal(changesJSON, &rec.AppliedChanges); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal applied changes")
		}
	}
	if len(logsJSON) > 0 {
		if err := json.Unmarshal(logsJSON, &rec.Logs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal logs")
		}
	}
	return &rec, nil
}

// --- catalog reads ---

func (s *PostgresStore) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, slug, description, website_url, facebook_url, instagram_url, city,
		 country_code, subdivision_name, region_code, address, is_featured, current_edition_id,
		 data_source, created_at, updated_at FROM events WHERE id = $1`, id)

	var ev model.Event
	err := row.Scan(&ev.ID, &ev.Name, &ev.Slug, &ev.Description, &ev.WebsiteURL, &ev.FacebookURL,
		&ev.InstagramURL, &ev.City, &ev.CountryCode, &ev.SubdivisionName, &ev.RegionCode,
		&ev.Address, &ev.IsFeatured, &ev.CurrentEditionID, &ev.DataSource, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get event %d", id)
	}
	return &ev, nil
}

func (s *PostgresStore) GetEdition(ctx context.Context, id int64) (*model.Edition, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, event_id, year, start_date, end_date, registration_url, timezone,
		 customer_type, organizer_id, created_at, updated_at FROM editions WHERE id = $1`, id)

	var ed model.Edition
	var year *int
	err := row.Scan(&ed.ID, &ed.EventID, &year, &ed.StartDate, &ed.EndDate, &ed.RegistrationURL,
		&ed.Timezone, &ed.CustomerType, &ed.OrganizerID, &ed.CreatedAt, &ed.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get edition %d", id)
	}
	if year != nil {
		ed.Year = *year
	}
	return &ed, nil
}

func (s *PostgresStore) ListRaces(ctx context.Context, editionID int64) ([]model.Race, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, edition_id, name, distance_meters, race_type, start_time, archived, archived_at,
		 created_at, updated_at FROM races WHERE edition_id = $1 ORDER BY id ASC`, editionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list races")
	}
	defer rows.Close()

	var races []model.Race
	for rows.Next() {
		var r model.Race
		if err := rows.Scan(&r.ID, &r.EditionID, &r.Name, &r.DistanceMeters, &r.RaceType,
			&r.StartTime, &r.Archived, &r.ArchivedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan race")
		}
		races = append(races, r)
	}
	return races, eris.Wrap(rows.Err(), "postgres: list races iterate")
}

func (s *PostgresStore) FindOrganizerByName(ctx context.Context, name string) (*model.Organizer, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, email, phone, website, created_at, updated_at
		 FROM organizers WHERE lower(name) = lower($1) LIMIT 1`, name)

	var o model.Organizer
	err := row.Scan(&o.ID, &o.Name, &o.Email, &o.Phone, &o.Website, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find organizer")
	}
	return &o, nil
}

func (s *PostgresStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE slug = $1`, slug).Scan(&n)
	return n > 0, eris.Wrap(err, "postgres: slug exists")
}

// --- catalog writes ---

func (s *PostgresStore) CreateEvent(ctx context.Context, fields map[string]any) (int64, error) {
	cols, vals := mapColumns("event", fields, eventColumns)
	return s.insert(ctx, "events", cols, vals)
}

func (s *PostgresStore) CreateEdition(ctx context.Context, eventID int64, fields map[string]any) (int64, error) {
	cols, vals := mapColumns("edition", fields, editionColumns)
	cols = append(cols, "event_id")
	vals = append(vals, eventID)
	return s.insert(ctx, "editions", cols, vals)
}

func (s *PostgresStore) CreateRace(ctx context.Context, editionID int64, fields map[string]any) (int64, error) {
	cols, vals := mapColumns("race", fields, raceColumns)
	cols = append(cols, "edition_id")
	vals = append(vals, editionID)
	return s.insert(ctx, "races", cols, vals)
}

func (s *PostgresStore) CreateOrganizer(ctx context.Context, fields map[string]any) (int64, error) {
	cols, vals := mapColumns("organizer", fields, organizerColumns)
	return s.insert(ctx, "organizers", cols, vals)
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateEntity(ctx, "events", "event", eventColumns, id, fields)
}

func (s *PostgresStore) UpdateEdition(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateEntity(ctx, "editions", "edition", editionColumns, id, fields)
}

func (s *PostgresStore) UpdateRace(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateEntity(ctx, "races", "race", raceColumns, id, fields)
}

func (s *PostgresStore) UpdateOrganizer(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateEntity(ctx, "organizers", "organizer", organizerColumns, id, fields)
}

func (s *PostgresStore) ArchiveRace(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.q.Exec(ctx,
		`UPDATE races SET archived = TRUE, archived_at = $1, updated_at = $2 WHERE id = $3 AND archived = FALSE`,
		now, now, id,
	)
	return eris.Wrapf(err, "postgres: archive race %d", id)
}

// --- run stats ---

func (s *PostgresStore) IncrementRunStats(ctx context.Context, runner string, report model.RunReport) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO run_stats
		 (runner, analyzed, validated, ignored, failures, low_confidence, featured_event,
		  premium_customer, new_races, other, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (runner) DO UPDATE SET
		   analyzed = run_stats.analyzed + EXCLUDED.analyzed,
		   validated = run_stats.validated + EXCLUDED.validated,
		   ignored = run_stats.ignored + EXCLUDED.ignored,
		   failures = run_stats.failures + EXCLUDED.failures,
		   low_confidence = run_stats.low_confidence + EXCLUDED.low_confidence,
		   featured_event = run_stats.featured_event + EXCLUDED.featured_event,
		   premium_customer = run_stats.premium_customer + EXCLUDED.premium_customer,
		   new_races = run_stats.new_races + EXCLUDED.new_races,
		   other = run_stats.other + EXCLUDED.other,
		   updated_at = EXCLUDED.updated_at`,
		runner, report.Analyzed, report.Validated, report.Ignored, report.Failures,
		report.Excluded[model.ExclusionLowConfidence],
		report.Excluded[model.ExclusionFeaturedEvent],
		report.Excluded[model.ExclusionPremiumCustomer],
		report.Excluded[model.ExclusionNewRaces],
		report.Excluded[model.ExclusionOther],
		time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: increment run stats")
}

func (s *PostgresStore) GetRunStats(ctx context.Context, runner string) (*model.RunStats, error) {
	row := s.q.QueryRow(ctx, runStatsSelect+` WHERE runner = $1`, runner)
	st, err := scanRunStatsPg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

func (s *PostgresStore) ListRunStats(ctx context.Context) ([]model.RunStats, error) {
	rows, err := s.q.Query(ctx, runStatsSelect+` ORDER BY runner ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run stats")
	}
	defer rows.Close()

	var all []model.RunStats
	for rows.Next() {
		st, err := scanRunStatsPg(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, *st)
	}
	return all, eris.Wrap(rows.Err(), "postgres: list run stats iterate")
}

// --- helpers ---

func (s *PostgresStore) insert(ctx context.Context, table string, cols []string, vals []any) (int64, error) {
	now := time.Now().UTC()
	cols = append(cols, "created_at", "updated_at")
	vals = append(vals, now, now)

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var id int64
	if err := s.q.QueryRow(ctx, query, vals...).Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "postgres: insert %s", table)
	}
	return id, nil
}

func (s *PostgresStore) updateEntity(ctx context.Context, table, entity string, colTable map[string]string, id int64, fields map[string]any) error {
	cols, vals := mapColumns(entity, fields, colTable)
	if len(cols) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET ", table)
	for i, col := range cols {
		fmt.Fprintf(&sb, "%s = $%d, ", col, i+1)
	}
	fmt.Fprintf(&sb, "updated_at = $%d WHERE id = $%d", len(cols)+1, len(cols)+2)
	vals = append(vals, time.Now().UTC(), id)

	tag, err := s.q.Exec(ctx, sb.String(), vals...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s %d", table, id)
	}
	return checkTag(tag, entity, fmt.Sprintf("%d", id))
}

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanProposalPg(row pgx.Row) (*model.Proposal, error) {
	var p model.Proposal
	var kind, status string
	var justification, changes, approved, overrides []byte

	err := row.Scan(&p.ID, &kind, &p.EventID, &p.EditionID, &status, &p.Confidence, &p.Agent,
		&justification, &changes, &approved, &overrides, &p.ReviewedBy, &p.ReviewedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan proposal")
	}

	p.Kind = model.ProposalKind(kind)
	p.Status = model.ProposalStatus(status)
	for _, col := range []struct {
		raw []byte
		dst any
	}{
		{justification, &p.Justification},
		{changes, &p.Changes},
		{approved, &p.ApprovedBlocks},
		{overrides, &p.UserOverrides},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal proposal column")
		}
	}
	return &p, nil
}

func scanRunStatsPg(row pgx.Row) (*model.RunStats, error) {
	var st model.RunStats
	var low, featured, premium, races, other int64
	err := row.Scan(&st.Runner, &st.Analyzed, &st.Validated, &st.Ignored, &st.Failures,
		&low, &featured, &premium, &races, &other, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan run stats")
	}
	st.Excluded = map[model.ExclusionReason]int64{
		model.ExclusionLowConfidence:   low,
		model.ExclusionFeaturedEvent:   featured,
		model.ExclusionPremiumCustomer: premium,
		model.ExclusionNewRaces:        races,
		model.ExclusionOther:           other,
	}
	return &st, nil
}
