package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sportgrid/catalog-cli/internal/model"
)

// dbtx is the query surface shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB // nil inside a transaction
	q  dbtx
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, q: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS proposals (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	event_id        INTEGER,
	edition_id      INTEGER,
	status          TEXT NOT NULL DEFAULT 'pending',
	confidence      REAL,
	agent           TEXT NOT NULL DEFAULT '',
	justification   TEXT,
	changes         TEXT,
	approved_blocks TEXT,
	user_overrides  TEXT,
	reviewed_by     TEXT NOT NULL DEFAULT '',
	reviewed_at     DATETIME,
	archive_reason  TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS application_records (
	id              TEXT PRIMARY KEY,
	proposal_id     TEXT NOT NULL REFERENCES proposals(id),
	block           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	applied_changes TEXT,
	logs            TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	applied_at      DATETIME,
	UNIQUE (proposal_id, block)
);

CREATE TABLE IF NOT EXISTS events (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
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
	is_featured        INTEGER NOT NULL DEFAULT 0,
	current_edition_id INTEGER,
	data_source        TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	archived_at        DATETIME
);

CREATE TABLE IF NOT EXISTS editions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id         INTEGER NOT NULL REFERENCES events(id),
	year             INTEGER,
	start_date       DATETIME,
	end_date         DATETIME,
	registration_url TEXT NOT NULL DEFAULT '',
	timezone         TEXT NOT NULL DEFAULT '',
	customer_type    TEXT,
	organizer_id     INTEGER,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS races (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	edition_id      INTEGER NOT NULL REFERENCES editions(id),
	name            TEXT NOT NULL DEFAULT '',
	distance_meters REAL NOT NULL DEFAULT 0,
	race_type       TEXT NOT NULL DEFAULT '',
	start_time      TEXT NOT NULL DEFAULT '',
	archived        INTEGER NOT NULL DEFAULT 0,
	archived_at     DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS organizers (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_stats (
	runner           TEXT PRIMARY KEY,
	analyzed         INTEGER NOT NULL DEFAULT 0,
	validated        INTEGER NOT NULL DEFAULT 0,
	ignored          INTEGER NOT NULL DEFAULT 0,
	failures         INTEGER NOT NULL DEFAULT 0,
	low_confidence   INTEGER NOT NULL DEFAULT 0,
	featured_event   INTEGER NOT NULL DEFAULT 0,
	premium_customer INTEGER NOT NULL DEFAULT 0,
	new_races        INTEGER NOT NULL DEFAULT 0,
	other            INTEGER NOT NULL DEFAULT 0,
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_proposals_target ON proposals(event_id, edition_id);
CREATE INDEX IF NOT EXISTS idx_application_records_proposal ON application_records(proposal_id);
CREATE INDEX IF NOT EXISTS idx_editions_event ON editions(event_id);
CREATE INDEX IF NOT EXISTS idx_races_edition ON races(edition_id);
CREATE INDEX IF NOT EXISTS idx_organizers_name ON organizers(name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn inside a single transaction. SQLite serializes writers
// itself, so the editionID lock key is not needed here.
func (s *SQLiteStore) WithTx(ctx context.Context, editionID int64, fn func(Store) error) error {
	if s.db == nil {
		return eris.New("sqlite: nested transaction")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if err := fn(&SQLiteStore{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// --- proposals ---

func (s *SQLiteStore) CreateProposal(ctx context.Context, p *model.Proposal) error {
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
		return eris.Wrap(err, "sqlite: marshal justification")
	}
	changes, err := marshalMap(p.Changes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal changes")
	}
	approved, err := marshalAny(p.ApprovedBlocks)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal approved blocks")
	}
	overrides, err := marshalMap(p.UserOverrides)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal overrides")
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO proposals
		 (id, kind, event_id, edition_id, status, confidence, agent, justification,
		  changes, approved_blocks, user_overrides, reviewed_by, reviewed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Kind), p.EventID, p.EditionID, string(p.Status), p.Confidence,
		p.Agent, justification, changes, approved, overrides,
		p.ReviewedBy, p.ReviewedAt, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert proposal")
}

// BulkCreateProposals inserts a batch of proposals in a single transaction.
func (s *SQLiteStore) BulkCreateProposals(ctx context.Context, proposals []model.Proposal) (int, error) {
	err := s.WithTx(ctx, 0, func(tx Store) error {
		for i := range proposals {
			if err := tx.CreateProposal(ctx, &proposals[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(proposals), nil
}

const proposalSelect = `SELECT id, kind, event_id, edition_id, status, confidence, agent,
	justification, changes, approved_blocks, user_overrides, reviewed_by, reviewed_at,
	created_at, updated_at FROM proposals`

func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	row := s.q.QueryRowContext(ctx, proposalSelect+` WHERE id = ?`, id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("proposal not found: %s", id)
	}
	return p, err
}

func (s *SQLiteStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]model.Proposal, error) {
	query := proposalSelect + ` WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.EventID != 0 {
		query += ` AND event_id = ?`
		args = append(args, filter.EventID)
	}
	if filter.EditionID != 0 {
		query += ` AND edition_id = ?`
		args = append(args, filter.EditionID)
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list proposals")
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, eris.Wrap(rows.Err(), "sqlite: list proposals iterate")
}

func (s *SQLiteStore) CountProposals(ctx context.Context, status model.ProposalStatus) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM proposals WHERE status = ?`, string(status),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count proposals")
}

func (s *SQLiteStore) UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus, reviewedBy string) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE proposals SET status = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ? WHERE id = ?`,
		string(status), reviewedBy, now, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update proposal status %s", id)
	}
	return checkRowsAffected(res, "proposal", id)
}

func (s *SQLiteStore) ArchivePendingSiblings(ctx context.Context, eventID, editionID int64, exceptID, reason string) (int, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE proposals SET status = ?, archive_reason = ?, updated_at = ?
		 WHERE event_id = ? AND edition_id = ? AND status = ? AND id != ?`,
		string(model.ProposalStatusArchived), reason, time.Now().UTC(),
		eventID, editionID, string(model.ProposalStatusPending), exceptID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: archive siblings")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: archive siblings rows affected")
}

// --- application records ---

func (s *SQLiteStore) CreateApplicationRecord(ctx context.Context, rec *model.ApplicationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	changes, err := marshalMap(rec.AppliedChanges)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal applied changes")
	}
	logs, err := marshalAny(rec.Logs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal logs")
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO application_records (id, proposal_id, block, status, applied_changes, logs, created_at, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProposalID, string(rec.Block), string(rec.Status), changes, logs, rec.CreatedAt, rec.AppliedAt,
	)
	return eris.Wrapf(err, "sqlite: insert application record for %s/%s", rec.ProposalID, rec.Block)
}

func (s *SQLiteStore) FindApplicationRecord(ctx context.Context, proposalID string, block model.Block) (*model.ApplicationRecord, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, proposal_id, block, status, applied_changes, logs, created_at, applied_at
		 FROM application_records WHERE proposal_id = ? AND block = ?`,
		proposalID, string(block),
	)

	var rec model.ApplicationRecord
	var block2 string
	var status string
	var changesJSON, logsJSON sql.NullString
	var appliedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.ProposalID, &block2, &status, &changesJSON, &logsJSON, &rec.CreatedAt, &appliedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find application record")
	}
	rec.Block = model.Block(block2)
	rec.Status = model.ApplicationStatus(status)
	if appliedAt.Valid {
		t := appliedAt.Time
		rec.AppliedAt = &t
	}
	if err := unmarshalMap(changesJSON, &rec.AppliedChanges); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal applied changes")
	}
	if logsJSON.Valid && logsJSON.String != "" {
		if err := json.Unmarshal([]byte(logsJSON.String), &rec.Logs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal logs")
		}
	}
	return &rec, nil
}

// --- catalog reads ---

func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, slug, description, website_url, facebook_url, instagram_url, city,
		 country_code, subdivision_name, region_code, address, is_featured, current_edition_id,
		 data_source, created_at, updated_at FROM events WHERE id = ?`, id)

	var ev model.Event
	var currentEdition sql.NullInt64
	err := row.Scan(&ev.ID, &ev.Name, &ev.Slug, &ev.Description, &ev.WebsiteURL, &ev.FacebookURL,
		&ev.InstagramURL, &ev.City, &ev.CountryCode, &ev.SubdivisionName, &ev.RegionCode,
		&ev.Address, &ev.IsFeatured, &currentEdition, &ev.DataSource, &ev.CreatedAt, &ev.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get event %d", id)
	}
	if currentEdition.Valid {
		v := currentEdition.Int64
		ev.CurrentEditionID = &v
	}
	return &ev, nil
}

func (s *SQLiteStore) GetEdition(ctx context.Context, id int64) (*model.Edition, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, event_id, year, start_date, end_date, registration_url, timezone,
		 customer_type, organizer_id, created_at, updated_at FROM editions WHERE id = ?`, id)

	var ed model.Edition
	var year sql.NullInt64
	var start, end sql.NullTime
	var customerType sql.NullString
	var organizerID sql.NullInt64
	err := row.Scan(&ed.ID, &ed.EventID, &year, &start, &end, &ed.RegistrationURL,
		&ed.Timezone, &customerType, &organizerID, &ed.CreatedAt, &ed.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get edition %d", id)
	}
	ed.Year = int(year.Int64)
	if start.Valid {
		t := start.Time
		ed.StartDate = &t
	}
	if end.Valid {
		t := end.Time
		ed.EndDate = &t
	}
	if customerType.Valid && customerType.String != "" {
		v := customerType.String
		ed.CustomerType = &v
	}
	if organizerID.Valid {
		v := organizerID.Int64
		ed.OrganizerID = &v
	}
	return &ed, nil
}

func (s *SQLiteStore) ListRaces(ctx context.Context, editionID int64) ([]model.Race, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, edition_id, name, distance_meters, race_type, start_time, archived, archived_at,
		 created_at, updated_at FROM races WHERE edition_id = ? ORDER BY id ASC`, editionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list races")
	}
	defer rows.Close()

	var races []model.Race
	for rows.Next() {
		var r model.Race
		var archivedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.EditionID, &r.Name, &r.DistanceMeters, &r.RaceType,
			&r.StartTime, &r.Archived, &archivedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan race")
		}
		if archivedAt.Valid {
			t := archivedAt.Time
			r.ArchivedAt = &t
		}
		races = append(races, r)
	}
	return races, eris.Wrap(rows.Err(), "sqlite: list races iterate")
}

func (s *SQLiteStore) FindOrganizerByName(ctx context.Context, name string) (*model.Organizer, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, email, phone, website, created_at, updated_at
		 FROM organizers WHERE name = ? COLLATE NOCASE LIMIT 1`, name)

	var o model.Organizer
	err := row.Scan(&o.ID, &o.Name, &o.Email, &o.Phone, &o.Website, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find organizer")
	}
	return &o, nil
}

func (s *SQLiteStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE slug = ?`, slug).Scan(&n)
	return n > 0, eris.Wrap(err, "sqlite: slug exists")
}

// --- catalog writes ---

func (s *SQLiteStore) CreateEvent(ctx context.Context, fields map[string]any) (int64, error) {
	return s.insertEntity(ctx, "events", "event", eventColumns, fields)
}

func (s *SQLiteStore) CreateEdition(ctx context.Context, eventID int64, fields map[string]any) (int64, error) {
	cols, vals := mapColumns("edition", fields, editionColumns)
	cols = append(cols, "event_id")
	vals = append(vals, eventID)
	return s.insert(ctx, "editions", cols, vals)
}

func (s *SQLiteStore) CreateRace(ctx context.Context, editionID int64, fields map[string]any) (int64, error) {
	cols, vals := mapColumns("race", fields, raceColumns)
	cols = append(cols, "edition_id")
	vals = append(vals, editionID)
	return s.insert(ctx, "races", cols, vals)
}

func (s *SQLiteStore) CreateOrganizer(ctx context.Context, fields map[string]any) (int64, error) {
	return s.insertEntity(ctx, "organizers", "organizer", organizerColumns, fields)
}

func (s *SQLiteStore) UpdateEvent(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateEntity(ctx, "events", "event", eventColumns, id, fields)
}

func (s *SQLiteStore) UpdateEdition(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateEntity(ctx, "editions", "edition", editionColumns, id, fields)
}

func (s *SQLiteStore) UpdateRace(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateEntity(ctx, "races", "race", raceColumns, id, fields)
}

func (s *SQLiteStore) UpdateOrganizer(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateEntity(ctx, "organizers", "organizer", organizerColumns, id, fields)
}

func (s *SQLiteStore) ArchiveRace(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE races SET archived = 1, archived_at = ?, updated_at = ? WHERE id = ? AND archived = 0`,
		time.Now().UTC(), time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: archive race %d", id)
}

// --- run stats ---

func (s *SQLiteStore) IncrementRunStats(ctx context.Context, runner string, report model.RunReport) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO run_stats
		 (runner, analyzed, validated, ignored, failures, low_confidence, featured_event,
		  premium_customer, new_races, other, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(runner) DO UPDATE SET
		   analyzed = analyzed + excluded.analyzed,
		   validated = validated + excluded.validated,
		   ignored = ignored + excluded.ignored,
		   failures = failures + excluded.failures,
		   low_confidence = low_confidence + excluded.low_confidence,
		   featured_event = featured_event + excluded.featured_event,
		   premium_customer = premium_customer + excluded.premium_customer,
		   new_races = new_races + excluded.new_races,
		   other = other + excluded.other,
		   updated_at = excluded.updated_at`,
		runner, report.Analyzed, report.Validated, report.Ignored, report.Failures,
		report.Excluded[model.ExclusionLowConfidence],
		report.Excluded[model.ExclusionFeaturedEvent],
		report.Excluded[model.ExclusionPremiumCustomer],
		report.Excluded[model.ExclusionNewRaces],
		report.Excluded[model.ExclusionOther],
		time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: increment run stats")
}

const runStatsSelect = `SELECT runner, analyzed, validated, ignored, failures,
	low_confidence, featured_event, premium_customer, new_races, other, updated_at FROM run_stats`

func (s *SQLiteStore) GetRunStats(ctx context.Context, runner string) (*model.RunStats, error) {
	row := s.q.QueryRowContext(ctx, runStatsSelect+` WHERE runner = ?`, runner)
	st, err := scanRunStats(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

func (s *SQLiteStore) ListRunStats(ctx context.Context) ([]model.RunStats, error) {
	rows, err := s.q.QueryContext(ctx, runStatsSelect+` ORDER BY runner ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run stats")
	}
	defer rows.Close()

	var all []model.RunStats
	for rows.Next() {
		st, err := scanRunStats(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, *st)
	}
	return all, eris.Wrap(rows.Err(), "sqlite: list run stats iterate")
}

// --- helpers ---

func (s *SQLiteStore) insertEntity(ctx context.Context, table, entity string, colTable map[string]string, fields map[string]any) (int64, error) {
	cols, vals := mapColumns(entity, fields, colTable)
	return s.insert(ctx, table, cols, vals)
}

func (s *SQLiteStore) insert(ctx context.Context, table string, cols []string, vals []any) (int64, error) {
	now := time.Now().UTC()
	cols = append(cols, "created_at", "updated_at")
	vals = append(vals, now, now)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders)

	res, err := s.q.ExecContext(ctx, query, vals...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert %s", table)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrapf(err, "sqlite: insert %s id", table)
}

func (s *SQLiteStore) updateEntity(ctx context.Context, table, entity string, colTable map[string]string, id int64, fields map[string]any) error {
	cols, vals := mapColumns(entity, fields, colTable)
	if len(cols) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET ", table)
	for _, col := range cols {
		fmt.Fprintf(&sb, "%s = ?, ", col)
	}
	sb.WriteString("updated_at = ? WHERE id = ?")
	vals = append(vals, time.Now().UTC(), id)

	res, err := s.q.ExecContext(ctx, sb.String(), vals...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s %d", table, id)
	}
	return checkRowsAffected(res, entity, fmt.Sprintf("%d", id))
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProposal(row scannable) (*model.Proposal, error) {
	var p model.Proposal
	var kind, status string
	var eventID, editionID sql.NullInt64
	var confidence sql.NullFloat64
	var justification, changes, approved, overrides sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(&p.ID, &kind, &eventID, &editionID, &status, &confidence, &p.Agent,
		&justification, &changes, &approved, &overrides, &p.ReviewedBy, &reviewedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan proposal")
	}

	p.Kind = model.ProposalKind(kind)
	p.Status = model.ProposalStatus(status)
	if eventID.Valid {
		v := eventID.Int64
		p.EventID = &v
	}
	if editionID.Valid {
		v := editionID.Int64
		p.EditionID = &v
	}
	if confidence.Valid {
		v := confidence.Float64
		p.Confidence = &v
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		p.ReviewedAt = &t
	}
	if err := unmarshalMap(justification, &p.Justification); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal justification")
	}
	if err := unmarshalMap(changes, &p.Changes); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal changes")
	}
	if approved.Valid && approved.String != "" {
		if err := json.Unmarshal([]byte(approved.String), &p.ApprovedBlocks); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal approved blocks")
		}
	}
	if err := unmarshalMap(overrides, &p.UserOverrides); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal overrides")
	}
	return &p, nil
}

func scanRunStats(row scannable) (*model.RunStats, error) {
	var st model.RunStats
	var low, featured, premium, races, other int64
	err := row.Scan(&st.Runner, &st.Analyzed, &st.Validated, &st.Ignored, &st.Failures,
		&low, &featured, &premium, &races, &other, &st.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan run stats")
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

func marshalMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func marshalAny(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]bool:
		if t == nil {
			return nil, nil
		}
	case []string:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalMap(col sql.NullString, dst *map[string]any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}
