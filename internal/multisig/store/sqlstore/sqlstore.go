// Package sqlstore persists groups, members, proposals and held credentials
// in SQL. SQLite is the default wallet store; PostgreSQL serves hosted
// deployments. Queries are written with '?' placeholders and rebound for
// PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"veridian/internal/multisig/models"
	"veridian/pkg/domain"
	"veridian/pkg/platform/sentinel"
)

//go:embed schema.sql
var schemaSQL string

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Store implements the record stores used by the multisig services.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn with the driver matching dialect and applies the
// schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	switch dialect {
	case SQLite:
		if !strings.Contains(dsn, "_pragma=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
		}
	case Postgres:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == SQLite {
		// SQLite handles concurrent writers poorly.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. The caller owns the schema.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Schema returns the embedded schema for dialect.
func Schema(dialect Dialect) string {
	seq := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if dialect == Postgres {
		seq = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(schemaSQL, "{{SEQUENCE}}", seq)
}

// Migrate applies the embedded schema; it is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema(s.dialect)); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites '?' placeholders to '$n' for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isUniqueViolation recognizes unique constraint failures from either
// driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Groups

const groupColumns = `id, correlation_id, local_member_id, group_aid, signing_threshold, rotation_threshold,
	initiator, created, display_name, proposed_display_name, state, failure_reason, created_at, updated_at`

func (s *Store) CreateGroup(ctx context.Context, g *models.GroupIdentifier) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO multisig_groups (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID.String(), string(g.CorrelationID), string(g.LocalMemberID), string(g.GroupAID),
		g.SigningThreshold, g.RotationThreshold, g.Initiator, g.Created, g.DisplayName,
		g.ProposedDisplayName, string(g.State), string(g.FailureReason), nanos(g.CreatedAt), nanos(g.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *Store) UpdateGroup(ctx context.Context, g *models.GroupIdentifier) error {
	res, err := s.exec(ctx, s.db, `UPDATE multisig_groups SET
			group_aid = ?, signing_threshold = ?, rotation_threshold = ?, created = ?, display_name = ?,
			proposed_display_name = ?, state = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(g.GroupAID), g.SigningThreshold, g.RotationThreshold, g.Created, g.DisplayName,
		g.ProposedDisplayName, string(g.State), string(g.FailureReason), nanos(g.UpdatedAt), g.ID.String())
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return affected(res)
}

func (s *Store) FindGroup(ctx context.Context, id domain.GroupID) (*models.GroupIdentifier, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+groupColumns+` FROM multisig_groups WHERE id = ?`), id.String())
	return scanGroup(row)
}

func (s *Store) FindGroupByCorrelation(ctx context.Context, corr domain.CorrelationID) (*models.GroupIdentifier, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+groupColumns+` FROM multisig_groups WHERE correlation_id = ?`), string(corr))
	return scanGroup(row)
}

func (s *Store) ListGroups(ctx context.Context) ([]*models.GroupIdentifier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM multisig_groups ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []*models.GroupIdentifier
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGroup removes a group with its members and proposals.
func (s *Store) DeleteGroup(ctx context.Context, id domain.GroupID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"multisig_members", "multisig_proposals"} {
			if _, err := s.exec(ctx, tx, `DELETE FROM `+table+` WHERE group_id = ?`, id.String()); err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
		}
		res, err := s.exec(ctx, tx, `DELETE FROM multisig_groups WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		return affected(res)
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (*models.GroupIdentifier, error) {
	var (
		g                               models.GroupIdentifier
		id, corr, local, aid, state, fr string
		createdAt, updatedAt            int64
	)
	err := row.Scan(&id, &corr, &local, &aid, &g.SigningThreshold, &g.RotationThreshold,
		&g.Initiator, &g.Created, &g.DisplayName, &g.ProposedDisplayName, &state, &fr, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}
	gid, err := domain.ParseGroupID(id)
	if err != nil {
		return nil, fmt.Errorf("scan group id: %w", err)
	}
	g.ID = gid
	g.CorrelationID = domain.CorrelationID(corr)
	g.LocalMemberID = domain.AID(local)
	g.GroupAID = domain.AID(aid)
	g.State = models.LifecycleState(state)
	g.FailureReason = models.FailureReason(fr)
	g.CreatedAt = fromNanos(createdAt)
	g.UpdatedAt = fromNanos(updatedAt)
	return &g, nil
}

// Members

func (s *Store) ReplaceMembers(ctx context.Context, groupID domain.GroupID, members []*models.MemberInfo) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM multisig_members WHERE group_id = ?`, groupID.String()); err != nil {
			return fmt.Errorf("clear members: %w", err)
		}
		for i, m := range members {
			if _, err := s.exec(ctx, tx, `INSERT INTO multisig_members
					(group_id, position, member_id, display_name, joined, is_local)
				VALUES (?, ?, ?, ?, ?, ?)`,
				groupID.String(), i, string(m.MemberID), m.DisplayName, m.Joined, m.IsLocal); err != nil {
				if isUniqueViolation(err) {
					return sentinel.ErrConflict
				}
				return fmt.Errorf("insert member: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) ListMembers(ctx context.Context, groupID domain.GroupID) ([]*models.MemberInfo, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT member_id, display_name, joined, is_local
		FROM multisig_members WHERE group_id = ? ORDER BY position`), groupID.String())
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	out := []*models.MemberInfo{}
	for rows.Next() {
		m := &models.MemberInfo{GroupID: groupID}
		var id string
		if err := rows.Scan(&id, &m.DisplayName, &m.Joined, &m.IsLocal); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.MemberID = domain.AID(id)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SetJoined(ctx context.Context, groupID domain.GroupID, memberID domain.AID, joined bool) error {
	res, err := s.exec(ctx, s.db, `UPDATE multisig_members SET joined = ? WHERE group_id = ? AND member_id = ?`,
		joined, groupID.String(), string(memberID))
	if err != nil {
		return fmt.Errorf("set joined: %w", err)
	}
	return affected(res)
}

func (s *Store) ResetJoined(ctx context.Context, groupID domain.GroupID) error {
	if _, err := s.exec(ctx, s.db, `UPDATE multisig_members SET joined = ? WHERE group_id = ?`, false, groupID.String()); err != nil {
		return fmt.Errorf("reset joined: %w", err)
	}
	return nil
}

// Proposals

const proposalColumns = `id, group_id, kind, correlation_id, role, initiator_id, artifact_ref, accepted_by,
	local_accepted, state, reject_reason, created_at, updated_at`

func (s *Store) CreateProposal(ctx context.Context, p *models.Proposal) error {
	accepted, err := json.Marshal(acceptedBy(p))
	if err != nil {
		return fmt.Errorf("encode accepted_by: %w", err)
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO multisig_proposals (`+proposalColumns+`, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.GroupID.String(), string(p.Kind), string(p.CorrelationID), string(p.Role),
		string(p.InitiatorID), p.ArtifactRef, string(accepted), p.LocalAccepted, string(p.State),
		string(p.RejectReason), nanos(p.CreatedAt), nanos(p.UpdatedAt), p.State.IsActive())
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *Store) UpdateProposal(ctx context.Context, p *models.Proposal) error {
	accepted, err := json.Marshal(acceptedBy(p))
	if err != nil {
		return fmt.Errorf("encode accepted_by: %w", err)
	}
	res, err := s.exec(ctx, s.db, `UPDATE multisig_proposals SET
			artifact_ref = ?, accepted_by = ?, local_accepted = ?, state = ?, active = ?,
			reject_reason = ?, updated_at = ?
		WHERE id = ?`,
		p.ArtifactRef, string(accepted), p.LocalAccepted, string(p.State), p.State.IsActive(),
		string(p.RejectReason), nanos(p.UpdatedAt), p.ID.String())
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update proposal: %w", err)
	}
	return affected(res)
}

func (s *Store) FindProposal(ctx context.Context, id domain.ProposalID) (*models.Proposal, error) {
	return s.findProposal(ctx, `id = ?`, id.String())
}

func (s *Store) FindProposalByCorrelation(ctx context.Context, corr domain.CorrelationID) (*models.Proposal, error) {
	return s.findProposal(ctx, `correlation_id = ?`, string(corr))
}

func (s *Store) FindActiveProposal(ctx context.Context, groupID domain.GroupID) (*models.Proposal, error) {
	return s.findProposal(ctx, `group_id = ? AND active = ?`, groupID.String(), true)
}

func (s *Store) findProposal(ctx context.Context, where string, args ...any) (*models.Proposal, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+proposalColumns+` FROM multisig_proposals WHERE `+where), args...)
	return scanProposal(row)
}

func (s *Store) ListProposals(ctx context.Context, groupID domain.GroupID) ([]*models.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+proposalColumns+`
		FROM multisig_proposals WHERE group_id = ? ORDER BY seq`), groupID.String())
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []*models.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProposal(row scanner) (*models.Proposal, error) {
	var (
		p                                           models.Proposal
		id, gid, kind, corr, role, initiator, state string
		accepted, reason                            string
		createdAt, updatedAt                        int64
	)
	err := row.Scan(&id, &gid, &kind, &corr, &role, &initiator, &p.ArtifactRef, &accepted,
		&p.LocalAccepted, &state, &reason, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan proposal: %w", err)
	}
	pid, err := domain.ParseProposalID(id)
	if err != nil {
		return nil, fmt.Errorf("scan proposal id: %w", err)
	}
	groupID, err := domain.ParseGroupID(gid)
	if err != nil {
		return nil, fmt.Errorf("scan proposal group id: %w", err)
	}
	if err := json.Unmarshal([]byte(accepted), &p.AcceptedBy); err != nil {
		return nil, fmt.Errorf("decode accepted_by: %w", err)
	}
	p.ID = pid
	p.GroupID = groupID
	p.Kind = models.ProposalKind(kind)
	p.CorrelationID = domain.CorrelationID(corr)
	p.Role = models.Role(role)
	p.InitiatorID = domain.AID(initiator)
	p.State = models.ProposalState(state)
	p.RejectReason = models.RejectReason(reason)
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	return &p, nil
}

func acceptedBy(p *models.Proposal) []domain.AID {
	if p.AcceptedBy == nil {
		return []domain.AID{}
	}
	return p.AcceptedBy
}

// Held credentials

func (s *Store) SaveCredential(ctx context.Context, ref string) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO held_credentials (id, saved_at) VALUES (?, ?)
		ON CONFLICT (id) DO NOTHING`, ref, nanos(time.Now()))
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, ref string) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM held_credentials WHERE id = ?`, ref); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// HasArtifact reports whether an offer's credential is still held. Event
// artifacts live with the agent and are always present.
func (s *Store) HasArtifact(ctx context.Context, kind models.ProposalKind, ref string) (bool, error) {
	if kind != models.KindOffer {
		return true, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM held_credentials WHERE id = ?`), ref).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup credential: %w", err)
	}
	return true, nil
}

// Feed cursor

const cursorRow = 1

func (s *Store) LoadCursor(ctx context.Context) (models.FeedCursor, error) {
	var (
		c    models.FeedCursor
		last string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT next_index, last_notification_id FROM feed_cursor WHERE id = ?`), cursorRow).
		Scan(&c.NextIndex, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FeedCursor{}, nil
	}
	if err != nil {
		return models.FeedCursor{}, fmt.Errorf("load cursor: %w", err)
	}
	c.LastNotificationID = domain.NotificationID(last)
	return c, nil
}

func (s *Store) SaveCursor(ctx context.Context, c models.FeedCursor) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO feed_cursor (id, next_index, last_notification_id) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET next_index = excluded.next_index, last_notification_id = excluded.last_notification_id`,
		cursorRow, c.NextIndex, string(c.LastNotificationID))
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
