package network

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lepm/internal/model"
)

// PostgresStore is the relational backend over database/sql with the pgx
// stdlib driver.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

// NewPostgres opens a postgres-backed store and creates the schema on first
// use.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(schemaSQL)
	})
	return s.schemaErr
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (s *PostgresStore) Lines(ctx context.Context) ([]model.Line, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, mrid, name, voltage_kv FROM line ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Line
	for rows.Next() {
		var l model.Line
		if err := rows.Scan(&l.ID, &l.MRID, &l.Name, &l.VoltageKV); err != nil {
			return nil, err
		}
		l.MRID = strings.TrimSpace(l.MRID)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetLine(ctx context.Context, id int64) (*model.Line, error) {
	return scanLine(s.db.QueryRowContext(ctx,
		`SELECT id, mrid, name, voltage_kv FROM line WHERE id = $1`, id))
}

func scanLine(row *sql.Row) (*model.Line, error) {
	var l model.Line
	if err := row.Scan(&l.ID, &l.MRID, &l.Name, &l.VoltageKV); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	l.MRID = strings.TrimSpace(l.MRID)
	return &l, nil
}

// LoadGraph reads the full graph inside a repeatable-read transaction so the
// snapshot is consistent across the individual queries.
func (s *PostgresStore) LoadGraph(ctx context.Context, lineID int64) (*model.LineGraph, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	return loadGraph(ctx, tx, lineID)
}

func loadGraph(ctx context.Context, q querier, lineID int64) (*model.LineGraph, error) {
	line, err := scanLine(q.QueryRowContext(ctx,
		`SELECT id, mrid, name, voltage_kv FROM line WHERE id = $1`, lineID))
	if err != nil {
		return nil, err
	}
	g := &model.LineGraph{Line: *line}

	if g.Poles, err = queryPoles(ctx, q,
		`SELECT `+poleCols+` FROM pole WHERE line_id = $1`, lineID); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `SELECT id, mrid, line_id, sequence_number, name,
from_node_id, to_node_id, length_km, is_tap
FROM acline_segment WHERE line_id = $1`, lineID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seg model.ACLineSegment
		var to sql.NullInt64
		if err := rows.Scan(&seg.ID, &seg.MRID, &seg.LineID, &seg.SequenceNumber, &seg.Name,
			&seg.FromNodeID, &to, &seg.LengthKM, &seg.IsTap); err != nil {
			rows.Close()
			return nil, err
		}
		seg.MRID = strings.TrimSpace(seg.MRID)
		if to.Valid {
			seg.ToNodeID = &to.Int64
		}
		g.Segments = append(g.Segments, seg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT id, mrid, segment_id, sequence_number,
conductor_type, conductor_material, conductor_section, total_length_km
FROM line_section WHERE segment_id IN (SELECT id FROM acline_segment WHERE line_id = $1)`, lineID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var sec model.LineSection
		if err := rows.Scan(&sec.ID, &sec.MRID, &sec.SegmentID, &sec.SequenceNumber,
			&sec.Conductor.Type, &sec.Conductor.Material, &sec.Conductor.Section,
			&sec.TotalLengthKM); err != nil {
			rows.Close()
			return nil, err
		}
		sec.MRID = strings.TrimSpace(sec.MRID)
		g.Sections = append(g.Sections, sec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT id, mrid, line_id, section_id, from_node_id,
to_node_id, sequence_number, length_m, conductor_type, conductor_material, conductor_section
FROM span WHERE line_id = $1`, lineID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var sp model.Span
		if err := rows.Scan(&sp.ID, &sp.MRID, &sp.LineID, &sp.SectionID, &sp.FromNodeID,
			&sp.ToNodeID, &sp.SequenceNumber, &sp.LengthM,
			&sp.Conductor.Type, &sp.Conductor.Material, &sp.Conductor.Section); err != nil {
			rows.Close()
			return nil, err
		}
		sp.MRID = strings.TrimSpace(sp.MRID)
		g.Spans = append(g.Spans, sp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT id, mrid, segment_id, node_id, sequence_number
FROM terminal WHERE segment_id IN (SELECT id FROM acline_segment WHERE line_id = $1)`, lineID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var term model.Terminal
		if err := rows.Scan(&term.ID, &term.MRID, &term.SegmentID, &term.NodeID, &term.SequenceNumber); err != nil {
			rows.Close()
			return nil, err
		}
		term.MRID = strings.TrimSpace(term.MRID)
		g.Terminals = append(g.Terminals, term)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Line-owned nodes plus substation nodes its segments terminate into.
	g.Nodes, err = queryNodes(ctx, q, `SELECT `+nodeCols+` FROM connectivity_node
WHERE line_id = $1
   OR id IN (SELECT from_node_id FROM acline_segment WHERE line_id = $1)
   OR id IN (SELECT to_node_id FROM acline_segment WHERE line_id = $1 AND to_node_id IS NOT NULL)`, lineID)
	if err != nil {
		return nil, err
	}

	g.Sort()
	return g, nil
}

const poleCols = `id, mrid, line_id, pole_number, sequence_number, pole_type,
x_position, y_position, is_tap_pole, conductor_type, conductor_material, conductor_section, shared_pole_id`

func queryPoles(ctx context.Context, q querier, query string, args ...any) ([]model.Pole, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Pole
	for rows.Next() {
		p, err := scanPole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPole(row rowScanner) (*model.Pole, error) {
	var p model.Pole
	var shared sql.NullInt64
	if err := row.Scan(&p.ID, &p.MRID, &p.LineID, &p.PoleNumber, &p.SequenceNumber,
		&p.PoleType, &p.X, &p.Y, &p.IsTapPole,
		&p.Conductor.Type, &p.Conductor.Material, &p.Conductor.Section, &shared); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.MRID = strings.TrimSpace(p.MRID)
	if shared.Valid {
		p.SharedPoleID = &shared.Int64
	}
	return &p, nil
}

const nodeCols = `id, mrid, name, line_id, pole_id, substation_id, x_position, y_position`

func queryNodes(ctx context.Context, q querier, query string, args ...any) ([]model.ConnectivityNode, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ConnectivityNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func scanNode(row rowScanner) (*model.ConnectivityNode, error) {
	var n model.ConnectivityNode
	var lineID, poleID, subID sql.NullInt64
	if err := row.Scan(&n.ID, &n.MRID, &n.Name, &lineID, &poleID, &subID, &n.X, &n.Y); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	n.MRID = strings.TrimSpace(n.MRID)
	if lineID.Valid {
		n.LineID = &lineID.Int64
	}
	if poleID.Valid {
		n.PoleID = &poleID.Int64
	}
	if subID.Valid {
		n.SubstationID = &subID.Int64
	}
	return &n, nil
}

func (s *PostgresStore) Substations(ctx context.Context) ([]model.Substation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mrid, name, dispatcher_name, x_position, y_position FROM substation ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Substation
	for rows.Next() {
		var sub model.Substation
		if err := rows.Scan(&sub.ID, &sub.MRID, &sub.Name, &sub.DispatcherName, &sub.X, &sub.Y); err != nil {
			return nil, err
		}
		sub.MRID = strings.TrimSpace(sub.MRID)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSubstation(ctx context.Context, id int64) (*model.Substation, error) {
	return getSubstation(ctx, s.db, id)
}

func getSubstation(ctx context.Context, q querier, id int64) (*model.Substation, error) {
	var sub model.Substation
	err := q.QueryRowContext(ctx,
		`SELECT id, mrid, name, dispatcher_name, x_position, y_position FROM substation WHERE id = $1`,
		id).Scan(&sub.ID, &sub.MRID, &sub.Name, &sub.DispatcherName, &sub.X, &sub.Y)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sub.MRID = strings.TrimSpace(sub.MRID)
	return &sub, nil
}

func (s *PostgresStore) CreateSubstation(ctx context.Context, sub *model.Substation) error {
	if sub.MRID == "" {
		sub.MRID = model.NewMRID()
	}
	return s.db.QueryRowContext(ctx, `INSERT INTO substation (mrid, name, dispatcher_name, x_position, y_position)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		sub.MRID, sub.Name, sub.DispatcherName, sub.X, sub.Y).Scan(&sub.ID)
}

func (s *PostgresStore) ChangesSince(ctx context.Context, cursor int64, limit int) ([]model.Change, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, line_id, line_mrid, entity, mrid, op, recorded_at
FROM change_log WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Change
	for rows.Next() {
		var c model.Change
		if err := rows.Scan(&c.Cursor, &c.LineID, &c.LineMRID, &c.Entity, &c.MRID, &c.Op, &c.RecordedAt); err != nil {
			return nil, err
		}
		c.LineMRID = strings.TrimSpace(c.LineMRID)
		c.MRID = strings.TrimSpace(c.MRID)
		out = append(out, c)
	}
	return out, rows.Err()
}

// pgTx implements Tx over *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

// LockLine takes the per-line advisory row lock that serialises writers of
// one line for the duration of the transaction.
func (t *pgTx) LockLine(ctx context.Context, lineID int64) (*model.Line, error) {
	return scanLine(t.tx.QueryRowContext(ctx,
		`SELECT id, mrid, name, voltage_kv FROM line WHERE id = $1 FOR UPDATE`, lineID))
}

func (t *pgTx) CreateLine(ctx context.Context, l *model.Line) error {
	if l.MRID == "" {
		l.MRID = model.NewMRID()
	}
	return t.tx.QueryRowContext(ctx,
		`INSERT INTO line (mrid, name, voltage_kv) VALUES ($1,$2,$3) RETURNING id`,
		l.MRID, l.Name, l.VoltageKV).Scan(&l.ID)
}

func (t *pgTx) DeleteLine(ctx context.Context, lineID int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM line WHERE id = $1`, lineID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) Graph(ctx context.Context, lineID int64) (*model.LineGraph, error) {
	return loadGraph(ctx, t.tx, lineID)
}

func (t *pgTx) GetPole(ctx context.Context, id int64) (*model.Pole, error) {
	return scanPole(t.tx.QueryRowContext(ctx,
		`SELECT `+poleCols+` FROM pole WHERE id = $1`, id))
}

func (t *pgTx) CreatePole(ctx context.Context, p *model.Pole) error {
	if p.MRID == "" {
		p.MRID = model.NewMRID()
	}
	var shared sql.NullInt64
	if p.SharedPoleID != nil {
		shared = sql.NullInt64{Int64: *p.SharedPoleID, Valid: true}
	}
	return t.tx.QueryRowContext(ctx, `INSERT INTO pole
(mrid, line_id, pole_number, sequence_number, pole_type, x_position, y_position,
 is_tap_pole, conductor_type, conductor_material, conductor_section, shared_pole_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		p.MRID, p.LineID, p.PoleNumber, p.SequenceNumber, p.PoleType, p.X, p.Y,
		p.IsTapPole, p.Conductor.Type, p.Conductor.Material, p.Conductor.Section, shared).Scan(&p.ID)
}

func (t *pgTx) UpdatePole(ctx context.Context, p *model.Pole) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE pole SET
line_id=$2, pole_number=$3, sequence_number=$4, pole_type=$5, x_position=$6, y_position=$7,
is_tap_pole=$8, conductor_type=$9, conductor_material=$10, conductor_section=$11
WHERE id=$1`,
		p.ID, p.LineID, p.PoleNumber, p.SequenceNumber, p.PoleType, p.X, p.Y,
		p.IsTapPole, p.Conductor.Type, p.Conductor.Material, p.Conductor.Section)
	return err
}

func (t *pgTx) DeletePole(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM pole WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SharedPresences(ctx context.Context, poleID int64) ([]model.Pole, error) {
	return queryPoles(ctx, t.tx,
		`SELECT `+poleCols+` FROM pole WHERE shared_pole_id = $1 ORDER BY id`, poleID)
}

func (t *pgTx) NodesByPole(ctx context.Context, poleID int64) ([]model.ConnectivityNode, error) {
	return queryNodes(ctx, t.tx,
		`SELECT `+nodeCols+` FROM connectivity_node WHERE pole_id = $1 ORDER BY id`, poleID)
}

func (t *pgTx) NodeForSubstation(ctx context.Context, substationID int64) (*model.ConnectivityNode, error) {
	return scanNode(t.tx.QueryRowContext(ctx,
		`SELECT `+nodeCols+` FROM connectivity_node WHERE substation_id = $1 LIMIT 1`, substationID))
}

func (t *pgTx) CreateNode(ctx context.Context, n *model.ConnectivityNode) error {
	if n.MRID == "" {
		n.MRID = model.NewMRID()
	}
	toNull := func(p *int64) sql.NullInt64 {
		if p == nil {
			return sql.NullInt64{}
		}
		return sql.NullInt64{Int64: *p, Valid: true}
	}
	return t.tx.QueryRowContext(ctx, `INSERT INTO connectivity_node
(mrid, name, line_id, pole_id, substation_id, x_position, y_position)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		n.MRID, n.Name, toNull(n.LineID), toNull(n.PoleID), toNull(n.SubstationID), n.X, n.Y).Scan(&n.ID)
}

func (t *pgTx) DeleteNode(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM connectivity_node WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) CreateSpan(ctx context.Context, sp *model.Span) error {
	if sp.MRID == "" {
		sp.MRID = model.NewMRID()
	}
	return t.tx.QueryRowContext(ctx, `INSERT INTO span
(mrid, line_id, section_id, from_node_id, to_node_id, sequence_number, length_m,
 conductor_type, conductor_material, conductor_section)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		sp.MRID, sp.LineID, sp.SectionID, sp.FromNodeID, sp.ToNodeID, sp.SequenceNumber, sp.LengthM,
		sp.Conductor.Type, sp.Conductor.Material, sp.Conductor.Section).Scan(&sp.ID)
}

func (t *pgTx) UpdateSpan(ctx context.Context, sp *model.Span) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE span SET
section_id=$2, sequence_number=$3, length_m=$4,
conductor_type=$5, conductor_material=$6, conductor_section=$7
WHERE id=$1`,
		sp.ID, sp.SectionID, sp.SequenceNumber, sp.LengthM,
		sp.Conductor.Type, sp.Conductor.Material, sp.Conductor.Section)
	return err
}

func (t *pgTx) DeleteSpan(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM span WHERE id = $1`, id)
	return err
}

func (t *pgTx) CreateSection(ctx context.Context, sec *model.LineSection) error {
	if sec.MRID == "" {
		sec.MRID = model.NewMRID()
	}
	return t.tx.QueryRowContext(ctx, `INSERT INTO line_section
(mrid, segment_id, sequence_number, conductor_type, conductor_material, conductor_section, total_length_km)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		sec.MRID, sec.SegmentID, sec.SequenceNumber,
		sec.Conductor.Type, sec.Conductor.Material, sec.Conductor.Section, sec.TotalLengthKM).Scan(&sec.ID)
}

func (t *pgTx) UpdateSection(ctx context.Context, sec *model.LineSection) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE line_section SET
segment_id=$2, sequence_number=$3, conductor_type=$4, conductor_material=$5,
conductor_section=$6, total_length_km=$7
WHERE id=$1`,
		sec.ID, sec.SegmentID, sec.SequenceNumber,
		sec.Conductor.Type, sec.Conductor.Material, sec.Conductor.Section, sec.TotalLengthKM)
	return err
}

func (t *pgTx) DeleteSection(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM line_section WHERE id = $1`, id)
	return err
}

func (t *pgTx) CreateSegment(ctx context.Context, seg *model.ACLineSegment) error {
	if seg.MRID == "" {
		seg.MRID = model.NewMRID()
	}
	var to sql.NullInt64
	if seg.ToNodeID != nil {
		to = sql.NullInt64{Int64: *seg.ToNodeID, Valid: true}
	}
	err := t.tx.QueryRowContext(ctx, `INSERT INTO acline_segment
(mrid, line_id, sequence_number, name, from_node_id, to_node_id, length_km, is_tap)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		seg.MRID, seg.LineID, seg.SequenceNumber, seg.Name, seg.FromNodeID, to,
		seg.LengthKM, seg.IsTap).Scan(&seg.ID)
	if err != nil {
		return err
	}
	return t.syncTerminals(ctx, seg)
}

func (t *pgTx) UpdateSegment(ctx context.Context, seg *model.ACLineSegment) error {
	var to sql.NullInt64
	if seg.ToNodeID != nil {
		to = sql.NullInt64{Int64: *seg.ToNodeID, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE acline_segment SET
sequence_number=$2, name=$3, from_node_id=$4, to_node_id=$5, length_km=$6, is_tap=$7
WHERE id=$1`,
		seg.ID, seg.SequenceNumber, seg.Name, seg.FromNodeID, to, seg.LengthKM, seg.IsTap)
	if err != nil {
		return err
	}
	return t.syncTerminals(ctx, seg)
}

// syncTerminals keeps the terminal rows of a segment aligned with its ends.
func (t *pgTx) syncTerminals(ctx context.Context, seg *model.ACLineSegment) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO terminal (mrid, segment_id, node_id, sequence_number)
VALUES ($1,$2,$3,1)
ON CONFLICT (segment_id, sequence_number) DO UPDATE SET node_id = EXCLUDED.node_id`,
		model.NewMRID(), seg.ID, seg.FromNodeID)
	if err != nil {
		return err
	}
	if seg.ToNodeID == nil {
		_, err = t.tx.ExecContext(ctx,
			`DELETE FROM terminal WHERE segment_id = $1 AND sequence_number = 2`, seg.ID)
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO terminal (mrid, segment_id, node_id, sequence_number)
VALUES ($1,$2,$3,2)
ON CONFLICT (segment_id, sequence_number) DO UPDATE SET node_id = EXCLUDED.node_id`,
		model.NewMRID(), seg.ID, *seg.ToNodeID)
	return err
}

func (t *pgTx) DeleteSegment(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM acline_segment WHERE id = $1`, id)
	return err
}

func (t *pgTx) GetSubstation(ctx context.Context, id int64) (*model.Substation, error) {
	return getSubstation(ctx, t.tx, id)
}

func (t *pgTx) AppendChange(ctx context.Context, c *model.Change) error {
	return t.tx.QueryRowContext(ctx, `INSERT INTO change_log (line_id, line_mrid, entity, mrid, op)
VALUES ($1,$2,$3,$4,$5) RETURNING id, recorded_at`,
		c.LineID, c.LineMRID, c.Entity, c.MRID, string(c.Op)).Scan(&c.Cursor, &c.RecordedAt)
}
