package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/madpsy/aisguard/vessel"
)

// Postgres is a Store backed by PostgreSQL. Vessels and sources are kept
// as JSONB documents; positions and messages are plain rows.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and creates the schema if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		source_id  TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		data       JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vessels (
		mmsi    BIGINT PRIMARY KEY,
		updated TIMESTAMPTZ NOT NULL DEFAULT now(),
		data    JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id             BIGSERIAL PRIMARY KEY,
		mmsi           BIGINT NOT NULL,
		source_id      TEXT NOT NULL,
		message_type   INT NOT NULL,
		ts             TIMESTAMPTZ NOT NULL,
		original_lat   DOUBLE PRECISION NOT NULL,
		original_lon   DOUBLE PRECISION NOT NULL,
		display_lat    DOUBLE PRECISION,
		display_lon    DOUBLE PRECISION,
		position_valid BOOLEAN NOT NULL,
		is_vdo         BOOLEAN NOT NULL,
		speed          DOUBLE PRECISION,
		course         DOUBLE PRECISION,
		heading        INT,
		nav_status     INT
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id           BIGSERIAL PRIMARY KEY,
		mmsi         BIGINT NOT NULL,
		source_id    TEXT NOT NULL,
		message_type INT NOT NULL,
		ts           TIMESTAMPTZ NOT NULL,
		raw          TEXT NOT NULL,
		is_vdo       BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS text_messages (
		id           BIGSERIAL PRIMARY KEY,
		mmsi         BIGINT NOT NULL,
		dest_mmsi    BIGINT,
		message_type INT NOT NULL,
		text         TEXT NOT NULL,
		source_id    TEXT NOT NULL,
		ts           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_mmsi ON positions (mmsi, id)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_vdo ON positions (source_id, mmsi, id) WHERE is_vdo`,
	`CREATE INDEX IF NOT EXISTS idx_messages_source ON messages (source_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_text_messages_source ON text_messages (source_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_vessels_sources ON vessels USING GIN ((data->'source_ids'))`,
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, s := range schema {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// ── positions ─────────────────────────────────────────────────────────────

func (p *Postgres) LastDisplay(ctx context.Context, mmsi uint32) (float64, float64, bool, error) {
	var lat, lon float64
	err := p.db.QueryRowContext(ctx, `
		SELECT display_lat, display_lon
		  FROM positions
		 WHERE mmsi = $1 AND display_lat IS NOT NULL AND display_lon IS NOT NULL
		 ORDER BY id DESC
		 LIMIT 1`, int64(mmsi)).Scan(&lat, &lon)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("store: last display: %w", err)
	}
	return lat, lon, true, nil
}

func (p *Postgres) BackfillDisplay(ctx context.Context, mmsi uint32, lat, lon float64) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE positions SET display_lat = $2, display_lon = $3
		 WHERE mmsi = $1 AND (display_lat IS NULL OR display_lon IS NULL)`,
		int64(mmsi), lat, lon)
	if err != nil {
		return 0, fmt.Errorf("store: backfill: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) AddPosition(ctx context.Context, pos *vessel.Position) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO positions
		  (mmsi, source_id, message_type, ts, original_lat, original_lon,
		   display_lat, display_lon, position_valid, is_vdo, speed, course, heading, nav_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id`,
		int64(pos.MMSI), pos.SourceID, int(pos.MessageType), pos.Timestamp,
		pos.OriginalLat, pos.OriginalLon, nullFloat(pos.DisplayLat), nullFloat(pos.DisplayLon),
		pos.PositionValid, pos.IsVDO, nullFloat(pos.Speed), nullFloat(pos.Course),
		nullInt(pos.Heading), nullInt(pos.NavStatus),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: add position: %w", err)
	}
	return id, nil
}

func (p *Postgres) Positions(ctx context.Context, mmsi uint32, includeHidden bool) ([]*vessel.Position, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+positionColumns+`
		  FROM positions
		 WHERE mmsi = $1 AND ($2 OR (display_lat IS NOT NULL AND display_lon IS NOT NULL))
		 ORDER BY id`, int64(mmsi), includeHidden)
	if err != nil {
		return nil, fmt.Errorf("store: positions: %w", err)
	}
	defer rows.Close()

	var out []*vessel.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		if !includeHidden && !pos.HasDisplay() {
			continue
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

const positionColumns = `id, mmsi, source_id, message_type, ts, original_lat, original_lon,
	display_lat, display_lon, position_valid, is_vdo, speed, course, heading, nav_status`

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(sc scanner) (*vessel.Position, error) {
	var (
		pos                vessel.Position
		mmsi               int64
		mtype              int
		dlat, dlon, sp, co sql.NullFloat64
		hd, ns             sql.NullInt64
	)
	if err := sc.Scan(&pos.ID, &mmsi, &pos.SourceID, &mtype, &pos.Timestamp,
		&pos.OriginalLat, &pos.OriginalLon, &dlat, &dlon, &pos.PositionValid, &pos.IsVDO,
		&sp, &co, &hd, &ns); err != nil {
		return nil, fmt.Errorf("store: scan position: %w", err)
	}
	pos.MMSI = uint32(mmsi)
	pos.MessageType = uint8(mtype)
	pos.DisplayLat, pos.DisplayLon = fromNullFloat(dlat), fromNullFloat(dlon)
	pos.Speed, pos.Course = fromNullFloat(sp), fromNullFloat(co)
	pos.Heading, pos.NavStatus = fromNullInt(hd), fromNullInt(ns)
	return &pos, nil
}

func (p *Postgres) VdoReferences(ctx context.Context, sourceIDs ...string) ([]vessel.VdoReference, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (pos.source_id, pos.mmsi)
		       pos.source_id, pos.mmsi, pos.display_lat, pos.display_lon, pos.ts,
		       (src.data->>'spoof_limit_km')::float8
		  FROM positions pos
		  LEFT JOIN sources src ON src.source_id = pos.source_id
		 WHERE pos.is_vdo AND pos.display_lat IS NOT NULL AND pos.display_lon IS NOT NULL
		   AND (cardinality($1::text[]) = 0 OR pos.source_id = ANY($1))
		 ORDER BY pos.source_id, pos.mmsi, pos.id DESC`, pq.Array(sourceIDs))
	if err != nil {
		return nil, fmt.Errorf("store: vdo references: %w", err)
	}
	defer rows.Close()

	var out []vessel.VdoReference
	for rows.Next() {
		var (
			ref   vessel.VdoReference
			mmsi  int64
			limit sql.NullFloat64
		)
		if err := rows.Scan(&ref.SourceID, &mmsi, &ref.Lat, &ref.Lon, &ref.Timestamp, &limit); err != nil {
			return nil, fmt.Errorf("store: scan vdo reference: %w", err)
		}
		ref.MMSI = uint32(mmsi)
		ref.SpoofLimitKm = vessel.DefaultSpoofLimitKm
		if limit.Valid && limit.Float64 > 0 {
			ref.SpoofLimitKm = limit.Float64
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// ── vessels ───────────────────────────────────────────────────────────────

func (p *Postgres) GetVessel(ctx context.Context, mmsi uint32) (*vessel.Vessel, error) {
	return getVessel(ctx, p.db, mmsi)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getVessel(ctx context.Context, q queryer, mmsi uint32) (*vessel.Vessel, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM vessels WHERE mmsi = $1`, int64(mmsi)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get vessel: %w", err)
	}
	var v vessel.Vessel
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("store: decode vessel %d: %w", mmsi, err)
	}
	return &v, nil
}

func (p *Postgres) PutVessel(ctx context.Context, v *vessel.Vessel) error {
	return putVessel(ctx, p.db, v)
}

func putVessel(ctx context.Context, q queryer, v *vessel.Vessel) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode vessel %d: %w", v.MMSI, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO vessels (mmsi, updated, data) VALUES ($1, now(), $2)
		ON CONFLICT (mmsi) DO UPDATE SET updated = now(), data = EXCLUDED.data`,
		int64(v.MMSI), data)
	if err != nil {
		return fmt.Errorf("store: put vessel %d: %w", v.MMSI, err)
	}
	return nil
}

func (p *Postgres) ListVessels(ctx context.Context) ([]*vessel.Vessel, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT data FROM vessels ORDER BY mmsi`)
	if err != nil {
		return nil, fmt.Errorf("store: list vessels: %w", err)
	}
	defer rows.Close()
	var out []*vessel.Vessel
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan vessel: %w", err)
		}
		var v vessel.Vessel
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("store: decode vessel: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (p *Postgres) DetachSource(ctx context.Context, mmsi uint32, sourceID string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		v, err := getVessel(ctx, tx, mmsi)
		if err != nil {
			return err
		}
		if !v.RemoveSource(sourceID) {
			return nil
		}
		return putVessel(ctx, tx, v)
	})
}

// ── messages ──────────────────────────────────────────────────────────────

func (p *Postgres) AddMessage(ctx context.Context, m *vessel.StoredMessage, limit int) (int, error) {
	evicted := 0
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (mmsi, source_id, message_type, ts, raw, is_vdo)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			int64(m.MMSI), m.SourceID, int(m.MessageType), m.Timestamp, m.Raw, m.IsVDO); err != nil {
			return fmt.Errorf("store: add message: %w", err)
		}
		if limit <= 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM messages
			 WHERE source_id = $1
			   AND id NOT IN (SELECT id FROM messages WHERE source_id = $1 ORDER BY id DESC LIMIT $2)`,
			m.SourceID, limit)
		if err != nil {
			return fmt.Errorf("store: evict messages: %w", err)
		}
		n, _ := res.RowsAffected()
		evicted = int(n)
		return nil
	})
	return evicted, err
}

func (p *Postgres) Messages(ctx context.Context, sourceID string) ([]*vessel.StoredMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, mmsi, source_id, message_type, ts, raw, is_vdo
		  FROM messages WHERE source_id = $1 ORDER BY id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: messages: %w", err)
	}
	defer rows.Close()
	var out []*vessel.StoredMessage
	for rows.Next() {
		var (
			m     vessel.StoredMessage
			mmsi  int64
			mtype int
		)
		if err := rows.Scan(&m.ID, &mmsi, &m.SourceID, &mtype, &m.Timestamp, &m.Raw, &m.IsVDO); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.MMSI, m.MessageType = uint32(mmsi), uint8(mtype)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (p *Postgres) AddTextMessage(ctx context.Context, t *vessel.TextMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO text_messages (mmsi, dest_mmsi, message_type, text, source_id, ts)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		int64(t.MMSI), int64(t.DestMMSI), int(t.MessageType), t.Text, t.SourceID, t.Timestamp)
	if err != nil {
		return fmt.Errorf("store: add text message: %w", err)
	}
	return nil
}

func (p *Postgres) TextMessages(ctx context.Context, sourceID string) ([]*vessel.TextMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, mmsi, COALESCE(dest_mmsi, 0), message_type, text, source_id, ts
		  FROM text_messages WHERE source_id = $1 ORDER BY id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: text messages: %w", err)
	}
	defer rows.Close()
	var out []*vessel.TextMessage
	for rows.Next() {
		var (
			t          vessel.TextMessage
			mmsi, dest int64
			mtype      int
		)
		if err := rows.Scan(&t.ID, &mmsi, &dest, &mtype, &t.Text, &t.SourceID, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan text message: %w", err)
		}
		t.MMSI, t.DestMMSI, t.MessageType = uint32(mmsi), uint32(dest), uint8(mtype)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ── sources ───────────────────────────────────────────────────────────────

func (p *Postgres) PutSource(ctx context.Context, s *vessel.Source) error {
	return putSource(ctx, p.db, s)
}

func putSource(ctx context.Context, q queryer, s *vessel.Source) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: encode source %s: %w", s.ID, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO sources (source_id, created_at, data) VALUES ($1, $2, $3)
		ON CONFLICT (source_id) DO UPDATE SET data = EXCLUDED.data`,
		s.ID, s.CreatedAt, data)
	if err != nil {
		return fmt.Errorf("store: put source %s: %w", s.ID, err)
	}
	return nil
}

func (p *Postgres) GetSource(ctx context.Context, id string) (*vessel.Source, error) {
	return getSource(ctx, p.db, id, "")
}

func getSource(ctx context.Context, q queryer, id, lock string) (*vessel.Source, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM sources WHERE source_id = $1 `+lock, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get source: %w", err)
	}
	var s vessel.Source
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("store: decode source %s: %w", id, err)
	}
	return &s, nil
}

// UpdateSource locks the source row for the duration of fn.
func (p *Postgres) UpdateSource(ctx context.Context, id string, fn func(*vessel.Source) error) (*vessel.Source, error) {
	var out *vessel.Source
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		s, err := getSource(ctx, tx, id, "FOR UPDATE")
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		out = s
		return putSource(ctx, tx, s)
	})
	return out, err
}

func (p *Postgres) ListSources(ctx context.Context) ([]*vessel.Source, error) {
	return listSources(ctx, p.db)
}

func listSources(ctx context.Context, q queryer) ([]*vessel.Source, error) {
	rows, err := q.QueryContext(ctx, `SELECT data FROM sources ORDER BY created_at, source_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list sources: %w", err)
	}
	defer rows.Close()
	var out []*vessel.Source
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan source: %w", err)
		}
		var s vessel.Source
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("store: decode source: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSource(ctx context.Context, id string, cascade bool) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE source_id = $1`, id)
		if err != nil {
			return fmt.Errorf("store: delete source: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if !cascade {
			return nil
		}
		for _, stmt := range []string{
			`DELETE FROM messages WHERE source_id = $1`,
			`DELETE FROM text_messages WHERE source_id = $1`,
			`DELETE FROM positions WHERE source_id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("store: cascade delete: %w", err)
			}
		}
		return detachAll(ctx, tx, id)
	})
}

// detachAll removes sourceID from every vessel, deleting vessels left with
// no source and refreshing the rest from their remaining positions.
func detachAll(ctx context.Context, tx *sql.Tx, sourceID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT data FROM vessels WHERE data->'source_ids' ? $1`, sourceID)
	if err != nil {
		return fmt.Errorf("store: vessels for source: %w", err)
	}
	var affected []*vessel.Vessel
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan vessel: %w", err)
		}
		var v vessel.Vessel
		if err := json.Unmarshal(data, &v); err != nil {
			rows.Close()
			return fmt.Errorf("store: decode vessel: %w", err)
		}
		affected = append(affected, &v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, v := range affected {
		v.RemoveSource(sourceID)
		if len(v.SourceIDs) == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE mmsi = $1`, int64(v.MMSI)); err != nil {
				return fmt.Errorf("store: delete positions: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM vessels WHERE mmsi = $1`, int64(v.MMSI)); err != nil {
				return fmt.Errorf("store: delete vessel: %w", err)
			}
			continue
		}
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM positions WHERE mmsi = $1`, int64(v.MMSI)).Scan(&count); err != nil {
			return fmt.Errorf("store: count positions: %w", err)
		}
		v.PositionCount = count
		last, err := scanPosition(tx.QueryRowContext(ctx, `
			SELECT `+positionColumns+`
			  FROM positions
			 WHERE mmsi = $1 AND display_lat IS NOT NULL AND display_lon IS NOT NULL
			 ORDER BY id DESC LIMIT 1`, int64(v.MMSI)))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			v.LastPosition = nil
		case err != nil:
			return err
		default:
			v.LastPosition = last
		}
		if err := putVessel(ctx, tx, v); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) ClearData(ctx context.Context) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `TRUNCATE positions, messages, text_messages, vessels`); err != nil {
			return fmt.Errorf("store: clear data: %w", err)
		}
		sources, err := listSources(ctx, tx)
		if err != nil {
			return err
		}
		for _, s := range sources {
			resetCounters(s)
			if err := putSource(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func fromNullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func fromNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

var _ Store = (*Postgres)(nil)
