// Package sqlitestore is the durable Store backend. A conditional
// update is one UPDATE ... WHERE statement, which SQLite applies
// atomically with respect to every other connection on the same file,
// so claim/sweep correctness holds across processes sharing the db.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"citypulse.live/internal/store"
)

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func initPragmas(db *sql.DB) error {
	// WAL so the sweep's writes don't stall concurrent claim reads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			category TEXT,
			creator_id TEXT NOT NULL,
			lng REAL NOT NULL,
			lat REAL NOT NULL,
			address TEXT,
			status TEXT NOT NULL,
			participants INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);`,
		`CREATE INDEX IF NOT EXISTS idx_events_geo ON events(lat, lng);`,
		`CREATE TABLE IF NOT EXISTS collectibles (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			name TEXT NOT NULL,
			rarity TEXT NOT NULL,
			score INTEGER NOT NULL,
			lng REAL NOT NULL,
			lat REAL NOT NULL,
			dropped_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			claimed_by TEXT,
			claimed_at INTEGER,
			is_active INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_collectibles_event ON collectibles(event_id);`,
		`CREATE INDEX IF NOT EXISTS idx_collectibles_active_expiry ON collectibles(is_active, expires_at);`,
		`CREATE TABLE IF NOT EXISTS user_locations (
			user_id TEXT PRIMARY KEY,
			lng REAL NOT NULL,
			lat REAL NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS user_collectibles (
			user_id TEXT NOT NULL,
			collectible_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			claimed_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, collectible_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_user_collectibles_user ON user_collectibles(user_id, claimed_at);`,
	}
	for _, st := range stmts {
		if _, err := db.Exec(st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) InsertEvent(ctx context.Context, ev store.Event) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id,title,description,category,creator_id,lng,lat,address,status,participants,created_at,updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.Title, ev.Description, ev.Category, ev.CreatorID,
		ev.Location.Lng, ev.Location.Lat, ev.Address, ev.Status, ev.Participants,
		ev.CreatedAt.UnixMicro(), ev.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		return "", err
	}
	return ev.ID, nil
}

const eventCols = `id,title,description,category,creator_id,lng,lat,address,status,participants,created_at,updated_at`

func scanEvent(row interface{ Scan(...any) error }) (store.Event, error) {
	var ev store.Event
	var desc, cat, addr sql.NullString
	var created, updated int64
	err := row.Scan(&ev.ID, &ev.Title, &desc, &cat, &ev.CreatorID,
		&ev.Location.Lng, &ev.Location.Lat, &addr, &ev.Status, &ev.Participants,
		&created, &updated)
	if err != nil {
		return store.Event{}, err
	}
	ev.Description = desc.String
	ev.Category = cat.String
	ev.Address = addr.String
	ev.CreatedAt = time.UnixMicro(created)
	ev.UpdatedAt = time.UnixMicro(updated)
	return ev, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (store.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id=?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return store.Event{}, store.ErrNotFound
	}
	return ev, err
}

func (s *Store) EventsNear(ctx context.Context, center store.Point, radiusMeters float64, status string, limit int) ([]store.Event, error) {
	minLng, maxLng, minLat, maxLat := store.BoundingBox(center, radiusMeters)
	q := `SELECT ` + eventCols + ` FROM events WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`
	args := []any{minLat, maxLat, minLng, maxLng}
	if status != "" {
		q += ` AND status=?`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type cand struct {
		ev   store.Event
		dist float64
	}
	var cands []cand
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		// Exact distance check; the box query only prefilters.
		if d := store.DistanceMeters(center, ev.Location); d <= radiusMeters {
			cands = append(cands, cand{ev, d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].ev.ID < cands[j].ev.ID
	})
	out := make([]store.Event, 0, len(cands))
	for _, c := range cands {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c.ev)
	}
	return out, nil
}

func (s *Store) ActiveEvents(ctx context.Context, minParticipants int) ([]store.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE status=? AND participants>=? ORDER BY id`,
		store.EventActive, minParticipants)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) EndEvent(ctx context.Context, id string) (*store.Event, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status=?, updated_at=? WHERE id=? AND status=?`,
		store.EventEnded, time.Now().UnixMicro(), id, store.EventActive)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	ev, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Store) AddParticipants(ctx context.Context, eventID string, delta int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET participants=MAX(0, participants+?), updated_at=? WHERE id=?`,
		delta, time.Now().UnixMicro(), eventID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertCollectible(ctx context.Context, c store.Collectible) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	var claimedBy any
	var claimedAt any
	if c.ClaimedBy != "" {
		claimedBy = c.ClaimedBy
	}
	if c.ClaimedAt != nil {
		claimedAt = c.ClaimedAt.UnixMicro()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collectibles(id,event_id,name,rarity,score,lng,lat,dropped_at,expires_at,claimed_by,claimed_at,is_active)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.EventID, c.Name, c.Rarity, c.Score,
		c.Location.Lng, c.Location.Lat,
		c.DroppedAt.UnixMicro(), c.ExpiresAt.UnixMicro(),
		claimedBy, claimedAt, boolInt(c.Active),
	)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

const collectibleCols = `id,event_id,name,rarity,score,lng,lat,dropped_at,expires_at,claimed_by,claimed_at,is_active`

func scanCollectible(row interface{ Scan(...any) error }) (store.Collectible, error) {
	var c store.Collectible
	var claimedBy sql.NullString
	var claimedAt sql.NullInt64
	var dropped, expires int64
	var active int
	err := row.Scan(&c.ID, &c.EventID, &c.Name, &c.Rarity, &c.Score,
		&c.Location.Lng, &c.Location.Lat, &dropped, &expires,
		&claimedBy, &claimedAt, &active)
	if err != nil {
		return store.Collectible{}, err
	}
	c.DroppedAt = time.UnixMicro(dropped)
	c.ExpiresAt = time.UnixMicro(expires)
	c.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		at := time.UnixMicro(claimedAt.Int64)
		c.ClaimedAt = &at
	}
	c.Active = active != 0
	return c, nil
}

func (s *Store) GetCollectible(ctx context.Context, id string) (store.Collectible, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectibleCols+` FROM collectibles WHERE id=?`, id)
	c, err := scanCollectible(row)
	if err == sql.ErrNoRows {
		return store.Collectible{}, store.ErrNotFound
	}
	return c, err
}

func (s *Store) CollectiblesNear(ctx context.Context, center store.Point, radiusMeters float64, now time.Time, limit int) ([]store.Collectible, error) {
	minLng, maxLng, minLat, maxLat := store.BoundingBox(center, radiusMeters)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+collectibleCols+` FROM collectibles
		 WHERE is_active=1 AND expires_at>? AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`,
		now.UnixMicro(), minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type cand struct {
		c    store.Collectible
		dist float64
	}
	var cands []cand
	for rows.Next() {
		c, err := scanCollectible(rows)
		if err != nil {
			return nil, err
		}
		if d := store.DistanceMeters(center, c.Location); d <= radiusMeters {
			cands = append(cands, cand{c, d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].c.ID < cands[j].c.ID
	})
	out := make([]store.Collectible, 0, len(cands))
	for _, c := range cands {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c.c)
	}
	return out, nil
}

func (s *Store) ExpiredActiveCollectibles(ctx context.Context, now time.Time, limit int) ([]store.Collectible, error) {
	q := `SELECT ` + collectibleCols + ` FROM collectibles WHERE is_active=1 AND expires_at<=? ORDER BY id`
	args := []any{now.UnixMicro()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Collectible
	for rows.Next() {
		c, err := scanCollectible(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCollectible(ctx context.Context, id string, cond store.CollectibleCond, set store.CollectibleSet) (*store.Collectible, error) {
	var sets []string
	var args []any
	if set.ClaimedBy != nil {
		sets = append(sets, "claimed_by=?")
		args = append(args, *set.ClaimedBy)
	}
	if set.ClaimedAt != nil {
		sets = append(sets, "claimed_at=?")
		args = append(args, set.ClaimedAt.UnixMicro())
	}
	if set.Active != nil {
		sets = append(sets, "is_active=?")
		args = append(args, boolInt(*set.Active))
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("sqlitestore: empty update")
	}

	where := []string{"id=?"}
	args = append(args, id)
	if cond.Unclaimed {
		where = append(where, "claimed_by IS NULL")
	}
	if cond.Active != nil {
		where = append(where, "is_active=?")
		args = append(args, boolInt(*cond.Active))
	}
	if cond.ExpiresAfter != nil {
		where = append(where, "expires_at>?")
		args = append(args, cond.ExpiresAfter.UnixMicro())
	}
	if cond.ExpiredBy != nil {
		where = append(where, "expires_at<=?")
		args = append(args, cond.ExpiredBy.UnixMicro())
	}

	// One statement: SQLite evaluates condition and mutation indivisibly.
	res, err := s.db.ExecContext(ctx,
		`UPDATE collectibles SET `+strings.Join(sets, ",")+` WHERE `+strings.Join(where, " AND "),
		args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	c, err := s.GetCollectible(ctx, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpsertUserLocation(ctx context.Context, userID string, p store.Point, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_locations(user_id,lng,lat,updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET lng=excluded.lng, lat=excluded.lat, updated_at=excluded.updated_at`,
		userID, p.Lng, p.Lat, at.UnixMicro())
	return err
}

func (s *Store) AddInventory(ctx context.Context, item store.InventoryItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO user_collectibles(user_id,collectible_id,event_id,claimed_at) VALUES(?,?,?,?)`,
		item.UserID, item.CollectibleID, item.EventID, item.ClaimedAt.UnixMicro())
	return err
}

func (s *Store) Inventory(ctx context.Context, userID string) ([]store.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id,collectible_id,event_id,claimed_at FROM user_collectibles WHERE user_id=? ORDER BY claimed_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.InventoryItem
	for rows.Next() {
		var it store.InventoryItem
		var at int64
		if err := rows.Scan(&it.UserID, &it.CollectibleID, &it.EventID, &at); err != nil {
			return nil, err
		}
		it.ClaimedAt = time.UnixMicro(at)
		out = append(out, it)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
