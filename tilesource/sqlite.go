package tilesource

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/twpayne/go-lod"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS tiles (
	level INTEGER NOT NULL,
	tile_row INTEGER NOT NULL,
	tile_column INTEGER NOT NULL,
	tile_data BLOB NOT NULL,
	PRIMARY KEY (level, tile_row, tile_column)
)`

// A SQLiteSource reads tile payloads from the tiles table of a SQLite
// database, keyed by level number, row, and column.
type SQLiteSource struct {
	options
	uri  string
	pool *sqlitex.Pool
}

// OpenSQLiteSource opens the SQLite database at uri, creating the tiles table
// if needed.
func OpenSQLiteSource(ctx context.Context, uri string, opts ...Option) (*SQLiteSource, error) {
	pool, err := sqlitex.NewPool(uri, sqlitex.PoolOptions{})
	if err != nil {
		return nil, err
	}
	s := &SQLiteSource{
		options: newOptions(opts...),
		uri:     uri,
		pool:    pool,
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	err = sqlitex.ExecuteTransient(conn, sqliteSchema, nil)
	pool.Put(conn)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("%s: %w", uri, err)
	}

	return s, nil
}

// Decode reads and decodes tile's payload.
func (s *SQLiteSource) Decode(ctx context.Context, tile lod.Tile) ([]float32, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	data, err := s.read(conn, tile.Key())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tile, err)
	}
	s.logger.Debug("read",
		zap.Stringer("tile", tile),
		zap.String("uri", s.uri),
		zap.Int("bytes", len(data)),
	)
	return s.payloadFunc(data, tile)
}

// Put writes data as the payload of the tile identified by key.
func (s *SQLiteSource) Put(ctx context.Context, key lod.TileKey, data []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	stmt, err := conn.Prepare("INSERT OR REPLACE INTO tiles (level, tile_row, tile_column, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Reset() //nolint:errcheck
	stmt.BindInt64(1, int64(key.LevelNumber()))
	stmt.BindInt64(2, int64(key.Row()))
	stmt.BindInt64(3, int64(key.Column()))
	stmt.BindBytes(4, data)
	_, err = stmt.Step()
	return err
}

// Close closes all connections to the database.
func (s *SQLiteSource) Close() error {
	return s.pool.Close()
}

func (s *SQLiteSource) read(conn *sqlite.Conn, key lod.TileKey) ([]byte, error) {
	stmt, err := conn.Prepare("SELECT tile_data FROM tiles WHERE level = ? AND tile_row = ? AND tile_column = ?")
	if err != nil {
		return nil, err
	}
	defer stmt.Reset() //nolint:errcheck
	stmt.BindInt64(1, int64(key.LevelNumber()))
	stmt.BindInt64(2, int64(key.Row()))
	stmt.BindInt64(3, int64(key.Column()))

	switch hasRow, err := stmt.Step(); {
	case err != nil:
		return nil, err
	case !hasRow:
		return nil, lod.ErrTileAbsent
	}
	data := make([]byte, stmt.ColumnLen(0))
	stmt.ColumnBytes(0, data)
	return data, nil
}
