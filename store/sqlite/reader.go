package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"patchstore/store"
)

type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// reader 同时服务于连接池与事务
type reader struct {
	q queryer
}

func (r reader) kind(p string) (string, error) {
	var kind string
	err := r.q.QueryRow(`SELECT kind FROM nodes WHERE path = ?`, p).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", p, store.ErrNotFound)
	}
	return kind, err
}

func (r reader) Exists(p string) (bool, error) {
	var n int
	err := r.q.QueryRow(`SELECT count(*) FROM nodes WHERE path = ?`, store.Join(p)).Scan(&n)
	return n > 0, err
}

func (r reader) Members(group string) ([]string, error) {
	group = store.Join(group)
	kind, err := r.kind(group)
	if err != nil {
		return nil, err
	}
	if kind != kindGroup {
		return nil, fmt.Errorf("%s is not a group: %w", group, store.ErrNotFound)
	}
	return r.strings(`SELECT name FROM nodes WHERE parent = ? ORDER BY rowid`, group)
}

func (r reader) AttrNames(p string) ([]string, error) {
	p = store.Join(p)
	if _, err := r.kind(p); err != nil {
		return nil, err
	}
	return r.strings(`SELECT name FROM attrs WHERE path = ? ORDER BY rowid`, p)
}

func (r reader) Attr(p, name string) (store.Attr, error) {
	p = store.Join(p)
	var value string
	err := r.q.QueryRow(`SELECT value FROM attrs WHERE path = ? AND name = ?`, p, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if _, kerr := r.kind(p); kerr != nil {
			return store.Attr{}, kerr
		}
		return store.Attr{}, fmt.Errorf("attribute %s on %s: %w", name, p, store.ErrNotFound)
	}
	if err != nil {
		return store.Attr{}, err
	}
	return store.Attr{Name: name, Value: json.RawMessage(value)}, nil
}

func (r reader) Dataset(p string) (store.DatasetInfo, error) {
	p = store.Join(p)
	info := store.DatasetInfo{Path: p}
	var kind string
	err := r.q.QueryRow(`SELECT kind, rows, cols, channels, chunk, compression FROM nodes WHERE path = ?`, p).
		Scan(&kind, &info.Shape.Rows, &info.Shape.Cols, &info.Shape.Channels, &info.ChunkSize, &info.Compression)
	if errors.Is(err, sql.ErrNoRows) {
		return info, fmt.Errorf("%s: %w", p, store.ErrNotFound)
	}
	if err != nil {
		return info, err
	}
	if kind != kindDataset {
		return info, fmt.Errorf("%s is not a dataset: %w", p, store.ErrNotFound)
	}
	return info, nil
}

func (r reader) strings(query string, args ...any) ([]string, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
