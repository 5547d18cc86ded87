// Package sqlite 单文件 SQLite 容器后端。
//
// 节点(分组与数据集)保存在 nodes 表，属性保存在 attrs 表，数据集按 chunk x chunk
// 切块后逐块压缩保存在 chunks 表。窗口读取只取与窗口相交的块。
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"patchstore/store"
)

// DefaultChunkSize 默认块边长
const DefaultChunkSize = 256

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	path        TEXT PRIMARY KEY,
	parent      TEXT NOT NULL,
	name        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	rows        INTEGER NOT NULL DEFAULT 0,
	cols        INTEGER NOT NULL DEFAULT 0,
	channels    INTEGER NOT NULL DEFAULT 0,
	chunk       INTEGER NOT NULL DEFAULT 0,
	compression TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS nodes_parent ON nodes (parent);
CREATE TABLE IF NOT EXISTS attrs (
	path  TEXT NOT NULL,
	name  TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (path, name)
);
CREATE TABLE IF NOT EXISTS chunks (
	path TEXT NOT NULL,
	crow INTEGER NOT NULL,
	ccol INTEGER NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (path, crow, ccol)
);
INSERT OR IGNORE INTO nodes (path, parent, name, kind) VALUES ('/', '', '', 'group');
PRAGMA user_version = 1;
`

const (
	kindGroup   = "group"
	kindDataset = "dataset"
)

type options struct {
	chunkSize int
}

type Option func(*options)

// WithChunkSize 新建数据集的块边长
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// Backend 打开的 SQLite 容器
type Backend struct {
	reader
	db       *sql.DB
	path     string
	readOnly bool
	chunk    int
}

// Open 打开容器文件。只读模式下文件必须存在，读写模式下不存在则创建，已有内容不会被清空。
func Open(path string, readOnly bool, opts ...Option) (*Backend, error) {
	o := options{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if readOnly {
			return nil, fmt.Errorf("%s: %w", path, store.ErrNotFound)
		}
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dsn(path, readOnly))
	if err != nil {
		return nil, err
	}
	b := &Backend{reader: reader{q: db}, db: db, path: path, readOnly: readOnly, chunk: o.chunkSize}
	if readOnly {
		err = b.checkSchema()
	} else {
		_, err = db.Exec(schema)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open container %s: %w", path, err)
	}
	return b, nil
}

func dsn(path string, readOnly bool) string {
	escaped := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(path)
	params := "_busy_timeout=5000"
	if readOnly {
		params += "&mode=ro"
	} else {
		params += "&_journal_mode=WAL&_txlock=immediate"
	}
	return "file:" + escaped + "?" + params
}

func (b *Backend) checkSchema() error {
	var n int
	err := b.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name IN ('nodes', 'attrs', 'chunks')`).Scan(&n)
	if err != nil {
		return err
	}
	if n != 3 {
		return errors.New("not a patch container")
	}
	return nil
}

func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) Writable() bool {
	return !b.readOnly
}

// Begin 开始写事务
func (b *Backend) Begin() (store.Tx, error) {
	if b.readOnly {
		return nil, store.ErrReadOnly
	}
	tx, err := b.db.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{reader: reader{q: tx}, tx: tx, chunk: b.chunk}, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// Tx 写事务
type Tx struct {
	reader
	tx    *sql.Tx
	chunk int
	done  bool
}

func (t *Tx) Commit() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

// Rollback 已结束的事务再次回滚不报错，便于 defer
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

func (t *Tx) CreateGroup(p string) error {
	parent, name, err := t.checkNew(p)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`INSERT INTO nodes (path, parent, name, kind) VALUES (?, ?, ?, ?)`,
		store.Join(p), parent, name, kindGroup)
	return err
}

func (t *Tx) SetAttrs(p string, attrs ...store.Attr) error {
	if t.done {
		return store.ErrTxDone
	}
	p = store.Join(p)
	if _, err := t.kind(p); err != nil {
		return err
	}
	stmt, err := t.tx.Prepare(`INSERT INTO attrs (path, name, value) VALUES (?, ?, ?)
		ON CONFLICT (path, name) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range attrs {
		if a.Name == "" {
			return fmt.Errorf("empty attribute name on %s", p)
		}
		if _, err := stmt.Exec(p, a.Name, string(a.Value)); err != nil {
			return fmt.Errorf("set attribute %s on %s: %w", a.Name, p, err)
		}
	}
	return nil
}

// checkNew 父节点必须是已存在的分组，目标路径必须不存在
func (t *Tx) checkNew(p string) (parent, name string, err error) {
	if t.done {
		return "", "", store.ErrTxDone
	}
	p = store.Join(p)
	parent, name = store.Split(p)
	if err := store.ValidName(name); err != nil {
		return "", "", err
	}
	kind, err := t.kind(parent)
	if err != nil {
		return "", "", err
	}
	if kind != kindGroup {
		return "", "", fmt.Errorf("%s is not a group: %w", parent, store.ErrNotFound)
	}
	ok, err := t.Exists(p)
	if err != nil {
		return "", "", err
	}
	if ok {
		return "", "", fmt.Errorf("%s: %w", p, store.ErrExists)
	}
	return parent, name, nil
}
