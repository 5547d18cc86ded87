package sqlite

import (
	"fmt"

	"patchstore/geometry"
	"patchstore/store"
)

// CreateDataset 切块压缩写入像素
func (t *Tx) CreateDataset(p string, buf geometry.Buffer, compression string) error {
	parent, name, err := t.checkNew(p)
	if err != nil {
		return err
	}
	s := buf.Shape
	if s.Rows <= 0 || s.Cols <= 0 || len(buf.Pix) != s.Len() {
		return fmt.Errorf("dataset %s: %d bytes for shape %s", p, len(buf.Pix), s)
	}
	codec, err := store.Compression(compression)
	if err != nil {
		return err
	}
	p = store.Join(p)
	_, err = t.tx.Exec(`INSERT INTO nodes (path, parent, name, kind, rows, cols, channels, chunk, compression)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p, parent, name, kindDataset, s.Rows, s.Cols, s.Bands(), t.chunk, codec.Name())
	if err != nil {
		return err
	}

	stmt, err := t.tx.Prepare(`INSERT INTO chunks (path, crow, ccol, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	rows, cols := geometry.GridDims(s.Rows, s.Cols, t.chunk)
	for cr := 0; cr < rows; cr++ {
		for cc := 0; cc < cols; cc++ {
			rect := chunkRect(cr, cc, t.chunk, s)
			block := geometry.NewBuffer(geometry.Shape{Rows: rect.Rows(), Cols: rect.Cols(), Channels: s.Channels})
			geometry.Copy(block, buf, geometry.Window{
				Src: rect,
				Dst: geometry.Rect{Row1: rect.Rows(), Col1: rect.Cols()},
			})
			data, err := codec.Compress(block.Pix)
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(p, cr, cc, data); err != nil {
				return fmt.Errorf("write chunk (%d, %d) of %s: %w", cr, cc, p, err)
			}
		}
	}
	return nil
}

// ReadWindow 只读取与窗口相交的块
func (r reader) ReadWindow(p string, w geometry.Window, dst []byte) error {
	info, err := r.Dataset(p)
	if err != nil {
		return err
	}
	if err := store.CheckWindow(info.Shape, w, dst); err != nil {
		return fmt.Errorf("%s: %w", info.Path, err)
	}
	if w.Src.Empty() {
		return nil
	}
	codec, err := store.Compression(info.Compression)
	if err != nil {
		return err
	}
	n := info.Shape.Bands()
	out := geometry.Buffer{Shape: geometry.Shape{Rows: w.Out.Rows, Cols: w.Out.Cols, Channels: n}, Pix: dst}

	rows, err := r.q.Query(`SELECT crow, ccol, data FROM chunks
		WHERE path = ? AND crow BETWEEN ? AND ? AND ccol BETWEEN ? AND ?`,
		info.Path,
		w.Src.Row0/info.ChunkSize, (w.Src.Row1-1)/info.ChunkSize,
		w.Src.Col0/info.ChunkSize, (w.Src.Col1-1)/info.ChunkSize)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cr, cc int
		var data []byte
		if err := rows.Scan(&cr, &cc, &data); err != nil {
			return err
		}
		pix, err := codec.Decompress(data)
		if err != nil {
			return fmt.Errorf("chunk (%d, %d) of %s: %w", cr, cc, info.Path, err)
		}
		rect := chunkRect(cr, cc, info.ChunkSize, info.Shape)
		block := geometry.Buffer{Shape: geometry.Shape{Rows: rect.Rows(), Cols: rect.Cols(), Channels: n}, Pix: pix}
		if len(pix) != block.Shape.Len() {
			return fmt.Errorf("chunk (%d, %d) of %s is corrupt", cr, cc, info.Path)
		}
		isect := intersect(rect, w.Src)
		if isect.Empty() {
			continue
		}
		geometry.Copy(out, block, geometry.Window{
			Src: shift(isect, -rect.Row0, -rect.Col0),
			Dst: shift(isect, w.Dst.Row0-w.Src.Row0, w.Dst.Col0-w.Src.Col0),
		})
	}
	return rows.Err()
}

func chunkRect(cr, cc, chunk int, s geometry.Shape) geometry.Rect {
	return geometry.Rect{
		Row0: cr * chunk,
		Col0: cc * chunk,
		Row1: min((cr+1)*chunk, s.Rows),
		Col1: min((cc+1)*chunk, s.Cols),
	}
}

func intersect(a, b geometry.Rect) geometry.Rect {
	r := geometry.Rect{
		Row0: max(a.Row0, b.Row0),
		Col0: max(a.Col0, b.Col0),
		Row1: min(a.Row1, b.Row1),
		Col1: min(a.Col1, b.Col1),
	}
	if r.Empty() {
		return geometry.Rect{}
	}
	return r
}

func shift(r geometry.Rect, dr, dc int) geometry.Rect {
	return geometry.Rect{Row0: r.Row0 + dr, Col0: r.Col0 + dc, Row1: r.Row1 + dr, Col1: r.Col1 + dc}
}
