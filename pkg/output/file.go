package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// FileOutput writes one text file per shard, one value per line.
type FileOutput struct {
	dir     string
	writers *writers[*fileWriter]
}

func NewFileOutput(dir string, shards int) (*FileOutput, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileOutput{dir: dir, writers: newWriters[*fileWriter](shards)}, nil
}

func (o *FileOutput) Shards() int {
	return o.writers.shards
}

func (o *FileOutput) Writer(shard int) (Writer, error) {
	return o.writers.get(shard, func() (*fileWriter, error) {
		path := filepath.Join(o.dir, fmt.Sprintf("part-%016d", shard))
		file, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create part file: %w", err)
		}
		return &fileWriter{path: path, file: file, buf: bufio.NewWriter(file)}, nil
	})
}

func (o *FileOutput) Finalize(closed map[int]Handle) (*Result, error) {
	handles, err := DenseHandles(closed, o.Shards())
	if err != nil {
		return nil, err
	}
	for i, h := range handles {
		if _, err := os.Stat(string(h)); err != nil {
			return nil, fmt.Errorf("shard %d output %s: %w", i, h, err)
		}
	}
	return &Result{Type: TypeFile, Location: o.dir, Handles: handles}, nil
}

type fileWriter struct {
	lifecycle
	path string
	file *os.File
	buf  *bufio.Writer
}

func (w *fileWriter) Write(value any) error {
	return w.write(func() error {
		_, err := fmt.Fprintln(w.buf, value)
		return err
	})
}

func (w *fileWriter) Close() (Handle, error) {
	return w.close(func() (Handle, error) {
		if err := w.buf.Flush(); err != nil {
			return "", err
		}
		if err := w.file.Close(); err != nil {
			return "", err
		}
		return Handle(w.path), nil
	})
}
