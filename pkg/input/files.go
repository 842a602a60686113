package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/nemanja-m/shardmr/pkg/core"
)

const DefaultBufferSize = 1024 * 1024 // 1MB

// FileInput reads text lines from files matched by doublestar patterns. Each
// record is keyed "path:line" and carries the line text.
type FileInput struct {
	patterns []string
	shards   int
}

func NewFileInput(patterns []string, shards int) *FileInput {
	return &FileInput{patterns: patterns, shards: shards}
}

// Split assigns contiguous groups of matched files to shards. There are never
// more shards than files.
func (in *FileInput) Split(_ context.Context) ([]ShardInput, error) {
	files, err := FindLocalFiles(in.patterns)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInputFiles, strings.Join(in.patterns, ", "))
	}

	ranges, err := RangePartition(0, int64(len(files)), min(in.shards, len(files)))
	if err != nil {
		return nil, err
	}
	shards := make([]ShardInput, len(ranges))
	for i, r := range ranges {
		shards[i] = &fileShard{index: i, files: files[r.Start:r.End]}
	}
	return shards, nil
}

// FindLocalFiles expands glob patterns into the regular files they match.
func FindLocalFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, err
		}
		for _, name := range matches {
			info, err := os.Lstat(name)
			if err != nil {
				continue
			}
			if info.Mode().IsRegular() {
				files = append(files, name)
			}
		}
	}
	return files, nil
}

type fileShard struct {
	index int
	files []string
}

func (s *fileShard) Index() int {
	return s.index
}

func (s *fileShard) Reader(_ context.Context, offset int64) (Reader, error) {
	r := &lineReader{files: s.files}
	for range max(offset, 0) {
		if _, err := r.Next(); err != nil {
			r.Close()
			if err == io.EOF {
				return r, nil
			}
			return nil, err
		}
	}
	return r, nil
}

func (s *fileShard) String() string {
	return fmt.Sprintf("files%v", s.files)
}

// lineReader walks the lines of several files in order.
type lineReader struct {
	files   []string
	file    *os.File
	scanner *bufio.Scanner
	name    string
	line    int
}

func (r *lineReader) Next() (core.Record, error) {
	for {
		if r.scanner == nil {
			if len(r.files) == 0 {
				return core.Record{}, io.EOF
			}
			if err := r.open(r.files[0]); err != nil {
				return core.Record{}, err
			}
			r.files = r.files[1:]
		}

		if r.scanner.Scan() {
			r.line++
			return core.Record{
				Key:   fmt.Sprintf("%s:%d", r.name, r.line),
				Value: r.scanner.Text(),
			}, nil
		}
		if err := r.scanner.Err(); err != nil {
			return core.Record{}, fmt.Errorf("failed to read %s: %w", r.name, err)
		}
		r.Close()
	}
}

func (r *lineReader) open(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, DefaultBufferSize), DefaultBufferSize)

	r.file = file
	r.scanner = scanner
	r.name = name
	r.line = 0
	return nil
}

func (r *lineReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.scanner = nil
	return err
}
