package parquet

import (
	"bytes"
	"io"

	"github.com/xitongsys/parquet-go/source"
)

// memFile buffers a parquet file in memory so it can be handed to a
// Repository as a plain reader. The writer emits bytes strictly in
// order, so Seek never has to move.
type memFile struct {
	buf bytes.Buffer
}

var _ source.ParquetFile = (*memFile)(nil)

func newMemFile() *memFile {
	return &memFile{}
}

func (f *memFile) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *memFile) Read(p []byte) (int, error) {
	return f.buf.Read(p)
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	return 0, nil
}

func (f *memFile) Close() error {
	return nil
}

func (f *memFile) Open(name string) (source.ParquetFile, error) {
	return f, nil
}

func (f *memFile) Create(name string) (source.ParquetFile, error) {
	return f, nil
}

func (f *memFile) Reader() io.Reader {
	return &f.buf
}
