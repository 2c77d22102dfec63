package util

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// eofReader is used to reset gzip readers without allocating bufio.Reader
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
func (eofReader) ReadByte() (byte, error)  { return 0, io.EOF }

var (
	gzipReaders sync.Pool
	gzipWriters = sync.Pool{
		New: func() any { return gzip.NewWriter(io.Discard) },
	}
)

// GzipReader returns a reader decompressing r. Closing it returns the
// underlying gzip.Reader to the pool, so it must be closed exactly once.
func GzipReader(r io.Reader) (io.ReadCloser, error) {
	if zr, ok := gzipReaders.Get().(*gzip.Reader); ok {
		if err := zr.Reset(r); err != nil {
			putGzipReader(zr)
			return nil, err
		}
		return &pooledGzipReadCloser{zr: zr}, nil
	}
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &pooledGzipReadCloser{zr: zr}, nil
}

func putGzipReader(zr *gzip.Reader) {
	_ = zr.Reset(eofReader{})
	gzipReaders.Put(zr)
}

type pooledGzipReadCloser struct {
	zr   *gzip.Reader
	once sync.Once
}

func (p *pooledGzipReadCloser) Read(b []byte) (int, error) {
	if p.zr == nil {
		return 0, io.EOF
	}
	return p.zr.Read(b)
}

func (p *pooledGzipReadCloser) Close() error {
	var err error
	p.once.Do(func() {
		err = p.zr.Close()
		putGzipReader(p.zr)
		p.zr = nil
	})
	return err
}

// GzipTo compresses src and appends the result to dst.
func GzipTo(dst *bytes.Buffer, src []byte) error {
	gw := gzipWriters.Get().(*gzip.Writer)
	defer func() {
		gw.Reset(io.Discard)
		gzipWriters.Put(gw)
	}()

	gw.Reset(dst)
	if _, err := gw.Write(src); err != nil {
		return err
	}
	return gw.Close()
}
