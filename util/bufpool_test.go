package util

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufPool_DoesNotRetainHugeBuffers(t *testing.T) {
	b := BorrowBuf()
	_, _ = b.Write(bytes.Repeat([]byte{'x'}, (maxBufCap*8)+1))
	require.Greater(t, b.Cap(), maxBufCap)

	ReturnBuf(b)

	b2 := BorrowBuf()
	defer ReturnBuf(b2)
	require.LessOrEqual(t, b2.Cap(), maxBufCap)
	require.Zero(t, b2.Len())
}

func TestGzip_RoundTripThroughPools(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`), 100)

	// Several rounds so pooled readers and writers get reused.
	for i := 0; i < 3; i++ {
		buf := BorrowBuf()
		require.NoError(t, GzipTo(buf, payload))
		assert.Less(t, buf.Len(), len(payload))

		zr, err := GzipReader(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		out, err := io.ReadAll(zr)
		require.NoError(t, err)
		require.NoError(t, zr.Close())
		require.NoError(t, zr.Close())
		assert.Equal(t, payload, out)

		ReturnBuf(buf)
	}
}

func TestGzip_ReadableByStandardReader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GzipTo(&buf, []byte("hello")))

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestGzipReader_InvalidHeader(t *testing.T) {
	_, err := GzipReader(bytes.NewReader([]byte("not gzip")))
	assert.Error(t, err)

	// A pooled reader that failed to reset must not poison the next call.
	var buf bytes.Buffer
	require.NoError(t, GzipTo(&buf, []byte("ok")))
	zr, err := GzipReader(&buf)
	require.NoError(t, err)
	defer zr.Close()
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
}
