package compressor

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewCompressorManager(t *testing.T) {
	manager := NewCompressorManager()

	byteReader := manager.byteReaderPool.Get().(*bytes.Reader)
	assert.NotNil(t, byteReader)
	manager.byteReaderPool.Put(byteReader)

	gzipWriter := manager.gzipWriterPool.Get().(*gzip.Writer)
	assert.NotNil(t, gzipWriter)
	manager.gzipWriterPool.Put(gzipWriter)

	zlibWriter := manager.zlibWriterPool.Get().(*zlib.Writer)
	assert.NotNil(t, zlibWriter)
	manager.zlibWriterPool.Put(zlibWriter)

	brotliWriter := manager.brotliWriterPool.Get().(*brotli.Writer)
	assert.NotNil(t, brotliWriter)
	manager.brotliWriterPool.Put(brotliWriter)

	buffer := manager.bufferPool.Get().(*bytes.Buffer)
	assert.NotNil(t, buffer)
	manager.bufferPool.Put(buffer)
}

func TestCompressorManager_RoundTrip(t *testing.T) {
	manager := NewCompressorManager()
	data := []byte(`{"result":-9223372036854775808}`)

	for _, enc := range []ContentEncoding{ContentEncodingGzip, ContentEncodingDeflate, ContentEncodingBrotli} {
		t.Run(enc.String(), func(t *testing.T) {
			compressed, err := manager.Compress(enc, data)
			assert.NoError(t, err)
			assert.NotEqual(t, data, compressed)

			decompressed, err := manager.Decompress(enc, compressed)
			assert.NoError(t, err)
			assert.Equal(t, data, decompressed)
		})
	}
}

func TestCompressorManager_CompressedBufferNotReused(t *testing.T) {
	manager := NewCompressorManager()

	first, err := manager.Compress(ContentEncodingGzip, []byte("first payload"))
	assert.NoError(t, err)
	snapshot := bytes.Clone(first)

	_, err = manager.Compress(ContentEncodingGzip, []byte("second payload, longer than the first"))
	assert.NoError(t, err)
	assert.Equal(t, snapshot, first)
}

func TestCompressorManager_Plain(t *testing.T) {
	manager := NewCompressorManager()

	plainData := []byte("plain data")
	plainCompressed, err := manager.Compress(ContentEncodingPlain, plainData)
	assert.NoError(t, err)
	assert.Equal(t, plainData, plainCompressed)

	plainDecompressed, err := manager.Decompress(ContentEncodingPlain, plainData)
	assert.NoError(t, err)
	assert.Equal(t, plainData, plainDecompressed)

	nilCompressed, err := manager.Compress(ContentEncodingGzip, nil)
	assert.NoError(t, err)
	assert.Nil(t, nilCompressed)
}

func TestCompressorManager_Unknown(t *testing.T) {
	manager := NewCompressorManager()

	unknownCompressed, err := manager.Compress(4, []byte("unknown data"))
	assert.Equal(t, ErrUnknownContentEncoding, err)
	assert.Nil(t, unknownCompressed)

	_, err = manager.Decompress(4, []byte("unknown data"))
	assert.Equal(t, ErrUnknownContentEncoding, err)
}

func TestCompressorManager_DecompressCorrupt(t *testing.T) {
	manager := NewCompressorManager()

	_, err := manager.Decompress(ContentEncodingGzip, []byte("not gzip"))
	assert.Error(t, err)
}

func TestNegotiate(t *testing.T) {
	cases := []struct {
		header string
		want   ContentEncoding
	}{
		{"", ContentEncodingPlain},
		{"identity", ContentEncodingPlain},
		{"gzip", ContentEncodingGzip},
		{"deflate", ContentEncodingDeflate},
		{"gzip, deflate, br", ContentEncodingBrotli},
		{"gzip;q=1.0, br;q=0.5", ContentEncodingGzip},
		{"br;q=0, gzip", ContentEncodingGzip},
		{"*", ContentEncodingBrotli},
		{"*;q=0.1, deflate;q=0.9", ContentEncodingDeflate},
		{"GZIP", ContentEncodingGzip},
		{"compress", ContentEncodingPlain},
	}

	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			assert.Equal(t, tc.want, Negotiate(tc.header))
		})
	}
}

func TestParseContentEncoding(t *testing.T) {
	enc, err := ParseContentEncoding("br")
	assert.NoError(t, err)
	assert.Equal(t, ContentEncodingBrotli, enc)

	enc, err = ParseContentEncoding("")
	assert.NoError(t, err)
	assert.Equal(t, ContentEncodingPlain, enc)

	enc, err = ParseContentEncoding(" x-gzip ")
	assert.NoError(t, err)
	assert.Equal(t, ContentEncodingGzip, enc)

	_, err = ParseContentEncoding("compress")
	assert.True(t, errors.Is(err, ErrUnknownContentEncoding))
}
