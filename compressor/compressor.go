package compressor

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/cockroachdb/errors"
)

type ContentEncoding int

const (
	ContentEncodingGzip    ContentEncoding = 0
	ContentEncodingDeflate ContentEncoding = 1
	ContentEncodingBrotli  ContentEncoding = 2
	ContentEncodingPlain   ContentEncoding = 3
)

var (
	ErrUnknownContentEncoding = errors.New("[LAB] unknown content encoding")
)

// String returns the Content-Encoding token, empty for plain.
func (e ContentEncoding) String() string {
	switch e {
	case ContentEncodingGzip:
		return "gzip"
	case ContentEncodingDeflate:
		return "deflate"
	case ContentEncodingBrotli:
		return "br"
	default:
		return ""
	}
}

// ParseContentEncoding maps a Content-Encoding header value to a ContentEncoding.
func ParseContentEncoding(s string) (ContentEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gzip", "x-gzip":
		return ContentEncodingGzip, nil
	case "deflate":
		return ContentEncodingDeflate, nil
	case "br":
		return ContentEncodingBrotli, nil
	case "", "identity":
		return ContentEncodingPlain, nil
	default:
		return ContentEncodingPlain, errors.Wrapf(ErrUnknownContentEncoding, "%q", s)
	}
}

// preference orders the encodings we produce, best first.
var preference = []ContentEncoding{ContentEncodingBrotli, ContentEncodingGzip, ContentEncodingDeflate}

// Negotiate picks the response encoding for an Accept-Encoding header value.
// Among acceptable codings with the highest q-value, br is preferred over gzip over deflate.
// It returns ContentEncodingPlain when nothing we support is acceptable.
func Negotiate(acceptEncoding string) ContentEncoding {
	if acceptEncoding == "" {
		return ContentEncodingPlain
	}

	q := map[string]float64{}
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		weight := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				weight = f
			}
		}
		q[name] = weight
	}

	best, bestQ := ContentEncodingPlain, 0.0
	for _, enc := range preference {
		weight, ok := q[enc.String()]
		if !ok {
			weight, ok = q["*"]
		}
		if ok && weight > bestQ {
			best, bestQ = enc, weight
		}
	}
	return best
}

type CompressorManager struct {
	byteReaderPool   sync.Pool
	bufferPool       sync.Pool
	gzipWriterPool   sync.Pool
	zlibWriterPool   sync.Pool
	brotliWriterPool sync.Pool
}

func NewCompressorManager() *CompressorManager {
	return &CompressorManager{
		byteReaderPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewReader(nil)
			},
		},
		gzipWriterPool: sync.Pool{
			New: func() interface{} {
				return gzip.NewWriter(nil)
			},
		},
		zlibWriterPool: sync.Pool{
			New: func() interface{} {
				return zlib.NewWriter(nil)
			},
		},
		brotliWriterPool: sync.Pool{
			New: func() interface{} {
				return brotli.NewWriter(nil)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Compress encodes data with tp. The returned slice is owned by the caller.
func (c *CompressorManager) Compress(tp ContentEncoding, data []byte) ([]byte, error) {
	if data == nil {
		return nil, nil
	}

	switch tp {
	case ContentEncodingGzip:
		return c.compress(&c.gzipWriterPool, data)
	case ContentEncodingDeflate:
		return c.compress(&c.zlibWriterPool, data)
	case ContentEncodingBrotli:
		return c.compress(&c.brotliWriterPool, data)
	case ContentEncodingPlain:
		return data, nil
	default:
		return nil, ErrUnknownContentEncoding
	}
}

// Decompress decodes data encoded with tp.
func (c *CompressorManager) Decompress(tp ContentEncoding, data []byte) ([]byte, error) {
	if data == nil {
		return nil, nil
	}

	byteReader := c.byteReaderPool.Get().(*bytes.Reader)
	defer c.byteReaderPool.Put(byteReader)
	byteReader.Reset(data)

	var reader io.Reader
	switch tp {
	case ContentEncodingGzip:
		r, err := gzip.NewReader(byteReader)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer r.Close()
		reader = r
	case ContentEncodingDeflate:
		r, err := zlib.NewReader(byteReader)
		if err != nil {
			return nil, errors.Wrap(err, "deflate")
		}
		defer r.Close()
		reader = r
	case ContentEncodingBrotli:
		reader = brotli.NewReader(byteReader)
	case ContentEncodingPlain:
		return data, nil
	default:
		return nil, ErrUnknownContentEncoding
	}

	return io.ReadAll(reader)
}

type resetWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

func (c *CompressorManager) compress(pool *sync.Pool, data []byte) ([]byte, error) {
	writer := pool.Get().(resetWriter)
	defer pool.Put(writer)

	buf := c.bufferPool.Get().(*bytes.Buffer)
	defer c.bufferPool.Put(buf)

	buf.Reset()
	writer.Reset(buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}
