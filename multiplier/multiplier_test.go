package multiplier_test

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xizhibei/go-lab-services/httpjson"
	"github.com/xizhibei/go-lab-services/multiplier"
)

func TestMultiply(t *testing.T) {
	cases := []struct {
		x, y, want int64
	}{
		{7, 6, 42},
		{-7, 6, -42},
		{0, math.MaxInt64, 0},
		{math.MaxInt64, 2, -2},
		{math.MinInt64, -1, math.MinInt64},
		{1 << 32, 1 << 32, 0},
	}

	for _, tc := range cases {
		res := multiplier.Multiply(multiplier.Request{X: tc.x, Y: tc.y})
		assert.Equal(t, tc.want, res.Result, "%d * %d", tc.x, tc.y)
	}
}

func newTestServer() *httptest.Server {
	server := httpjson.NewServer(httpjson.DefaultConfig(), validator.New())
	multiplier.Register(server)
	return httptest.NewServer(server.Handler())
}

func post(t *testing.T, url, body string) (int, string) {
	res, err := http.Post(url+multiplier.Path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(b)
}

func TestHTTPMultiply(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	start := time.Now()
	status, body := post(t, ts.URL, `{"x": 7, "y": 6}`)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `{"result":42}`, body)
}

func TestHTTPMultiplyWraparound(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	status, body := post(t, ts.URL, `{"x": 9223372036854775807, "y": 2}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `{"result":-2}`, body)
}

func TestHTTPMultiplyAbsentFields(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	status, body := post(t, ts.URL, `{"x": 9}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `{"result":0}`, body)
}

func TestHTTPMultiplyBadRequest(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	for _, body := range []string{``, `{"x": 1.5}`, `{"y": "3"}`} {
		status, msg := post(t, ts.URL, body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Contains(t, msg, "invalid request")
	}
}
