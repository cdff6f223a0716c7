package labsvc_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	labsvc "github.com/xizhibei/go-lab-services"
	"github.com/xizhibei/go-lab-services/telemetry"
	"go.uber.org/zap"
)

type testContext struct {
	*labsvc.BaseContext
	method  string
	replies []*labsvc.Response
}

func newTestContext(ctx context.Context, method string) *testContext {
	c := &testContext{method: method}
	c.BaseContext = labsvc.NewBaseContext(ctx, func(res *labsvc.Response) {
		c.replies = append(c.replies, res)
	})
	return c
}

func (c *testContext) ID() *labsvc.ID                 { return &labsvc.ID{Str: "req-1"} }
func (c *testContext) Method() string                 { return c.method }
func (c *testContext) ReplyDesc() string              { return c.method }
func (c *testContext) Bind(request interface{}) error { return nil }
func (c *testContext) PrometheusLabels() prometheus.Labels {
	return prometheus.Labels{"method": c.method}
}

type ServerTestSuite struct {
	suite.Suite
	server        *labsvc.Server
	testTelemetry *telemetry.TestTelemetry
}

func (suite *ServerTestSuite) SetupSuite() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(log)
}

func (suite *ServerTestSuite) SetupTest() {
	suite.testTelemetry = telemetry.NewTestTelemetry(suite.T())
	suite.server = labsvc.NewServer(
		labsvc.WithServerName("test"),
		labsvc.WithLogResponse(true),
		labsvc.WithTelemetry(suite.testTelemetry),
	)
}

func (suite *ServerTestSuite) TearDownTest() {
	suite.NoError(suite.testTelemetry.Shutdown(context.Background()))
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (suite *ServerTestSuite) TestCallOK() {
	route := labsvc.Route("POST", "/add")
	suite.server.Register(route, &labsvc.Handler{
		Method: func(c labsvc.Context) {
			c.ReplyOK(map[string]int64{"result": 5})
		},
	})

	c := newTestContext(context.Background(), route)
	suite.server.Call(c)

	suite.Require().Len(c.replies, 1)
	suite.Equal(labsvc.StatusOK, c.replies[0].Status)
	suite.Equal(map[string]int64{"result": 5}, c.replies[0].Result)

	spans := suite.testTelemetry.GetSpans()
	suite.Require().Len(spans, 1)
	suite.Equal(route, spans[0].Name)
}

func (suite *ServerTestSuite) TestCallUnknownRoute() {
	c := newTestContext(context.Background(), "GET /missing")
	suite.server.Call(c)

	suite.Require().Len(c.replies, 1)
	suite.Equal(labsvc.StatusNotFound, c.replies[0].Status)
	suite.True(errors.Is(c.replies[0].Error, labsvc.ErrUnhandledMethod))
}

func (suite *ServerTestSuite) TestCallNoReply() {
	route := "GET /silent"
	suite.server.Register(route, &labsvc.Handler{
		Method: func(c labsvc.Context) {},
	})

	c := newTestContext(context.Background(), route)
	suite.server.Call(c)

	suite.Require().Len(c.replies, 1)
	suite.Equal(labsvc.StatusServerError, c.replies[0].Status)
	suite.ErrorIs(c.replies[0].Error, labsvc.ErrNoReply)
}

func (suite *ServerTestSuite) TestCallPanic() {
	route := "GET /panic"
	suite.server.Register(route, &labsvc.Handler{
		Method: func(c labsvc.Context) {
			panic("boom")
		},
	})

	c := newTestContext(context.Background(), route)
	suite.server.Call(c)

	suite.Require().Len(c.replies, 1)
	suite.Equal(labsvc.StatusServerError, c.replies[0].Status)
	suite.Contains(c.replies[0].Error.Error(), "boom")
}

func (suite *ServerTestSuite) TestCallReplyOnce() {
	route := "GET /twice"
	suite.server.Register(route, &labsvc.Handler{
		Method: func(c labsvc.Context) {
			suite.True(c.ReplyOK(1))
			suite.False(c.ReplyOK(2))
		},
	})

	c := newTestContext(context.Background(), route)
	suite.server.Call(c)

	suite.Require().Len(c.replies, 1)
	suite.Equal(1, c.replies[0].Result)
}

func (suite *ServerTestSuite) TestCallHandlerTimeout() {
	route := "GET /slow"
	suite.server.Register(route, &labsvc.Handler{
		Timeout: 10 * time.Millisecond,
		Method: func(c labsvc.Context) {
			deadline, ok := c.Context().Deadline()
			suite.True(ok)
			suite.WithinDuration(time.Now().Add(10*time.Millisecond), deadline, 10*time.Millisecond)

			<-c.Context().Done()
			c.ReplyError(labsvc.StatusServiceUnavailable, c.Context().Err())
		},
	})

	c := newTestContext(context.Background(), route)
	suite.server.Call(c)

	suite.Require().Len(c.replies, 1)
	suite.Equal(labsvc.StatusServiceUnavailable, c.replies[0].Status)
	suite.ErrorIs(c.replies[0].Error, context.DeadlineExceeded)
}

func (suite *ServerTestSuite) TestCallDefaultHandlerTimeout() {
	server := labsvc.NewServer(labsvc.WithHandlerTimeout(time.Second))
	route := "GET /deadline"
	server.Register(route, &labsvc.Handler{
		Method: func(c labsvc.Context) {
			_, ok := c.Context().Deadline()
			c.ReplyOK(ok)
		},
	})

	c := newTestContext(context.Background(), route)
	server.Call(c)

	suite.Require().Len(c.replies, 1)
	suite.Equal(true, c.replies[0].Result)
}

func (suite *ServerTestSuite) TestRegisterOverride() {
	route := "GET /override"
	suite.server.Register(route, &labsvc.Handler{
		Method: func(c labsvc.Context) { c.ReplyOK("first") },
	})
	suite.server.Register(route, &labsvc.Handler{
		Method: func(c labsvc.Context) { c.ReplyOK("second") },
	})

	c := newTestContext(context.Background(), route)
	suite.server.Call(c)

	suite.Require().Len(c.replies, 1)
	suite.Equal("second", c.replies[0].Result)
}

func (suite *ServerTestSuite) TestRegisterMetrics() {
	responseTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_response_time_seconds",
	}, []string{"method", "name", "status"})
	errorCount := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "test_error_count",
	}, []string{"method", "name", "status", "message"})

	suite.server.RegisterMetrics(responseTime, errorCount)

	okRoute := "POST /multiply"
	suite.server.Register(okRoute, &labsvc.Handler{
		Method: func(c labsvc.Context) { c.ReplyOK(42) },
	})
	failRoute := "GET /rand"
	suite.server.Register(failRoute, &labsvc.Handler{
		Method: func(c labsvc.Context) {
			c.ReplyError(labsvc.StatusServiceUnavailable, errors.New("suspended"))
		},
	})

	suite.server.Call(newTestContext(context.Background(), okRoute))
	suite.server.Call(newTestContext(context.Background(), failRoute))

	suite.Equal(2, testutil.CollectAndCount(responseTime))
	suite.Equal(1, testutil.CollectAndCount(errorCount))
	suite.Equal(float64(1), testutil.ToFloat64(errorCount.With(prometheus.Labels{
		"method":  failRoute,
		"name":    "test",
		"status":  "503",
		"message": "Service Unavailable",
	})))
}

func (suite *ServerTestSuite) TestRegisterMetricsErrorLabelIsBounded() {
	errorCount := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "test_error_count",
	}, []string{"method", "name", "status", "message"})
	suite.server.RegisterMetrics(nil, errorCount)

	route := "POST /add"
	var value string
	suite.server.Register(route, &labsvc.Handler{
		Method: func(c labsvc.Context) {
			c.ReplyError(labsvc.StatusClientError, errors.Newf("cannot unmarshal number %s", value))
		},
	})

	for _, v := range []string{"9223372036854775808", "1e400", "-9223372036854775809"} {
		value = v
		suite.server.Call(newTestContext(context.Background(), route))
	}

	suite.Equal(1, testutil.CollectAndCount(errorCount))
	suite.Equal(float64(3), testutil.ToFloat64(errorCount.With(prometheus.Labels{
		"method":  route,
		"name":    "test",
		"status":  "400",
		"message": "Bad Request",
	})))
}

func (suite *ServerTestSuite) TestOnAfterResponse() {
	route := "POST /add"
	suite.server.Register(route, &labsvc.Handler{
		Method: func(c labsvc.Context) { c.ReplyOK(5) },
	})

	var got labsvc.AfterResponseEvent
	suite.server.OnAfterResponse(func(e *labsvc.AfterResponseEvent) {
		got = *e
	})

	suite.server.Call(newTestContext(context.Background(), route))

	suite.Equal(route, got.Labels["method"])
	suite.Require().NotNil(got.Res)
	suite.Equal(labsvc.StatusOK, got.Res.Status)
	suite.Positive(int64(got.Duration))
}

func TestIDString(t *testing.T) {
	suite.Run(t, new(idSuite))
}

type idSuite struct{ suite.Suite }

func (s *idSuite) TestString() {
	s.Equal("abc", (&labsvc.ID{Num: 1, Str: "abc"}).String())
	s.Equal("42", (&labsvc.ID{Num: 42}).String())
}
