package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/suite"
	"github.com/xizhibei/go-lab-services/mqttadapter"
	mock_mqttadapter "github.com/xizhibei/go-lab-services/mqttadapter/mock"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type DiscoveryTestSuite struct {
	suite.Suite
	mockCtrl   *gomock.Controller
	mockClient *mock_mqttadapter.MockMQTTClientAdapter
	registrar  *Registrar
	ann        Announcement
	now        time.Time
}

func (suite *DiscoveryTestSuite) SetupSuite() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(log)
}

func (suite *DiscoveryTestSuite) SetupTest() {
	suite.mockCtrl = gomock.NewController(suite.T())
	suite.mockClient = mock_mqttadapter.NewMockMQTTClientAdapter(suite.mockCtrl)
	suite.ann = Announcement{
		Service:  "multiplier",
		Address:  "http://10.0.0.7:8080",
		Instance: "a1b2",
	}
	suite.now = time.UnixMilli(1_700_000_000_123)
	suite.registrar = NewWithClient(suite.mockClient, Topic("lab/services", "multiplier", "a1b2"), suite.ann, time.Second)
	suite.registrar.now = func() time.Time { return suite.now }
}

func TestDiscoveryTestSuite(t *testing.T) {
	suite.Run(t, new(DiscoveryTestSuite))
}

func (suite *DiscoveryTestSuite) expectAnnouncement(status Status) *gomock.Call {
	return suite.mockClient.EXPECT().
		PublishBytesWait(gomock.Any(), "lab/services/multiplier/a1b2", byte(1), true, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ byte, _ bool, data []byte) error {
			ann, err := UnmarshalAnnouncement(data)
			suite.Require().NoError(err)
			suite.Equal(suite.ann.WithStatus(status, suite.now), ann)
			return nil
		})
}

func (suite *DiscoveryTestSuite) TestTopic() {
	suite.Equal("lab/services/adder/x", Topic("lab/services", "adder", "x"))
	suite.Equal("lab/services/adder/x", Topic("lab/services/", "adder", "x"))
	suite.Equal("lab/services/multiplier/a1b2", suite.registrar.Topic())
}

func (suite *DiscoveryTestSuite) TestAnnouncementRoundTrip() {
	ann := suite.ann.WithStatus(StatusOnline, suite.now)
	data, err := ann.Marshal()
	suite.Require().NoError(err)

	decoded, err := UnmarshalAnnouncement(data)
	suite.Require().NoError(err)
	suite.Equal(ann, decoded)
	suite.Equal(suite.now.UnixMilli(), decoded.Timestamp.UnixMilli())
}

func (suite *DiscoveryTestSuite) TestUnmarshalInvalid() {
	_, err := UnmarshalAnnouncement([]byte{0xff, 0xff, 0xff})
	suite.True(errors.Is(err, ErrInvalidAnnouncement))

	_, err = UnmarshalAnnouncement(nil)
	suite.True(errors.Is(err, ErrInvalidAnnouncement))
}

func (suite *DiscoveryTestSuite) TestRegister() {
	var onConnect mqttadapter.OnConnectCallback
	suite.mockClient.EXPECT().OnConnect(gomock.Any()).
		DoAndReturn(func(cb mqttadapter.OnConnectCallback) int {
			onConnect = cb
			return 3
		})
	suite.mockClient.EXPECT().OnConnectLost(gomock.Any()).Return(4)
	suite.mockClient.EXPECT().Connect(gomock.Any()).Return(nil)

	suite.NoError(suite.registrar.Register(context.Background()))
	suite.Require().NotNil(onConnect)

	// first connect and one reconnect
	suite.expectAnnouncement(StatusOnline).Times(2)
	onConnect()
	onConnect()
}

func (suite *DiscoveryTestSuite) TestRegisterTwiceSubscribesOnce() {
	suite.mockClient.EXPECT().OnConnect(gomock.Any()).Return(0).Times(1)
	suite.mockClient.EXPECT().OnConnectLost(gomock.Any()).Return(0).Times(1)
	suite.mockClient.EXPECT().Connect(gomock.Any()).Return(nil).Times(2)

	suite.NoError(suite.registrar.Register(context.Background()))
	suite.NoError(suite.registrar.Register(context.Background()))
}

func (suite *DiscoveryTestSuite) TestRegisterConnectFailed() {
	suite.mockClient.EXPECT().OnConnect(gomock.Any()).Return(0)
	suite.mockClient.EXPECT().OnConnectLost(gomock.Any()).Return(0)
	suite.mockClient.EXPECT().Connect(gomock.Any()).Return(errors.New("connection refused"))

	err := suite.registrar.Register(context.Background())
	suite.Require().Error(err)
	suite.Contains(err.Error(), "lab/services/multiplier/a1b2")
}

func (suite *DiscoveryTestSuite) TestConnectionLostThenReconnect() {
	var onConnect mqttadapter.OnConnectCallback
	var onLost mqttadapter.OnConnectLostCallback
	suite.mockClient.EXPECT().OnConnect(gomock.Any()).
		DoAndReturn(func(cb mqttadapter.OnConnectCallback) int {
			onConnect = cb
			return 1
		})
	suite.mockClient.EXPECT().OnConnectLost(gomock.Any()).
		DoAndReturn(func(cb mqttadapter.OnConnectLostCallback) int {
			onLost = cb
			return 2
		})
	suite.mockClient.EXPECT().Connect(gomock.Any()).Return(nil)

	suite.Require().NoError(suite.registrar.Register(context.Background()))
	suite.Require().NotNil(onLost)

	// nothing is published while the connection is down
	suite.NotPanics(func() { onLost(errors.New("EOF")) })

	suite.expectAnnouncement(StatusOnline).Times(1)
	onConnect()
}

func applyOptions(options []mqttadapter.Option) *mqtt.ClientOptions {
	o := &mqttadapter.ClientOptions{ClientOptions: mqtt.NewClientOptions()}
	for _, option := range options {
		option(o)
	}
	return o.ClientOptions
}

func (suite *DiscoveryTestSuite) TestClientOptionsReconnect() {
	cfg := DefaultConfig()
	cfg.ConnectRetryInterval = 2 * time.Second
	cfg.MaxReconnectInterval = 20 * time.Second

	o := applyOptions(clientOptions(cfg, "lab/services/random/x", []byte("bye")))
	suite.True(o.ConnectRetry)
	suite.Equal(2*time.Second, o.ConnectRetryInterval)
	suite.Equal(20*time.Second, o.MaxReconnectInterval)
	suite.True(o.WillEnabled)
	suite.Equal("lab/services/random/x", o.WillTopic)
	suite.Equal([]byte("bye"), o.WillPayload)
}

func (suite *DiscoveryTestSuite) TestClientOptionsDefaults() {
	cfg := DefaultConfig()
	cfg.Username = "lab"
	cfg.Password = "secret"

	o := applyOptions(clientOptions(cfg, "t", nil))
	suite.False(o.ConnectRetry)
	suite.Equal(time.Minute, o.MaxReconnectInterval)
	suite.Equal(int64(30), o.KeepAlive)
	suite.Equal("lab", o.Username)
}

func (suite *DiscoveryTestSuite) TestAnnounceOnlineFailureIsLogged() {
	suite.mockClient.EXPECT().
		PublishBytesWait(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("not connected"))

	suite.NotPanics(suite.registrar.announceOnline)
}

func (suite *DiscoveryTestSuite) TestDeregister() {
	suite.mockClient.EXPECT().OnConnect(gomock.Any()).Return(7)
	suite.mockClient.EXPECT().OnConnectLost(gomock.Any()).Return(8)
	suite.mockClient.EXPECT().Connect(gomock.Any()).Return(nil)
	suite.Require().NoError(suite.registrar.Register(context.Background()))

	gomock.InOrder(
		suite.mockClient.EXPECT().OffConnect(7),
		suite.mockClient.EXPECT().OffConnectLost(8),
		suite.mockClient.EXPECT().IsConnected().Return(true),
		suite.expectAnnouncement(StatusOffline),
		suite.mockClient.EXPECT().Disconnect(),
	)

	suite.NoError(suite.registrar.Deregister(context.Background()))
}

func (suite *DiscoveryTestSuite) TestDeregisterNotConnected() {
	suite.mockClient.EXPECT().IsConnected().Return(false)
	suite.mockClient.EXPECT().Disconnect()

	suite.NoError(suite.registrar.Deregister(context.Background()))
}

func (suite *DiscoveryTestSuite) TestDeregisterPublishFailed() {
	suite.mockClient.EXPECT().IsConnected().Return(true)
	suite.mockClient.EXPECT().
		PublishBytesWait(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(context.DeadlineExceeded)
	suite.mockClient.EXPECT().Disconnect()

	err := suite.registrar.Deregister(context.Background())
	suite.True(errors.Is(err, context.DeadlineExceeded))
}

func (suite *DiscoveryTestSuite) TestNew() {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Broker = "tcp://localhost:1883"
	cfg.Prefix = "lab/test/"
	cfg.Advertise = "http://adder.lab:8080"

	registrar, err := New(cfg, "adder", ":8080")
	suite.Require().NoError(err)

	ann := registrar.Announcement()
	suite.Equal("adder", ann.Service)
	suite.Equal("http://adder.lab:8080", ann.Address)
	suite.NotEmpty(ann.Instance)
	suite.Equal("lab/test/adder/"+ann.Instance, registrar.Topic())
}

func (suite *DiscoveryTestSuite) TestNewInvalidBroker() {
	cfg := DefaultConfig()
	cfg.Broker = "://nope"

	_, err := New(cfg, "adder", ":8080")
	suite.Error(err)
}
