package mqtt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

type fakeToken struct {
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                     { return t.done }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeClient struct {
	paho.Client
	connectToken *fakeToken
	publishToken *fakeToken
	published    []string
	disconnects  int
	open         bool
}

func (f *fakeClient) Connect() paho.Token { return f.connectToken }
func (f *fakeClient) IsConnected() bool   { return f.open }
func (f *fakeClient) Disconnect(uint)     { f.disconnects++ }

func (f *fakeClient) Publish(topic string, _ byte, _ bool, _ interface{}) paho.Token {
	f.published = append(f.published, topic)
	return f.publishToken
}

type nopObs struct{ ports.Observability }

func (nopObs) LogInfo(string, ...ports.Field)           {}
func (nopObs) LogError(string, error, ...ports.Field)   {}
func (nopObs) SetGauge(string, float64)                 {}
func (nopObs) RecordCrash(*domain.CrashPackage, string) {}

func testConfig() Config {
	cfg := Config{Broker: "tls://broker.example:8883", ClientID: "node-1"}
	cfg.ApplyDefaults()
	return cfg
}

func TestPublishRequiresLiveSession(t *testing.T) {
	fc := &fakeClient{publishToken: &fakeToken{done: true}}
	c := newWithClient(testConfig(), fc, nopObs{})

	require.Equal(t, ports.ResultNoConnection, c.Publish("t", []byte("x"), 1))
	require.Empty(t, fc.published)

	c.handleConnect(fc)
	require.True(t, c.IsConnected())
	require.Equal(t, ports.ResultAccepted, c.Publish("mesh-trace/node-1/crash", []byte("x"), 1))
	require.Equal(t, []string{"mesh-trace/node-1/crash"}, fc.published)

	c.handleConnectionLost(fc, errors.New("EOF"))
	require.False(t, c.IsConnected())
}

func TestPublishMapsTokenResults(t *testing.T) {
	fc := &fakeClient{}
	c := newWithClient(testConfig(), fc, nopObs{})
	c.handleConnect(fc)

	fc.publishToken = &fakeToken{done: false}
	require.Equal(t, ports.ResultTimeout, c.Publish("t", nil, 1))

	fc.publishToken = &fakeToken{done: true, err: errors.New("payload too large")}
	require.Equal(t, ports.ResultRejected, c.Publish("t", nil, 1))
	require.True(t, c.IsConnected())

	fc.publishToken = &fakeToken{done: true, err: paho.ErrNotConnected}
	require.Equal(t, ports.ResultNoConnection, c.Publish("t", nil, 1))
	require.False(t, c.IsConnected())
}

func TestReconnect(t *testing.T) {
	fc := &fakeClient{connectToken: &fakeToken{done: true}}
	c := newWithClient(testConfig(), fc, nopObs{})
	require.NoError(t, c.Reconnect())

	fc.connectToken = &fakeToken{done: false}
	require.ErrorContains(t, c.Reconnect(), "timed out")

	refused := errors.New("connection refused")
	fc.connectToken = &fakeToken{done: true, err: refused}
	require.ErrorIs(t, c.Reconnect(), refused)

	c.handleConnect(fc)
	require.NoError(t, c.Reconnect(), "a live session must not redial")
}

func TestCloseDisconnectsOpenSession(t *testing.T) {
	fc := &fakeClient{open: true}
	c := newWithClient(testConfig(), fc, nopObs{})
	c.handleConnect(fc)

	c.Close()
	require.Equal(t, 1, fc.disconnects)
	require.False(t, c.IsConnected())
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	cfg.CertFile = "client.crt"
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.QoS = 3
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Broker = ""
	require.Error(t, cfg.Validate())
}

func TestNewRejectsUnreadableCA(t *testing.T) {
	cfg := testConfig()
	cfg.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err := New(cfg, nopObs{})
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	cfg.CAFile = bad
	_, err = New(cfg, nopObs{})
	require.ErrorContains(t, err, "no certificates")
}

func TestNewWithoutTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	c, err := New(cfg, nopObs{})
	require.NoError(t, err)
	require.False(t, c.IsConnected())
}
