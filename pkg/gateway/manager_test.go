package gateway

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"airose/pkg/api"
	"airose/pkg/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	id       string
	started  bool
	stopped  bool
	sent     []string
	signals  []string
	startErr error
}

func (s *stubChannel) ID() string                     { return s.id }
func (s *stubChannel) Start(api.ChannelContext) error { s.started = true; return s.startErr }
func (s *stubChannel) Stop() error                    { s.stopped = true; return nil }
func (s *stubChannel) Send(_ SessionContext, m string) error {
	s.sent = append(s.sent, m)
	return nil
}

type signalChannel struct{ stubChannel }

func (s *signalChannel) SendSignal(_ SessionContext, sig string) error {
	s.signals = append(s.signals, sig)
	return nil
}

type echoHandler struct{ responder api.MessageResponder }

func (h *echoHandler) SetResponder(r api.MessageResponder) { h.responder = r }
func (h *echoHandler) OnMessage(msg *UnifiedMessage) {
	_ = h.responder.SendReply(msg.Session, "echo: "+msg.Content)
}

func TestBuilderWiresHandlerAndMonitor(t *testing.T) {
	var transcript bytes.Buffer
	ch := &stubChannel{id: "web"}
	gw, err := NewGatewayBuilder().
		WithMonitor(monitor.NewCLIMonitorWriter(&transcript)).
		WithChannel(ch).
		WithHandler(&echoHandler{}).
		Build()
	require.NoError(t, err)
	assert.True(t, ch.started)

	gw.OnMessage("web", &UnifiedMessage{
		Session: SessionContext{ChatID: "7", Username: "rose"},
		Content: "hi",
	})

	assert.Equal(t, []string{"echo: hi"}, ch.sent)
	out := transcript.String()
	assert.Contains(t, out, "[web/rose] hi")
	assert.Contains(t, out, "[AI Rose -> web_7] echo: hi")

	gw.StopAll()
	assert.True(t, ch.stopped)
}

func TestBuildFailsWhenAChannelCannotStart(t *testing.T) {
	bad := &stubChannel{id: "telegram", startErr: errors.New("bad token")}
	_, err := NewGatewayBuilder().WithChannel(bad).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.True(t, bad.stopped)
}

func TestBuildRejectsDuplicateChannels(t *testing.T) {
	a, b := &stubChannel{id: "web"}, &stubChannel{id: "web"}
	_, err := NewGatewayBuilder().WithChannel(a, b).Build()
	require.Error(t, err)
	assert.False(t, a.started)
}

func TestSendErrorIsMonitoredAsError(t *testing.T) {
	var transcript bytes.Buffer
	gw := NewGatewayManager()
	gw.SetMonitor(monitor.NewCLIMonitorWriter(&transcript))
	ch := &stubChannel{id: "web"}
	gw.Register(ch)

	require.NoError(t, gw.SendError(SessionContext{ChannelID: "web", ChatID: "1"}, "oops"))
	assert.Equal(t, []string{"oops"}, ch.sent)
	assert.True(t, strings.Contains(transcript.String(), "ERROR web_1"))
}

func TestSignalsOnlyReachSignalingChannels(t *testing.T) {
	gw := NewGatewayManager()
	plain := &stubChannel{id: "plain"}
	sig := &signalChannel{stubChannel{id: "sig"}}
	gw.Register(plain)
	gw.Register(sig)

	assert.NoError(t, gw.SendSignal(SessionContext{ChannelID: "plain"}, "thinking"))
	assert.NoError(t, gw.SendSignal(SessionContext{ChannelID: "sig"}, "thinking"))
	assert.Equal(t, []string{"thinking"}, sig.signals)
	assert.Error(t, gw.SendSignal(SessionContext{ChannelID: "missing"}, "thinking"))
	assert.Equal(t, []string{"plain", "sig"}, gw.ChannelIDs())
}

func TestOnMessageWithoutHandlerCompletesRequest(t *testing.T) {
	gw := NewGatewayManager()
	var gotErr error
	gw.OnMessage("web", &UnifiedMessage{
		Session: SessionContext{ChatID: "1"},
		Content: "hi",
		Done:    func(_ string, err error) { gotErr = err },
	})
	assert.Error(t, gotErr)
}
