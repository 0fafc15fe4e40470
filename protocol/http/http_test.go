package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/aspects"
	"github.com/fxsml/gomts/internal/testutil"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/nameservice"
	"github.com/fxsml/gomts/protocol"
	"github.com/fxsml/gomts/transport"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type node struct {
	*transport.Service
	proto *Protocol
	srv   *httptest.Server
	drops chan error
}

func newNode(t *testing.T, dir nameservice.Directory, id string, cfg transport.Config, chain ...*aspect.Aspect) *node {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p, err := New(Config{Endpoint: srv.URL, Directory: dir, Logger: discard(), LookupAttempts: 1})
	require.NoError(t, err)
	mux.Handle(DefaultPath, p.Handler())

	cfg.Identifier = id
	cfg.Backoff = transport.ConstantBackoff(time.Millisecond, 0)
	s, err := transport.New(cfg,
		transport.WithLogger(discard()),
		transport.WithProtocols(p),
		transport.WithAspects(chain...))
	require.NoError(t, err)

	n := &node{Service: s, proto: p, srv: srv, drops: make(chan error, 16)}
	s.AddWatcher(&transport.WatcherFuncs{
		Dropped: func(_ *message.Message, err error) { n.drops <- err },
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return n
}

func (n *node) client(t *testing.T, name string) *testutil.RecordingClient {
	t.Helper()
	c := testutil.NewRecordingClient(name)
	require.NoError(t, n.RegisterClient(context.Background(), c))
	return c
}

func (n *node) flush(t *testing.T) []*message.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dropped, err := n.FlushMessages(ctx)
	require.NoError(t, err)
	return dropped
}

func (n *node) nextDrop(t *testing.T) error {
	t.Helper()
	select {
	case err := <-n.drops:
		return err
	case <-time.After(time.Second):
		t.Fatal("no drop reported")
		return nil
	}
}

func TestHTTP_Unicast(t *testing.T) {
	dir := nameservice.NewMemory()
	a := newNode(t, dir, "a", transport.Config{})
	b := newNode(t, dir, "b", transport.Config{})
	alice := a.client(t, "alice")
	bob := b.client(t, "bob")

	require.True(t, a.AddressKnown(context.Background(), bob.Address()))
	sent := message.New(alice.Address(), bob.Address(), []byte("over http"))
	require.NoError(t, a.SendMessage(sent))
	assert.Empty(t, a.flush(t))

	require.Equal(t, []string{"over http"}, bob.Payloads())
	got := bob.Messages()[0]
	assert.Equal(t, sent.ID(), got.ID())
	p, _ := got.Attributes().String(message.AttrProtocol)
	assert.Equal(t, Name, p)
	out, _ := sent.Attributes().Int(message.AttrBytesOut)
	in, _ := got.Attributes().Int(message.AttrBytesIn)
	assert.Positive(t, out)
	assert.Equal(t, out, in)
}

func TestHTTP_Multicast(t *testing.T) {
	dir := nameservice.NewMemory()
	a := newNode(t, dir, "a", transport.Config{})
	b := newNode(t, dir, "b", transport.Config{})
	group := message.NewMulticastAddress("ops")

	alice := a.client(t, "alice")
	r1 := a.client(t, "r1")
	r2 := b.client(t, "r2")
	require.NoError(t, a.JoinGroup(group, r1))
	require.NoError(t, b.JoinGroup(group, r2))

	require.NoError(t, a.SendMessage(message.New(alice.Address(), group, []byte("fan out"))))
	assert.Empty(t, a.flush(t))
	assert.Equal(t, []string{"fan out"}, r1.Payloads())
	assert.Equal(t, []string{"fan out"}, r2.Payloads())
}

func TestHTTP_Misdelivered(t *testing.T) {
	dir := nameservice.NewMemory()
	a := newNode(t, dir, "a", transport.Config{})
	b := newNode(t, dir, "b", transport.Config{})
	alice := a.client(t, "alice")

	ghost := message.NewAddress("ghost")
	require.NoError(t, dir.Register(context.Background(), nameservice.Entry{Address: ghost, Protocol: Name, Endpoint: b.srv.URL}))

	require.NoError(t, a.SendMessage(message.New(alice.Address(), ghost, nil)))
	require.Len(t, a.flush(t), 1)
	assert.ErrorIs(t, a.nextDrop(t), link.ErrMisdelivered)
}

func TestHTTP_SecurityRejection(t *testing.T) {
	dir := nameservice.NewMemory()
	guard, err := aspects.Guard(aspects.GuardConfig{Key: []byte("k")})
	require.NoError(t, err)

	a := newNode(t, dir, "a", transport.Config{})
	b := newNode(t, dir, "b", transport.Config{}, guard)
	alice := a.client(t, "alice")
	bob := b.client(t, "bob")

	require.NoError(t, a.SendMessage(message.New(alice.Address(), bob.Address(), nil)))
	require.Len(t, a.flush(t), 1)
	assert.ErrorIs(t, a.nextDrop(t), link.ErrMessageSecurity)
	assert.Zero(t, bob.Len())
}

func TestHTTP_CommFailureIsRetried(t *testing.T) {
	dir := nameservice.NewMemory()
	a := newNode(t, dir, "a", transport.Config{MaxAttempts: 2})
	alice := a.client(t, "alice")

	gone := httptest.NewServer(http.NotFoundHandler())
	gone.Close()
	carol := message.NewAddress("carol")
	require.NoError(t, dir.Register(context.Background(), nameservice.Entry{Address: carol, Protocol: Name, Endpoint: gone.URL}))

	require.NoError(t, a.SendMessage(message.New(alice.Address(), carol, nil)))
	require.Len(t, a.flush(t), 1)
	err := a.nextDrop(t)
	assert.ErrorIs(t, err, link.ErrCommFailure)
	assert.ErrorIs(t, err, transport.ErrMaxAttempts)
}

func TestHTTP_UnknownAddress(t *testing.T) {
	dir := nameservice.NewMemory()
	a := newNode(t, dir, "a", transport.Config{})
	alice := a.client(t, "alice")

	nobody := message.NewAddress("nobody")
	assert.False(t, a.AddressKnown(context.Background(), nobody))
	require.NoError(t, a.SendMessage(message.New(alice.Address(), nobody, nil)))
	require.Len(t, a.flush(t), 1)
	assert.ErrorIs(t, a.nextDrop(t), transport.ErrNoLink)
}

func TestHTTP_StopWithdrawsRegistrations(t *testing.T) {
	dir := nameservice.NewMemory()
	b := newNode(t, dir, "b", transport.Config{})
	bob := b.client(t, "bob")
	ctx := context.Background()

	endpoints, err := dir.Endpoints(ctx, Name)
	require.NoError(t, err)
	assert.Equal(t, []string{b.srv.URL}, endpoints)

	require.NoError(t, b.Stop())
	_, err = dir.Lookup(ctx, bob.Address(), Name)
	assert.ErrorIs(t, err, nameservice.ErrNotFound)
	_, err = dir.Lookup(ctx, protocol.NodeAddress("b"), Name)
	assert.ErrorIs(t, err, nameservice.ErrNotFound)
}

func TestHandler(t *testing.T) {
	dir := nameservice.NewMemory()
	p, err := New(Config{Endpoint: "http://localhost:1", Directory: dir, Logger: discard()})
	require.NoError(t, err)
	h := p.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, DefaultPath, strings.NewReader("{}")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "not started")

	s, err := transport.New(transport.Config{}, transport.WithLogger(discard()))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	require.NoError(t, p.Start(context.Background(), s))
	bob := testutil.NewRecordingClient("bob")
	require.NoError(t, s.RegisterClient(context.Background(), bob))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, DefaultPath, strings.NewReader("not json"))
	req.Header.Set("Content-Type", protocol.ContentType)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(protocol.OutcomeInvalid), rec.Header().Get(headerOutcome))

	msg := message.New(message.NewAddress("alice"), message.NewAddress("ghost"), nil)
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, DefaultPath, strings.NewReader(string(data)))
	req.Header.Set("Content-Type", protocol.ContentType)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_BinaryMode(t *testing.T) {
	dir := nameservice.NewMemory()
	p, err := New(Config{Endpoint: "http://localhost:1", Directory: dir, Logger: discard()})
	require.NoError(t, err)

	s, err := transport.New(transport.Config{}, transport.WithLogger(discard()))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	require.NoError(t, p.Start(context.Background(), s))
	bob := testutil.NewRecordingClient("bob")
	require.NoError(t, s.RegisterClient(context.Background(), bob))

	req := httptest.NewRequest(http.MethodPost, DefaultPath, strings.NewReader("raw bytes"))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("ce-specversion", "1.0")
	req.Header.Set("ce-id", "evt-1")
	req.Header.Set("ce-source", "alice")
	req.Header.Set("ce-type", "io.gomts.message")
	req.Header.Set("ce-subject", "bob")
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"raw bytes"}, bob.Payloads())
	assert.Equal(t, "evt-1", bob.Messages()[0].ID())
}

func TestOutcomeFromResponse(t *testing.T) {
	tests := []struct {
		status int
		want   protocol.Outcome
	}{
		{http.StatusNoContent, protocol.OutcomeOK},
		{http.StatusNotFound, protocol.OutcomeMisdelivered},
		{http.StatusForbidden, protocol.OutcomeSecurity},
		{http.StatusBadRequest, protocol.OutcomeInvalid},
		{http.StatusBadGateway, protocol.OutcomeUnavailable},
		{http.StatusTeapot, protocol.OutcomeError},
	}
	for _, tt := range tests {
		resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
		assert.Equal(t, tt.want, outcomeFromResponse(resp), tt.status)
	}
}

func TestNew_Config(t *testing.T) {
	_, err := New(Config{Directory: nameservice.NewMemory()})
	assert.ErrorIs(t, err, ErrConfig)
	_, err = New(Config{Endpoint: "http://x"})
	assert.ErrorIs(t, err, ErrConfig)

	p, err := New(Config{Endpoint: "http://x/", Directory: nameservice.NewMemory(), Path: "in"})
	require.NoError(t, err)
	assert.Equal(t, "http://x", p.cfg.Endpoint)
	assert.Equal(t, "/in", p.cfg.Path)
	assert.Equal(t, Name, p.Name())
}
