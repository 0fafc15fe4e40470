package nats

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/gomts/internal/testutil"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/nameservice"
	"github.com/fxsml/gomts/transport"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrConfig)

	p, err := New(Config{Directory: nameservice.NewMemory(), SubjectPrefix: "plat."})
	require.NoError(t, err)
	assert.Equal(t, Name, p.Name())
	assert.Equal(t, "plat.node.n1", p.NodeSubject("n1"))
	assert.Equal(t, "plat.multicast", p.MulticastSubject())
	assert.Equal(t, 5*time.Second, p.cfg.RequestTimeout)
	assert.Equal(t, link.Cost(50), p.cfg.Cost)
}

func TestProtocol_NotStarted(t *testing.T) {
	p, err := New(Config{Directory: nameservice.NewMemory(), Logger: discard()})
	require.NoError(t, err)

	bob := message.NewAddress("bob")
	assert.Error(t, p.RegisterNode(context.Background()))
	assert.Error(t, p.RegisterClient(context.Background(), bob))
	assert.NoError(t, p.UnregisterClient(context.Background(), bob))
	assert.False(t, p.AddressKnown(context.Background(), message.LocalBroadcast))

	_, err = p.DestinationLink(message.LocalBroadcast)
	assert.ErrorIs(t, err, link.ErrUnregisteredName)

	l, err := p.DestinationLink(bob)
	require.NoError(t, err)
	msg := message.New(message.NewAddress("alice"), bob, nil)
	assert.Equal(t, link.MaxCost, l.Cost(msg))
	err = l.ForwardMessage(context.Background(), msg)
	assert.ErrorIs(t, err, link.ErrCommFailure)
	assert.NoError(t, p.Close())
}

type natsNode struct {
	*transport.Service
	drops chan error
}

// Runs against a real server, e.g. MTS_TEST_NATS_URL=nats://localhost:4222.
func newNATSNode(t *testing.T, url, prefix string, dir nameservice.Directory, id string, cfg transport.Config) *natsNode {
	t.Helper()
	p, err := New(Config{URL: url, Directory: dir, Logger: discard(), SubjectPrefix: prefix})
	require.NoError(t, err)

	cfg.Identifier = id
	cfg.Backoff = transport.ConstantBackoff(10*time.Millisecond, 0)
	s, err := transport.New(cfg, transport.WithLogger(discard()), transport.WithProtocols(p))
	require.NoError(t, err)
	n := &natsNode{Service: s, drops: make(chan error, 16)}
	s.AddWatcher(&transport.WatcherFuncs{
		Dropped: func(_ *message.Message, err error) { n.drops <- err },
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return n
}

func (n *natsNode) flush(t *testing.T) []*message.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dropped, err := n.FlushMessages(ctx)
	require.NoError(t, err)
	return dropped
}

func (n *natsNode) client(t *testing.T, name string) *testutil.RecordingClient {
	t.Helper()
	c := testutil.NewRecordingClient(name)
	require.NoError(t, n.RegisterClient(context.Background(), c))
	return c
}

func TestNATS_Integration(t *testing.T) {
	url := os.Getenv("MTS_TEST_NATS_URL")
	if url == "" {
		t.Skip("MTS_TEST_NATS_URL not set")
	}

	prefix := "mtstest" + time.Now().Format("150405.000000")
	dir := nameservice.NewMemory()
	a := newNATSNode(t, url, prefix, dir, "a", transport.Config{})
	b := newNATSNode(t, url, prefix, dir, "b", transport.Config{})
	alice := a.client(t, "alice")
	bob := b.client(t, "bob")

	t.Run("unicast", func(t *testing.T) {
		sent := message.New(alice.Address(), bob.Address(), []byte("over nats"))
		require.NoError(t, a.SendMessage(sent))
		assert.Empty(t, a.flush(t))
		require.Equal(t, []string{"over nats"}, bob.Payloads())
		p, _ := bob.Messages()[0].Attributes().String(message.AttrProtocol)
		assert.Equal(t, Name, p)
	})

	t.Run("misdelivered", func(t *testing.T) {
		ghost := message.NewAddress("ghost")
		require.NoError(t, dir.Register(context.Background(), nameservice.Entry{
			Address: ghost, Protocol: Name, Endpoint: prefix + ".node.b",
		}))
		require.NoError(t, a.SendMessage(message.New(alice.Address(), ghost, nil)))
		require.Len(t, a.flush(t), 1)
		select {
		case err := <-a.drops:
			assert.ErrorIs(t, err, link.ErrMisdelivered)
		case <-time.After(time.Second):
			t.Fatal("no drop reported")
		}
	})

	t.Run("multicast", func(t *testing.T) {
		group := message.NewMulticastAddress("ops")
		r1 := a.client(t, "r1")
		r2 := b.client(t, "r2")
		require.NoError(t, a.JoinGroup(group, r1))
		require.NoError(t, b.JoinGroup(group, r2))

		sent := message.New(alice.Address(), group, []byte("everyone"))
		require.NoError(t, a.SendMessage(sent))
		assert.Empty(t, a.flush(t))
		assert.Equal(t, message.StatusBestEffort, message.Status(sent))
		assert.Eventually(t, func() bool { return r1.Len() == 1 && r2.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	})
}
