package receiver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/snipbox/metrics"
)

type message struct {
	text   string
	sender string
}

type chanHandler chan message

func (h chanHandler) OnMessage(text, sender string) (uuid.UUID, error) {
	h <- message{text: text, sender: sender}
	return uuid.New(), nil
}

func startReceiver(t *testing.T) (*Receiver, chanHandler, *metrics.Metrics) {
	t.Helper()
	handler := make(chanHandler, 16)
	m := metrics.New(prometheus.NewRegistry())
	r := New(zaptest.NewLogger(t), "127.0.0.1:0", 65535, handler, m)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r, handler, m
}

func send(t *testing.T, addr net.Addr, payload []byte) net.Addr {
	t.Helper()
	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
	return conn.LocalAddr()
}

func receive(t *testing.T, handler chanHandler) message {
	t.Helper()
	select {
	case msg := <-handler:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return message{}
	}
}

func TestReceiver(t *testing.T) {
	t.Run("ForwardsMessages", func(t *testing.T) {
		r, handler, m := startReceiver(t)
		assert.True(t, r.Ready())

		from := send(t, r.Addr(), []byte("  print('hello world')\n"))
		msg := receive(t, handler)
		assert.Equal(t, "print('hello world')", msg.text)
		assert.Equal(t, from.String(), msg.sender)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DatagramsTotal))
	})

	t.Run("SkipsEmptyMessages", func(t *testing.T) {
		r, handler, m := startReceiver(t)

		send(t, r.Addr(), []byte("   \n\t"))
		send(t, r.Addr(), []byte("print(1)"))

		msg := receive(t, handler)
		assert.Equal(t, "print(1)", msg.text)
		assert.Equal(t, 2.0, testutil.ToFloat64(m.DatagramsTotal))
		assert.Empty(t, handler)
	})

	t.Run("Close", func(t *testing.T) {
		handler := make(chanHandler, 1)
		r := New(zaptest.NewLogger(t), "127.0.0.1:0", 1024, handler, metrics.New(prometheus.NewRegistry()))
		assert.False(t, r.Ready())
		assert.Nil(t, r.Addr())
		require.NoError(t, r.Close())

		require.NoError(t, r.Start(context.Background()))
		require.Error(t, r.Start(context.Background()))
		require.NoError(t, r.Close())
		assert.False(t, r.Ready())
		require.NoError(t, r.Close())
	})

	t.Run("BindFailure", func(t *testing.T) {
		r := New(zaptest.NewLogger(t), "256.0.0.1:1", 1024, make(chanHandler), metrics.New(prometheus.NewRegistry()))
		err := r.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to listen")
	})
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"Plain", []byte("print(1)"), "print(1)"},
		{"Whitespace", []byte("\n  print(1)  \r\n"), "print(1)"},
		{"Empty", []byte(""), ""},
		{"OnlyWhitespace", []byte(" \t\n"), ""},
		{"InvalidUTF8", []byte{'p', 'r', 0xff, 'i', 'n', 't', '(', '1', ')'}, "print(1)"},
		{"Unicode", []byte("print('héllo')"), "print('héllo')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Decode(tt.input))
		})
	}
}
