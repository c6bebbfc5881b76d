package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/netsync/internal/config"
)

func drainAll(inbox *Inbox) []Event {
	var out []Event
	inbox.Drain(0, func(ev Event) { out = append(out, ev) })
	return out
}

func TestInbox_DropsUnreliableWhenFull(t *testing.T) {
	inbox := NewInbox(2)
	ctx := context.Background()

	assert.True(t, inbox.Push(ctx, Event{Kind: EventData, Channel: Unreliable}))
	assert.True(t, inbox.Push(ctx, Event{Kind: EventData, Channel: Unreliable}))
	assert.False(t, inbox.Push(ctx, Event{Kind: EventData, Channel: Unreliable}))
	assert.Equal(t, uint64(1), inbox.Dropped())

	// надёжные события ждут, пока не отменят контекст
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, inbox.Push(cctx, Event{Kind: EventData, Channel: Reliable}))

	n := inbox.Drain(1, func(Event) {})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, inbox.Len())
}

func TestMemoryTransport_Flow(t *testing.T) {
	serverInbox := NewInbox(64)
	clientInbox := NewInbox(64)
	srv := NewMemoryServer(serverInbox)
	require.NoError(t, srv.Start())

	cl := NewMemoryClient(srv, clientInbox)
	require.NoError(t, cl.Connect(context.Background(), ""))
	require.True(t, cl.Connected())
	id := cl.ID()
	assert.NotEqual(t, ServerConnID, id)

	evs := drainAll(serverInbox)
	require.Len(t, evs, 1)
	assert.Equal(t, EventConnected, evs[0].Kind)
	assert.Equal(t, id, evs[0].Conn)

	payload := []byte{1, 2, 3}
	require.NoError(t, cl.Send(Reliable, payload))
	payload[0] = 9 // транспорт копирует данные

	evs = drainAll(serverInbox)
	require.Len(t, evs, 1)
	assert.Equal(t, []byte{1, 2, 3}, evs[0].Data)
	assert.Equal(t, Reliable, evs[0].Channel)

	require.NoError(t, srv.Send(id, Unreliable, []byte{7}))
	evs = drainAll(clientInbox)
	require.Len(t, evs, 2)
	assert.Equal(t, EventConnected, evs[0].Kind)
	assert.Equal(t, []byte{7}, evs[1].Data)

	assert.ErrorIs(t, srv.Send(999, Reliable, nil), ErrUnknownConnection)
	assert.ErrorIs(t, srv.Send(id, Channel(5), nil), ErrInvalidChannel)
	assert.ErrorIs(t, srv.Send(id, Reliable, make([]byte, DefaultMaxMessageSize+1)), ErrMessageTooLarge)

	require.NoError(t, cl.Disconnect())
	assert.False(t, cl.Connected())
	evs = drainAll(serverInbox)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDisconnected, evs[0].Kind)
	assert.ErrorIs(t, cl.Send(Reliable, []byte{1}), ErrNotConnected)
}

func TestMemoryTransport_Loss(t *testing.T) {
	serverInbox := NewInbox(2048)
	srv := NewMemoryServer(serverInbox)
	require.NoError(t, srv.Start())
	srv.SetLoss(0.5, 42)

	cl := NewMemoryClient(srv, NewInbox(16))
	require.NoError(t, cl.Connect(context.Background(), ""))
	drainAll(serverInbox)

	for i := 0; i < 1000; i++ {
		require.NoError(t, cl.Send(Unreliable, []byte{byte(i)}))
		require.NoError(t, cl.Send(Reliable, []byte{byte(i)}))
	}
	reliable, unreliable := 0, 0
	for _, ev := range drainAll(serverInbox) {
		if ev.Channel == Reliable {
			reliable++
		} else {
			unreliable++
		}
	}
	assert.Equal(t, 1000, reliable)
	assert.Greater(t, unreliable, 300)
	assert.Less(t, unreliable, 700)
}

func TestFrameCodec_RoundTrip(t *testing.T) {
	for _, compression := range []string{"none", "zstd"} {
		t.Run(compression, func(t *testing.T) {
			fc, err := newFrameCodec(compression, 4096)
			require.NoError(t, err)
			defer fc.close()

			big := bytes.Repeat([]byte("replication "), 100)
			var stream bytes.Buffer
			for _, p := range [][]byte{{1, 2, 3}, big, {}} {
				frame, err := fc.encode(Unreliable, p)
				require.NoError(t, err)
				stream.Write(frame)
			}

			for _, want := range [][]byte{{1, 2, 3}, big, {}} {
				ch, got, err := fc.decode(&stream)
				require.NoError(t, err)
				assert.Equal(t, Unreliable, ch)
				assert.Equal(t, want, got)
			}
			assert.Equal(t, 0, stream.Len())
		})
	}
}

func TestFrameCodec_Rejects(t *testing.T) {
	fc, err := newFrameCodec("none", 16)
	require.NoError(t, err)

	_, err = fc.encode(Reliable, make([]byte, 17))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	_, _, err = fc.decode(bytes.NewReader([]byte{0, 100, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	_, _, err = fc.decode(bytes.NewReader([]byte{9, 0, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = newFrameCodec("lz4", 16)
	assert.Error(t, err)
}

// zstdFrame собирает сжатый фрейм вручную, минуя проверки encode
func zstdFrame(ch Channel, compressed []byte) []byte {
	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(compressed))
	frame[0] = byte(ch) | frameFlagZstd
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(compressed)))
	return append(frame, compressed...)
}

func TestFrameCodec_RejectsDecompressionBomb(t *testing.T) {
	const maxSize = 16 * 1024
	fc, err := newFrameCodec("zstd", maxSize)
	require.NoError(t, err)
	defer fc.close()

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()

	// размер известен из заголовка zstd
	bomb := enc.EncodeAll(make([]byte, 64*maxSize), nil)
	require.Less(t, len(bomb), maxSize)
	_, _, err = fc.decode(bytes.NewReader(zstdFrame(Reliable, bomb)))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	// на байт больше предела
	over := enc.EncodeAll(bytes.Repeat([]byte("x"), maxSize+1), nil)
	_, _, err = fc.decode(bytes.NewReader(zstdFrame(Reliable, over)))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	// потоковый фрейм без размера в заголовке
	var stream bytes.Buffer
	w, err := zstd.NewWriter(&stream)
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 64*maxSize))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Less(t, stream.Len(), maxSize)
	_, _, err = fc.decode(bytes.NewReader(zstdFrame(Reliable, stream.Bytes())))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	// ровно предел проходит
	exact := bytes.Repeat([]byte("y"), maxSize)
	frame, err := fc.encode(Unreliable, exact)
	require.NoError(t, err)
	require.NotZero(t, frame[0]&frameFlagZstd)
	ch, got, err := fc.decode(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, Unreliable, ch)
	assert.Equal(t, exact, got)
}

func TestKCPTransport_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("KCP loopback uses real UDP sockets")
	}
	serverInbox := NewInbox(64)
	cfg := DefaultKCPConfig()
	cfg.Compression = "zstd"
	srv, err := NewKCPServer("127.0.0.1:0", cfg, serverInbox)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	clientInbox := NewInbox(64)
	cl, err := NewKCPClient(cfg, clientInbox)
	require.NoError(t, err)
	require.NoError(t, cl.Connect(context.Background(), srv.Addr().String()))
	defer cl.Disconnect()

	// KCP сервер узнаёт о клиенте только после первого пакета
	require.NoError(t, cl.Send(Reliable, []byte("hello")))

	var got []Event
	require.Eventually(t, func() bool {
		got = append(got, drainAll(serverInbox)...)
		return len(got) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, EventConnected, got[0].Kind)
	assert.Equal(t, EventData, got[1].Kind)
	assert.Equal(t, []byte("hello"), got[1].Data)

	conn := got[0].Conn
	require.NoError(t, srv.Send(conn, Unreliable, []byte("world")))

	var back []Event
	require.Eventually(t, func() bool {
		back = append(back, drainAll(clientInbox)...)
		for _, ev := range back {
			if ev.Kind == EventData {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	last := back[len(back)-1]
	assert.Equal(t, Unreliable, last.Channel)
	assert.Equal(t, []byte("world"), last.Data)
}

func TestKCPConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Compression = "zstd"
	cfg.Transport.IdleTimeout = 2.5
	cfg.Batching.MaxMessageSize = 4096

	kc := KCPConfigFrom(cfg.Transport, cfg.Batching)
	assert.Equal(t, "zstd", kc.Compression)
	assert.Equal(t, 4096, kc.MaxMessageSize)
	assert.Equal(t, 2500*time.Millisecond, kc.IdleTimeout)
	assert.Equal(t, DefaultKCPConfig().CheckInterval, kc.CheckInterval)
}

func TestWebSocketTransport_Loopback(t *testing.T) {
	serverInbox := NewInbox(64)
	cfg := DefaultWebSocketConfig()
	cfg.Compression = "zstd"
	srv, err := NewWebSocketServer("127.0.0.1:0", cfg, serverInbox)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	clientInbox := NewInbox(64)
	cl, err := NewWebSocketClient(cfg, clientInbox)
	require.NoError(t, err)
	require.NoError(t, cl.Connect(context.Background(), srv.Addr().String()))
	assert.True(t, cl.Connected())

	big := bytes.Repeat([]byte("abcd"), 200)
	require.NoError(t, cl.Send(Reliable, big))

	var got []Event
	require.Eventually(t, func() bool {
		got = append(got, drainAll(serverInbox)...)
		return len(got) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, EventConnected, got[0].Kind)
	assert.Equal(t, EventData, got[1].Kind)
	assert.Equal(t, Reliable, got[1].Channel)
	assert.Equal(t, big, got[1].Data)

	conn := got[0].Conn
	require.NoError(t, srv.Send(conn, Unreliable, []byte("world")))

	var back []Event
	require.Eventually(t, func() bool {
		back = append(back, drainAll(clientInbox)...)
		return len(back) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, EventConnected, back[0].Kind)
	assert.Equal(t, Unreliable, back[1].Channel)
	assert.Equal(t, []byte("world"), back[1].Data)

	// отключение с сервера доходит до клиента
	require.NoError(t, srv.Disconnect(conn))
	assert.ErrorIs(t, srv.Send(conn, Reliable, []byte("x")), ErrUnknownConnection)
	require.Eventually(t, func() bool {
		for _, ev := range drainAll(clientInbox) {
			if ev.Kind == EventDisconnected {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, cl.Connected())
	assert.ErrorIs(t, cl.Send(Reliable, []byte("x")), ErrNotConnected)

	// сервер разорвал сам: в его очередь событие не попадает
	for _, ev := range drainAll(serverInbox) {
		assert.False(t, ev.Kind == EventDisconnected && ev.Conn == conn, "unexpected %v", ev)
	}
}

func TestTransportFromConfig(t *testing.T) {
	cfg := config.Default()
	srv, addr, err := NewServerFromConfig(cfg, NewInbox(8))
	require.NoError(t, err)
	assert.IsType(t, &KCPServer{}, srv)
	assert.Equal(t, "kcp://:7777", addr)

	cfg.Transport.Kind = "websocket"
	cfg.Transport.WebSocketPath = "/game"
	cfg.Server.WSPort = 9001
	srv, addr, err = NewServerFromConfig(cfg, NewInbox(8))
	require.NoError(t, err)
	assert.IsType(t, &WebSocketServer{}, srv)
	assert.Equal(t, "ws://:9001/game", addr)

	cl, err := NewClientFromConfig(cfg, NewInbox(8))
	require.NoError(t, err)
	assert.IsType(t, &WebSocketClient{}, cl)

	cfg.Transport.Kind = "quic"
	_, _, err = NewServerFromConfig(cfg, NewInbox(8))
	assert.Error(t, err)
}

// returnsWithin проверяет, что fn завершается за d
func returnsWithin(t *testing.T, d time.Duration, fn func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(d):
		t.Fatalf("call did not return within %s", d)
	}
}

func TestMemoryTransport_DisconnectWithFullInboxes(t *testing.T) {
	serverInbox := NewInbox(1)
	clientInbox := NewInbox(1)
	srv := NewMemoryServer(serverInbox)
	require.NoError(t, srv.Start())

	cl := NewMemoryClient(srv, clientInbox)
	require.NoError(t, cl.Connect(context.Background(), ""))
	id := cl.ID()
	require.Equal(t, 1, serverInbox.Len())
	require.Equal(t, 1, clientInbox.Len())

	// обе очереди полны, разрыв со стороны сервера не ждёт никого
	returnsWithin(t, 2*time.Second, func() error { return srv.Disconnect(id) })
	assert.False(t, cl.Connected())

	var got []Event
	require.Eventually(t, func() bool {
		got = append(got, drainAll(clientInbox)...)
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, EventConnected, got[0].Kind)
	assert.Equal(t, EventDisconnected, got[1].Kind)

	evs := drainAll(serverInbox)
	require.Len(t, evs, 1)
	assert.Equal(t, EventConnected, evs[0].Kind)

	// и наоборот: клиент уходит сам при полной очереди сервера
	cl2 := NewMemoryClient(srv, NewInbox(4))
	require.NoError(t, cl2.Connect(context.Background(), ""))
	require.Equal(t, 1, serverInbox.Len())
	returnsWithin(t, 2*time.Second, cl2.Disconnect)

	got = nil
	require.Eventually(t, func() bool {
		got = append(got, drainAll(serverInbox)...)
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, EventDisconnected, got[1].Kind)
	assert.Equal(t, cl2.ID(), got[1].Conn)
}

func TestKCPTransport_DisconnectWithFullInbox(t *testing.T) {
	if testing.Short() {
		t.Skip("KCP loopback uses real UDP sockets")
	}
	serverInbox := NewInbox(1)
	cfg := DefaultKCPConfig()
	srv, err := NewKCPServer("127.0.0.1:0", cfg, serverInbox)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	clientInbox := NewInbox(1)
	cl, err := NewKCPClient(cfg, clientInbox)
	require.NoError(t, err)
	require.NoError(t, cl.Connect(context.Background(), srv.Addr().String()))

	require.NoError(t, cl.Send(Reliable, []byte("one")))
	var conn ConnID
	require.Eventually(t, func() bool {
		return serverInbox.Drain(1, func(ev Event) { conn = ev.Conn }) == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NotEqual(t, ServerConnID, conn)

	// первый фрейм занимает очередь, второй держит читателя
	require.NoError(t, cl.Send(Reliable, []byte("two")))
	require.Eventually(t, func() bool { return serverInbox.Len() == 1 }, 5*time.Second, 5*time.Millisecond)

	returnsWithin(t, 2*time.Second, func() error { return srv.Disconnect(conn) })
	assert.ErrorIs(t, srv.Send(conn, Reliable, []byte("x")), ErrUnknownConnection)

	// у клиента очередь занята EventConnected; Disconnect не должен ждать читателя
	require.Equal(t, 1, clientInbox.Len())
	returnsWithin(t, 2*time.Second, cl.Disconnect)
	assert.False(t, cl.Connected())
	evs := drainAll(clientInbox)
	require.Len(t, evs, 1)
	assert.Equal(t, EventConnected, evs[0].Kind)
}
