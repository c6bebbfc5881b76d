package batch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/netsync/internal/netbuf"
)

func collect(t *testing.T, frame []byte) [][]byte {
	t.Helper()
	var out [][]byte
	u := NewUnbatcher(frame)
	for {
		msg, ok, err := u.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, append([]byte(nil), msg...))
	}
}

func TestBatcher_PacksUpToThreshold(t *testing.T) {
	b := NewBatcher(100)
	var sent [][]byte
	for i := 0; i < 10; i++ {
		msg := bytes.Repeat([]byte{byte(i)}, 30)
		require.True(t, b.AddMessage(msg))
		sent = append(sent, msg)
	}
	assert.Equal(t, 10, b.Pending())
	assert.Equal(t, 310, b.PendingBytes())

	w := netbuf.NewWriter()
	var got [][]byte
	frames := 0
	for b.MakeNextBatch(w) {
		assert.LessOrEqual(t, w.Len(), 100)
		got = append(got, collect(t, w.CopyBytes())...)
		frames++
	}
	// 31 байт на запись -> 3 записи во фрейм
	assert.Equal(t, 4, frames)
	assert.Equal(t, sent, got)
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, 0, b.PendingBytes())
	assert.False(t, b.MakeNextBatch(w))
}

func TestBatcher_CopiesMessages(t *testing.T) {
	b := NewBatcher(64)
	buf := []byte{1, 2, 3}
	require.True(t, b.AddMessage(buf))
	buf[0] = 9

	w := netbuf.NewWriter()
	require.True(t, b.MakeNextBatch(w))
	assert.Equal(t, [][]byte{{1, 2, 3}}, collect(t, w.Bytes()))

	// повторное использование буферов очереди не портит новые сообщения
	require.True(t, b.AddMessage([]byte{4}))
	require.True(t, b.MakeNextBatch(w))
	assert.Equal(t, [][]byte{{4}}, collect(t, w.Bytes()))
}

func TestBatcher_OversizedGoesSingle(t *testing.T) {
	b := NewBatcher(50)
	big := bytes.Repeat([]byte{7}, 200)
	assert.False(t, b.AddMessage(big))
	assert.Equal(t, 0, b.Pending())

	w := netbuf.NewWriter()
	require.NoError(t, EncodeSingle(w, big, 1000))
	assert.Equal(t, [][]byte{big}, collect(t, w.Bytes()))

	assert.ErrorIs(t, EncodeSingle(w, big, 100), ErrMessageTooLarge)
}

func TestBatcher_Discard(t *testing.T) {
	b := NewBatcher(50)
	b.AddMessage([]byte{1})
	b.AddMessage([]byte{2})
	b.Discard()
	assert.Equal(t, 0, b.Pending())
	assert.False(t, b.MakeNextBatch(netbuf.NewWriter()))
}

func TestUnbatcher_Malformed(t *testing.T) {
	// запись объявляет 10 байт, а есть 2
	u := NewUnbatcher([]byte{1, 0xAA, 10, 1, 2})
	msg, ok, err := u.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0xAA}, msg)

	_, ok, err = u.Next()
	assert.ErrorIs(t, err, ErrMalformedBatch)
	assert.False(t, ok)

	// остаток фрейма больше не читается
	_, ok, err = u.Next()
	assert.NoError(t, err)
	assert.False(t, ok)

	u.Reset([]byte{0x80})
	_, _, err = u.Next()
	assert.ErrorIs(t, err, ErrMalformedBatch)
}
