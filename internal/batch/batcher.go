// Package batch склеивает мелкие сообщения одного канала во фреймы транспортного размера.
// Фрейм: последовательность записей [varint длина][сообщение].
package batch

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/netsync/internal/netbuf"
)

var (
	// ErrMessageTooLarge сообщение больше абсолютного максимума транспорта
	ErrMessageTooLarge = errors.New("batch: message exceeds max message size")
	// ErrMalformedBatch повреждённая разметка фрейма
	ErrMalformedBatch = errors.New("batch: malformed batch")
)

// Batcher очередь сообщений одного канала одного соединения.
// Сообщения копируются при добавлении, поэтому буфер вызывающего можно переиспользовать.
type Batcher struct {
	threshold int
	queue     [][]byte
	queued    int
	free      [][]byte
}

// NewBatcher создаёт батчер с порогом размера фрейма threshold
func NewBatcher(threshold int) *Batcher {
	if threshold <= 0 {
		threshold = 1200
	}
	return &Batcher{threshold: threshold}
}

// Threshold максимальный размер фрейма
func (b *Batcher) Threshold() int { return b.threshold }

// RecordSize размер записи сообщения во фрейме (префикс длины + данные)
func RecordSize(msgLen int) int {
	return protowire.SizeVarint(uint64(msgLen)) + msgLen
}

// AddMessage ставит сообщение в очередь. false: запись не помещается во фрейм даже одна,
// и её надо отправить отдельным фреймом (EncodeSingle).
func (b *Batcher) AddMessage(msg []byte) bool {
	if RecordSize(len(msg)) > b.threshold {
		return false
	}
	var buf []byte
	if n := len(b.free); n > 0 {
		buf = b.free[n-1][:0]
		b.free = b.free[:n-1]
	}
	buf = append(buf, msg...)
	b.queue = append(b.queue, buf)
	b.queued += RecordSize(len(msg))
	return true
}

// Pending число сообщений в очереди
func (b *Batcher) Pending() int { return len(b.queue) }

// PendingBytes суммарный размер записей в очереди
func (b *Batcher) PendingBytes() int { return b.queued }

// MakeNextBatch переносит сообщения из очереди в w, пока фрейм не достигнет порога.
// Возвращает true, если фрейм не пустой. Вызывать в цикле до false.
func (b *Batcher) MakeNextBatch(w *netbuf.Writer) bool {
	if len(b.queue) == 0 {
		return false
	}
	w.Reset()
	taken := 0
	for _, msg := range b.queue {
		size := RecordSize(len(msg))
		if taken > 0 && w.Len()+size > b.threshold {
			break
		}
		w.WriteVarUInt(uint64(len(msg)))
		w.WriteRaw(msg)
		b.queued -= size
		taken++
	}
	for i := 0; i < taken; i++ {
		b.free = append(b.free, b.queue[i])
		b.queue[i] = nil
	}
	b.queue = b.queue[taken:]
	if len(b.queue) == 0 {
		b.queue = nil
	}
	return true
}

// Discard выбрасывает всё, что не было отправлено
func (b *Batcher) Discard() {
	b.queue = nil
	b.queued = 0
}

// EncodeSingle кодирует одно сообщение как отдельный фрейм; приёмная сторона разбирает
// его тем же Unbatcher. maxSize: абсолютный предел транспорта.
func EncodeSingle(w *netbuf.Writer, msg []byte, maxSize int) error {
	if maxSize > 0 && RecordSize(len(msg)) > maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, RecordSize(len(msg)), maxSize)
	}
	w.Reset()
	w.WriteVarUInt(uint64(len(msg)))
	w.WriteRaw(msg)
	return nil
}

// Unbatcher разбирает фрейм на сообщения
type Unbatcher struct {
	r netbuf.Reader
}

// NewUnbatcher создаёт разборщик фрейма data
func NewUnbatcher(data []byte) *Unbatcher {
	u := &Unbatcher{}
	u.r.Reset(data)
	return u
}

// Reset переключает разборщик на новый фрейм
func (u *Unbatcher) Reset(data []byte) { u.r.Reset(data) }

// Next возвращает следующее сообщение. ok=false: фрейм закончился.
// После ошибки разметки остаток фрейма не читается.
func (u *Unbatcher) Next() (msg []byte, ok bool, err error) {
	if u.r.Remaining() == 0 {
		return nil, false, nil
	}
	size, err := u.r.ReadVarUInt()
	if err != nil {
		u.r.Reset(nil)
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	if size > uint64(u.r.Remaining()) {
		remaining := u.r.Remaining()
		u.r.Reset(nil)
		return nil, false, fmt.Errorf("%w: record of %d bytes, %d left", ErrMalformedBatch, size, remaining)
	}
	msg, _ = u.r.ReadRaw(int(size))
	return msg, true, nil
}
