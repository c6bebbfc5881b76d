package transport

import (
	"context"
	"sync/atomic"
)

// DefaultInboxSize ёмкость очереди по умолчанию
const DefaultInboxSize = 4096

// Inbox очередь событий от I/O горутин к потоку тика. Поток тика никогда не блокируется:
// Drain забирает только то, что уже лежит в очереди.
type Inbox struct {
	events  chan Event
	dropped atomic.Uint64
}

// NewInbox создаёт очередь заданной ёмкости
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{events: make(chan Event, size)}
}

// Push кладёт событие в очередь. Данные ненадёжного канала при переполнении отбрасываются,
// остальные события ждут освобождения места или отмены ctx.
func (b *Inbox) Push(ctx context.Context, ev Event) bool {
	if ev.Kind == EventData && ev.Channel == Unreliable {
		select {
		case b.events <- ev:
			return true
		default:
			b.dropped.Add(1)
			return false
		}
	}
	select {
	case b.events <- ev:
		return true
	case <-ctx.Done():
		b.dropped.Add(1)
		return false
	}
}

// PushAsync кладёт событие, не блокируя вызывающего: при полной очереди доставка
// уходит в отдельную горутину. Для событий, которые поток тика одной стороны
// отправляет в очередь другой стороны.
func (b *Inbox) PushAsync(ev Event) {
	select {
	case b.events <- ev:
	default:
		go b.Push(context.Background(), ev)
	}
}

// Drain вызывает fn для событий из очереди, но не больше max (max <= 0: без ограничения
// сверх текущей длины очереди). Возвращает число обработанных событий.
func (b *Inbox) Drain(max int, fn func(Event)) int {
	if max <= 0 {
		max = len(b.events)
	}
	n := 0
	for n < max {
		select {
		case ev := <-b.events:
			fn(ev)
			n++
		default:
			return n
		}
	}
	return n
}

// Len текущая длина очереди
func (b *Inbox) Len() int { return len(b.events) }

// Dropped число отброшенных событий
func (b *Inbox) Dropped() uint64 { return b.dropped.Load() }
