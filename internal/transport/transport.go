// Package transport: внешний транспорт репликации: установка соединений и доставка
// байтов по двум каналам (надёжный и ненадёжный). Принятые данные не обрабатываются
// в I/O горутинах, а складываются в Inbox, который разбирает поток тика.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ConnID идентификатор соединения на стороне сервера. У клиента соединение с сервером всегда 0.
type ConnID uint32

// ServerConnID идентификатор соединения клиента с сервером
const ServerConnID ConnID = 0

// Channel номер канала
type Channel uint8

const (
	// Reliable надёжный упорядоченный канал (spawn, destroy, owner, update vars, служебные)
	Reliable Channel = 0
	// Unreliable ненадёжный канал (трансформы)
	Unreliable Channel = 1
)

// ChannelCount число каналов
const ChannelCount = 2

func (c Channel) String() string {
	switch c {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Valid проверяет номер канала
func (c Channel) Valid() bool { return c < ChannelCount }

var (
	// ErrUnknownConnection соединение не найдено (уже отключено)
	ErrUnknownConnection = errors.New("transport: unknown connection")
	// ErrNotConnected клиент не подключен
	ErrNotConnected = errors.New("transport: not connected")
	// ErrInvalidChannel неизвестный номер канала
	ErrInvalidChannel = errors.New("transport: invalid channel")
	// ErrMessageTooLarge сообщение больше максимума транспорта
	ErrMessageTooLarge = errors.New("transport: message exceeds max size")
	// ErrClosed транспорт остановлен
	ErrClosed = errors.New("transport: closed")
)

// EventKind тип события транспорта
type EventKind uint8

const (
	EventConnected EventKind = iota
	EventData
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event событие, переданное из I/O горутины в поток тика
type Event struct {
	Kind    EventKind
	Conn    ConnID
	Channel Channel
	Data    []byte
	// Err причина отключения (для EventDisconnected), может быть nil
	Err error
}

// Server серверная сторона транспорта. События приходят в Inbox, переданный при создании.
type Server interface {
	Start() error
	Stop() error
	// Send отправляет один фрейм соединению; data можно переиспользовать после возврата
	Send(conn ConnID, ch Channel, data []byte) error
	// Disconnect закрывает соединение. EventDisconnected в свой Inbox не кладёт:
	// вызывающий поток тика сам убирает соединение. Stop ведёт себя так же.
	Disconnect(conn ConnID) error
	MaxMessageSize(ch Channel) int
}

// Client клиентская сторона транспорта
type Client interface {
	Connect(ctx context.Context, addr string) error
	Send(ch Channel, data []byte) error
	// Disconnect закрывает соединение без EventDisconnected в своём Inbox
	Disconnect() error
	Connected() bool
	MaxMessageSize(ch Channel) int
}
