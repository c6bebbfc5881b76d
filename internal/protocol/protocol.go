// Package protocol: конверт сообщений управляющего канала:
// [varint тег типа][поля сообщения]. Разбор обязан потребить сообщение целиком.
package protocol

import (
	"errors"
	"fmt"

	"github.com/annel0/netsync/internal/netbuf"
)

// MsgType тег типа сообщения (varint на проводе)
type MsgType uint64

// Определение констант для типов сообщений
const (
	MsgUnknown MsgType = 0

	// Готовность и аутентификация
	MsgReady        MsgType = 1
	MsgNotReady     MsgType = 2
	MsgAuthRequest  MsgType = 3
	MsgAuthResponse MsgType = 4

	// Жизненный цикл сущностей
	MsgSpawnStarted  MsgType = 10
	MsgSpawnFinished MsgType = 11
	MsgSpawn         MsgType = 12
	MsgObjectDestroy MsgType = 13
	MsgObjectHide    MsgType = 14
	MsgOwner         MsgType = 15

	// Состояние
	MsgUpdateVars         MsgType = 20
	MsgTransformBroadcast MsgType = 21
	MsgTransformSingle    MsgType = 22

	// Время
	MsgPing MsgType = 30
	MsgPong MsgType = 31
)

var typeNames = map[MsgType]string{
	MsgReady:              "Ready",
	MsgNotReady:           "NotReady",
	MsgAuthRequest:        "AuthRequest",
	MsgAuthResponse:       "AuthResponse",
	MsgSpawnStarted:       "SpawnStarted",
	MsgSpawnFinished:      "SpawnFinished",
	MsgSpawn:              "Spawn",
	MsgObjectDestroy:      "ObjectDestroy",
	MsgObjectHide:         "ObjectHide",
	MsgOwner:              "Owner",
	MsgUpdateVars:         "UpdateVars",
	MsgTransformBroadcast: "TransformBroadcast",
	MsgTransformSingle:    "TransformSingle",
	MsgPing:               "Ping",
	MsgPong:               "Pong",
}

func (t MsgType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MsgType(%d)", uint64(t))
}

var (
	// ErrUnknownMessage тег не соответствует ни одному сообщению
	ErrUnknownMessage = errors.New("protocol: unknown message type")
	// ErrTrailingBytes после разбора сообщения остались байты
	ErrTrailingBytes = errors.New("protocol: trailing bytes after message")
	// ErrEmptyMessage пустые данные вместо сообщения
	ErrEmptyMessage = errors.New("protocol: empty message")
)

// DecodeError ошибка разбора сообщения известного (или нет) типа
type DecodeError struct {
	Type MsgType
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Message сообщение протокола
type Message interface {
	Type() MsgType
	Encode(w *netbuf.Writer)
	Decode(r *netbuf.Reader) error
}

var factories = map[MsgType]func() Message{
	MsgReady:              func() Message { return &Ready{} },
	MsgNotReady:           func() Message { return &NotReady{} },
	MsgAuthRequest:        func() Message { return &AuthRequest{} },
	MsgAuthResponse:       func() Message { return &AuthResponse{} },
	MsgSpawnStarted:       func() Message { return &SpawnStarted{} },
	MsgSpawnFinished:      func() Message { return &SpawnFinished{} },
	MsgSpawn:              func() Message { return &Spawn{} },
	MsgObjectDestroy:      func() Message { return &ObjectDestroy{} },
	MsgObjectHide:         func() Message { return &ObjectHide{} },
	MsgOwner:              func() Message { return &Owner{} },
	MsgUpdateVars:         func() Message { return &UpdateVars{} },
	MsgTransformBroadcast: func() Message { return &TransformBroadcast{} },
	MsgTransformSingle:    func() Message { return &TransformSingle{} },
	MsgPing:               func() Message { return &Ping{} },
	MsgPong:               func() Message { return &Pong{} },
}

// Pack дописывает сообщение с тегом в w
func Pack(w *netbuf.Writer, msg Message) {
	w.WriteVarUInt(uint64(msg.Type()))
	msg.Encode(w)
}

// Marshal кодирует сообщение в новый срез
func Marshal(msg Message) []byte {
	w := netbuf.GetWriter()
	defer netbuf.PutWriter(w)
	Pack(w, msg)
	return w.CopyBytes()
}

// PeekType читает тег, не разбирая тело
func PeekType(data []byte) (MsgType, error) {
	if len(data) == 0 {
		return MsgUnknown, ErrEmptyMessage
	}
	r := netbuf.NewReader(data)
	tag, err := r.ReadVarUInt()
	if err != nil {
		return MsgUnknown, &DecodeError{Type: MsgUnknown, Err: err}
	}
	return MsgType(tag), nil
}

// Unpack разбирает одно сообщение. Данные должны быть потреблены полностью,
// иначе сообщение отвергается целиком.
func Unpack(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	r := netbuf.NewReader(data)
	tag, err := r.ReadVarUInt()
	if err != nil {
		return nil, &DecodeError{Type: MsgUnknown, Err: err}
	}
	t := MsgType(tag)
	factory, ok := factories[t]
	if !ok {
		return nil, &DecodeError{Type: t, Err: ErrUnknownMessage}
	}
	msg := factory()
	if err := msg.Decode(r); err != nil {
		return nil, &DecodeError{Type: t, Err: err}
	}
	if r.Remaining() != 0 {
		return nil, &DecodeError{Type: t, Err: fmt.Errorf("%w: %d", ErrTrailingBytes, r.Remaining())}
	}
	return msg, nil
}
