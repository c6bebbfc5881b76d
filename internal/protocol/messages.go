package protocol

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/annel0/netsync/internal/netbuf"
	"github.com/annel0/netsync/internal/vec"
)

// fields чтение полей с запоминанием первой ошибки
type fields struct {
	r   *netbuf.Reader
	err error
}

func (f *fields) varUInt() uint64 {
	if f.err != nil {
		return 0
	}
	v, err := f.r.ReadVarUInt()
	f.err = err
	return v
}

func (f *fields) netID() uint32 {
	v := f.varUInt()
	if f.err == nil && v > math.MaxUint32 {
		f.err = fmt.Errorf("net id %d out of range", v)
	}
	return uint32(v)
}

func (f *fields) boolean() bool {
	if f.err != nil {
		return false
	}
	v, err := f.r.ReadBool()
	f.err = err
	return v
}

func (f *fields) u8() byte {
	if f.err != nil {
		return 0
	}
	v, err := f.r.ReadByte()
	f.err = err
	return v
}

func (f *fields) fixed64() uint64 {
	if f.err != nil {
		return 0
	}
	v, err := f.r.ReadUInt64()
	f.err = err
	return v
}

func (f *fields) varInt() int64 {
	if f.err != nil {
		return 0
	}
	v, err := f.r.ReadVarInt()
	f.err = err
	return v
}

func (f *fields) str() string {
	if f.err != nil {
		return ""
	}
	v, err := f.r.ReadString()
	f.err = err
	return v
}

func (f *fields) bytes() []byte {
	if f.err != nil {
		return nil
	}
	v, err := f.r.ReadBytesAndSize()
	f.err = err
	return v
}

func (f *fields) uuid() uuid.UUID {
	if f.err != nil {
		return uuid.Nil
	}
	v, err := f.r.ReadUUID()
	f.err = err
	return v
}

func (f *fields) vec3() vec.Vec3 {
	if f.err != nil {
		return vec.Vec3{}
	}
	v, err := f.r.ReadVec3()
	f.err = err
	return v
}

func (f *fields) quat() vec.Quat {
	if f.err != nil {
		return vec.Quat{}
	}
	v, err := f.r.ReadQuat()
	f.err = err
	return v
}

// ===== Готовность и аутентификация =====

// Ready клиент готов принимать мир. Fingerprint: отпечаток настроек сжатия клиента.
type Ready struct {
	Fingerprint uint64
}

func (*Ready) Type() MsgType { return MsgReady }
func (m *Ready) Encode(w *netbuf.Writer) { w.WriteUInt64(m.Fingerprint) }
func (m *Ready) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.Fingerprint = f.fixed64()
	return f.err
}

// NotReady клиент перестаёт принимать мир (смена сцены)
type NotReady struct{}

func (*NotReady) Type() MsgType { return MsgNotReady }
func (*NotReady) Encode(*netbuf.Writer) {}
func (*NotReady) Decode(*netbuf.Reader) error { return nil }

// AuthRequest токен клиента
type AuthRequest struct {
	Token string
}

func (*AuthRequest) Type() MsgType { return MsgAuthRequest }
func (m *AuthRequest) Encode(w *netbuf.Writer) { w.WriteString(m.Token) }
func (m *AuthRequest) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.Token = f.str()
	return f.err
}

// AuthResponse результат аутентификации
type AuthResponse struct {
	Success  bool
	PlayerID uint64
	Username string
	Message  string
}

func (*AuthResponse) Type() MsgType { return MsgAuthResponse }

func (m *AuthResponse) Encode(w *netbuf.Writer) {
	w.WriteBool(m.Success)
	w.WriteVarUInt(m.PlayerID)
	w.WriteString(m.Username)
	w.WriteString(m.Message)
}

func (m *AuthResponse) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.Success = f.boolean()
	m.PlayerID = f.varUInt()
	m.Username = f.str()
	m.Message = f.str()
	return f.err
}

// ===== Жизненный цикл сущностей =====

// SpawnStarted начало начальной выгрузки мира
type SpawnStarted struct{}

func (*SpawnStarted) Type() MsgType { return MsgSpawnStarted }
func (*SpawnStarted) Encode(*netbuf.Writer) {}
func (*SpawnStarted) Decode(*netbuf.Reader) error { return nil }

// SpawnFinished конец начальной выгрузки мира
type SpawnFinished struct{}

func (*SpawnFinished) Type() MsgType { return MsgSpawnFinished }
func (*SpawnFinished) Encode(*netbuf.Writer) {}
func (*SpawnFinished) Decode(*netbuf.Reader) error { return nil }

const (
	spawnFlagLocalPlayer = 1 << 0
	spawnFlagOwner       = 1 << 1
	spawnFlagsKnown      = spawnFlagLocalPlayer | spawnFlagOwner
)

// Spawn создание (или обновление, если уже есть) сущности у клиента.
// SceneID != 0: активировать подготовленный объект сцены.
type Spawn struct {
	NetID         uint32
	IsLocalPlayer bool
	IsOwner       bool
	SceneID       uint64
	AssetID       uuid.UUID
	Position      vec.Vec3
	Rotation      vec.Quat
	Scale         vec.Vec3
	Payload       []byte
}

func (*Spawn) Type() MsgType { return MsgSpawn }

func (m *Spawn) Encode(w *netbuf.Writer) {
	w.WriteVarUInt(uint64(m.NetID))
	var flags byte
	if m.IsLocalPlayer {
		flags |= spawnFlagLocalPlayer
	}
	if m.IsOwner {
		flags |= spawnFlagOwner
	}
	_ = w.WriteByte(flags)
	w.WriteVarUInt(m.SceneID)
	w.WriteUUID(m.AssetID)
	w.WriteVec3(m.Position)
	w.WriteQuat(m.Rotation)
	w.WriteVec3(m.Scale)
	w.WriteBytesAndSize(m.Payload)
}

func (m *Spawn) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.NetID = f.netID()
	flags := f.u8()
	if f.err == nil && flags&^spawnFlagsKnown != 0 {
		return fmt.Errorf("unknown spawn flags %#x", flags)
	}
	m.IsLocalPlayer = flags&spawnFlagLocalPlayer != 0
	m.IsOwner = flags&spawnFlagOwner != 0
	m.SceneID = f.varUInt()
	m.AssetID = f.uuid()
	m.Position = f.vec3()
	m.Rotation = f.quat()
	m.Scale = f.vec3()
	m.Payload = f.bytes()
	return f.err
}

// ObjectDestroy удаление сущности у клиента
type ObjectDestroy struct {
	NetID uint32
}

func (*ObjectDestroy) Type() MsgType { return MsgObjectDestroy }
func (m *ObjectDestroy) Encode(w *netbuf.Writer) { w.WriteVarUInt(uint64(m.NetID)) }
func (m *ObjectDestroy) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.NetID = f.netID()
	return f.err
}

// ObjectHide сущность вышла из зоны видимости клиента
type ObjectHide struct {
	NetID uint32
}

func (*ObjectHide) Type() MsgType { return MsgObjectHide }
func (m *ObjectHide) Encode(w *netbuf.Writer) { w.WriteVarUInt(uint64(m.NetID)) }
func (m *ObjectHide) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.NetID = f.netID()
	return f.err
}

// Owner передача управления сущностью клиенту
type Owner struct {
	NetID         uint32
	IsOwner       bool
	IsLocalPlayer bool
}

func (*Owner) Type() MsgType { return MsgOwner }

func (m *Owner) Encode(w *netbuf.Writer) {
	w.WriteVarUInt(uint64(m.NetID))
	w.WriteBool(m.IsOwner)
	w.WriteBool(m.IsLocalPlayer)
}

func (m *Owner) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.NetID = f.netID()
	m.IsOwner = f.boolean()
	m.IsLocalPlayer = f.boolean()
	return f.err
}

// ===== Состояние =====

// UpdateVars изменённые поля сущности. Payload: [varint маска][трансформ, если бит Transform][поля]
type UpdateVars struct {
	NetID   uint32
	Payload []byte
}

func (*UpdateVars) Type() MsgType { return MsgUpdateVars }

func (m *UpdateVars) Encode(w *netbuf.Writer) {
	w.WriteVarUInt(uint64(m.NetID))
	w.WriteBytesAndSize(m.Payload)
}

func (m *UpdateVars) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.NetID = f.netID()
	m.Payload = f.bytes()
	return f.err
}

// TransformBroadcast битово упакованные записи (id, позиция, вращение) до конца Payload
type TransformBroadcast struct {
	Payload []byte
}

func (*TransformBroadcast) Type() MsgType { return MsgTransformBroadcast }
func (m *TransformBroadcast) Encode(w *netbuf.Writer) { w.WriteBytesAndSize(m.Payload) }
func (m *TransformBroadcast) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.Payload = f.bytes()
	return f.err
}

// TransformSingle трансформ одной сущности от её владельца, формат записи как в TransformBroadcast
type TransformSingle struct {
	Payload []byte
}

func (*TransformSingle) Type() MsgType { return MsgTransformSingle }
func (m *TransformSingle) Encode(w *netbuf.Writer) { w.WriteBytesAndSize(m.Payload) }
func (m *TransformSingle) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.Payload = f.bytes()
	return f.err
}

// ===== Время =====

// Ping время клиента в наносекундах
type Ping struct {
	ClientTime int64
}

func (*Ping) Type() MsgType { return MsgPing }
func (m *Ping) Encode(w *netbuf.Writer) { w.WriteVarInt(m.ClientTime) }
func (m *Ping) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.ClientTime = f.varInt()
	return f.err
}

// Pong эхо времени клиента и время сервера
type Pong struct {
	ClientTime int64
	ServerTime int64
}

func (*Pong) Type() MsgType { return MsgPong }

func (m *Pong) Encode(w *netbuf.Writer) {
	w.WriteVarInt(m.ClientTime)
	w.WriteVarInt(m.ServerTime)
}

func (m *Pong) Decode(r *netbuf.Reader) error {
	f := fields{r: r}
	m.ClientTime = f.varInt()
	m.ServerTime = f.varInt()
	return f.err
}
