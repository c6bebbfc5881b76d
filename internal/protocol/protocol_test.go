package protocol

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/netsync/internal/netbuf"
	"github.com/annel0/netsync/internal/vec"
)

func TestPackUnpack_AllMessages(t *testing.T) {
	asset := uuid.MustParse("9f1c6d1e-8c1a-4a53-9d3e-2b7f4f1e0a11")
	messages := []Message{
		&Ready{Fingerprint: 0xDEADBEEFCAFEF00D},
		&NotReady{},
		&AuthRequest{Token: "header.payload.sig"},
		&AuthResponse{Success: true, PlayerID: 42, Username: "alice"},
		&SpawnStarted{},
		&SpawnFinished{},
		&Spawn{
			NetID: 300, IsLocalPlayer: true, IsOwner: true, AssetID: asset,
			Position: vec.Vec3{X: 1.5, Y: -2, Z: 3},
			Rotation: vec.IdentityQuat, Scale: vec.One3,
			Payload: []byte{1, 2, 3},
		},
		&Spawn{NetID: 7, SceneID: 99, Rotation: vec.IdentityQuat, Scale: vec.One3},
		&ObjectDestroy{NetID: 70000},
		&ObjectHide{NetID: 1},
		&Owner{NetID: 5, IsOwner: true},
		&UpdateVars{NetID: 12, Payload: []byte{0x81, 0x01, 0xFF}},
		&TransformBroadcast{Payload: []byte{0xAB, 0xCD}},
		&TransformSingle{Payload: []byte{0x01}},
		&Ping{ClientTime: 1_700_000_000_000},
		&Pong{ClientTime: -5, ServerTime: 12345},
	}
	for _, msg := range messages {
		t.Run(msg.Type().String(), func(t *testing.T) {
			data := Marshal(msg)
			tag, err := PeekType(data)
			require.NoError(t, err)
			assert.Equal(t, msg.Type(), tag)

			got, err := Unpack(data)
			require.NoError(t, err)
			assert.Equal(t, msg, got)
		})
	}
}

func TestUnpack_TrailingByteRejected(t *testing.T) {
	data := append(Marshal(&ObjectDestroy{NetID: 3}), 0x00)
	msg, err := Unpack(data)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, ErrTrailingBytes)

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, MsgObjectDestroy, de.Type)
}

func TestUnpack_Truncated(t *testing.T) {
	data := Marshal(&Spawn{NetID: 1, AssetID: uuid.New(), Payload: []byte{1, 2, 3, 4}})
	for cut := 1; cut < len(data); cut++ {
		_, err := Unpack(data[:cut])
		assert.Error(t, err, "cut at %d", cut)
		assert.ErrorIs(t, err, netbuf.ErrEndOfBuffer, "cut at %d", cut)
	}
}

func TestUnpack_UnknownAndEmpty(t *testing.T) {
	_, err := Unpack(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	w := netbuf.NewWriter()
	w.WriteVarUInt(999)
	_, err = Unpack(w.Bytes())
	assert.ErrorIs(t, err, ErrUnknownMessage)
	assert.Equal(t, "MsgType(999)", MsgType(999).String())
}

func TestSpawn_UnknownFlagsRejected(t *testing.T) {
	data := Marshal(&Spawn{NetID: 1})
	// тег(1) + netID(1), далее байт флагов
	data[2] = 0x80
	_, err := Unpack(data)
	assert.Error(t, err)
}
