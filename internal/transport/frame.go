package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Заголовок фрейма в потоке KCP: [u8 канал|флаги][u32 LE длина]
const frameHeaderSize = 5

const (
	frameChannelMask   = 0x7F
	frameFlagZstd      = 0x80
	minCompressPayload = 128
)

// frameCodec кодирует фреймы потока, при необходимости сжимая полезную нагрузку zstd
type frameCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	maxSize int
}

// newFrameCodec создаёт кодек. compression: "none" или "zstd".
func newFrameCodec(compression string, maxSize int) (*frameCodec, error) {
	fc := &frameCodec{maxSize: maxSize}
	switch compression {
	case "", "none":
	case "zstd":
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		// окно нашего кодировщика бывает до 2*maxSize; точный предел задаёт cap буфера в decode
		window := 2 * uint64(maxSize)
		if window < zstd.MinWindowSize {
			window = zstd.MinWindowSize
		}
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderMaxMemory(window),
			zstd.WithDecoderMaxWindow(window),
			zstd.WithDecodeAllCapLimit(true))
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		fc.encoder, fc.decoder = enc, dec
	default:
		return nil, fmt.Errorf("transport: unknown compression %q", compression)
	}
	return fc, nil
}

func (fc *frameCodec) close() {
	if fc.encoder != nil {
		fc.encoder.Close()
	}
	if fc.decoder != nil {
		fc.decoder.Close()
	}
}

// encode собирает фрейм целиком, чтобы записать его одним Write
func (fc *frameCodec) encode(ch Channel, payload []byte) ([]byte, error) {
	if !ch.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	if len(payload) > fc.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(payload), fc.maxSize)
	}
	flags := byte(ch)
	if fc.encoder != nil && len(payload) >= minCompressPayload {
		compressed := fc.encoder.EncodeAll(payload, make([]byte, 0, len(payload)))
		if len(compressed) < len(payload) {
			payload = compressed
			flags |= frameFlagZstd
		}
	}
	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	frame[0] = flags
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(payload)))
	return append(frame, payload...), nil
}

// decode читает один фрейм из потока
func (fc *frameCodec) decode(r io.Reader) (Channel, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	ch := Channel(header[0] & frameChannelMask)
	if !ch.Valid() {
		return 0, nil, fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	length := binary.LittleEndian.Uint32(header[1:])
	if int64(length) > int64(fc.maxSize) {
		return 0, nil, fmt.Errorf("%w: declared %d > %d", ErrMessageTooLarge, length, fc.maxSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	if header[0]&frameFlagZstd != 0 {
		if fc.decoder == nil {
			return 0, nil, fmt.Errorf("transport: compressed frame but compression disabled")
		}
		out, err := fc.decoder.DecodeAll(payload, make([]byte, 0, fc.maxSize))
		switch {
		case errors.Is(err, zstd.ErrDecoderSizeExceeded), errors.Is(err, zstd.ErrWindowSizeExceeded):
			return 0, nil, fmt.Errorf("%w: decompressed frame exceeds %d", ErrMessageTooLarge, fc.maxSize)
		case err != nil:
			return 0, nil, fmt.Errorf("decompression failed: %w", err)
		}
		payload = out
	}
	return ch, payload, nil
}
