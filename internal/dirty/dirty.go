// Package dirty отслеживает изменённые поля сущностей между отправками.
// Повторные изменения одного поля до отправки склеиваются: уходит только последнее значение.
package dirty

import "time"

// Mask битовая маска изменённых полей. Бит i соответствует полю i кодека состояния.
type Mask uint64

// Transform зарезервированный бит для позиции/вращения/масштаба
const Transform Mask = 1 << 63

// Has проверяет наличие всех бит other
func (m Mask) Has(other Mask) bool { return m&other == other && other != 0 }

// Field маска одного поля
func Field(index int) Mask {
	if index < 0 || index > 62 {
		return 0
	}
	return 1 << uint(index)
}

// State грязное состояние одной сущности
type State struct {
	mask     Mask
	lastSend time.Time
}

// Mask текущая маска без сброса
func (s *State) Mask() Mask { return s.mask }

// LastSend время последнего ConsumeAndClear
func (s *State) LastSend() time.Time { return s.lastSend }

// Mark добавляет биты в маску
func (s *State) Mark(fields Mask) { s.mask |= fields }

// IsDirty есть ли неотправленные изменения
func (s *State) IsDirty() bool { return s.mask != 0 }

// Tracker применяет к состояниям общий интервал отправки
type Tracker struct {
	sendInterval time.Duration
}

// NewTracker создаёт трекер. Отрицательный интервал трактуется как 0 (отправка каждый тик).
func NewTracker(sendInterval time.Duration) *Tracker {
	if sendInterval < 0 {
		sendInterval = 0
	}
	return &Tracker{sendInterval: sendInterval}
}

// SendInterval минимальный интервал между отправками одной сущности
func (t *Tracker) SendInterval() time.Duration { return t.sendInterval }

// MarkDirty добавляет биты в маску
func (t *Tracker) MarkDirty(s *State, fields Mask) {
	s.Mark(fields)
}

// NeedsUpdate true, если есть изменения и с последней отправки прошло не меньше sendInterval
func (t *Tracker) NeedsUpdate(s *State, now time.Time) bool {
	if s.mask == 0 {
		return false
	}
	return s.lastSend.IsZero() || now.Sub(s.lastSend) >= t.sendInterval
}

// ConsumeAndClear возвращает маску, обнуляет её и запоминает время отправки.
// Единственная точка сброса состояния; вызывается не чаще раза за тик.
func (t *Tracker) ConsumeAndClear(s *State, now time.Time) Mask {
	m := s.mask
	s.mask = 0
	s.lastSend = now
	return m
}
