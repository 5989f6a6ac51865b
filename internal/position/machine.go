// Package position хранит состояние позиции по единственному активу.
// Состояние меняется только через Enter и Exit.
package position

import (
	"errors"
	"time"
)

// Status состояние позиции
type Status string

const (
	Flat Status = "FLAT"
	Long Status = "LONG"
)

var (
	// ErrAlreadyLong повторный вход при открытой позиции
	ErrAlreadyLong = errors.New("позиция уже открыта")
	// ErrAlreadyFlat выход без открытой позиции
	ErrAlreadyFlat = errors.New("позиция уже закрыта")
)

// Snapshot неизменяемый снимок состояния
type Snapshot struct {
	Symbol     string
	Status     Status
	EntryPrice float64
	Quantity   float64
	EnteredAt  time.Time
}

// Long позиция открыта
func (s Snapshot) Long() bool {
	return s.Status == Long
}

// Machine конечный автомат FLAT <-> LONG
type Machine struct {
	symbol    string
	status    Status
	entry     float64
	quantity  float64
	enteredAt time.Time
}

// NewMachine создает автомат в состоянии FLAT
func NewMachine(symbol string) *Machine {
	return &Machine{symbol: symbol, status: Flat}
}

// Restore восстанавливает автомат из сохраненного снимка.
// Снимок LONG без цены входа или количества считается поврежденным.
func Restore(s Snapshot) (*Machine, error) {
	m := NewMachine(s.Symbol)
	switch s.Status {
	case Flat, "":
		return m, nil
	case Long:
		if s.EntryPrice <= 0 || s.Quantity <= 0 {
			return nil, errors.New("снимок LONG без цены входа или количества")
		}
		m.status = Long
		m.entry = s.EntryPrice
		m.quantity = s.Quantity
		m.enteredAt = s.EnteredAt
		return m, nil
	default:
		return nil, errors.New("неизвестное состояние позиции: " + string(s.Status))
	}
}

// Enter FLAT -> LONG. При открытой позиции ничего не меняет и возвращает ErrAlreadyLong.
func (m *Machine) Enter(price, quantity float64, at time.Time) error {
	if m.status == Long {
		return ErrAlreadyLong
	}
	if price <= 0 || quantity <= 0 {
		return errors.New("цена и количество входа должны быть положительными")
	}
	m.status = Long
	m.entry = price
	m.quantity = quantity
	m.enteredAt = at
	return nil
}

// Exit LONG -> FLAT. Возвращает реализованный P&L по всему удерживаемому количеству.
// Без открытой позиции ничего не меняет и возвращает ErrAlreadyFlat.
func (m *Machine) Exit(price float64) (float64, error) {
	if m.status == Flat {
		return 0, ErrAlreadyFlat
	}
	pnl := (price - m.entry) * m.quantity
	m.status = Flat
	m.entry = 0
	m.quantity = 0
	m.enteredAt = time.Time{}
	return pnl, nil
}

// Status текущее состояние
func (m *Machine) Status() Status {
	return m.status
}

// EntryPrice цена входа, определена только в состоянии LONG
func (m *Machine) EntryPrice() (float64, bool) {
	if m.status != Long {
		return 0, false
	}
	return m.entry, true
}

// Quantity удерживаемое количество (0 в состоянии FLAT)
func (m *Machine) Quantity() float64 {
	return m.quantity
}

// Snapshot снимок для журнала, UI и сохранения
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		Symbol:     m.symbol,
		Status:     m.status,
		EntryPrice: m.entry,
		Quantity:   m.quantity,
		EnteredAt:  m.enteredAt,
	}
}
