// Package errs описывает таксономию ошибок торгового цикла.
package errs

import (
	"errors"
	"fmt"
)

// Kind вид ошибки, определяющий политику обработки
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindDataFetch         Kind = "data_fetch"
	KindInsufficientData  Kind = "insufficient_data"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindOrderRejected     Kind = "order_rejected"
	KindConfiguration     Kind = "configuration"
)

// ErrInsufficientData во фрейме индикаторов меньше двух валидных строк
var ErrInsufficientData = errors.New("недостаточно данных для расчета индикаторов")

// FetchError данные биржи (свечи, цена, баланс) недоступны
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("ошибка получения данных (%s): %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// InsufficientFundsError свободный баланс меньше требуемой суммы
type InsufficientFundsError struct {
	Asset    string
	Free     float64
	Required float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("недостаточно средств %s: доступно %.8f, требуется %.8f", e.Asset, e.Free, e.Required)
}

// OrderRejectedError биржа отклонила ордер
type OrderRejectedError struct {
	Side     string
	Quantity float64
	Err      error
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("ордер %s на %.8f отклонен: %v", e.Side, e.Quantity, e.Err)
}

func (e *OrderRejectedError) Unwrap() error { return e.Err }

// ConfigError некорректная конфигурация
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("ошибка конфигурации: %v", e.Err)
	}
	return fmt.Sprintf("ошибка конфигурации %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// KindOf классифицирует ошибку
func KindOf(err error) Kind {
	var (
		fetchErr  *FetchError
		fundsErr  *InsufficientFundsError
		rejectErr *OrderRejectedError
		cfgErr    *ConfigError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientData):
		return KindInsufficientData
	case errors.As(err, &fetchErr):
		return KindDataFetch
	case errors.As(err, &fundsErr):
		return KindInsufficientFunds
	case errors.As(err, &rejectErr):
		return KindOrderRejected
	case errors.As(err, &cfgErr):
		return KindConfiguration
	default:
		return KindUnknown
	}
}
