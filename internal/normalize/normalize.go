// Package normalize приводит сырые текстовые значения полей импорта к
// типизированным: даты, номера телефонов, флаги биологических событий и
// номера случаев. Все функции чистые; при некорректном входе возвращают
// типизированную ошибку, а не значение-заглушку.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MSISDNLength — каноническая длина абонентского номера. Нормализация
// берёт последние MSISDNLength цифр входа, отбрасывая код страны.
const MSISDNLength = 10

// Типизированные ошибки нормализации. Конвейер импорта отображает их в
// отказ DATA_INTEGRITY_ERROR.
var (
	ErrInvalidReferenceDate = errors.New("invalid reference date")
	ErrInvalidPhoneNumber   = errors.New("invalid phone number")
	ErrInvalidNumber        = errors.New("invalid number")
)

// Принимаемые форматы дат: день-месяц-год с дефисом или слэшем.
var dateLayouts = []string{"02-01-2006", "02/01/2006"}

// ParseDate разбирает дату в одном из двух фиксированных форматов.
func ParseDate(text string) (time.Time, error) {
	trimmed := strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, trimmed); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidReferenceDate, text)
}

// ParseMSISDN нормализует номер телефона: из входа удаляются все
// нецифровые символы, каноническим номером считаются последние
// MSISDNLength цифр. Вход короче MSISDNLength цифр отклоняется.
func ParseMSISDN(text string) (int64, error) {
	var digits []rune
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < MSISDNLength {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, text)
	}
	canonical := string(digits[len(digits)-MSISDNLength:])
	msisdn, err := strconv.ParseInt(canonical, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, text)
	}
	return msisdn, nil
}

// Словари кодов источников. Сравнение после обрезки пробелов; пустое
// значение — легитимное "нет", а не ошибка.
var (
	abortionCodes   = []string{"MTP<12 Weeks", "MTP>12 Weeks", "Spontaneous"}
	stillbirthCodes = []string{"0", "Still Birth"}
	deathCodes      = []string{"9", "Death"}
)

func matchCode(text string, codes []string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	for _, code := range codes {
		if trimmed == code {
			return true
		}
	}
	return false
}

// ParseAbortionFlag сообщает, кодирует ли значение прерывание беременности.
func ParseAbortionFlag(text string) bool {
	return matchCode(text, abortionCodes)
}

// ParseStillbirthFlag сообщает, кодирует ли значение мертворождение.
func ParseStillbirthFlag(text string) bool {
	return matchCode(text, stillbirthCodes)
}

// ParseDeathFlag сообщает, кодирует ли значение смерть бенефициара.
func ParseDeathFlag(text string) bool {
	return matchCode(text, deathCodes)
}

// ParseCaseNumber разбирает номер случая. Пустое значение допустимо и
// возвращает nil; некорректный числовой текст — ошибка.
func ParseCaseNumber(text string) (*int64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, text)
	}
	return &n, nil
}
