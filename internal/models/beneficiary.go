// Package models содержит доменные структуры движка: бенефициары (мать и
// ребёнок), абоненты, подписки, пакеты сообщений и записи аудита импорта.
package models

import "time"

// Feed обозначает источник записи: один из двух государственных реестров
// или прямой звонок абонента.
type Feed string

// Возможные источники записей.
const (
	FeedA      Feed = "feed_a"
	FeedB      Feed = "feed_b"
	FeedCallIn Feed = "call_in"
)

// BeneficiaryKind указывает тип бенефициара в записи импорта.
type BeneficiaryKind string

// Типы бенефициаров.
const (
	KindMother BeneficiaryKind = "mother"
	KindChild  BeneficiaryKind = "child"
)

// Mother представляет мать, отслеживаемую для рассылки сообщений о
// беременности. Идентифицируется внешним ключом Feed-A или Feed-B,
// внутренний ID назначается хранилищем.
type Mother struct {
	ID              int64
	FeedAID         *string
	FeedBID         *string
	Name            string
	LMP             *time.Time // последняя менструация, опорная дата пакета
	SourceUpdatedAt *time.Time // дата обновления записи в исходной системе
	MaxCaseNo       int64      // максимальный номер случая, виденный для Feed-B
	Dead            bool
	StateID         *int64
	DistrictID      *int64
}

// ExternalID возвращает внешний идентификатор матери для указанного источника.
func (m *Mother) ExternalID(feed Feed) string {
	switch feed {
	case FeedA:
		if m.FeedAID != nil {
			return *m.FeedAID
		}
	case FeedB:
		if m.FeedBID != nil {
			return *m.FeedBID
		}
	}
	return ""
}

// Child представляет ребёнка. Ребёнок ссылается ровно на одну мать,
// обратной ссылки от матери не требуется.
type Child struct {
	ID              int64
	FeedAID         *string
	FeedBID         *string
	Name            string
	DOB             *time.Time // дата рождения, опорная дата пакета
	SourceUpdatedAt *time.Time
	Dead            bool
	MotherID        *int64
	StateID         *int64
	DistrictID      *int64
}

// ExternalID возвращает внешний идентификатор ребёнка для указанного источника.
func (c *Child) ExternalID(feed Feed) string {
	switch feed {
	case FeedA:
		if c.FeedAID != nil {
			return *c.FeedAID
		}
	case FeedB:
		if c.FeedBID != nil {
			return *c.FeedBID
		}
	}
	return ""
}
