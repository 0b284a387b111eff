package models

import "time"

// RejectionReason — закрытый набор кодов отказа валидатора и менеджера
// жизненного цикла. Значения хранятся в аудите как есть.
type RejectionReason string

// Коды отказа.
const (
	RejectMissingMSISDN      RejectionReason = "MISSING_MSISDN"
	RejectMissingLMP         RejectionReason = "MISSING_LMP"
	RejectMissingDOB         RejectionReason = "MISSING_DOB"
	RejectInvalidLMPDate     RejectionReason = "INVALID_LMP_DATE"
	RejectInvalidDOB         RejectionReason = "INVALID_DOB"
	RejectInvalidLocation    RejectionReason = "INVALID_LOCATION"
	RejectRecordExists       RejectionReason = "RECORD_ALREADY_EXISTS"
	RejectActiveChildPresent RejectionReason = "ACTIVE_CHILD_PRESENT"
	RejectMissingMotherID    RejectionReason = "MISSING_MOTHER_ID"
	RejectMotherIDError      RejectionReason = "MOTHER_ID_ERROR"
	RejectMSISDNInUse        RejectionReason = "MSISDN_ALREADY_IN_USE"
	RejectInvalidCaseNo      RejectionReason = "INVALID_CASE_NO"
	RejectSubscription       RejectionReason = "SUBSCRIPTION_REJECTED"
	RejectDataIntegrity      RejectionReason = "DATA_INTEGRITY_ERROR"
	RejectAlreadySubscribed  RejectionReason = "ALREADY_SUBSCRIBED"
)

// ImportAction показывает, что сделал бы конвейер с принятой записью.
type ImportAction string

// Действия импорта.
const (
	ActionCreate ImportAction = "CREATE"
	ActionUpdate ImportAction = "UPDATE"
)

// SentinelMSISDN записывается в аудит, когда отказ произошёл до того,
// как номер телефона стал известен.
const SentinelMSISDN int64 = -1

// ImportOutcome — вердикт обработки одной записи импорта. Для пакетной
// записи вердикты сливаются по внешнему идентификатору, последний
// побеждает.
type ImportOutcome struct {
	ExternalID string
	Feed       Feed
	PackType   PackType
	Accepted   bool
	Action     ImportAction
	Reason     *RejectionReason
	MSISDN     int64
	Comment    string
	// Silent подавляет запись аудита: используется для отказа без
	// ошибки, когда окно пакета уже полностью истекло.
	Silent bool
}

// SubscriptionError — запись аудита об отклонённой записи импорта.
// После создания не изменяется, кроме идемпотентного upsert при
// пакетной записи вердиктов.
type SubscriptionError struct {
	ID         int64
	MSISDN     int64
	ExternalID string
	Reason     RejectionReason
	PackType   PackType
	Feed       Feed
	Comment    string
	CreatedAt  time.Time
}

// DeactivatedBeneficiary отмечает, что подписка бенефициара была
// завершена или деактивирована и затем вычищена: повторный импорт той же
// записи из того же источника отклоняется.
type DeactivatedBeneficiary struct {
	ID                      int64
	ExternalID              string
	Feed                    Feed
	CompletedSubscription   bool
	DeactivatedSubscription bool
	CreatedAt               time.Time
}

// PurgeStats — счётчики одной итерации очистки закрытых подписок.
type PurgeStats struct {
	Subscriptions int64
	CallRetries   int64
	Subscribers   int64
}
