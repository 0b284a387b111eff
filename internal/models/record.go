package models

// RawRecord — одна запись импорта: отображение имён полей в сырые
// текстовые значения, как их отдаёт слой разбора файлов.
type RawRecord map[string]string

// Get возвращает значение поля; пустая строка означает отсутствие.
func (r RawRecord) Get(key string) string {
	return r[key]
}

// Has сообщает, присутствует ли непустое значение поля.
func (r RawRecord) Has(key string) bool {
	return r[key] != ""
}

// Имена полей записи импорта, публикуемых слоем разбора файлов.
const (
	FieldFeedAID       = "feed_a_id"
	FieldFeedBID       = "feed_b_id"
	FieldName          = "name"
	FieldMSISDN        = "msisdn"
	FieldLMP           = "lmp"
	FieldDOB           = "dob"
	FieldLastUpdate    = "last_update_date"
	FieldAbortion      = "abortion"
	FieldStillbirth    = "stillbirth"
	FieldDeath         = "death"
	FieldCaseNo        = "case_no"
	FieldMotherFeedAID = "mother_feed_a_id"
	FieldMotherFeedBID = "mother_feed_b_id"
	FieldStateID       = "state_id"
	FieldDistrictID    = "district_id"
	FieldLanguage      = "language"
	FieldCircle        = "circle"
)

// ImportChunk — сообщение очереди импорта: порция записей одного
// источника и одного типа бенефициара.
type ImportChunk struct {
	Feed    Feed            `json:"feed"`
	Kind    BeneficiaryKind `json:"kind"`
	Records []RawRecord     `json:"records"`
}
