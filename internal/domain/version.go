package domain

import (
	"encoding/json"
	"time"
)

// ColumnType описывает тип колонки для слоя хранения
type ColumnType string

const (
	ColumnInteger ColumnType = "integer"
	ColumnString  ColumnType = "string"
)

// Column связывает имя колонки с её типом
type Column struct {
	Name string
	Type ColumnType
}

// VersionColumns перечисляет колонки таблицы версий в порядке сериализации
var VersionColumns = []Column{
	{Name: "id", Type: ColumnInteger},
	{Name: "file_id", Type: ColumnInteger},
	{Name: "timestamp", Type: ColumnInteger},
	{Name: "label", Type: ColumnString},
	{Name: "author", Type: ColumnString},
}

// VersionRecord представляет одну сохранённую версию файла.
// Отсутствующее значение поля хранится как nil.
type VersionRecord struct {
	id        *int64
	fileID    *int64
	timestamp *int64
	label     *string
	author    *string
}

// ExternalVersion внешнее представление версии (ответ API).
// Ключи всегда присутствуют, отсутствующие значения кодируются как null.
type ExternalVersion struct {
	ID        *int64  `json:"id"`
	FileID    *int64  `json:"file_id"`
	Timestamp *int64  `json:"timestamp"`
	Label     *string `json:"label"`
	Author    *string `json:"author"`
}

func NewVersionRecord() *VersionRecord {
	return &VersionRecord{}
}

func (v *VersionRecord) ID() (int64, bool)        { return derefInt(v.id) }
func (v *VersionRecord) FileID() (int64, bool)    { return derefInt(v.fileID) }
func (v *VersionRecord) Timestamp() (int64, bool) { return derefInt(v.timestamp) }
func (v *VersionRecord) Label() (string, bool)    { return derefString(v.label) }
func (v *VersionRecord) Author() (string, bool)   { return derefString(v.author) }

func (v *VersionRecord) SetID(id int64)          { v.id = &id }
func (v *VersionRecord) SetFileID(fileID int64)  { v.fileID = &fileID }
func (v *VersionRecord) SetTimestamp(ts int64)   { v.timestamp = &ts }
func (v *VersionRecord) SetLabel(label string)   { v.label = &label }
func (v *VersionRecord) SetAuthor(author string) { v.author = &author }
func (v *VersionRecord) ClearLabel()             { v.label = nil }
func (v *VersionRecord) ClearAuthor()            { v.author = nil }

// CreatedAt возвращает время создания версии
func (v *VersionRecord) CreatedAt() (time.Time, bool) {
	ts, ok := v.Timestamp()
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(ts, 0), true
}

// ToExternal копирует текущее состояние во внешнее представление
func (v *VersionRecord) ToExternal() ExternalVersion {
	return ExternalVersion{
		ID:        copyInt(v.id),
		FileID:    copyInt(v.fileID),
		Timestamp: copyInt(v.timestamp),
		Label:     copyString(v.label),
		Author:    copyString(v.author),
	}
}

func (v *VersionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToExternal())
}

// Map возвращает внешнее представление в виде map с пятью ключами
func (e ExternalVersion) Map() map[string]any {
	m := make(map[string]any, len(VersionColumns))
	m["id"] = nullableInt(e.ID)
	m["file_id"] = nullableInt(e.FileID)
	m["timestamp"] = nullableInt(e.Timestamp)
	m["label"] = nullableString(e.Label)
	m["author"] = nullableString(e.Author)
	return m
}

func derefInt(p *int64) (int64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

func derefString(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}

func copyInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func nullableInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
