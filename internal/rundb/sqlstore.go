package rundb

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"gorm.io/gorm"
)

// TaskInfo is the gorm model backing the SQL store. Timestamps are kept
// as TimeLayout strings so range queries compare the same way on every
// supported database.
type TaskInfo struct {
	TaskID        uint   `gorm:"column:task_id;primaryKey;autoIncrement"`
	TaskName      string `gorm:"column:task_name;index"`
	TaskStartUTC  string `gorm:"column:task_start_utc;index"`
	TaskStatus    string `gorm:"column:task_status;index"`
	TaskEndUTC    string `gorm:"column:task_end_utc"`
	ReturnValue   string `gorm:"column:return_value"`
	JSONBlob      string `gorm:"column:structured_payload"`
	SecondaryBlob []byte `gorm:"column:secondary_payload"`
	Template      string `gorm:"column:template"`
}

// TableName implements gorm's table naming hook.
func (TaskInfo) TableName() string { return "task_info" }

// SQLStore implements Store on a relational database. Record ids are
// the table's auto-increment keys rendered as decimal strings.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore wraps an open gorm handle and ensures the task_info table
// exists.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&TaskInfo{}); err != nil {
		return nil, fmt.Errorf("failed to migrate task_info table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) RecordTaskStart(taskName, template string) (string, error) {
	if taskName == "" {
		return "", &InvalidNameError{Name: taskName, Reason: "name must not be empty"}
	}
	if template == "" {
		template = DefaultTemplate
	}
	row := TaskInfo{
		TaskName:     taskName,
		TaskStartUTC: NowUTC(),
		TaskStatus:   string(StatusStarted),
		Template:     template,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to insert start record for %q: %w", taskName, err)
	}
	return strconv.FormatUint(uint64(row.TaskID), 10), nil
}

func (s *SQLStore) RecordTaskFinish(id, returnValue string, status Status, jsonBlob string, secondaryBlob []byte) error {
	updates := map[string]interface{}{
		"task_end_utc":       NowUTC(),
		"task_status":        string(status),
		"return_value":       returnValue,
		"structured_payload": jsonBlob,
		"secondary_payload":  secondaryBlob,
	}
	tid, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		// Not an id this backend ever issued; repair as a missing record.
		return s.synthesizeFinish(id, returnValue, status, jsonBlob, secondaryBlob)
	}

	// Conditional update so a duplicate delivery cannot clobber the
	// first finish.
	res := s.db.Model(&TaskInfo{}).
		Where("task_id = ? AND task_status <> ?", tid, string(StatusFinished)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to finish record %s: %w", id, res.Error)
	}
	switch {
	case res.RowsAffected == 1:
		return nil
	case res.RowsAffected > 1:
		return &CorruptIDSpaceError{ID: id, Rows: res.RowsAffected}
	}

	var count int64
	if err := s.db.Model(&TaskInfo{}).Where("task_id = ?", tid).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to resolve record %s after empty finish: %w", id, err)
	}
	if count > 0 {
		return &AlreadyFinishedError{ID: id}
	}
	return s.synthesizeFinish(id, returnValue, status, jsonBlob, secondaryBlob)
}

// synthesizeFinish stores finish data that arrived without a matching
// start record. Dropping the payload would hide a real execution, so a
// record named UnknownTaskName is created instead.
func (s *SQLStore) synthesizeFinish(id, returnValue string, status Status, jsonBlob string, secondaryBlob []byte) error {
	log.Printf("rundb: no start record for id %q; synthesizing %q record", id, UnknownTaskName)
	now := NowUTC()
	row := TaskInfo{
		TaskName:      UnknownTaskName,
		TaskStartUTC:  now,
		TaskStatus:    string(status),
		TaskEndUTC:    now,
		ReturnValue:   returnValue,
		JSONBlob:      jsonBlob,
		SecondaryBlob: secondaryBlob,
		Template:      DefaultTemplate,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to synthesize record for id %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) DeleteTask(id string) error {
	tid, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil // never issued by this backend, nothing to delete
	}
	if err := s.db.Delete(&TaskInfo{}, tid).Error; err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) GetTask(id string) (*Record, error) {
	tid, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	var row TaskInfo
	if err := s.db.First(&row, tid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch record %s: %w", id, err)
	}
	rec := rowToRecord(row)
	return &rec, nil
}

func (s *SQLStore) GetLatest(taskName string) (*Record, error) {
	var row TaskInfo
	// Unfinished rows rank by their start time; comparing plain
	// task_end_utc would sort every running execution behind every
	// finished one.
	err := s.db.Where("task_name = ?", taskName).
		Order("CASE WHEN task_end_utc = '' THEN task_start_utc ELSE task_end_utc END DESC, task_start_utc DESC, task_id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch latest record for %q: %w", taskName, err)
	}
	rec := rowToRecord(row)
	return &rec, nil
}

func (s *SQLStore) GetTasks(status Status, startUTC, endUTC string) ([]Record, error) {
	st := string(status)
	if st == "" {
		st = string(StatusAny)
	}
	query := s.db.Model(&TaskInfo{}).Where("task_status LIKE ?", st)
	if startUTC != "" {
		query = query.Where("task_start_utc >= ?", startUTC)
	}
	if endUTC != "" {
		query = query.Where("task_start_utc <= ?", endUTC)
	}
	var rows []TaskInfo
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToRecord(row))
	}
	return records, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowToRecord(row TaskInfo) Record {
	return Record{
		ID:            strconv.FormatUint(uint64(row.TaskID), 10),
		TaskName:      row.TaskName,
		StartUTC:      row.TaskStartUTC,
		EndUTC:        row.TaskEndUTC,
		Status:        Status(row.TaskStatus),
		ReturnValue:   row.ReturnValue,
		JSONBlob:      row.JSONBlob,
		SecondaryBlob: row.SecondaryBlob,
		Template:      row.Template,
	}
}
