package rundb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordKeySegment namespaces run records inside the configured prefix.
const recordKeySegment = "task_master"

// idCollisionRetries bounds the suffixes tried when two same-named
// starts land on the same second.
const idCollisionRetries = 4

// RedisStore implements Store on a redis key-value database. Each
// record is a JSON document under "<prefix>::task_master::<id>" where
// the id is derived from the task name and start timestamp. There is no
// secondary index; range queries scan the namespaced prefix.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ctx    context.Context
}

// NewRedisStore connects a run DB at the given address under the given
// key prefix.
func NewRedisStore(addr, prefix string) *RedisStore {
	return &RedisStore{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ctx:    context.Background(),
	}
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s::%s::%s", s.prefix, recordKeySegment, id)
}

func (s *RedisStore) scanPattern() string {
	return fmt.Sprintf("%s::%s::*", s.prefix, recordKeySegment)
}

func (s *RedisStore) RecordTaskStart(taskName, template string) (string, error) {
	if taskName == "" {
		return "", &InvalidNameError{Name: taskName, Reason: "name must not be empty"}
	}
	if strings.HasPrefix(taskName, ReservedNamePrefix) {
		return "", &InvalidNameError{
			Name:   taskName,
			Reason: fmt.Sprintf("prefix %q is reserved for internal keys", ReservedNamePrefix),
		}
	}
	if template == "" {
		template = DefaultTemplate
	}

	now := NowUTC()
	baseID := fmt.Sprintf("%s_%s", taskName, strings.ReplaceAll(now, " ", "_"))
	rec := Record{
		TaskName: taskName,
		StartUTC: now,
		Status:   StatusStarted,
		Template: template,
	}

	// Name+timestamp collides when the same task starts twice within a
	// second. SETNX never overwrites; a bounded counter suffix resolves
	// the race deterministically.
	id := baseID
	for attempt := 0; ; attempt++ {
		rec.ID = id
		payload, err := json.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("failed to encode start record for %q: %w", taskName, err)
		}
		ok, err := s.rdb.SetNX(s.ctx, s.key(id), payload, 0).Result()
		if err != nil {
			return "", fmt.Errorf("failed to insert start record for %q: %w", taskName, err)
		}
		if ok {
			return id, nil
		}
		if attempt >= idCollisionRetries {
			return "", fmt.Errorf("record id %q already exists and suffix retries are exhausted", id)
		}
		id = fmt.Sprintf("%s-%d", baseID, attempt+2)
	}
}

func (s *RedisStore) RecordTaskFinish(id, returnValue string, status Status, jsonBlob string, secondaryBlob []byte) error {
	key := s.key(id)

	// Optimistic conditional update: WATCH detects a concurrent finish
	// between the read and the write, which is how duplicate delivery
	// from an at-least-once queue is rejected without a lock.
	err := s.rdb.Watch(s.ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(s.ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return errMissingRecord
		}
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("failed to decode record %s: %w", id, err)
		}
		if rec.Status == StatusFinished {
			return &AlreadyFinishedError{ID: id}
		}
		rec.EndUTC = NowUTC()
		rec.Status = status
		rec.ReturnValue = returnValue
		rec.JSONBlob = jsonBlob
		rec.SecondaryBlob = secondaryBlob
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", id, err)
		}
		_, err = tx.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(s.ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, errMissingRecord) {
		return s.synthesizeFinish(id, returnValue, status, jsonBlob, secondaryBlob)
	}
	if err != nil {
		var finished *AlreadyFinishedError
		if errors.As(err, &finished) {
			return err
		}
		return fmt.Errorf("failed to finish record %s: %w", id, err)
	}
	return nil
}

var errMissingRecord = errors.New("record not found")

// synthesizeFinish mirrors the SQL backend: finish data with no start
// record becomes a fresh UnknownTaskName record rather than being lost.
func (s *RedisStore) synthesizeFinish(id, returnValue string, status Status, jsonBlob string, secondaryBlob []byte) error {
	log.Printf("rundb: no start record for id %q; synthesizing %q record", id, UnknownTaskName)
	newID, err := s.RecordTaskStart(UnknownTaskName, "")
	if err != nil {
		return fmt.Errorf("failed to synthesize record for id %s: %w", id, err)
	}
	return s.RecordTaskFinish(newID, returnValue, status, jsonBlob, secondaryBlob)
}

func (s *RedisStore) DeleteTask(id string) error {
	if err := s.rdb.Del(s.ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) GetTask(id string) (*Record, error) {
	raw, err := s.rdb.Get(s.ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) GetLatest(taskName string) (*Record, error) {
	records, err := s.GetTasks(StatusAny, "", "")
	if err != nil {
		return nil, err
	}
	var latest *Record
	for i := range records {
		rec := &records[i]
		if rec.TaskName != taskName {
			continue
		}
		if latest == nil || newerThan(rec, latest) {
			latest = rec
		}
	}
	return latest, nil
}

func newerThan(a, b *Record) bool {
	ta, tb := effectiveTime(a), effectiveTime(b)
	if ta != tb {
		return ta > tb
	}
	if a.StartUTC != b.StartUTC {
		return a.StartUTC > b.StartUTC
	}
	// Same-second tie: collision suffixes sort after the base id, so the
	// later-issued id wins.
	return a.ID > b.ID
}

func (s *RedisStore) GetTasks(status Status, startUTC, endUTC string) ([]Record, error) {
	if status == "" {
		status = StatusAny
	}
	var records []Record
	iter := s.rdb.Scan(s.ctx, 0, s.scanPattern(), 100).Iterator()
	for iter.Next(s.ctx) {
		raw, err := s.rdb.Get(s.ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and fetch
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch key %s: %w", iter.Val(), err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Printf("rundb: skipping undecodable record at key %s: %v", iter.Val(), err)
			continue
		}
		if status != StatusAny && rec.Status != status {
			continue
		}
		if startUTC != "" && rec.StartUTC < startUTC {
			continue
		}
		if endUTC != "" && rec.StartUTC > endUTC {
			continue
		}
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return records, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Ping checks connectivity; used at startup so a misconfigured run DB
// fails before any task is queued.
func (s *RedisStore) Ping() error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
