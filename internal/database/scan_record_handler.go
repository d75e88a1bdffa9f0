package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dnsscanner/internal/domain"
	"dnsscanner/internal/ipv4"

	"gorm.io/gorm"
)

var ErrEmptyMatcher = errors.New("database: matcher selects no records")

// Matcher selects records by exact address or by address range. At least one
// field must be set.
type Matcher struct {
	IP    *ipv4.Address
	Range *domain.AddressRange
}

func MatchAddress(addr ipv4.Address) Matcher {
	return Matcher{IP: &addr}
}

func MatchRange(r domain.AddressRange) Matcher {
	return Matcher{Range: &r}
}

func (m Matcher) empty() bool {
	return m.IP == nil && m.Range == nil
}

func (m Matcher) apply(query *gorm.DB) *gorm.DB {
	if m.IP != nil {
		query = query.Where("ip_int = ?", uint32(*m.IP))
	}
	if m.Range != nil {
		query = query.Where("ip_int BETWEEN ? AND ?", uint32(m.Range.Start), uint32(m.Range.End))
	}
	return query
}

// Store persists scan records through gorm.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("database: connection was not configured")
	}
	return s.db.WithContext(ctx), nil
}

func (s *Store) DeleteRecords(ctx context.Context, matcher Matcher) (int64, error) {
	if matcher.empty() {
		return 0, ErrEmptyMatcher
	}

	tx, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	result := matcher.apply(tx).Delete(&domain.ScanRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("database: delete records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) InsertRecord(ctx context.Context, record *domain.ScanRecord) error {
	if record == nil {
		return fmt.Errorf("database: nil scan record")
	}

	tx, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if err := tx.Create(record).Error; err != nil {
		return fmt.Errorf("database: insert record %s: %w", record.IP, err)
	}
	return nil
}

// ReplaceRecord removes any record for the same address and inserts record,
// both in one transaction.
func (s *Store) ReplaceRecord(ctx context.Context, record domain.ScanRecord) error {
	tx, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if err := record.SetIP(record.IP); err != nil {
		return fmt.Errorf("database: replace record: %w", err)
	}
	record.ID = 0

	err = tx.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ip_int = ?", record.IPInt).Delete(&domain.ScanRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return fmt.Errorf("database: replace record %s: %w", record.IP, err)
	}
	return nil
}

// MostRecentRecordIn returns the newest record inside r, or nil when the range
// holds no records.
func (s *Store) MostRecentRecordIn(ctx context.Context, r domain.AddressRange) (*domain.ScanRecord, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var records []domain.ScanRecord
	err = MatchRange(r).apply(tx.Model(&domain.ScanRecord{})).
		Order("observed_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("database: most recent record in %s: %w", r, err)
	}

	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (s *Store) LastScanAt(ctx context.Context, r domain.AddressRange) (*time.Time, error) {
	record, err := s.MostRecentRecordIn(ctx, r)
	if err != nil || record == nil {
		return nil, err
	}
	observed := record.ObservedAt
	return &observed, nil
}

// CountRecords counts stored records. An empty matcher counts the whole table.
func (s *Store) CountRecords(ctx context.Context, matcher Matcher) (int64, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := matcher.apply(tx.Model(&domain.ScanRecord{})).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("database: count records: %w", err)
	}
	return count, nil
}

// CountReachable counts records whose probe answered with a success status.
func (s *Store) CountReachable(ctx context.Context, matcher Matcher) (int64, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	err = matcher.apply(tx.Model(&domain.ScanRecord{})).
		Where("http_status >= ?", 200).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("database: count reachable records: %w", err)
	}
	return count, nil
}

func (s *Store) FindRecord(ctx context.Context, addr ipv4.Address) (*domain.ScanRecord, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var record domain.ScanRecord
	err = tx.Where("ip_int = ?", uint32(addr)).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: find record %s: %w", addr, err)
	}
	return &record, nil
}
