package domain

import (
	"errors"
	"fmt"
	"time"

	"dnsscanner/internal/ipv4"

	"gorm.io/gorm"
)

// ScanRecord is the persisted outcome of probing one address. The table holds
// at most one record per address; rescans replace it.
type ScanRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	IP         string    `gorm:"size:15;not null" json:"ip"`
	IPInt      uint32    `gorm:"column:ip_int;uniqueIndex:idx_scan_records_ip_int" json:"-"`
	Host       *string   `gorm:"size:255" json:"host"`
	HTTPStatus *int      `gorm:"column:http_status" json:"httpStatus"`
	Country    string    `gorm:"size:56;default:''" json:"country,omitempty"`
	ASN        uint      `gorm:"column:asn;default:0" json:"asn,omitempty"`
	ASNOrg     string    `gorm:"column:asn_org;size:255;default:''" json:"asnOrg,omitempty"`
	ObservedAt time.Time `gorm:"index;not null" json:"observedAt"`
}

func NewScanRecord(addr ipv4.Address, observedAt time.Time) ScanRecord {
	return ScanRecord{
		IP:         addr.String(),
		IPInt:      uint32(addr),
		ObservedAt: observedAt,
	}
}

func (record *ScanRecord) BeforeSave(_ *gorm.DB) error {
	if record.IP == "" {
		return errors.New("scan record: ip is required")
	}

	addr, err := ipv4.Parse(record.IP)
	if err != nil {
		return fmt.Errorf("scan record: %w", err)
	}

	record.IP = addr.String()
	record.IPInt = uint32(addr)

	if record.ObservedAt.IsZero() {
		record.ObservedAt = time.Now()
	}
	return nil
}

func (record *ScanRecord) Address() ipv4.Address {
	return ipv4.Address(record.IPInt)
}

func (record *ScanRecord) SetIP(text string) error {
	addr, err := ipv4.Parse(text)
	if err != nil {
		return err
	}
	record.IP = addr.String()
	record.IPInt = uint32(addr)
	return nil
}

// Reachable reports whether the probe answered with a success status.
func (record *ScanRecord) Reachable() bool {
	return record.HTTPStatus != nil && *record.HTTPStatus >= 200
}

func (record *ScanRecord) HostName() string {
	if record.Host == nil {
		return ""
	}
	return *record.Host
}
