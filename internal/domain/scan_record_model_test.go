package domain

import (
	"testing"
	"time"

	"dnsscanner/internal/ipv4"
)

func TestScanRecordSetIP(t *testing.T) {
	var record ScanRecord
	if err := record.SetIP("192.168.10.5"); err != nil {
		t.Fatalf("SetIP returned error: %v", err)
	}

	if record.IP != "192.168.10.5" {
		t.Fatalf("IP = %s, want 192.168.10.5", record.IP)
	}
	if record.Address() != ipv4.MustParse("192.168.10.5") {
		t.Fatalf("Address returned %s", record.Address())
	}

	if err := record.SetIP("not.an.ip"); err == nil {
		t.Fatal("expected error for invalid IP, got nil")
	}
}

func TestScanRecordBeforeSaveNormalizes(t *testing.T) {
	record := ScanRecord{IP: "010.000.000.001"}
	if err := record.BeforeSave(nil); err != nil {
		t.Fatalf("BeforeSave returned error: %v", err)
	}

	if record.IP != "10.0.0.1" {
		t.Fatalf("IP = %s, want 10.0.0.1", record.IP)
	}
	if record.IPInt != 167772161 {
		t.Fatalf("IPInt = %d, want 167772161", record.IPInt)
	}
	if record.ObservedAt.IsZero() {
		t.Fatal("ObservedAt was not populated")
	}

	empty := ScanRecord{}
	if err := empty.BeforeSave(nil); err == nil {
		t.Fatal("expected error for record without ip")
	}
}

func TestScanRecordReachable(t *testing.T) {
	record := NewScanRecord(ipv4.MustParse("1.1.1.1"), time.Now())
	if record.Reachable() {
		t.Fatal("record without status reported reachable")
	}

	status := 199
	record.HTTPStatus = &status
	if record.Reachable() {
		t.Fatal("status 199 reported reachable")
	}

	status = 404
	if !record.Reachable() {
		t.Fatal("status 404 reported unreachable")
	}

	if record.HostName() != "" {
		t.Fatalf("HostName = %q, want empty", record.HostName())
	}
	host := "one.one.one.one"
	record.Host = &host
	if record.HostName() != host {
		t.Fatalf("HostName = %q, want %q", record.HostName(), host)
	}
}

func TestSpan(t *testing.T) {
	span, err := ParseSpan("10.0.0.0", "10.0.0.255")
	if err != nil {
		t.Fatalf("ParseSpan returned error: %v", err)
	}
	if span.Size() != 256 {
		t.Fatalf("Size = %d, want 256", span.Size())
	}

	inverted := Span{Start: span.End, End: span.Start}
	if inverted.Valid() {
		t.Fatal("inverted span reported valid")
	}
	if inverted.Size() != 0 {
		t.Fatalf("inverted span size = %d, want 0", inverted.Size())
	}

	full := Span{Start: ipv4.Min, End: ipv4.Max}
	if full.Size() != 1<<32 {
		t.Fatalf("full span size = %d", full.Size())
	}

	if _, err := ParseSpan("10.0.0", "10.0.0.1"); err == nil {
		t.Fatal("expected error for malformed start")
	}
}
