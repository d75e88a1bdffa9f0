package geolite

import (
	"errors"
	"fmt"
	"net"
	"os"

	"dnsscanner/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
)

type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
}

type asnReader interface {
	ASN(ip net.IP) (*geoip2.ASN, error)
}

// Enricher fills country and ASN fields of scan records from GeoLite2
// databases. Either database may be absent.
type Enricher struct {
	country countryReader
	asn     asnReader
	closers []func() error
}

// Open loads the databases at the given paths. Empty paths are skipped. A path
// that is set but unreadable is an error.
func Open(countryPath, asnPath string) (*Enricher, error) {
	enricher := &Enricher{}

	var errs []error
	if countryPath != "" {
		reader, err := readerFromDisk(countryPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("country: %w", err))
		} else {
			enricher.country = reader
			enricher.closers = append(enricher.closers, reader.Close)
		}
	}

	if asnPath != "" {
		reader, err := readerFromDisk(asnPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("asn: %w", err))
		} else {
			enricher.asn = reader
			enricher.closers = append(enricher.closers, reader.Close)
		}
	}

	if len(errs) > 0 {
		_ = enricher.Close()
		return nil, fmt.Errorf("geolite: %w", errors.Join(errs...))
	}

	return enricher, nil
}

func readerFromDisk(path string) (*geoip2.Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return geoip2.FromBytes(data)
}

func (e *Enricher) Available() bool {
	return e != nil && (e.country != nil || e.asn != nil)
}

func (e *Enricher) Enrich(record *domain.ScanRecord) {
	if !e.Available() || record == nil {
		return
	}

	ip := record.Address().IP()

	if e.country != nil {
		if country, err := e.country.Country(ip); err == nil && country != nil {
			record.Country = country.Country.IsoCode
		} else if err != nil {
			log.Debug("geolite country lookup failed", "ip", record.IP, "error", err)
		}
	}

	if e.asn != nil {
		if asn, err := e.asn.ASN(ip); err == nil && asn != nil {
			record.ASN = asn.AutonomousSystemNumber
			record.ASNOrg = asn.AutonomousSystemOrganization
		} else if err != nil {
			log.Debug("geolite asn lookup failed", "ip", record.IP, "error", err)
		}
	}
}

func (e *Enricher) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	for _, closeFn := range e.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
