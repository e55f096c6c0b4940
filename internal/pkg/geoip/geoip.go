// Package geoip resolves client addresses to ISO country codes with an
// optional GeoLite2 database.
package geoip

import (
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// UnknownCountry is returned when no database is loaded or the lookup fails.
const UnknownCountry = "unknown"

// Locator looks up countries. A Locator without a database answers
// UnknownCountry for every address.
type Locator struct {
	mu     sync.RWMutex
	path   string
	db     *geoip2.Reader
	logger *slog.Logger
}

// NewLocator opens the database at path. A missing path or file disables
// lookups rather than failing; GeoIP is optional.
func NewLocator(path string, logger *slog.Logger) *Locator {
	l := &Locator{path: path, logger: logger}
	l.db = l.open()
	return l
}

func (l *Locator) open() *geoip2.Reader {
	if l.path == "" {
		l.logger.Debug("GeoIP database path not configured - country enrichment disabled")
		return nil
	}

	if _, err := os.Stat(l.path); err != nil {
		l.logger.Info("GeoLite2 database not available - country enrichment disabled",
			slog.String("path", l.path),
			slog.Any("error", err))
		return nil
	}

	db, err := geoip2.Open(l.path)
	if err != nil {
		l.logger.Error("Failed to open GeoLite2 database",
			slog.String("path", l.path),
			slog.Any("error", err))
		return nil
	}

	l.logger.Info("GeoLite2 database initialized", slog.String("path", l.path))
	return db
}

// Country returns the lower-case ISO code for address, or UnknownCountry.
func (l *Locator) Country(address string) string {
	if l == nil {
		return UnknownCountry
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.db == nil {
		return UnknownCountry
	}
	ip := net.ParseIP(address)
	if ip == nil {
		return UnknownCountry
	}
	record, err := l.db.Country(ip)
	if err != nil || record.Country.IsoCode == "" {
		return UnknownCountry
	}
	return strings.ToLower(record.Country.IsoCode)
}

// Loaded reports whether a database is open.
func (l *Locator) Loaded() bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db != nil
}

// Reload reopens the database from disk, e.g. after a fresh download.
func (l *Locator) Reload() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db != nil {
		l.db.Close()
	}
	l.db = l.open()
}

// Close releases the underlying reader.
func (l *Locator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
