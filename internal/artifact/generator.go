// Package artifact builds the regulator-facing metadata document and its
// checksum. Every function here is pure: the same tenant, pointer URL and
// calendar date always yield the same bytes.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/l0p7/pricefeed/internal/directory"
)

const (
	// Namespace, SchemaType and SchemaVersion are mandated by the harvester
	// and are deliberately not configurable.
	Namespace     = "urn:pricefeed:housing-price-list"
	SchemaType    = "housing-price-list"
	SchemaVersion = "1.0"

	// DateLayout is the calendar date format embedded in documents.
	DateLayout = "2006-01-02"

	IdentifierLength = 32
	ChecksumLength   = sha256.Size * 2

	exportMediaType = "text/csv"
)

// ErrGenerationDefect marks generator output that failed its own contract.
var ErrGenerationDefect = errors.New("artifact: generation defect")

// Kind names a cacheable artifact.
type Kind string

const (
	KindMetadata Kind = "metadata"
	KindChecksum Kind = "checksum"
)

// Kinds lists every kind served by this subsystem.
func Kinds() []Kind { return []Kind{KindMetadata, KindChecksum} }

// ContentType returns the response media type for the kind.
func (k Kind) ContentType() string {
	switch k {
	case KindMetadata:
		return "application/xml; charset=utf-8"
	case KindChecksum:
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

// DateOf renders the calendar date of ts in loc.
func DateOf(ts time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return ts.In(loc).Format(DateLayout)
}

type document struct {
	XMLName       xml.Name     `xml:"urn:pricefeed:housing-price-list dataset"`
	Identifier    string       `xml:"identifier"`
	Title         string       `xml:"title"`
	Publisher     string       `xml:"publisher"`
	Issued        string       `xml:"issued"`
	SchemaType    string       `xml:"schemaType"`
	SchemaVersion string       `xml:"schemaVersion"`
	Distribution  distribution `xml:"distribution"`
}

type distribution struct {
	AccessURL string `xml:"accessURL"`
	FileName  string `xml:"fileName"`
	MediaType string `xml:"mediaType"`
}

// DailyIdentifier derives the per-day dataset identifier for a handle.
func DailyIdentifier(publicHandle, date string) string {
	sum := sha256.Sum256([]byte(publicHandle + "-" + date))
	return hex.EncodeToString(sum[:IdentifierLength/2])
}

// GenerateMetadata builds the metadata document for tenant on date. The
// pointer URL must already be validated by the caller.
func GenerateMetadata(tenant directory.Tenant, pointerURL, date string) ([]byte, error) {
	id := DailyIdentifier(tenant.Handle.String(), date)
	if len(id) != IdentifierLength {
		return nil, fmt.Errorf("%w: identifier length %d", ErrGenerationDefect, len(id))
	}

	doc := document{
		Identifier:    id,
		Title:         fmt.Sprintf("Housing price list of %s on %s", tenant.DisplayName, date),
		Publisher:     tenant.DisplayName,
		Issued:        date,
		SchemaType:    SchemaType,
		SchemaVersion: SchemaVersion,
		Distribution: distribution{
			AccessURL: pointerURL,
			FileName:  exportFileName(pointerURL, tenant.Handle.String(), date),
			MediaType: exportMediaType,
		},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("artifact: encode metadata: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// GenerateChecksum returns the lowercase hex SHA-256 of metadata.
func GenerateChecksum(metadata []byte) string {
	sum := sha256.Sum256(metadata)
	return hex.EncodeToString(sum[:])
}

func exportFileName(pointerURL, publicHandle, date string) string {
	if u, err := url.Parse(pointerURL); err == nil {
		base := path.Base(u.Path)
		if base != "" && base != "." && base != "/" {
			return base
		}
	}
	return fmt.Sprintf("%s-%s.csv", strings.ToLower(publicHandle), date)
}
