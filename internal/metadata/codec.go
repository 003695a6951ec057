// Package metadata encodes signature attributes into a document's free-text
// keywords field and reads them back.
//
// The grammar is a marker-prefixed, pipe-delimited suffix:
//
//	<existing text>|PAdES_Signature:<b64>|Hash:<b64>|SigningTime:<iso>|SignerName:<s>|SigningReason:<s>|SigningLocation:<s>
//
// A value runs from just after "<marker>:" to the next '|' or the end of the
// text. Values must not contain '|', and marker names must not occur in
// unrelated text already present in the field; neither is enforced.
package metadata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	MarkerSignature       = "PAdES_Signature"
	MarkerHash            = "Hash"
	MarkerSigningTime     = "SigningTime"
	MarkerSignerName      = "SignerName"
	MarkerSigningReason   = "SigningReason"
	MarkerSigningLocation = "SigningLocation"

	// TimeLayout renders UTC times with seven fractional digits.
	TimeLayout = "2006-01-02T15:04:05.0000000Z"

	separator = "|"
)

var (
	ErrMarkerNotFound  = errors.New("marker not found in metadata")
	ErrInvalidEncoding = errors.New("metadata value is not valid base64")
)

// Record is the set of signing attributes embedded in the carrier field.
type Record struct {
	Signature       []byte
	Digest          []byte
	SigningTime     time.Time
	SignerName      string
	SigningReason   string
	SigningLocation string
}

// Append returns carrier with rec appended in fixed field order.
func Append(carrier string, rec Record) string {
	var b strings.Builder
	b.WriteString(carrier)
	field(&b, MarkerSignature, base64.StdEncoding.EncodeToString(rec.Signature))
	field(&b, MarkerHash, base64.StdEncoding.EncodeToString(rec.Digest))
	field(&b, MarkerSigningTime, rec.SigningTime.UTC().Format(TimeLayout))
	field(&b, MarkerSignerName, rec.SignerName)
	field(&b, MarkerSigningReason, rec.SigningReason)
	field(&b, MarkerSigningLocation, rec.SigningLocation)
	return b.String()
}

func field(b *strings.Builder, marker, value string) {
	b.WriteString(separator)
	b.WriteString(marker)
	b.WriteString(":")
	b.WriteString(value)
}

// ExtractText returns the trimmed raw value following the first occurrence of
// marker + ":".
func ExtractText(carrier, marker string) (string, error) {
	key := marker + ":"
	idx := strings.Index(carrier, key)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", ErrMarkerNotFound, marker)
	}
	value := carrier[idx+len(key):]
	if end := strings.Index(value, separator); end >= 0 {
		value = value[:end]
	}
	return strings.TrimSpace(value), nil
}

// Extract returns the base64-decoded value of marker.
func Extract(carrier, marker string) ([]byte, error) {
	value, err := ExtractText(carrier, marker)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEncoding, marker, err)
	}
	return raw, nil
}

// HasSignature reports whether carrier contains a signature marker.
func HasSignature(carrier string) bool {
	return strings.Contains(carrier, MarkerSignature+":")
}

// Parse reads a full record. Signature and digest are required; descriptive
// fields are best-effort and left empty when absent.
func Parse(carrier string) (Record, error) {
	sig, err := Extract(carrier, MarkerSignature)
	if err != nil {
		return Record{}, err
	}
	digest, err := Extract(carrier, MarkerHash)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Signature: sig, Digest: digest}
	if v, err := ExtractText(carrier, MarkerSigningTime); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.SigningTime = ts.UTC()
		}
	}
	rec.SignerName, _ = ExtractText(carrier, MarkerSignerName)
	rec.SigningReason, _ = ExtractText(carrier, MarkerSigningReason)
	rec.SigningLocation, _ = ExtractText(carrier, MarkerSigningLocation)
	return rec, nil
}
