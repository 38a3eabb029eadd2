package parser

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/therealutkarshpriyadarshi/dvblogparser/pkg/types"
)

var (
	// ErrNoMatch is returned when a line does not follow the access-log grammar
	ErrNoMatch = errors.New("line does not match access log format")
	// ErrPayload is returned when the trailing payload cannot be decoded
	ErrPayload = errors.New("invalid log payload")
)

// Parser defines the interface for log line parsers
type Parser interface {
	// Parse parses a raw log line into a LogRecord
	Parse(line string) (*types.LogRecord, error)

	// Name returns the parser name
	Name() string
}

// DefaultPattern is the access-log grammar:
// <remote> [<time>] "<userAgent>" <payload>
const DefaultPattern = `^(([0-9.]+)|([0-9a-f:]+)) \[([^\]]+)\] "([^"]*)" (.*)$`

// AccessLogParser parses lines of the form
//
//	192.168.0.1 [01/Jan/2018:08:32:20 +0100] "Mozilla/5.0" {"level":"INFO"}
//
// where the payload may carry \xHH escapes.
type AccessLogParser struct {
	pattern *regexp.Regexp
}

// New creates a parser for the default access-log grammar
func New() *AccessLogParser {
	return &AccessLogParser{pattern: regexp.MustCompile(DefaultPattern)}
}

// Parse extracts a LogRecord from line. TimeParsed stays zero when the
// timestamp does not normalize.
func (p *AccessLogParser) Parse(line string) (*types.LogRecord, error) {
	match := p.pattern.FindStringSubmatch(line)
	if match == nil {
		return nil, ErrNoMatch
	}

	decoded, err := DecodeEscapes(match[6])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}

	payload, err := types.ParsePayload(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}

	record := &types.LogRecord{
		Hash:      HashLine(line),
		Remote:    match[1],
		IPv4:      match[2],
		IPv6:      match[3],
		Time:      match[4],
		UserAgent: match[5],
		Payload:   payload,
	}
	if ts, ok := NormalizeDate(record.Time); ok {
		record.TimeParsed = ts
	}

	return record, nil
}

// Name returns the parser name
func (p *AccessLogParser) Name() string {
	return "access"
}

// HashLine returns the hex SHA-1 digest of the raw line bytes
func HashLine(line string) string {
	sum := sha1.Sum([]byte(line))
	return hex.EncodeToString(sum[:])
}
