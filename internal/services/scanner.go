package services

import (
	"context"
	"fmt"
	"io"

	clamd "github.com/dutchcoders/go-clamd"
)

// Verdict is the outcome of a malware scan.
type Verdict struct {
	Infected  bool
	Signature string
}

// Scanner inspects stored bytes before a record is published.
type Scanner interface {
	Scan(ctx context.Context, r io.Reader) (Verdict, error)
}

// ClamdScanner streams content to a clamd daemon (INSTREAM).
type ClamdScanner struct {
	client *clamd.Clamd
}

// NewClamdScanner accepts addresses such as tcp://clamav:3310 or unix:///run/clamd.sock.
func NewClamdScanner(addr string) *ClamdScanner {
	return &ClamdScanner{client: clamd.NewClamd(addr)}
}

func (s *ClamdScanner) Ping() error {
	return s.client.Ping()
}

func (s *ClamdScanner) Scan(ctx context.Context, r io.Reader) (Verdict, error) {
	abort := make(chan bool, 1)
	results, err := s.client.ScanStream(r, abort)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to start scan: %w", err)
	}

	var verdict Verdict
	for {
		select {
		case <-ctx.Done():
			abort <- true
			return Verdict{}, ctx.Err()
		case res, ok := <-results:
			if !ok {
				return verdict, nil
			}
			switch res.Status {
			case clamd.RES_FOUND:
				verdict.Infected = true
				verdict.Signature = res.Description
			case clamd.RES_ERROR, clamd.RES_PARSE_ERROR:
				return Verdict{}, fmt.Errorf("clamd error: %s", res.Description)
			}
		}
	}
}
