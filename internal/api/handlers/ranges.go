package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/models"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/services"
)

// validatorHeaders make http.ServeContent answer without a body. Attachment
// downloads always send the bytes, so they are dropped before serving.
var validatorHeaders = []string{"If-Modified-Since", "If-None-Match", "If-Unmodified-Since", "If-Match", "If-Range"}

type rangeNotSatisfiableError struct {
	size int64
}

func (e *rangeNotSatisfiableError) Error() string {
	return fmt.Sprintf("range not satisfiable for %d bytes", e.size)
}

// satisfiableRange refuses a Range header that http.ServeContent would
// answer with 416, so the refusal happens before the download is counted.
func satisfiableRange(header string) services.Precondition {
	return func(rec *models.FileRecord) error {
		if header == "" || rangeSatisfiable(header, rec.Size) {
			return nil
		}
		return &rangeNotSatisfiableError{size: rec.Size}
	}
}

// rangeSatisfiable follows the parsing rules of http.ServeContent: a
// malformed header, or one whose ranges all start past the end, is refused.
func rangeSatisfiable(header string, size int64) bool {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	specs, overlaps := 0, false
	for _, ra := range strings.Split(header[len(prefix):], ",") {
		ra = trimOWS(ra)
		if ra == "" {
			continue
		}
		specs++
		start, end, ok := strings.Cut(ra, "-")
		if !ok {
			return false
		}
		start, end = trimOWS(start), trimOWS(end)
		if start == "" {
			if end == "" || end[0] == '-' {
				return false
			}
			if n, err := strconv.ParseInt(end, 10, 64); err != nil || n < 0 {
				return false
			}
			overlaps = true
			continue
		}
		from, err := strconv.ParseInt(start, 10, 64)
		if err != nil || from < 0 {
			return false
		}
		if from >= size {
			continue
		}
		if end != "" {
			to, err := strconv.ParseInt(end, 10, 64)
			if err != nil || from > to {
				return false
			}
		}
		overlaps = true
	}
	// a header without any range spec is ignored and the whole file is sent
	return specs == 0 || overlaps
}

func trimOWS(s string) string {
	return strings.Trim(s, " \t")
}

func stripValidators(r *http.Request) {
	for _, h := range validatorHeaders {
		r.Header.Del(h)
	}
}
