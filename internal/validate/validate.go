// Package validate decides whether an uploaded file is admissible for a
// requested operation. Decisions are made from the declared size and the
// sniffed content, never from the filename or client-declared MIME type.
package validate

import (
	"fmt"
	"strings"

	"github.com/allinconverter/aic-core/internal/operation"
	"github.com/allinconverter/aic-core/internal/sniff"
)

// SniffWindow is how much of the file the caller should pass to Check.
const SniffWindow = 4096

// Error is a user-safe admission failure. Reason is intended to be echoed
// to the client verbatim.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

type Result struct {
	Detected sniff.FileType
}

// Check runs the admission gauntlet in order, short-circuiting on the first
// failure: size ceiling, content sniffing, per-operation allow-set.
func Check(prefix []byte, declaredName string, declaredSize int64, op string, maxBytes int64) (Result, error) {
	if declaredSize > maxBytes {
		return Result{}, &Error{Reason: fmt.Sprintf("File too large. Maximum size is %dMB.", maxBytes/(1024*1024))}
	}

	spec, ok := operation.Lookup(op)
	if !ok {
		return Result{}, &Error{Reason: fmt.Sprintf("Unknown converter: %s", op)}
	}

	ft, ok := sniff.Detect(prefix)
	if !ok {
		return Result{}, &Error{Reason: "Unable to determine file type from content"}
	}

	for _, m := range spec.Accepts {
		if ft.MIME == m {
			return Result{Detected: ft}, nil
		}
	}
	return Result{Detected: ft}, &Error{
		Reason: fmt.Sprintf("File type %s (%s) is not supported for %s. Expected: %s",
			ft.MIME, ft.Description, op, strings.Join(spec.Accepts, ", ")),
	}
}
