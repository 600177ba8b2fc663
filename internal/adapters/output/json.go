package output

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/castpoint/castpoint/internal/core"
)

// JSONPrinter prints JSON to stdout.
type JSONPrinter struct{}

// Print renders JSON output. Raw results are unwrapped so streamed
// payloads come out as bare objects, not nested under a wrapper field.
func (JSONPrinter) Print(v any) error {
	if raw, ok := v.(core.RawResult); ok {
		v = raw.Data
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(payload))
	return err
}
