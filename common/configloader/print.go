package configloader

import (
	"encoding/json"
	"fmt"
	"io"
)

// PrintConfig выводит конфиг в читаемом виде.
func PrintConfig(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("configloader: marshal: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
