package report

import (
	"encoding/json"
	"os"
)

// WriteJSON writes any report as indented JSON.
func WriteJSON(path string, r any) error {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
