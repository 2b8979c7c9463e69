package heartbeat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// LoadTriggersFile reads trigger definitions from a JSON file. The file holds
// an array of trigger objects; every entry must validate before any trigger
// is returned, so a typo in one entry keeps the whole scheduler from starting
// with a partial set.
func LoadTriggersFile(path string) ([]Trigger, error) {
	if path == "" {
		return nil, errors.New("triggers file path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read triggers file: %w", err)
	}

	var triggers []Trigger
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&triggers); err != nil {
		return nil, fmt.Errorf("parse triggers file: %w", err)
	}

	for i := range triggers {
		if err := triggers[i].Validate(); err != nil {
			return nil, fmt.Errorf("trigger %q: %w", triggers[i].Name, err)
		}
	}
	return triggers, nil
}
