package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/iotbridge/internal/domain/event"
)

// Validate checks whether data is a well-formed lifecycle event for subject.
// Subjects outside the event namespace only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if !strings.HasPrefix(subject, event.SubjectPrefix) {
		return nil
	}

	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if ev.ID == "" {
		return fmt.Errorf("schema validation failed for %s: missing id", subject)
	}
	if ev.Kind.Subject() != subject {
		return fmt.Errorf("schema validation failed for %s: kind %q does not match subject", subject, ev.Kind)
	}
	return nil
}
