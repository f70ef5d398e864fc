package embedding

import (
	"fmt"
	"strings"

	"github.com/healthpulse/pulse/internal/models"
)

// ComposeText assembles the deterministic text representation of one entity
// from its declared field list. Empty fields contribute nothing. An entity
// with no textual content but at least a name falls back to
// "<entity_type>: <name>" so a vector is still produced.
func ComposeText(table string, fields map[string]string, name string) string {
	spec, ok := models.TableSpecs[table]
	if !ok {
		return ""
	}

	parts := make([]string, 0, len(spec.TextFields))
	for _, field := range spec.TextFields {
		value := strings.TrimSpace(fields[field])
		if value == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", field, value))
	}

	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if name != "" {
		return fmt.Sprintf("%s: %s", spec.EntityType, name)
	}
	return ""
}
