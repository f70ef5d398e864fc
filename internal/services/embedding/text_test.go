package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/healthpulse/pulse/internal/models"
)

func TestComposeTextDeterministic(t *testing.T) {
	fields := map[string]string{
		"key":         "BDP",
		"name":        "Delivery Platform",
		"description": "Build and ship",
		"lead":        "sam",
	}

	a := ComposeText(models.TableProjects, fields, "Delivery Platform")
	b := ComposeText(models.TableProjects, fields, "Delivery Platform")
	assert.Equal(t, a, b)
	assert.Contains(t, a, "key: BDP")
	assert.Contains(t, a, "description: Build and ship")
}

func TestComposeTextSkipsEmptyFields(t *testing.T) {
	fields := map[string]string{
		"key":         "BDP",
		"name":        "Delivery Platform",
		"description": "",
		"lead":        "   ",
	}

	text := ComposeText(models.TableProjects, fields, "Delivery Platform")
	assert.NotContains(t, text, "description")
	assert.NotContains(t, text, "lead")
}

func TestComposeTextFallbackToName(t *testing.T) {
	text := ComposeText(models.TableProjects, map[string]string{}, "Delivery Platform")
	assert.Equal(t, "project: Delivery Platform", text)
}

func TestComposeTextEmpty(t *testing.T) {
	assert.Empty(t, ComposeText(models.TableProjects, map[string]string{}, ""))
	assert.Empty(t, ComposeText("unknown_table", map[string]string{"name": "x"}, "x"))
}
