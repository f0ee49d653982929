package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPageTimeoutUsesConfiguredOptions(t *testing.T) {
	b := &Browser{opts: &Options{Timeout: 45 * time.Second}}
	assert.Equal(t, 45000.0, b.pageTimeout())
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, "ru-RU", opts.Locale)
	assert.Equal(t, "Europe/Moscow", opts.TimezoneID)
}
