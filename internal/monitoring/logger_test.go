package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	t.Cleanup(func() { Logf = original })

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("[output] opened %s", "Run3")
	assert.Equal(t, []string{"[output] opened Run3"}, got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("[output] dropped %d records", 2) })
	assert.Len(t, got, 1, "muted logger must not reach the previous sink")
}

func TestLogf_DefaultIsUsable(t *testing.T) {
	assert.NotNil(t, Logf)
}
