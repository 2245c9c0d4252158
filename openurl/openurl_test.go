package openurl

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fake(name string, fail bool, calls *[]string) Provider {
	return Provider{
		Name: name,
		Open: func(url string) error {
			*calls = append(*calls, name)
			if fail {
				return fmt.Errorf("%s cannot open", name)
			}
			return nil
		},
	}
}

func TestOpenerStopsAtFirstSuccess(t *testing.T) {
	var calls []string
	o := NewOpener(
		fake("first", true, &calls),
		fake("second", false, &calls),
		fake("third", false, &calls),
	)
	require.NoError(t, o.Open("https://example.com"))
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestOpenerReportsLastFailure(t *testing.T) {
	var calls []string
	o := NewOpener(
		fake("first", true, &calls),
		fake("second", true, &calls),
	)
	err := o.Open("https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")
	assert.Equal(t, []string{"first", "second"}, calls)
}
