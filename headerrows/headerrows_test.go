package headerrows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabledDefaultsTrue(t *testing.T) {
	s := NewStore()
	assert.True(t, s.Enabled("Parts"))
}

func TestSetConfirmsAndClearsPending(t *testing.T) {
	s := NewStore()
	s.MarkPending("Parts")
	assert.True(t, s.Pending("parts"))

	s.Set("PARTS", false)
	assert.False(t, s.Enabled("parts"))
	assert.False(t, s.Pending("Parts"))
}

func TestSheetNamesAreCaseInsensitive(t *testing.T) {
	s := NewStore()
	s.Set("Stückliste", true)
	assert.True(t, s.Enabled("stückliste"))
}

func TestListenersFireOnEveryTransition(t *testing.T) {
	s := NewStore()
	var fired int
	s.Subscribe(func() { fired++ })

	s.MarkPending("parts")
	s.Set("parts", true)
	s.ClearPending("parts")
	assert.Equal(t, 3, fired)
}
