package vehicle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyResCode(t *testing.T) {
	assert.Equal(t, CodeRateLimited, ClassifyResCode("5091", "quota").Code)
	assert.Equal(t, CodeDuplicate, ClassifyResCode("4004", "dup").Code)
	assert.Equal(t, CodeOther, ClassifyResCode("1234", "huh").Code)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeRateLimited, CodeOf(ClassifyResCode("5091", "quota")))
	assert.Equal(t, CodeOther, CodeOf(fmt.Errorf("plain error")))
	assert.Equal(t, CodeOther, CodeOf(nil))

	// classification survives wrapping
	wrapped := fmt.Errorf("poll failed: %w", ClassifyResCode("4004", "dup"))
	assert.Equal(t, CodeDuplicate, CodeOf(wrapped))
}

func TestDoorsAny(t *testing.T) {
	assert.False(t, Doors{}.Any())
	assert.True(t, Doors{BackLeft: true}.Any())
}

func TestErrorString(t *testing.T) {
	err := ClassifyResCode("5091", "exceeded daily limit")
	assert.Contains(t, err.Error(), "5091")
	assert.Contains(t, err.Error(), "exceeded daily limit")
	assert.Equal(t, "just a message", (&Error{Msg: "just a message"}).Error())
}
