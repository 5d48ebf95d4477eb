package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedIDGenerator_Sequence(t *testing.T) {
	gen := NewFixedIDGenerator("orc")

	assert.Equal(t, "orc-1", gen.Generate())
	assert.Equal(t, "orc-2", gen.Generate())
	assert.Equal(t, "orc-3", gen.Generate())
}

func TestFixedIDGenerator_EmptyPrefixDefault(t *testing.T) {
	gen := NewFixedIDGenerator("")
	assert.Equal(t, "test-instance-1", gen.Generate())
}
