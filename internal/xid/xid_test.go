package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedAndOrdered(t *testing.T) {
	first := New("wo")
	second := New("wo")

	require.True(t, strings.HasPrefix(first, "wo-"), first)
	assert.Len(t, first, len("wo-")+32)
	assert.NotEqual(t, first, second)
	assert.LessOrEqual(t, first[:len("wo-")+12], second[:len("wo-")+12], "timestamp prefix never goes backwards")
}

func TestBatchIsUUID(t *testing.T) {
	_, err := uuid.Parse(Batch())
	assert.NoError(t, err)
}
