package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIDUnique(t *testing.T) {
	seen := make(map[int64]struct{})
	prev := int64(0)
	for i := 0; i < 10000; i++ {
		id := NextID()
		if _, dup := seen[id]; dup {
			t.Fatalf("重复 ID: %d", id)
		}
		seen[id] = struct{}{}
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestGenerateAlertNo(t *testing.T) {
	no := GenerateAlertNo()
	assert.True(t, strings.HasPrefix(no, "ALT"))
	// ALT + 14 位时间 + 8 位序号
	assert.Len(t, no, 25)

	assert.NotEqual(t, no, GenerateAlertNo())
}

func TestGenerateLockToken(t *testing.T) {
	token := GenerateLockToken()
	assert.True(t, strings.HasPrefix(token, "LCK"))
	assert.NotEqual(t, token, GenerateLockToken())
}
