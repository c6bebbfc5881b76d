package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestList_Order(t *testing.T) {
	var l List[int]
	var calls []string
	l.Add(func(v int) { calls = append(calls, "a") })
	l.Add(nil)
	l.Add(func(v int) { calls = append(calls, "b") })

	l.Invoke(1)
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, 2, l.Len())

	l.Clear()
	l.Invoke(2)
	assert.Len(t, calls, 2)
}
