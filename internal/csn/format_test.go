package csn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerator_BumpsCounterWithinSameSecond(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &Generator{SID: 1, Now: func() time.Time { return fixed }}

	a := g.Next()
	b := g.Next()
	c := g.Next()

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
}

func TestGenerator_ResetsCounterOnNewSecond(t *testing.T) {
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &Generator{SID: 2, Now: func() time.Time { return tick }}

	first := g.Next()
	tick = tick.Add(time.Second)
	second := g.Next()

	assert.True(t, first.Less(second))
}
