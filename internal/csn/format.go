package csn

import (
	"fmt"
	"time"
)

// csnTimeLayout is the timestamp part of the on-wire change-stamp text
// format "<UTC timestamp>.<usec>Z#<count>#<sid>#<mod>", matching the
// printable form referenced by Stamp's doc comment.
const csnTimeLayout = "20060102150405"

// Generator produces locally-originated change stamps for glue-entry
// construction and promotion, where this consumer itself must mint a
// stamp rather than copy one off the wire. Holds a monotonic per-second
// operation counter so that several stamps minted within the same
// wall-clock second still sort strictly increasing.
type Generator struct {
	SID int32
	Now func() time.Time

	lastSecond int64
	count int
}

// Next mints a new Stamp, bumping the operation counter when called more
// than once within the same wall-clock second.
func (g *Generator) Next() Stamp {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}

	t := now().UTC()
	sec := t.Unix()

	if sec == g.lastSecond {
		g.count++
	} else {
		g.lastSecond = sec
		g.count = 0
	}

	text := fmt.Sprintf("%s.%06dZ#%06x#%03x#000000", t.Format(csnTimeLayout), t.Nanosecond()/1000, g.count, g.SID)

	return Stamp(text)
}
