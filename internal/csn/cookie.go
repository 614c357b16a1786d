package csn

import (
	"fmt"
	"strconv"
	"strings"
)

// Cookie is the parsed form of a persisted sync cookie: this consumer's
// rid, the serverID it advertises (NoSID for "none"), and the CSN vector.
type Cookie struct {
	RID int32
	SID int32
	Vector Vector
}

// Parse decodes the private, opaque cookie wire format used between this
// consumer and its own persisted state; the format is canonical only
// within this consumer, not a wire protocol shared with any provider.
// Format: "rid=<n>,sid=<n>,csn=<stamp1>;<stamp2>;..." where each stamp is
// "<sid>:<stampbytes>".
func Parse(raw string) (Cookie, error) {
	var c Cookie

	c.SID = NoSID

	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		key, val, ok := strings.Cut(field, "=")
		if !ok {
			return Cookie{}, fmt.Errorf("csn: malformed cookie field %q", field)
		}

		switch key {
		case "rid":
			n, err := strconv.ParseInt(val, 10, 32)
			if err != nil {
				return Cookie{}, fmt.Errorf("csn: invalid rid %q: %w", val, err)
			}

			c.RID = int32(n)
		case "sid":
			if val == "" {
				c.SID = NoSID

				continue
			}

			n, err := strconv.ParseInt(val, 10, 32)
			if err != nil {
				return Cookie{}, fmt.Errorf("csn: invalid sid %q: %w", val, err)
			}

			c.SID = int32(n)
		case "csn":
			vec, err := parseVector(val)
			if err != nil {
				return Cookie{}, err
			}

			c.Vector = vec
		default:
			return Cookie{}, fmt.Errorf("csn: unknown cookie field %q", key)
		}
	}

	return c, nil
}

func parseVector(val string) (Vector, error) {
	if val == "" {
		return Vector{}, nil
	}

	var v Vector

	for _, pair := range strings.Split(val, ";") {
		sidStr, stamp, ok := strings.Cut(pair, ":")
		if !ok {
			return Vector{}, fmt.Errorf("csn: malformed vector entry %q", pair)
		}

		n, err := strconv.ParseInt(sidStr, 10, 32)
		if err != nil {
			return Vector{}, fmt.Errorf("csn: invalid sid %q: %w", sidStr, err)
		}

		v.SIDs = append(v.SIDs, int32(n))
		v.Stamps = append(v.Stamps, Stamp(stamp))
	}

	if err := validateSorted(v.SIDs); err != nil {
		return Vector{}, err
	}

	return v, nil
}

// validateSorted checks: sids is strictly ascending
// apart from NoSID holes.
func validateSorted(sids []int32) error {
	prev := int32(-2) // below NoSID, so the first element always passes
	seen := make(map[int32]bool)

	for _, sid := range sids {
		if sid == NoSID {
			continue
		}

		if sid <= prev {
			return fmt.Errorf("csn: sids not strictly ascending at sid=%d", sid)
		}

		if seen[sid] {
			return fmt.Errorf("csn: duplicate sid %d", sid)
		}

		seen[sid] = true
		prev = sid
	}

	return nil
}

// Compose encodes a Cookie back into the private wire format.
func Compose(c Cookie) string {
	var b strings.Builder

	fmt.Fprintf(&b, "rid=%d,sid=", c.RID)

	if c.SID != NoSID {
		fmt.Fprintf(&b, "%d", c.SID)
	}

	b.WriteString(",csn=")

	for i, sid := range c.Vector.SIDs {
		if i > 0 {
			b.WriteByte(';')
		}

		fmt.Fprintf(&b, "%d:%s", sid, c.Vector.Stamps[i])
	}

	return b.String()
}
