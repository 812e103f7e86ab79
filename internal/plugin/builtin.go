package plugin

import (
	"context"
	"fmt"
	"time"
)

// Echo replies with its input.
func Echo() Plugin {
	return Func(func(_ context.Context, input string, _ map[string]string) (string, error) {
		if input == "" {
			return "", fmt.Errorf("nothing to echo")
		}
		return input, nil
	})
}

// Clock replies with the current time. The input may name an IANA time zone.
func Clock(now func() time.Time) Plugin {
	if now == nil {
		now = time.Now
	}
	return Func(func(_ context.Context, input string, params map[string]string) (string, error) {
		zone := input
		if zone == "" {
			zone = params["tz"]
		}

		t := now()
		if zone != "" {
			loc, err := time.LoadLocation(zone)
			if err != nil {
				return "", fmt.Errorf("unknown time zone %q", zone)
			}
			t = t.In(loc)
		}
		return t.Format(time.RFC1123), nil
	})
}

// RegisterBuiltins registers echo and time.
func RegisterBuiltins(g *Gateway) error {
	if err := g.Register("echo", Echo()); err != nil {
		return err
	}
	return g.Register("time", Clock(nil))
}
