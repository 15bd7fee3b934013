package engine

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// WindowPolicy decides where a metrics query window ends.
type WindowPolicy string

const (
	// WindowNow ends the window at the current time.
	WindowNow WindowPolicy = "now"
	// WindowHour ends the window at the top of the current hour.
	WindowHour WindowPolicy = "hour"
	// WindowLagged ends the window a fixed lag before now. The loss and
	// latency endpoints reject windows that end less than two minutes ago.
	WindowLagged WindowPolicy = "lagged"
)

// Window is the [T0, T1] range passed as t0/t1 query parameters.
type Window struct {
	T0 time.Time
	T1 time.Time
}

func ParseWindowPolicy(s string) (WindowPolicy, error) {
	switch p := WindowPolicy(s); p {
	case WindowNow, WindowHour, WindowLagged:
		return p, nil
	case "":
		return WindowLagged, nil
	default:
		return "", fmt.Errorf("unknown window policy %q (want now, hour or lagged)", s)
	}
}

// Compute returns the window of length span ending where the policy puts it.
func (p WindowPolicy) Compute(now time.Time, span, lag time.Duration) (Window, error) {
	if span <= 0 {
		return Window{}, fmt.Errorf("window span must be > 0, got %s", span)
	}
	var t1 time.Time
	switch p {
	case WindowNow:
		t1 = now
	case WindowHour:
		t1 = now.Truncate(time.Hour)
	case WindowLagged, "":
		t1 = now.Add(-lag)
	default:
		return Window{}, fmt.Errorf("unknown window policy %q", string(p))
	}
	t1 = t1.Truncate(time.Second)
	return Window{T0: t1.Add(-span), T1: t1}, nil
}

// Params returns t0 and t1 as Unix seconds.
func (w Window) Params() url.Values {
	return url.Values{
		"t0": {strconv.FormatInt(w.T0.Unix(), 10)},
		"t1": {strconv.FormatInt(w.T1.Unix(), 10)},
	}
}
