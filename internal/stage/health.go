package stage

import "fmt"

// Health reports whether a stage can run on this host.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy builds a ready record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy builds a not-ready record with a reason.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Unready returns a one-line description of every not-ready entry.
func Unready(healths []Health) []string {
	var out []string
	for _, h := range healths {
		if !h.Ready {
			out = append(out, fmt.Sprintf("%s: %s", h.Name, h.Detail))
		}
	}
	return out
}
