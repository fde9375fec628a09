package backend

import "strings"

// Available returns a comma-separated list of engines this build can create.
func Available() string {
	var entries []string
	for _, name := range []string{CPU, Reference, QNN} {
		if Has(name) {
			entries = append(entries, name)
		}
	}
	return strings.Join(entries, ",")
}

func Has(name string) bool {
	switch name {
	case CPU, Reference, Auto:
		return true
	default:
		return false
	}
}
