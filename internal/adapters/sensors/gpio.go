package sensors

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ghalamif/MeshTrace/internal/ports"
)

// GPIOLine reads a discrete impact switch through its sysfs value file.
type GPIOLine struct {
	Path      string
	ActiveLow bool
}

func (l GPIOLine) Triggered() (bool, error) {
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return false, err
	}
	var high bool
	switch v := string(bytes.TrimSpace(raw)); v {
	case "1":
		high = true
	case "0":
		high = false
	default:
		return false, fmt.Errorf("gpio %s: unexpected value %q", l.Path, v)
	}
	return high != l.ActiveLow, nil
}

// GPIOLines builds impact channels from sysfs value paths.
func GPIOLines(paths []string, activeLow bool) []ports.ImpactChannel {
	out := make([]ports.ImpactChannel, 0, len(paths))
	for _, p := range paths {
		out = append(out, GPIOLine{Path: p, ActiveLow: activeLow})
	}
	return out
}
