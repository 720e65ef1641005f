package inventory

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/httprunner/fwagent/pkg/commands"
)

const (
	healthyPhrase  = "is healthy"
	resilverMarker = "resilver in progress"
)

// DefaultDevicePattern matches illumos style disk names (c0t0d0, c1t5000C5003E4C2A11d0s0).
const DefaultDevicePattern = `^c\d+t[0-9A-Fa-f]+d\d+(?:[ps]\d+)?$`

var (
	vdevGroupPattern   = regexp.MustCompile(`^(mirror|raidz[123]?|draid[123]?(:[0-9a-z:]+)?|spare|replacing)-\d+$`)
	guidPattern        = regexp.MustCompile(`^\d{6,}$`) // missing device, shown by guid
	enclosureIDPattern = regexp.MustCompile(`^\d+$`)
	slotPathPattern    = regexp.MustCompile(`^encl([^/\s]+)/slot([^/\s]+)/([^/\s]+)$`)
)

var sectionHeaders = map[string]bool{
	"logs":    true,
	"cache":   true,
	"spares":  true,
	"special": true,
	"dedup":   true,
}

// emptySlotDevices mark a slot path without a disk behind it.
var emptySlotDevices = map[string]bool{
	"-":     true,
	"empty": true,
}

func lines(out string) []string {
	var result []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		result = append(result, scanner.Text())
	}
	return result
}

// parsePoolList reads one pool name per line.
func parsePoolList(out string) []string {
	var pools []string
	seen := make(map[string]struct{})
	for _, line := range lines(out) {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		pools = append(pools, name)
	}
	return pools
}

// parseDevices walks the config: section of pool status output. Every row in
// that section must be the column header, the pool itself, a vdev group, a
// section header or a device; anything else means the output format changed.
// Hot spares are listed but are not pool members, so they are skipped.
func parseDevices(pool, out string, device *regexp.Regexp) ([]string, error) {
	var (
		devices  []string
		seen     = make(map[string]struct{})
		inConfig bool
		section  string
	)
	for _, raw := range lines(out) {
		trimmed := strings.TrimSpace(raw)
		if !inConfig {
			if trimmed == "config:" {
				inConfig = true
			}
			continue
		}
		if trimmed == "" {
			continue
		}
		// a flush-left "key:" row closes the config section
		if !strings.HasPrefix(raw, " ") && !strings.HasPrefix(raw, "\t") && strings.Contains(trimmed, ":") {
			break
		}

		fields := strings.Fields(trimmed)
		name := fields[0]
		switch {
		case name == "NAME" && len(fields) > 1 && fields[1] == "STATE":
		case name == pool:
			section = ""
		case sectionHeaders[name]:
			section = name
		case vdevGroupPattern.MatchString(name):
		case guidPattern.MatchString(name), strings.HasSuffix(name, "/old"):
		case device.MatchString(name):
			if section == "spares" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			devices = append(devices, name)
		default:
			return nil, &ParseError{Kind: commands.KindPoolStatus, Line: raw, Reason: "unrecognized config row"}
		}
	}
	if !inConfig {
		return nil, &ParseError{Kind: commands.KindPoolStatus, Line: firstLine(out), Reason: "missing config section"}
	}
	return devices, nil
}

// parseHealth treats anything but the explicit healthy phrase as degraded.
func parseHealth(out string) Health {
	for _, line := range lines(out) {
		if strings.Contains(line, healthyPhrase) {
			return Healthy
		}
	}
	return Degraded
}

func parseResync(out string) bool {
	for _, line := range lines(out) {
		if strings.Contains(line, resilverMarker) {
			return true
		}
	}
	return false
}

// parseEnclosures takes the leading field of each row as an enclosure id;
// rows not starting with an id (headers, banners) are skipped.
func parseEnclosures(out string) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, line := range lines(out) {
		fields := strings.Fields(line)
		if len(fields) == 0 || !enclosureIDPattern.MatchString(fields[0]) {
			continue
		}
		if _, dup := seen[fields[0]]; dup {
			continue
		}
		seen[fields[0]] = struct{}{}
		ids = append(ids, fields[0])
	}
	return ids
}

// parseSlots extracts encl<E>/slot<S>/<device> tokens. A token that looks
// like a slot path but is malformed, or that names another enclosure, is an
// error; rows without such a token are ignored.
func parseSlots(enclosure, out string) ([]Slot, error) {
	var slots []Slot
	for _, line := range lines(out) {
		for _, field := range strings.Fields(line) {
			if !strings.HasPrefix(field, "encl") || !strings.Contains(field, "/slot") {
				continue
			}
			match := slotPathPattern.FindStringSubmatch(field)
			if match == nil {
				return nil, &ParseError{Kind: commands.KindListSlots, Line: line, Reason: "malformed slot path"}
			}
			if match[1] != enclosure {
				return nil, &ParseError{Kind: commands.KindListSlots, Line: line, Reason: "slot path names enclosure " + match[1]}
			}
			if emptySlotDevices[match[3]] {
				continue
			}
			slots = append(slots, Slot{Enclosure: match[1], Slot: match[2], Device: match[3]})
		}
	}
	return slots, nil
}

func firstLine(out string) string {
	for _, line := range lines(out) {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}
