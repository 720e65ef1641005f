// Package commands holds the command-line templates used to talk to the pool
// and enclosure tooling. Templates carry {placeholder} fields that are filled
// with shell-quoted values at render time.
package commands

import (
	"regexp"
	"strings"
	"time"

	"github.com/httprunner/fwagent/pkg/runner"
	"github.com/pkg/errors"
)

// Command kinds, used as template keys and as log/metric labels.
const (
	KindListPools      = "list_pools"
	KindPoolStatus     = "pool_status"
	KindPoolHealth     = "pool_health"
	KindOffline        = "offline"
	KindOnline         = "online"
	KindListEnclosures = "list_enclosures"
	KindListSlots      = "list_slots"
	KindFirmwareUpdate = "firmware_update"
)

// Placeholder names accepted by templates.
const (
	ArgPool      = "pool"
	ArgDevice    = "device"
	ArgEnclosure = "enclosure"
	ArgSlot      = "slot"
	ArgFirmware  = "firmware"
)

const (
	defaultQueryTimeout      = 2 * time.Minute
	defaultMembershipTimeout = 5 * time.Minute
	defaultFirmwareTimeout   = 30 * time.Minute
)

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// Set is the full collection of templates plus their time budgets.
type Set struct {
	Templates map[string]string
	Timeouts  map[string]time.Duration
}

// Defaults returns the stock zpool/sesctl/fwupdate command set.
func Defaults() Set {
	return Set{
		Templates: map[string]string{
			KindListPools:      "zpool list -H -o name",
			KindPoolStatus:     "zpool status {pool}",
			KindPoolHealth:     "zpool status -x {pool}",
			KindOffline:        "zpool offline -t {pool} {device}",
			KindOnline:         "zpool online {pool} {device}",
			KindListEnclosures: "sesctl list",
			KindListSlots:      "sesctl slots {enclosure}",
			KindFirmwareUpdate: "fwupdate update disk-firmware -e {enclosure} -s {slot} -f {firmware}",
		},
		Timeouts: map[string]time.Duration{
			KindListPools:      defaultQueryTimeout,
			KindPoolStatus:     defaultQueryTimeout,
			KindPoolHealth:     defaultQueryTimeout,
			KindOffline:        defaultMembershipTimeout,
			KindOnline:         defaultMembershipTimeout,
			KindListEnclosures: defaultQueryTimeout,
			KindListSlots:      defaultQueryTimeout,
			KindFirmwareUpdate: defaultFirmwareTimeout,
		},
	}
}

// Kinds lists every template key in a stable order.
func Kinds() []string {
	return []string{
		KindListPools,
		KindPoolStatus,
		KindPoolHealth,
		KindOffline,
		KindOnline,
		KindListEnclosures,
		KindListSlots,
		KindFirmwareUpdate,
	}
}

// Build renders the template for kind with args and attaches its timeout.
func (s Set) Build(kind string, args map[string]string) (runner.Command, error) {
	tmpl, ok := s.Templates[kind]
	if !ok || strings.TrimSpace(tmpl) == "" {
		return runner.Command{}, errors.Errorf("commands: no template for %s", kind)
	}
	line, err := Render(tmpl, args)
	if err != nil {
		return runner.Command{}, errors.Wrapf(err, "commands: render %s", kind)
	}
	return runner.Command{Line: line, Timeout: s.Timeouts[kind], Kind: kind}, nil
}

// Render substitutes every {name} in tmpl with the quoted value of args[name].
// A placeholder without a value is an error.
func Render(tmpl string, args map[string]string) (string, error) {
	var missing []string
	line := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := args[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return runner.Quote(value)
	})
	if len(missing) > 0 {
		return "", errors.Errorf("missing value for placeholder(s) %s", strings.Join(missing, ", "))
	}
	return line, nil
}

// Validate checks that every kind has a template and that templates only
// reference placeholders they can be given.
func (s Set) Validate() error {
	allowed := map[string][]string{
		KindListPools:      nil,
		KindPoolStatus:     {ArgPool},
		KindPoolHealth:     {ArgPool},
		KindOffline:        {ArgPool, ArgDevice},
		KindOnline:         {ArgPool, ArgDevice},
		KindListEnclosures: nil,
		KindListSlots:      {ArgEnclosure},
		KindFirmwareUpdate: {ArgPool, ArgDevice, ArgEnclosure, ArgSlot, ArgFirmware},
	}
	for _, kind := range Kinds() {
		tmpl := strings.TrimSpace(s.Templates[kind])
		if tmpl == "" {
			return errors.Errorf("commands: template %s is empty", kind)
		}
		for _, match := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
			if !contains(allowed[kind], match[1]) {
				return errors.Errorf("commands: template %s uses unknown placeholder {%s}", kind, match[1])
			}
		}
		if s.Timeouts[kind] < 0 {
			return errors.Errorf("commands: timeout for %s is negative", kind)
		}
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
