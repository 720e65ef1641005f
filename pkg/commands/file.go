package commands

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// fileConfig mirrors the on-disk TOML layout:
//
//	[templates]
//	offline = "zpool offline -t {pool} {device}"
//
//	[timeouts]
//	firmware_update = "45m"
type fileConfig struct {
	Templates map[string]string `toml:"templates"`
	Timeouts  map[string]string `toml:"timeouts"`
}

// LoadFile overlays the templates and timeouts defined in path on Defaults.
func LoadFile(path string) (Set, error) {
	set := Defaults()
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Set{}, errors.Wrapf(err, "load command file %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return Set{}, errors.Errorf("command file %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	for kind, tmpl := range raw.Templates {
		if !contains(Kinds(), kind) {
			return Set{}, errors.Errorf("command file %s: unknown template %q", path, kind)
		}
		set.Templates[kind] = strings.TrimSpace(tmpl)
	}
	for kind, value := range raw.Timeouts {
		if !contains(Kinds(), kind) {
			return Set{}, errors.Errorf("command file %s: unknown timeout %q", path, kind)
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return Set{}, errors.Wrapf(err, "command file %s: parse timeout %s", path, kind)
		}
		set.Timeouts[kind] = d
	}
	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}
