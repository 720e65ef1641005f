package env

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvFile names an explicit dotenv file that is loaded before any other.
const EnvFile = "FWAGENT_ENV_FILE"

// SystemEnvFile is the host-wide dotenv file shared by every fwagent run.
const SystemEnvFile = "/etc/fwagent/fwagent.env"

var (
	loadOnce    sync.Once
	loadedPaths []string
	loadErr     error
)

// Ensure loads every dotenv file returned by Candidates. Variables already in
// the process environment, or set by an earlier file, are never overridden.
// Subsequent calls are no-ops.
func Ensure() error {
	// Opt-in with GOTEST_LOAD_DOTENV=1 when running `go test`.
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		loadedPaths, loadErr = load(Candidates())
	})
	return loadErr
}

// LoadedPaths returns the dotenv files applied by Ensure, in load order.
func LoadedPaths() []string {
	return append([]string(nil), loadedPaths...)
}

// Candidates lists the dotenv files to consult, most specific first:
// $FWAGENT_ENV_FILE, ./.env, ~/.fwagent/fwagent.env and SystemEnvFile.
func Candidates() []string {
	var paths []string
	if explicit := strings.TrimSpace(os.Getenv(EnvFile)); explicit != "" {
		paths = append(paths, explicit)
	}
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".fwagent", "fwagent.env"))
	}
	return append(paths, SystemEnvFile)
}

// load applies each existing file in order. A missing explicit file is an
// error; other missing files are skipped.
func load(paths []string) ([]string, error) {
	explicit := strings.TrimSpace(os.Getenv(EnvFile))
	var loaded []string
	var errs []error
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path != explicit {
				continue
			}
			log.Debug().Err(err).Str("dotenv", path).Msg("fwagent: stat env file failed")
			errs = append(errs, err)
			continue
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Warn().Err(err).Str("dotenv", path).Msg("fwagent: load env file failed")
			errs = append(errs, err)
			continue
		}
		log.Debug().Str("dotenv", path).Msg("fwagent: loaded env file")
		loaded = append(loaded, path)
	}
	return loaded, errors.Join(errs...)
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}
