package buildcfg

import (
	"fmt"
	"strconv"
	"strings"
)

// ABIs known to the toolchain, in the order they are reported.
var ABIs = []string{"armeabi-v7a", "arm64-v8a", "x86", "x86_64"}

// Config is a (target ABI, minimum API level) pair. It is comparable and
// safe to use as a map key.
type Config struct {
	ABI string
	API int
}

func (c Config) String() string {
	return fmt.Sprintf("%s-%d", c.ABI, c.API)
}

// Parse is the inverse of Config.String. The API level follows the last '-'
// because ABI names contain dashes themselves.
func Parse(s string) (Config, error) {
	idx := strings.LastIndexByte(s, '-')
	if idx <= 0 || idx == len(s)-1 {
		return Config{}, fmt.Errorf("invalid build configuration %q", s)
	}
	api, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return Config{}, fmt.Errorf("invalid API level in build configuration %q: %w", s, err)
	}
	return Config{ABI: s[:idx], API: api}, nil
}

func IsKnownABI(abi string) bool {
	for _, a := range ABIs {
		if a == abi {
			return true
		}
	}
	return false
}

// MinAPI returns the lowest API level the toolchain supports for abi.
func MinAPI(abi string) int {
	if strings.Contains(abi, "64") {
		return 21
	}
	return 16
}
