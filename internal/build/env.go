// Package build assembles the environment the C++ toolchain runs in.
//
// The compiler normally inherits the process environment. Projects that need
// extra include or library paths (CPLUS_INCLUDE_PATH, LIBRARY_PATH, ...) or a
// sanitizer option (ASAN_OPTIONS) set them under compiler.env in the config;
// Env merges those over the inherited variables.
package build

import (
	"os"
	"sort"
	"strings"

	"cpwatch/internal/logging"
)

// Env returns the process environment with extra applied on top. It returns
// nil when extra is empty so the toolchain simply inherits the environment.
func Env(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	additional := make([]string, 0, len(keys))
	for _, k := range keys {
		additional = append(additional, k+"="+extra[k])
		logging.CompileDebug("Build env: %s=%s", k, extra[k])
	}
	return MergeEnv(os.Environ(), additional...)
}

// hasEnvKey checks if an environment key is already set.
func hasEnvKey(env []string, key string) bool {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// setEnvKey sets or updates an environment variable.
func setEnvKey(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = key + "=" + value
			return env
		}
	}
	return append(env, key+"="+value)
}

// MergeEnv merges additional KEY=VALUE entries into base.
// Later values override earlier ones; malformed entries are skipped.
func MergeEnv(base []string, additional ...string) []string {
	result := make([]string, len(base))
	copy(result, base)

	for _, add := range additional {
		parts := strings.SplitN(add, "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			result = setEnvKey(result, parts[0], parts[1])
		}
	}

	return result
}
