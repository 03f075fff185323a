package debugger

import (
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/go-analyze/bulk"
)

// TargetEnv returns the environment entries enabling the runtime in a launched target.
func TargetEnv(cfg Config, configPath string) []string {
	env := []string{EnvEnabled + "=1", EnvSegmentDir + "=" + cfg.SegmentDir}
	if configPath != "" {
		env = append(env, EnvConfig+"="+configPath)
	}
	if cfg.ArchiveDir != "" {
		env = append(env, EnvArchiveDir+"="+cfg.ArchiveDir)
	}
	if cfg.ResponseTimeout > 0 {
		env = append(env, EnvTimeout+"="+cfg.ResponseTimeout.String())
	}
	return env
}

// NewTargetExec creates a command running binary with env applied over a sanitized copy of the
// current environment.
func NewTargetExec(dir string, env []string, binary string, arg ...string) *exec.Cmd {
	cmd := exec.Command(binary, arg...)
	cmd.Dir = dir
	cmd.Env = mergeSafeEnv(env)
	return cmd
}

func mergeSafeEnv(env []string) []string {
	envKeys := make([]string, len(env)) // os values we want to override
	for i, kv := range env {
		envKeys[i], _, _ = strings.Cut(kv, "=")
	}
	safeEnv := bulk.SliceFilterInPlace(func(envVar string) bool {
		if envVar == "" || envVar == "=" || strings.HasPrefix(envVar, "LD_") {
			return false // skip unsafe
		} else if key, _, _ := strings.Cut(envVar, "="); slices.Contains(envKeys, key) {
			return false // overridden below
		}
		return true
	}, os.Environ())
	return append(safeEnv, env...)
}

// LaunchTarget starts binary with debugging enabled, its output forwarded to stdout and stderr.
// The caller waits on the returned command, normally through Controller.Run.
func LaunchTarget(cfg Config, configPath string, stdout, stderr io.Writer, binary string, arg ...string) (*exec.Cmd, error) {
	cmd := NewTargetExec("", TargetEnv(cfg, configPath), binary, arg...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, newError(KindSession, "launch target", binary, err)
	}
	return cmd, nil
}
