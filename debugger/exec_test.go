package debugger

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(env []string) map[string]string {
	result := make(map[string]string, len(env))
	for _, kv := range env {
		if key, val, ok := strings.Cut(kv, "="); ok && key != "" {
			result[key] = val
		}
	}
	return result
}

func TestMergeSafeEnv(t *testing.T) {
	// modifies the process environment, must not run in parallel
	t.Setenv("DBUG_SEGMENT_DIR", "/from/os")
	t.Setenv("HOME_TEST_VAR", "kept")
	t.Setenv("LD_PRELOAD", "/lib/hook.so")

	testCases := []struct {
		name          string
		customEnv     []string
		expectPresent map[string]string
		expectAbsent  []string
	}{
		{
			name:          "no_custom",
			expectPresent: map[string]string{"DBUG_SEGMENT_DIR": "/from/os", "HOME_TEST_VAR": "kept"},
			expectAbsent:  []string{"LD_PRELOAD"},
		},
		{
			name:          "override_os_var",
			customEnv:     []string{"DBUG_SEGMENT_DIR=/custom"},
			expectPresent: map[string]string{"DBUG_SEGMENT_DIR": "/custom", "HOME_TEST_VAR": "kept"},
			expectAbsent:  []string{"LD_PRELOAD"},
		},
		{
			name:          "custom_unsafe_prefix_included",
			customEnv:     []string{"LD_DEBUG=files"},
			expectPresent: map[string]string{"LD_DEBUG": "files"},
			expectAbsent:  []string{"LD_PRELOAD"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			merged := mergeSafeEnv(tc.customEnv)
			result := envMap(merged)
			for key, val := range tc.expectPresent {
				assert.Equal(t, val, result[key], key)
			}
			for _, key := range tc.expectAbsent {
				assert.NotContains(t, result, key)
			}

			var segmentDirs int
			for _, kv := range merged {
				if strings.HasPrefix(kv, "DBUG_SEGMENT_DIR=") {
					segmentDirs++
				}
			}
			assert.Equal(t, 1, segmentDirs)
		})
	}
}

func TestTargetEnv(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SegmentDir = "/run/dbug"
	cfg.ResponseTimeout = 2 * time.Second

	assert.Equal(t, []string{
		"DBUG_ENABLED=1",
		"DBUG_SEGMENT_DIR=/run/dbug",
		"DBUG_RESPONSE_TIMEOUT=2s",
	}, TargetEnv(cfg, ""))

	cfg.ArchiveDir = "/var/dbug/archive"
	env := envMap(TargetEnv(cfg, "dbug.yaml"))
	assert.Equal(t, "dbug.yaml", env[EnvConfig])
	assert.Equal(t, "/var/dbug/archive", env[EnvArchiveDir])
}

func TestNewTargetExec(t *testing.T) {
	t.Setenv("DBUG_ENABLED", "0")

	dir := t.TempDir()
	cmd := NewTargetExec(dir, []string{"DBUG_ENABLED=1"}, "echo", "hi")
	assert.Equal(t, dir, cmd.Dir)
	assert.Equal(t, []string{"echo", "hi"}, cmd.Args)
	assert.Equal(t, "1", envMap(cmd.Env)["DBUG_ENABLED"])
}

func TestLaunchTarget(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SegmentDir = t.TempDir()
	var stdout, stderr LockedBuffer
	cmd, err := LaunchTarget(cfg, "", &stdout, &stderr, "sh", "-c", `echo "$DBUG_ENABLED" && echo err >&2`)
	require.NoError(t, err)
	require.NoError(t, cmd.Wait())

	assert.Equal(t, "1\n", stdout.String())
	assert.Equal(t, "err\n", stderr.String())

	_, err = LaunchTarget(cfg, "", nil, nil, "/nonexistent/dbug-target")
	assert.Error(t, err)
}
