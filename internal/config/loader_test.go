package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLProfiles(t *testing.T) {
	t.Setenv("JOBCAP_TEST_MODE", "nightly")
	path := writeConfig(t, "config.yaml", `
games:
  genshin:
    launcher: 'D:\BetterGI\BetterGI.exe'
    max_minutes: 90
profiles:
  genshin:
    aliases: ["0"]
    command: ${games.genshin.launcher} startOneDragon
    timeout: ${games.genshin.max_minutes}
    encoding: gbk
    workdir: ./bin
    env:
      MODE: ${JOBCAP_TEST_MODE}
      LEVEL: 3
  zzz:
    aliases: [1]
    command: echo ${not.there}
    timeout: soon
`)

	file, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"genshin", "zzz"}, file.Names())

	genshin, err := file.Lookup("0")
	require.NoError(t, err)
	assert.Equal(t, "genshin", genshin.Name)
	assert.Equal(t, `D:\BetterGI\BetterGI.exe startOneDragon`, genshin.Command)
	assert.Equal(t, domain.NewTimeoutPolicy(90), genshin.Timeout)
	assert.Equal(t, "gbk", genshin.Encoding)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "bin"), genshin.Workdir)
	assert.Equal(t, map[string]string{"MODE": "nightly", "LEVEL": "3"}, genshin.Env)
	assert.Empty(t, genshin.Unresolved)

	zzz, err := file.Lookup("1")
	require.NoError(t, err)
	assert.Equal(t, "echo ${not.there}", zzz.Command)
	assert.Equal(t, []string{"not.there"}, zzz.Unresolved)
	assert.False(t, zzz.Timeout.Enabled())
}

func TestLoadJSONWithNonASCIIPaths(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "游戏": {"原神": {"最长运行时间": "45"}},
  "profiles": {
    "yuanshen": {"command": "run.bat", "timeout": "${游戏.原神.最长运行时间}"},
    "fraction": {"command": "run.bat", "timeout": 1.5},
    "none": {"command": "run.bat"}
  }
}`)

	file, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45, file.Profiles["yuanshen"].Timeout.Minutes)
	assert.False(t, file.Profiles["fraction"].Timeout.Enabled())
	assert.False(t, file.Profiles["none"].Timeout.Enabled())
	assert.Empty(t, file.Profiles["none"].Workdir)
}

func TestLoadRejectsInvalidProfiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown field",
			content: "profiles:\n  bad:\n    cmd: run.bat\n",
			want:    "profiles.bad",
		},
		{
			name:    "missing command",
			content: "profiles:\n  bad:\n    timeout: 5\n",
			want:    "profiles.bad",
		},
		{
			name:    "no profiles",
			content: "profiles: {}\n",
			want:    "profiles",
		},
		{
			name:    "not a mapping",
			content: "- run.bat\n",
			want:    "schema validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRejectsAliasClashes(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", `
profiles:
  a:
    command: one
    aliases: ["x"]
  b:
    command: two
    aliases: ["x"]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `alias "x" already used by a`)

	_, err = Load(writeConfig(t, "config.yaml", `
profiles:
  a:
    command: one
    aliases: ["b"]
  b:
    command: two
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "also a profile name")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLookupUnknownProfile(t *testing.T) {
	file, err := Load(writeConfig(t, "config.yaml", "profiles:\n  only:\n    command: run\n"))
	require.NoError(t, err)

	_, err = file.Lookup("other")
	assert.ErrorIs(t, err, ErrUnknownProfile)
	assert.Contains(t, err.Error(), "only")
}

func TestProfileApply(t *testing.T) {
	p := &Profile{
		Name:     "nightly",
		Command:  "scheduler.exe",
		Timeout:  domain.NewTimeoutPolicy(30),
		Encoding: "gbk",
		Workdir:  "/srv/jobs",
		Env:      map[string]string{"B": "2", "A": "1"},
	}

	cfg := &domain.RunConfig{Encoding: "shift_jis", Env: []string{"KEEP=yes"}}
	p.Apply(cfg)

	assert.Equal(t, "nightly", cfg.Profile)
	assert.Equal(t, "scheduler.exe", cfg.Command)
	assert.Equal(t, 30, cfg.Timeout.Minutes)
	assert.Equal(t, "shift_jis", cfg.Encoding)
	assert.Equal(t, "/srv/jobs", cfg.Workdir)
	assert.Equal(t, []string{"KEEP=yes", "A=1", "B=2"}, cfg.Env)
}
