package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coursesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
courses:
  - key: intro-py
    url: https://example.org/intro-py.git
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultExercisesRoot, cfg.Paths.ExercisesRoot)
	assert.Equal(t, DefaultStaticRoot, cfg.Paths.StaticRoot)
	assert.Equal(t, DefaultBuildScript, cfg.Build.ScriptName)
	assert.Equal(t, DefaultInterpreter, cfg.Resolver.Interpreter)
	assert.Equal(t, DefaultResolver, cfg.Resolver.Script)
	require.Len(t, cfg.Courses, 1)
	assert.Equal(t, "master", cfg.Courses[0].Branch)
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval())
	assert.Equal(t, time.Duration(0), cfg.BuildTimeout())
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("COURSE_TOKEN", "sekrit")
	path := writeConfig(t, `
courses:
  - key: intro-py
    url: https://example.org/intro-py.git
    auth:
      type: token
      token: ${COURSE_TOKEN}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Courses[0].Auth)
	assert.Equal(t, "sekrit", cfg.Courses[0].Auth.Token)
}

func TestLoadRejectsDuplicateKeys(t *testing.T) {
	path := writeConfig(t, `
courses:
  - key: intro-py
    url: https://a.example/x.git
  - key: Intro-PY
    url: https://b.example/y.git
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate course key")
}

func TestLoadRejectsMissingURL(t *testing.T) {
	path := writeConfig(t, `
courses:
  - key: intro-py
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}

func TestLoadRejectsBadInterval(t *testing.T) {
	path := writeConfig(t, `
courses: []
daemon:
  sync_interval: soonish
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "intro-py", NormalizeKey("  Intro-PY "))
	// NFC normalization: decomposed e + combining acute collapses to é.
	assert.Equal(t, NormalizeKey("café"), NormalizeKey("café"))
}

func TestValidateKey(t *testing.T) {
	require.NoError(t, ValidateKey("intro-py_2.0"))
	assert.Error(t, ValidateKey(""))
	assert.Error(t, ValidateKey(".hidden"))
	assert.Error(t, ValidateKey("a/b"))
	assert.Error(t, ValidateKey("a b"))
	assert.Error(t, ValidateKey("café")) // non-ASCII rejected even after NFC
}

func TestCourseByKey(t *testing.T) {
	cfg := &Config{Courses: []Course{{Key: "intro-py", URL: "u"}}}
	c, ok := cfg.CourseByKey("Intro-Py")
	require.True(t, ok)
	assert.Equal(t, "intro-py", c.Key)
	_, ok = cfg.CourseByKey("nope")
	assert.False(t, ok)
}

func TestInitWritesExampleAndRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursesync.yaml")
	require.NoError(t, Init(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Courses)

	err = Init(path, false)
	require.Error(t, err)
	require.NoError(t, Init(path, true))
}
