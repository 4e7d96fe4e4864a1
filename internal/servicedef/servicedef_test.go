package servicedef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Builtins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Equal(t, []string{"database", "generic", "oauth", "payments", "storage"}, r.Types())

	payments, ok := r.Get("payments")
	require.True(t, ok)
	assert.Equal(t, ProbeBalance, payments.Probe.Kind)
	assert.True(t, payments.Rotation.Supported)
	assert.Equal(t, "sk_live_", payments.Rotation.SecretPrefix)
	assert.Equal(t, 32, payments.Rotation.SecretLength)
	assert.Equal(t, 100, payments.Defaults.RequestsPerMinute)

	database, ok := r.Get("database")
	require.True(t, ok)
	assert.Equal(t, ProbeSQLPing, database.Probe.Kind)
	assert.False(t, database.Rotation.Supported)

	assert.True(t, r.IsSupported("oauth"))
	assert.False(t, r.IsSupported("mainframe"))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name:     "payments",
		Probe:    ProbeSpec{Kind: ProbeHTTPHead},
		Rotation: RotationSpec{Supported: false},
	}))

	def, ok := r.Get("payments")
	require.True(t, ok)
	assert.Equal(t, ProbeHTTPHead, def.Probe.Kind)
	assert.False(t, def.Rotation.Supported)

	assert.Error(t, r.Register(Definition{}), "a nameless definition is rejected")
}

func TestParse(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte(`
name: cdn
category: edge
probe:
  kind: http_head
rotation:
  supported: true
  secretPrefix: cdn_
  secretLength: 36
defaults:
  requestsPerMinute: 1200
`))
	require.NoError(t, err)
	assert.Equal(t, "cdn", def.Name)
	assert.Equal(t, ProbeHTTPHead, def.Probe.Kind)
	assert.Equal(t, "cdn_", def.Rotation.SecretPrefix)
	assert.Equal(t, 36, def.Rotation.SecretLength)
	assert.Equal(t, 1200, def.Defaults.RequestsPerMinute)
}

func TestParse_SchemaRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "probe:\n  kind: http_head\nrotation:\n  supported: false\n"},
		{"missing rotation", "name: cdn\nprobe:\n  kind: http_head\n"},
		{"unknown probe kind", "name: cdn\nprobe:\n  kind: icmp\nrotation:\n  supported: false\n"},
		{"negative secret length", "name: cdn\nprobe:\n  kind: http_head\nrotation:\n  supported: true\n  secretLength: -5\n"},
		{"not yaml", "::::"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	write("cdn.yaml", "name: cdn\nprobe:\n  kind: http_head\nrotation:\n  supported: false\n")
	write("queue.yml", "name: queue\nprobe:\n  kind: http_head\nrotation:\n  supported: true\n  secretLength: 24\n")
	write("notes.txt", "not a definition")

	r := NewRegistry()
	loaded, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.True(t, r.IsSupported("cdn"))
	assert.True(t, r.IsSupported("queue"))
}

func TestLoadDir_InvalidFileFailsLoudly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: ''\nprobe:\n  kind: http_head\nrotation:\n  supported: false\n"), 0o600))

	_, err := NewRegistry().LoadDir(dir)
	assert.ErrorContains(t, err, "bad.yaml")
}

func TestLoadDir_MissingDirIsEmpty(t *testing.T) {
	t.Parallel()

	loaded, err := NewRegistry().LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, loaded)
}
