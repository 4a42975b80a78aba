package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	eq := c.Dimension("equipment")
	require.NotNil(t, eq)
	require.Len(t, eq.Columns, 2)
	assert.True(t, eq.Columns[0].Localized)

	b := c.Bridge("equipment_material_subequipment")
	require.NotNil(t, b)
	assert.Equal(t, []string{"equipment", "material", "subequipment"}, b.Refs)

	facts := c.Table("equipment_materials")
	require.NotNil(t, facts)
	assert.Len(t, facts.Columns, 13)

	assert.Nil(t, c.Table("nope"))
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := map[string]string{
		"duplicate": `
dimensions:
  - name: drop
  - name: drop
`,
		"view on unknown source": `
dimensions:
  - name: drop
views:
  - {name: material, source: loot}
`,
		"bridge to unknown ref": `
dimensions:
  - name: monster
bridges:
  - {name: monster_drop, refs: [monster, drop]}
`,
		"bridge with one ref": `
dimensions:
  - name: monster
bridges:
  - {name: monster_self, refs: [monster]}
`,
		"table without columns": `
tables:
  - name: empty
`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, "v1", c.Version)

	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"custom","dimensions":[{"name":"boost"}]}`), 0o644))
	c, err = LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", c.Version)
	assert.NotNil(t, c.Dimension("boost"))

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
