//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHomeowners(t *testing.T) {
	homeowners, err := loadHomeowners("testdata/homeowners.json")
	require.NoError(t, err)
	require.Len(t, homeowners, 3)
	assert.Equal(t, "ho-1", homeowners[0].ID)
	assert.Equal(t, "123 Main St", homeowners[0].Address)
	assert.Equal(t, "Crestline Homes", homeowners[0].BuilderName)
}

func TestLoadHomeowners_MissingAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name": "No Address"}]`), 0o600))

	_, err := loadHomeowners(path)
	assert.ErrorContains(t, err, "has no address")
}

func TestLoadHomeowners_BadFile(t *testing.T) {
	_, err := loadHomeowners(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "read fixture")
}
