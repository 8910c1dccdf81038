package hydrated

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
)

func TestWriteAndRead(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root, "")
	require.NoError(t, err)

	doc := []byte(`{"case_id":"alpha","parties":{}}`)
	require.NoError(t, store.Write("alpha", doc))
	assert.True(t, store.Exists("alpha"))

	got, err := store.Read("alpha")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	// No temp residue after a successful write.
	_, err = os.Stat(store.Path("alpha") + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteRejectsInvalidJSON(t *testing.T) {
	store, err := NewStore(t.TempDir(), "")
	require.NoError(t, err)

	err = store.Write("alpha", []byte("{not json"))
	require.Error(t, err)
	serviceErr := slerrors.GetServiceError(err)
	require.NotNil(t, serviceErr)
	assert.Equal(t, slerrors.ErrCodeSchemaInvalid, serviceErr.Code)
	assert.False(t, store.Exists("alpha"))
}

func TestWriteReplacesAtomically(t *testing.T) {
	store, err := NewStore(t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, store.Write("alpha", []byte(`{"v":1}`)))
	require.NoError(t, store.Write("alpha", []byte(`{"v":2}`)))

	got, err := store.Read("alpha")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func TestReadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir(), "")
	require.NoError(t, err)

	_, err = store.Read("absent")
	require.Error(t, err)
	serviceErr := slerrors.GetServiceError(err)
	require.NotNil(t, serviceErr)
	assert.Equal(t, slerrors.ErrCodeNotFound, serviceErr.Code)
}

func TestSchemaValidation(t *testing.T) {
	schemaPath := filepath.Join(t.TempDir(), "case.schema.json")
	schema := `{
		"type": "object",
		"required": ["case_id", "parties"],
		"properties": {
			"case_id": {"type": "string"},
			"parties": {"type": "object"}
		}
	}`
	require.NoError(t, os.WriteFile(schemaPath, []byte(schema), 0o644))

	store, err := NewStore(t.TempDir(), schemaPath)
	require.NoError(t, err)

	require.NoError(t, store.Write("alpha", []byte(`{"case_id":"alpha","parties":{}}`)))

	err = store.Write("alpha", []byte(`{"case_id":"alpha"}`))
	require.Error(t, err)
	serviceErr := slerrors.GetServiceError(err)
	require.NotNil(t, serviceErr)
	assert.Equal(t, slerrors.ErrCodeSchemaInvalid, serviceErr.Code)
}

func TestNewStoreRejectsBadSchema(t *testing.T) {
	schemaPath := filepath.Join(t.TempDir(), "bad.schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte("{"), 0o644))

	_, err := NewStore(t.TempDir(), schemaPath)
	assert.Error(t, err)
}
