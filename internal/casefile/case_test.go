package casefile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		want FileKind
	}{
		{"complaint.pdf", KindPDF},
		{"COMPLAINT.PDF", KindPDF},
		{"notes.docx", KindWordDoc},
		{"letter.doc", KindWordDoc},
		{"memo.rtf", KindWordDoc},
		{"log.txt", KindPlainText},
		{"photo.png", KindOther},
		{"README", KindOther},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.name), tt.name)
	}
}

func TestKnownStatus(t *testing.T) {
	for _, s := range []string{"NEW", "PROCESSING", "PENDING_REVIEW", "RENDERING", "COMPLETE", "ERROR"} {
		assert.True(t, KnownStatus(s), s)
	}
	assert.False(t, KnownStatus("FOO"))
	assert.False(t, KnownStatus(""))
	assert.False(t, KnownStatus("processing"))
}

func TestTransient(t *testing.T) {
	assert.True(t, StatusProcessing.Transient())
	assert.True(t, StatusRendering.Transient())
	assert.False(t, StatusNew.Transient())
	assert.False(t, StatusComplete.Transient())
	assert.False(t, StatusError.Transient())
}

func TestOverallQuality(t *testing.T) {
	files := []FileResult{
		{Status: FileSuccess, Score: 80, HasScore: true},
		{Status: FileSuccess, Score: 91, HasScore: true},
		{Status: FileFailed},
		{Status: FilePending},
	}
	assert.Equal(t, 86, OverallQuality(files))

	assert.Equal(t, 0, OverallQuality(nil))
	assert.Equal(t, 0, OverallQuality([]FileResult{{Status: FileFailed}}))
}

func TestValidCaseID(t *testing.T) {
	assert.True(t, ValidCaseID("johnson_v_equifax"))
	assert.True(t, ValidCaseID("case-042"))

	assert.False(t, ValidCaseID(""))
	assert.False(t, ValidCaseID("."))
	assert.False(t, ValidCaseID(".."))
	assert.False(t, ValidCaseID("../evil"))
	assert.False(t, ValidCaseID("a/b"))
	assert.False(t, ValidCaseID(`a\b`))
	assert.False(t, ValidCaseID(".hidden"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Johnson V Equifax", DisplayName("johnson_v_equifax"))
	assert.Equal(t, "Case 042", DisplayName("case-042"))
	assert.Equal(t, "Alpha", DisplayName("alpha"))
}
