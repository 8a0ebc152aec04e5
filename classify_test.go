package narwhal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert := require.New(t)

	cls := NewClassifier(ClassifierConfig{
		ExcludedTables: []string{"narwhal_meta"},
		InvalidateRaw:  true,
	})

	tests := map[string]struct {
		hint       Hint
		tables     []string
		wantKind   StatementKind
		wantTables []string
	}{
		"read": {
			hint: HintQuery, tables: []string{"users"},
			wantKind: KindRead, wantTables: []string{"users"},
		},
		"read with excluded table filtered": {
			hint: HintQuery, tables: []string{"users", "narwhal_meta"},
			wantKind: KindRead, wantTables: []string{"users"},
		},
		"read with no tables is still a read": {
			hint: HintQuery, tables: nil,
			wantKind: KindRead, wantTables: nil,
		},
		"write": {
			hint: HintExec, tables: []string{"users", "orders"},
			wantKind: KindWrite, wantTables: []string{"users", "orders"},
		},
		"write to excluded table only": {
			hint: HintExec, tables: []string{"narwhal_meta"},
			wantKind: KindIgnore, wantTables: nil,
		},
		"raw write invalidates scope": {
			hint: HintExec, tables: nil,
			wantKind: KindWrite, wantTables: nil,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			kind, tables := cls.Classify(tc.hint, tc.tables)
			assert.Equal(tc.wantKind, kind)
			assert.Equal(tc.wantTables, tables)
		})
	}
}

func TestClassifyRawWritesIgnored(t *testing.T) {
	assert := require.New(t)

	cls := NewClassifier(ClassifierConfig{InvalidateRaw: false})

	kind, tables := cls.Classify(HintExec, nil)
	assert.Equal(KindIgnore, kind)
	assert.Empty(tables)

	// attributed writes still invalidate
	kind, tables = cls.Classify(HintExec, []string{"users"})
	assert.Equal(KindWrite, kind)
	assert.Equal([]string{"users"}, tables)
}
