package postgres

import "testing"

func TestNewTableNames(t *testing.T) {
	tests := []struct {
		prefix string
		want   TableNames
	}{
		{"", TableNames{Documents: "documents", Versions: "versions", SearchIndex: "search_index"}},
		{"dev_", TableNames{Documents: "dev_documents", Versions: "dev_versions", SearchIndex: "dev_search_index"}},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got := NewTableNames(tt.prefix)
			if *got != tt.want {
				t.Errorf("NewTableNames(%q) = %+v, want %+v", tt.prefix, *got, tt.want)
			}
		})
	}
}
