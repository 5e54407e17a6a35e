package docsystem

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	models "scrapbook/internal/domain/models/docsystem"
	docsysSvc "scrapbook/internal/domain/services/docsystem"
)

// versionText is the diffable text of a version. Books diff their title and
// ordered child list, one child per line.
func versionText(v *models.Version) string {
	if v == nil {
		return ""
	}
	if v.Snapshot.Kind != models.KindBook {
		return v.Snapshot.Content
	}
	lines := make([]string, 0, len(v.Snapshot.Children)+1)
	lines = append(lines, v.Snapshot.Title)
	for _, c := range v.Snapshot.Children {
		lines = append(lines, c.String())
	}
	return strings.Join(lines, "\n") + "\n"
}

// diffVersions builds a diff-match-patch patch turning from into to.
// from may be nil (diff against empty text).
func diffVersions(from, to *models.Version) *docsysSvc.DiffResult {
	a, b := versionText(from), versionText(to)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	result := &docsysSvc.DiffResult{
		To:    to.ID,
		Patch: dmp.PatchToText(dmp.PatchMake(a, diffs)),
	}
	if from != nil {
		result.From = from.ID
	}
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			result.Added += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffDelete:
			result.Removed += utf8.RuneCountInString(d.Text)
		}
	}
	return result
}
