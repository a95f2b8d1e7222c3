package issue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidTypesCoversEveryTypeConstant(t *testing.T) {
	types := []Type{
		TypeError, TypeWarning, TypeFailure, TypeRegression,
		TypePerformance, TypeDesign, TypeManual, TypeUnknown,
	}
	seen := map[Type]bool{}
	for _, typ := range types {
		assert.True(t, ValidTypes[typ], "expected %q to be a valid type", typ)
		assert.False(t, seen[typ], "duplicate type constant: %s", typ)
		seen[typ] = true
	}
	assert.Len(t, ValidTypes, len(types))
}

func TestValidStatusesCoversEveryStatusConstant(t *testing.T) {
	statuses := []Status{
		StatusCaptured, StatusResearching, StatusResearched, StatusDebating,
		StatusDebated, StatusConverging, StatusConverged, StatusResolved,
		StatusQuarantined,
	}
	seen := map[Status]bool{}
	for _, s := range statuses {
		assert.True(t, ValidStatuses[s], "expected %q to be a valid status", s)
		assert.False(t, seen[s], "duplicate status constant: %s", s)
		seen[s] = true
	}
	assert.Len(t, ValidStatuses, len(statuses))
}

func TestNowISOFormatsAsUTCRFC3339(t *testing.T) {
	ts := NowISO()
	parsed, err := time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
	assert.Equal(t, time.UTC, parsed.Location())
	assert.WithinDuration(t, time.Now().UTC(), parsed, 5*time.Second)
}

func TestIssueJSONTagsRoundTripThroughStructLiteral(t *testing.T) {
	iss := Issue{
		ID:              "issue_1",
		Type:            TypeError,
		Status:          StatusCaptured,
		RecentFiles:     []string{"a.go", "b.go"},
		OccurrenceCount: 1,
	}
	assert.Equal(t, "issue_1", iss.ID)
	assert.Equal(t, TypeError, iss.Type)
	assert.Empty(t, iss.QuarantineReason)
	assert.Empty(t, iss.QuarantinedAt)
}
