package issue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidenceOrdinalOrdersLowToHigh(t *testing.T) {
	assert.Less(t, ConfidenceOrdinal[ConfidenceLow], ConfidenceOrdinal[ConfidenceMedium])
	assert.Less(t, ConfidenceOrdinal[ConfidenceMedium], ConfidenceOrdinal[ConfidenceHigh])
}

func TestSeverityWeightOrdersLowToHigh(t *testing.T) {
	assert.Less(t, SeverityWeight["low"], SeverityWeight["medium"])
	assert.Less(t, SeverityWeight["medium"], SeverityWeight["high"])
}

func TestDebateMetricsZeroValueHasNilPointers(t *testing.T) {
	var m DebateMetrics
	assert.Nil(t, m.ChallengeSurvivalRate)
	assert.Nil(t, m.SkepticSeverityScore)
	assert.Nil(t, m.ConfidenceDelta)
	assert.Nil(t, m.AgreementKappa)
}

func TestTaskDefaultStatusIsEmptyUntilAssigned(t *testing.T) {
	task := Task{ID: "task_001", IssueID: "issue_1", Priority: "P1"}
	assert.Empty(t, task.Status)
	task.Status = "pending"
	assert.Equal(t, "pending", task.Status)
}
