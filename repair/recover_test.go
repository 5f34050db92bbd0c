package repair

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unclosedMessage = `<insights>
<insight>
<message>
Stress levels are higher among night shift workers
<summary_tr score="6">
Gece vardiyasında stres daha yüksek
</summary_tr>
<categories>
- stress
</categories>
</insight>
</insights>`

func TestDiagnose(t *testing.T) {
	rc := NewRecoverer(nil)

	assert.Empty(t, rc.Diagnose(wellFormed))

	issues := rc.Diagnose(unclosedMessage)
	require.Len(t, issues, 2)
	assert.Equal(t, "Mismatched <message> tags: 1 opens, 0 closes", issues[0])
	assert.Equal(t, "Line 7: Found </summary_tr> inside <message> block (missing </message>)", issues[1])
}

func TestRecoverClosesUnclosedMessage(t *testing.T) {
	rc := NewRecoverer(nil)

	fixed, fixes := rc.Recover(unclosedMessage)
	require.Len(t, fixes, 1)
	assert.Equal(t, "insight #1: added missing </message> before <summary_tr>", fixes[0].Description)
	assert.Contains(t, fixed, "night shift workers\n</message>\n<summary_tr score=\"6\">")
	assert.Empty(t, rc.Diagnose(fixed))
	assert.Empty(t, CheckBalance(fixed))
}

func TestRecoverFallsBackToCategories(t *testing.T) {
	text := "<insights>\n<insight>\n<message>No translation here\n<categories>- a</categories>\n</insight>\n</insights>"
	fixed, fixes := NewRecoverer(nil).Recover(text)
	require.Len(t, fixes, 1)
	assert.Contains(t, fixes[0].Description, "before <categories>")
	assert.Contains(t, fixed, "No translation here\n</message>\n<categories>")
}

func TestRecoverMismatchedAndUnclosedRoot(t *testing.T) {
	text := "<insights>\n<insight>\n<message>x</summary_tr>\n<summary_tr score=\"3\">y</summary_tr>\n</insight>"
	fixed, fixes := NewRecoverer(nil).Recover(text)
	require.Len(t, fixes, 2)
	assert.True(t, strings.HasSuffix(fixed, "</insight>\n</insights>"))
	assert.Contains(t, fixed, "<message>x</message>")
	assert.Empty(t, CheckBalance(fixed))
}

func TestRecoverLeavesCleanTextAlone(t *testing.T) {
	fixed, fixes := NewRecoverer(nil).Recover(wellFormed)
	assert.Equal(t, wellFormed, fixed)
	assert.Empty(t, fixes)
}

func TestCheckBalance(t *testing.T) {
	assert.Empty(t, CheckBalance(wellFormed))

	issues := CheckBalance(unclosedMessage)
	require.Len(t, issues, 1)
	assert.Equal(t, "Tag <message>: 1 opens, 0 closes", issues[0])

	issues = CheckBalance("<insights><insight></insight>")
	require.Len(t, issues, 1)
	assert.Equal(t, "Tag <insights>: 1 opens, 0 closes", issues[0])
}
