package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRosterMatchesMembers(t *testing.T) {
	members := DefaultMembers()
	responders := DefaultResponders()
	assert.Len(t, responders, len(members))
	for i, r := range responders {
		assert.Equal(t, members[i].Name, r.Name)
		assert.NotEmpty(t, r.SystemRole)
		assert.NotEmpty(t, r.Tools)
	}
}

func TestWellnessRoleListsEveryQuestion(t *testing.T) {
	role := wellnessRole()
	for _, q := range WellnessQuestions {
		assert.Contains(t, role, q)
	}
	assert.Contains(t, role, "alert_cna")
}

func TestRender(t *testing.T) {
	out := Render(Supervisor, map[string]string{"members": "a, b"})
	assert.Contains(t, out, "Available agents (make sure to not select the agents if you didn't understand what the user wants): a, b.")
	assert.NotContains(t, out, "{members}")

	out = Render(RouteInstruction, map[string]string{"options": "__end__, a"})
	assert.Contains(t, out, "Select one of: __end__, a.")
}
