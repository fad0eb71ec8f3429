package render

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kingrea/lattice-org/internal/actor"
)

func TestActorsSortsByRole(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := Actors([]actor.Info{
		{Role: "ic", Address: "ic:b", Identity: "acme/i1", StartedAt: now.Add(-90 * time.Second), Stats: actor.Stats{Processed: 4, Failed: 1}},
		{Role: "hr", Address: "hr:a", Identity: "acme", StartedAt: now.Add(-3 * time.Hour), Stats: actor.Stats{Pending: 2}},
		{Role: "meeting", Address: "meeting:c", StartedAt: now.Add(-72 * time.Hour)},
	}, now)

	assert.Contains(t, out, "Actors (3)")
	assert.Contains(t, out, "ROLE")
	meeting, hr, ic := strings.Index(out, "meeting:c"), strings.Index(out, "hr:a"), strings.Index(out, "ic:b")
	assert.True(t, meeting < hr && hr < ic, "rows out of order:\n%s", out)
	assert.Contains(t, out, "acme/i1")
	assert.Contains(t, out, "1m")
	assert.Contains(t, out, "3d")
}

func TestActorsEmpty(t *testing.T) {
	out := Actors(nil, time.Now())
	assert.Contains(t, out, "Actors (0)")
	assert.Contains(t, out, "No actors are running")
}

func TestAge(t *testing.T) {
	cases := map[time.Duration]string{
		-time.Second:     "0s",
		42 * time.Second: "42s",
		5 * time.Minute:  "5m",
		47 * time.Hour:   "47h",
		49 * time.Hour:   "2d",
	}
	for d, want := range cases {
		assert.Equal(t, want, Age(d), d.String())
	}
}

func TestStateIndents(t *testing.T) {
	out := State("hr:a", json.RawMessage(`{"orgId":"acme","pending":[]}`))
	assert.Contains(t, out, "hr:a")
	assert.Contains(t, out, `"orgId": "acme"`)

	out = State("hr:a", json.RawMessage(`not json`))
	assert.Contains(t, out, "not json")
}

func TestLines(t *testing.T) {
	assert.Contains(t, Lines("log", nil), "(empty)")
	out := Lines("log", []string{"first", "second"})
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
}
