package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-org/internal/entity"
)

func TestParseActionItemsToleratesFencesAndProse(t *testing.T) {
	text := "Here you go:\n```json\n[{\"title\":\"Ship it\",\"description\":\"ASAP\",\"priority\":\"URGENT\"},{\"title\":\"  \"}]\n```"
	items, err := ParseActionItems(text)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Ship it", items[0].Title)
	assert.Equal(t, "high", items[0].Priority)
}

func TestParseActionItemsRejectsMalformed(t *testing.T) {
	for _, text := range []string{"", "no json here", "[{\"title\": }]", "{\"title\":\"x\"}"} {
		_, err := ParseActionItems(text)
		assert.ErrorIs(t, err, ErrMalformedOutput, text)
	}
}

func TestParseEvaluation(t *testing.T) {
	eval, err := ParseEvaluation("```\n{\"approved\": false, \"feedback\": \" add tests \"}\n```")
	require.NoError(t, err)
	assert.False(t, eval.Approved)
	assert.Equal(t, "add tests", eval.Feedback)

	_, err = ParseEvaluation("looks great")
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestOfflineOutputsParse(t *testing.T) {
	ctx := context.Background()
	gen := Offline{}

	text, err := gen.Generate(ctx, Prompt{Purpose: PurposeActionItems, Subjects: []string{"Ana", "Bo"}})
	require.NoError(t, err)
	items, err := ParseActionItems(text)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Bo", items[1].AssignedTo)

	short, err := gen.Generate(ctx, Prompt{Purpose: PurposeEvaluation, Subjects: []string{"tiny"}})
	require.NoError(t, err)
	eval, err := ParseEvaluation(short)
	require.NoError(t, err)
	assert.False(t, eval.Approved)

	deliverable, err := gen.Generate(ctx, Prompt{Purpose: PurposeDeliverable, Subjects: []string{"Write docs"}})
	require.NoError(t, err)
	long, err := gen.Generate(ctx, Prompt{Purpose: PurposeEvaluation, Subjects: []string{deliverable}})
	require.NoError(t, err)
	eval, err = ParseEvaluation(long)
	require.NoError(t, err)
	assert.True(t, eval.Approved)

	transcript, err := gen.Generate(ctx, Prompt{Purpose: PurposeTranscript, Subjects: []string{"Ana", "Bo"}})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(transcript, "\n")+1)
}

func TestHTTPGenerator(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello there"}}]}`))
	}))
	defer server.Close()

	gen, err := NewHTTP(HTTPOptions{Endpoint: server.URL, Model: "test-model", APIKey: "secret"})
	require.NoError(t, err)
	out, err := gen.Generate(context.Background(), Prompt{System: "be brief", User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestHTTPGeneratorErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			_, _ = w.Write([]byte(`{"choices":[]}`))
			return
		}
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gen, err := NewHTTP(HTTPOptions{Endpoint: server.URL})
	require.NoError(t, err)
	_, err = gen.Generate(context.Background(), Prompt{User: "hi"})
	assert.ErrorContains(t, err, "status 503")

	empty, err := NewHTTP(HTTPOptions{Endpoint: server.URL + "/empty"})
	require.NoError(t, err)
	_, err = empty.Generate(context.Background(), Prompt{User: "hi"})
	assert.ErrorIs(t, err, ErrMalformedOutput)

	_, err = NewHTTP(HTTPOptions{})
	assert.Error(t, err)
}

type failingCosts struct{}

func (failingCosts) InsertCost(context.Context, entity.Cost) (entity.Cost, error) {
	return entity.Cost{}, errors.New("store down")
}

func TestMeteredRecordsCosts(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemory()
	gen := NewMetered(GeneratorFunc(func(context.Context, Prompt) (string, error) { return "four", nil }), store, "m1", nil)

	out, err := gen.Generate(ctx, Prompt{Purpose: PurposeReport, User: "abc", EmployeeID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, "four", out)

	costs, err := store.ListCosts(ctx, entity.CostFilter{EmployeeID: "e1"})
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.Equal(t, 3, costs[0].PromptChars)
	assert.Equal(t, 4, costs[0].OutputChars)
	assert.Equal(t, "m1", costs[0].Model)

	failing := NewMetered(Offline{}, failingCosts{}, "", nil)
	_, err = failing.Generate(ctx, Prompt{Purpose: PurposeFeedback})
	assert.NoError(t, err)
}
