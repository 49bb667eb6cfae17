package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workloop/internal/plan"
)

// fakeCompleter returns canned replies and records prompts.
type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestClient_Complete(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"1. do it"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-model", "secret", 5*time.Second)
	reply, err := c.Complete(context.Background(), "plan this")
	require.NoError(t, err)

	assert.Equal(t, "1. do it", reply)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "plan this", got.Messages[0].Content)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "api error message", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key"}}`, wantMsg: "bad key"},
		{name: "plain error body", status: http.StatusBadGateway, body: `upstream down`, wantMsg: "upstream down"},
		{name: "missing content", status: http.StatusOK, body: `{"choices":[]}`, wantMsg: "no choices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "m", "", time.Second).Complete(context.Background(), "x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNewClient_DefaultEndpoint(t *testing.T) {
	assert.Equal(t, DefaultEndpoint, NewClient("", "m", "", 0).Endpoint)
}

func TestPlanner_Generate(t *testing.T) {
	fc := &fakeCompleter{reply: "1. List files @list-files(*)\n2. Read it @read-file(a.txt)"}
	p := NewPlanner(fc)

	steps, err := p.Generate(context.Background(), "inspect a.txt", plan.ExecutionConfig{})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "@read-file(a.txt)", steps[1].Action)
	assert.Equal(t, []string{"s1"}, steps[1].DependsOn)
	assert.Contains(t, fc.prompts[0], "inspect a.txt")

	_, err = NewPlanner(&fakeCompleter{reply: "Sorry, no."}).Generate(context.Background(), "g", plan.ExecutionConfig{})
	assert.ErrorIs(t, err, plan.ErrPlanner)

	_, err = NewPlanner(&fakeCompleter{err: errors.New("offline")}).Generate(context.Background(), "g", plan.ExecutionConfig{})
	assert.ErrorIs(t, err, plan.ErrPlanner)
}

func TestPlanner_Revise(t *testing.T) {
	pl := &plan.Plan{Goal: "build", Steps: []plan.Step{
		{ID: "s1", Description: "compile", Status: plan.StepFailed, Error: &plan.StepError{Kind: plan.ErrorPermanent, Message: "syntax error"}},
	}}
	failure := plan.FailureContext{Kind: plan.FailureStep, Iteration: 2, Reason: "step s1 failed"}

	fc := &fakeCompleter{reply: "1. Fix syntax @bash-cmd(gofmt -w .) [replaces s1]\n2. Compile again @bash-cmd(go build ./...)"}
	delta, err := NewPlanner(fc).Revise(context.Background(), pl, failure)
	require.NoError(t, err)
	require.Len(t, delta.Add, 2)
	assert.Equal(t, "r2-1", delta.Add[0].ID)
	assert.Equal(t, "s1", delta.Add[0].Replaces)
	assert.Equal(t, []string{"r2-1"}, delta.Add[1].DependsOn)
	assert.Contains(t, fc.prompts[0], "syntax error")

	delta, err = NewPlanner(&fakeCompleter{reply: "NONE"}).Revise(context.Background(), pl, failure)
	require.NoError(t, err)
	assert.True(t, delta.Empty())
}

func TestParseJudgment(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantScore  float64
		wantReason string
		wantErr    bool
	}{
		{name: "standard", reply: "SCORE: 8/10\nREASON: files exist", wantScore: 0.8, wantReason: "files exist"},
		{name: "bold and lowercase", reply: "**Score: 6.5/10**\n**Reason: partial**", wantScore: 0.65, wantReason: "partial"},
		{name: "missing reason", reply: "SCORE: 10/10", wantScore: 1, wantReason: "no reason given"},
		{name: "clamped", reply: "SCORE: 12/10", wantScore: 1, wantReason: "no reason given"},
		{name: "missing score", reply: "REASON: unsure", wantErr: true},
		{name: "garbage score", reply: "SCORE: high", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, reason, err := ParseJudgment(tt.reply)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScore, score, 0.001)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestJudge(t *testing.T) {
	pl := &plan.Plan{Goal: "write docs", Steps: []plan.Step{{Description: "write README", Status: plan.StepDone, Result: "ok"}}}

	j := NewJudge(&fakeCompleter{reply: "SCORE: 7/10\nREASON: good enough"}, 0)
	got, err := j.Judge(context.Background(), "README exists", pl)
	require.NoError(t, err)
	assert.True(t, got.Pass, "0.7 meets the default threshold")
	assert.InDelta(t, 0.7, got.Score, 0.001)

	strict := NewJudge(&fakeCompleter{reply: "SCORE: 7/10\nREASON: good enough"}, 0.9)
	got, err = strict.Judge(context.Background(), "README exists", pl)
	require.NoError(t, err)
	assert.False(t, got.Pass)

	_, err = NewJudge(&fakeCompleter{reply: "I think so"}, 0).Judge(context.Background(), "x", pl)
	assert.Error(t, err)

	_, err = NewJudge(&fakeCompleter{err: errors.New("timeout")}, 0).Judge(context.Background(), "x", pl)
	assert.Error(t, err)
}
