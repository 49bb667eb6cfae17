package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Strategy
		wantErr bool
	}{
		{
			name:  "file exists with several patterns",
			input: "file-exists=out/a.txt, out/*.md",
			want:  FileExists("out/a.txt", "out/*.md"),
		},
		{
			name:  "command with default exit code",
			input: "command=go test ./...",
			want:  CommandSuccess("go test ./...", 0),
		},
		{
			name:  "command with expected exit code",
			input: "command:2=grep -q TODO main.go",
			want:  CommandSuccess("grep -q TODO main.go", 2),
		},
		{
			name:  "external criteria keeps equals signs in value",
			input: "external=README says a=b",
			want:  ExternalValidation("README says a=b"),
		},
		{
			name:  "output pattern",
			input: "pattern=^PASS",
			want:  OutputPattern("^PASS"),
		},
		{name: "missing separator", input: "command", wantErr: true},
		{name: "unknown kind", input: "vibes=good", wantErr: true},
		{name: "bad exit code", input: "command:x=true", wantErr: true},
		{name: "empty paths", input: "file-exists= , ", wantErr: true},
		{name: "invalid regex", input: "pattern=([", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStrategy(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStrategy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStrategies(t *testing.T) {
	_, err := ParseStrategies(nil)
	assert.ErrorIs(t, err, ErrInvalidStrategy)

	single, err := ParseStrategies([]string{"command=true"})
	require.NoError(t, err)
	assert.Equal(t, StrategyCommandSuccess, single.Kind)

	combined, err := ParseStrategies([]string{"command=true", "pattern=ok"})
	require.NoError(t, err)
	assert.Equal(t, StrategyCombined, combined.Kind)
	require.Len(t, combined.Strategies, 2)
	assert.Equal(t, "ok", combined.Strategies[1].Pattern)
}

func TestStrategy_StringRoundTrip(t *testing.T) {
	for _, s := range []Strategy{
		FileExists("a", "b/*.go"),
		CommandSuccess("make test", 0),
		CommandSuccess("false", 1),
		ExternalValidation("docs are complete"),
		OutputPattern(`\d+ passed`),
	} {
		t.Run(string(s.Kind), func(t *testing.T) {
			parsed, err := ParseStrategy(s.String())
			require.NoError(t, err)
			assert.Equal(t, s, parsed)
		})
	}
}

func TestStrategy_Validate_Combined(t *testing.T) {
	assert.ErrorIs(t, Combined().Validate(), ErrInvalidStrategy)
	assert.ErrorIs(t, Combined(CommandSuccess("true", 0), OutputPattern("(")).Validate(), ErrInvalidStrategy)
	assert.NoError(t, Combined(CommandSuccess("true", 0), Combined(FileExists("x"))).Validate())
}
