package invoker

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// streamEvent is one line of an agent's stream-json output.
type streamEvent struct {
	Type    string         `json:"type"`
	Subtype string         `json:"subtype,omitempty"`
	Message *streamMessage `json:"message,omitempty"`

	// Result and IsError are set on the final "result" event.
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

type streamMessage struct {
	Content []streamBlock `json:"content,omitempty"`
}

type streamBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

// Transcript is the condensed outcome of an agent session.
type Transcript struct {
	// Text concatenates every assistant text block in order.
	Text string

	// Tools lists tool names the agent invoked, in order.
	Tools []string

	// Result is the final result message, if the session reported one.
	Result string

	// Completed is true when a result event was seen.
	Completed bool

	// Failed is true when the result event reported an error.
	Failed bool
}

// Output returns the session's final answer, falling back to the streamed text.
func (t Transcript) Output() string {
	if t.Result != "" {
		return t.Result
	}
	return t.Text
}

// ReadTranscript consumes stream-json lines from r until EOF.
//
// Blank and malformed lines are skipped so that partial output from an
// interrupted agent still yields whatever text was produced.
func ReadTranscript(r io.Reader) (Transcript, error) {
	var t Transcript
	var text strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "assistant":
			if ev.Message == nil {
				continue
			}
			for _, block := range ev.Message.Content {
				switch block.Type {
				case "text":
					if text.Len() > 0 {
						text.WriteString("\n")
					}
					text.WriteString(block.Text)
				case "tool_use":
					t.Tools = append(t.Tools, block.Name)
				}
			}
		case "result":
			t.Completed = true
			t.Result = ev.Result
			t.Failed = ev.IsError || (ev.Subtype != "" && ev.Subtype != "success")
		}
	}
	t.Text = text.String()
	return t, scanner.Err()
}
