package budget

import (
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"), // 4 overhead + 1 (role) + 2 (content) = 7
		schema.UserMessage("hello world"),
	}
	got := EstimateMessages(msgs)
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7
	// Two messages: 14
	if got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_Check(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage(strings.Repeat("x", 4*100)),
	}
	// 4+1+1 for the system message, 4+1+100 for the user message.
	const total = 111

	cases := []struct {
		name    string
		max     int
		wantErr bool
	}{
		{"fits exactly", total, false},
		{"one short", total - 1, true},
		{"disabled", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Check(msgs, tc.max)
			if tc.wantErr != (err != nil) {
				t.Fatalf("Check(max=%d) error = %v, wantErr %v", tc.max, err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrOverBudget) {
				t.Errorf("error must wrap ErrOverBudget, got %v", err)
			}
		})
	}
}
