package intent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/civictext/permitbot/internal/pipeline"
)

func TestParseRecognizedCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want pipeline.Command
	}{
		{
			name: "help",
			text: "HELP",
			want: pipeline.Command{Type: pipeline.CommandHelp},
		},
		{
			name: "help lowercase",
			text: "  help ",
			want: pipeline.Command{Type: pipeline.CommandHelp},
		},
		{
			name: "status with address query",
			text: "STATUS 123 Main St",
			want: pipeline.Command{Type: pipeline.CommandStatus, Query: "123 Main St"},
		},
		{
			name: "status preserves query case",
			text: "status P2024-001",
			want: pipeline.Command{Type: pipeline.CommandStatus, Query: "P2024-001"},
		},
		{
			name: "list",
			text: "LIST",
			want: pipeline.Command{Type: pipeline.CommandList, Filter: pipeline.ListFilterOpen},
		},
		{
			name: "list open",
			text: "list open",
			want: pipeline.Command{Type: pipeline.CommandList, Filter: pipeline.ListFilterOpen},
		},
		{
			name: "list open with extra whitespace",
			text: "LIST   OPEN",
			want: pipeline.Command{Type: pipeline.CommandList, Filter: pipeline.ListFilterOpen},
		},
		{
			name: "list with tab separator",
			text: "list\topen",
			want: pipeline.Command{Type: pipeline.CommandList, Filter: pipeline.ListFilterOpen},
		},
		{
			name: "fees",
			text: "FEES",
			want: pipeline.Command{Type: pipeline.CommandFees},
		},
		{
			name: "inspect with notes",
			text: "INSPECT P2024-001 FRI AM notes: Ready for final",
			want: pipeline.Command{
				Type:         pipeline.CommandInspect,
				PermitNumber: "P2024-001",
				TimeWindow:   "FRI AM",
				Notes:        "Ready for final",
			},
		},
		{
			name: "inspect with empty notes",
			text: "INSPECT P2024-001 MON notes:",
			want: pipeline.Command{
				Type:         pipeline.CommandInspect,
				PermitNumber: "P2024-001",
				TimeWindow:   "MON",
			},
		},
		{
			name: "inspect without notes separator",
			text: "inspect P2024-001 TUE PM",
			want: pipeline.Command{
				Type:         pipeline.CommandInspect,
				PermitNumber: "P2024-001",
				TimeWindow:   "TUE PM",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Parse(tc.text))
		})
	}
}

func TestParseDemotesToUnknown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "gibberish", text: "open sesame"},
		{name: "status without query", text: "STATUS   "},
		{name: "inspect with only permit number", text: "INSPECT P2024-001"},
		{name: "inspect with nothing before notes", text: "INSPECT notes: hello"},
		{name: "list with unsupported filter", text: "LIST CLOSED"},
		{name: "listing is not list", text: "LISTING"},
		{name: "keyword without boundary", text: "STATUSFOO"},
		{name: "inspection is not inspect", text: "INSPECTION P2024-001 FRI"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tc.text)
			require.Equal(t, pipeline.CommandUnknown, got.Type)
			require.Equal(t, tc.text, got.OriginalText)
		})
	}
}

func TestParseIsDeterministic(t *testing.T) {
	t.Parallel()

	const text = "INSPECT P2024-001 FRI AM notes: Ready for final"
	first := Parse(text)
	for range 10 {
		require.Equal(t, first, Parse(text))
	}
}
