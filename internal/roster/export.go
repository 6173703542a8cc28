package roster

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// document is the exported shape of a roster.
type document struct {
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	Relays    Roster    `json:"relays" yaml:"relays"`
}

// Write renders the roster to w in the given format.
func Write(w io.Writer, r Roster, format string, now time.Time) error {
	doc := document{UpdatedAt: now.UTC(), Relays: r}
	if doc.Relays == nil {
		doc.Relays = Roster{}
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode roster: %w", err)
		}
		return enc.Close()
	case FormatText, "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ADDRESS\tSTATUS")
		for _, relay := range r {
			fmt.Fprintf(tw, "%s\t%s\n", relay.Address, relay.Status)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown roster format %q (want text, json or yaml)", format)
	}
}
