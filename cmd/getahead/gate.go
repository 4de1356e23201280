package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/poirierunited/get-ahead-ai/internal/gate"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

func gateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "gate [transcript.json]",
		Short: "Check a transcript against the quality gate",
		Long: `Reads a transcript from the named file, or stdin when the name is "-" or
omitted, and prints the gate result as JSON. The transcript is either an array
of {"role","content"} turns or an object with a "transcript" field holding one.

Thresholds come from the gate section of --config when that flag is given,
and from the built-in defaults otherwise. Exits with status 2 when the
transcript is rejected.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gcfg := gate.DefaultConfig()
			if cmd.Flags().Changed("config") {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				gcfg = cfg.Gate
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			turns, err := readTranscript(in)
			if err != nil {
				return err
			}

			res := gate.New(gcfg).Validate(turns)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Valid {
				fmt.Fprintln(cmd.ErrOrStderr(), res.Reason.Describe())
				return errRejected
			}
			return nil
		},
	}
}

// readTranscript accepts a bare turn array or a feedback request body.
func readTranscript(r io.Reader) ([]interview.Turn, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)

	var turns []interview.Turn
	if bytes.HasPrefix(raw, []byte("[")) {
		err = json.Unmarshal(raw, &turns)
	} else {
		var body struct {
			Transcript []interview.Turn `json:"transcript"`
		}
		err = json.Unmarshal(raw, &body)
		turns = body.Transcript
	}
	if err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return turns, nil
}
