// Command linecheck scores spoken/expected line pairs offline, using the same
// verifier as the rehearsal server. It is meant for calibrating thresholds
// against recorded transcripts.
//
// Input is one pair per line, tab separated:
//
//	spoken<TAB>expected
//
// Blank lines and lines starting with # are skipped. -fillers lists the
// filler words a near-miss may drop and exits. Besides the verdict,
// each pair reports its phonetic coverage: the share of expected words that
// the transcript got right by sound. A failed line with high coverage points
// at transcription noise rather than a missed line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/MrWong99/rehearse/internal/config"
	"github.com/MrWong99/rehearse/internal/transcript"
	"github.com/MrWong99/rehearse/internal/transcript/phonetic"
	"github.com/MrWong99/rehearse/internal/verify"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// pairResult is one output record in -json mode.
type pairResult struct {
	Line     int             `json:"line"`
	Spoken   string          `json:"spoken"`
	Expected string          `json:"expected"`
	Score    float64         `json:"score"`
	Category verify.Category `json:"category"`
	Approved bool            `json:"approved"`
	Phonetic float64         `json:"phonetic"`
	Diff     []verify.DiffOp `json:"diff"`
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("linecheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "read verification thresholds from this config file")
	asJSON := fs.Bool("json", false, "print one JSON object per pair")
	listFillers := fs.Bool("fillers", false, "print the filler words the verifier may ignore and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *listFillers {
		for _, w := range transcript.FillerWords() {
			fmt.Fprintln(stdout, w)
		}
		return 0
	}

	thresholds := verify.DefaultThresholds
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "linecheck: %v\n", err)
			return 1
		}
		thresholds = cfg.Verification
	}

	in := stdin
	if fs.NArg() > 0 {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "linecheck: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	v := verify.New(verify.WithThresholds(thresholds), verify.WithCalibrationSink(nil))
	results, err := check(context.Background(), v, phonetic.New(), in)
	if err != nil {
		fmt.Fprintf(stderr, "linecheck: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				fmt.Fprintf(stderr, "linecheck: %v\n", err)
				return 1
			}
		}
	} else {
		printTable(stdout, results)
	}

	for _, r := range results {
		if !r.Approved {
			return 3
		}
	}
	return 0
}

// check scores every pair read from r.
func check(ctx context.Context, v *verify.Verifier, ph *phonetic.Matcher, r io.Reader) ([]pairResult, error) {
	var out []pairResult
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		spoken, expected, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("line %d: want spoken<TAB>expected", n)
		}
		res := v.Verify(ctx, spoken, expected)
		out = append(out, pairResult{
			Line:     n,
			Spoken:   spoken,
			Expected: expected,
			Score:    res.Score,
			Category: res.Category,
			Approved: res.Approved,
			Phonetic: ph.Coverage(res.NormalizedSpoken, res.NormalizedExpected),
			Diff:     verify.Diff(res.NormalizedSpoken, res.NormalizedExpected),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("no input pairs")
	}
	return out, nil
}

func printTable(w io.Writer, results []pairResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tSCORE\tPHONETIC\tCATEGORY\tDIFF")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%.3f\t%.2f\t%s\t%s\n", r.Line, r.Score, r.Phonetic, r.Category, formatDiff(r.Diff))
	}
	tw.Flush()
}

func formatDiff(ops []verify.DiffOp) string {
	if len(ops) == 0 {
		return "-"
	}
	parts := make([]string, len(ops))
	for i, op := range ops {
		switch op.Op {
		case verify.DiffAdd:
			parts[i] = "+" + op.Value
		case verify.DiffRemove:
			parts[i] = "-" + op.Value
		default:
			parts[i] = "~" + op.Value
		}
	}
	return strings.Join(parts, " ")
}
