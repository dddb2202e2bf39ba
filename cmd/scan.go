package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"snapcal/internal/config"
	"snapcal/internal/extraction"
	"snapcal/internal/ics"
	"snapcal/internal/intake"
	"snapcal/internal/models"
	"snapcal/internal/ocr"
	"snapcal/internal/pipeline"
	"snapcal/internal/submit"

	"github.com/urfave/cli/v2"
)

// whenLayouts are accepted for times typed by the user, in the configured zone
// unless an offset is given.
var whenLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

const displayLayout = "Mon 2006-01-02 15:04"

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Read an image, extract events and submit them one by one.",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Extract without asking to review the transcript."},
			&cli.StringFlag{Name: "transcript-out", Usage: "Write the recognised transcript to this file ('-' for stdout)."},
			&cli.StringFlag{Name: "ics", Usage: "Write candidates left after the session to this .ics file."},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("scan needs exactly one image path", 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			cal, err := newCalendar(c.Context, logger, cfg, loc)
			if err != nil {
				return err
			}

			p := &prompter{in: bufio.NewReader(os.Stdin), out: os.Stdout}
			o := newOrchestrator(logger, cfg, loc, cal)

			if err := recognize(c.Context, o, c.Args().First(), c.String("transcript-out"), p); err != nil {
				return err
			}
			if !c.Bool("yes") && !p.confirm("Extract events from this transcript?", true) {
				return nil
			}
			if err := extract(c.Context, o, p); err != nil {
				return err
			}

			if !sessionActive(c.Context, cal.session) {
				for ev := range o.Candidates() {
					printCandidate(p.out, ev, loc)
				}
				fmt.Fprintln(p.out, "Not signed in: events are shown read-only. Run `snapcal auth` to sign in and submit them.")
			} else {
				review(c.Context, o, p, loc)
			}

			if path := c.String("ics"); path != "" && o.Len() > 0 {
				return writeICS(path, o, p.out)
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Read an image and write every extracted event to an .ics file without submitting.",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "events.ics", Usage: "Output .ics file ('-' for stdout)."},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("export needs exactly one image path", 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			o := newOrchestrator(logger, cfg, loc, nil)
			if err := recognize(c.Context, o, c.Args().First(), "", nil); err != nil {
				return err
			}
			if err := o.Confirm(c.Context); err != nil {
				return cli.Exit(models.UserMessage(err), 1)
			}
			return writeICS(c.String("out"), o, os.Stderr)
		},
	}
}

// newOrchestrator wires the recognition, extraction and submission stages.
// cal may be nil when nothing will be submitted.
func newOrchestrator(logger *slog.Logger, cfg *config.Config, loc *time.Location, cal *calendarBackend) *pipeline.Orchestrator {
	opts := pipeline.Options{
		Gate: intake.NewGate(),
		OCR:  ocr.NewAdapter(logger, cfg.OCR.TesseractPath, cfg.OCR.Language),
		Extractor: extraction.NewClient(logger, extraction.Config{
			Endpoint:    cfg.Extraction.Endpoint,
			APIKey:      cfg.Extraction.APIKey,
			Model:       cfg.Extraction.Model,
			Temperature: cfg.Extraction.Temperature,
			Location:    loc,
		}),
		ExtractionTimeout: cfg.Extraction.Timeout,
		OnTransition: func(s pipeline.State) {
			logger.Debug("Pipeline state changed.", "state", s.String())
		},
	}
	if cal != nil {
		opts.Submitter = cal.submitter
		opts.Session = cal.session
	}
	return pipeline.New(logger, opts)
}

// recognize uploads the image and shows the transcript for review.
func recognize(ctx context.Context, o *pipeline.Orchestrator, path, transcriptOut string, p *prompter) error {
	src, err := intake.FileSource(path)
	if err != nil {
		return err
	}
	if err := o.Upload(ctx, src); err != nil {
		return cli.Exit(models.UserMessage(err), 1)
	}

	if transcriptOut != "" {
		if err := writeOutput(transcriptOut, []byte(o.Transcript())); err != nil {
			return fmt.Errorf("failed to write transcript: %w", err)
		}
	}
	if p != nil {
		fmt.Fprintf(p.out, "Transcript:\n%s\n\n", strings.TrimSpace(string(o.Transcript())))
	}
	return nil
}

// extract confirms the transcript, offering a retry after a failure.
func extract(ctx context.Context, o *pipeline.Orchestrator, p *prompter) error {
	for {
		err := o.Confirm(ctx)
		if err == nil {
			break
		}
		fmt.Fprintln(p.out, models.UserMessage(err))
		if !p.confirm("Try extraction again?", false) {
			return cli.Exit("extraction failed", 1)
		}
	}

	if o.Len() == 0 {
		fmt.Fprintln(p.out, "No events found in this image.")
	}
	return nil
}

// review walks the candidates and lets the user submit, edit or discard each.
func review(ctx context.Context, o *pipeline.Orchestrator, p *prompter, loc *time.Location) {
	var ids []int
	for ev := range o.Candidates() {
		ids = append(ids, ev.ID)
	}

	for _, id := range ids {
	candidate:
		for {
			ev, ok := find(o, id)
			if !ok {
				break
			}
			printCandidate(p.out, ev, loc)

			switch p.choose("[s]ubmit, [e]dit, [d]iscard, s[k]ip, [q]uit", "s") {
			case "s":
				res, err := o.Submit(ctx, id)
				if err != nil {
					fmt.Fprintln(p.out, err)
					break candidate
				}
				if res.Accepted() {
					printAccepted(p.out, ev, res)
					break candidate
				}
				fmt.Fprintln(p.out, models.UserMessage(res.Err))
				if res.Reason() == models.KindAuthExpired {
					return
				}
			case "e":
				edited, err := p.edit(ev, loc)
				if err != nil {
					fmt.Fprintln(p.out, err)
					continue
				}
				o.Edit(edited)
			case "d":
				o.Discard(id)
				break candidate
			case "k":
				break candidate
			case "q":
				return
			}
		}
	}
}

func find(o *pipeline.Orchestrator, id int) (models.CandidateEvent, bool) {
	for ev := range o.Candidates() {
		if ev.ID == id {
			return ev, true
		}
	}
	return models.CandidateEvent{}, false
}

// sessionActive reports whether a credential exists. A credential that fails
// to refresh still counts, so the submission reports it as expired.
func sessionActive(ctx context.Context, s submit.SessionProvider) bool {
	_, err := s.Token(ctx)
	return !errors.Is(err, submit.ErrNoSession)
}

func writeICS(path string, o *pipeline.Orchestrator, out io.Writer) error {
	var b strings.Builder
	n, err := ics.Export(&b, o.Candidates(), time.Now())
	if err != nil {
		return err
	}
	if err := writeOutput(path, []byte(b.String())); err != nil {
		return fmt.Errorf("failed to write calendar file: %w", err)
	}
	if path != "-" {
		fmt.Fprintf(out, "Wrote %d event(s) to %s\n", n, path)
	}
	return nil
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printCandidate(w io.Writer, ev models.CandidateEvent, loc *time.Location) {
	name := ev.Name
	if name == "" {
		name = "(no name)"
	}
	when := fmt.Sprintf("%s - %s", ev.Start.In(loc).Format(displayLayout), ev.End.In(loc).Format(displayLayout))
	if !ev.TimesDetected() {
		when += " (time not detected)"
	}
	fmt.Fprintf(w, "#%d %s\n    %s\n", ev.ID, name, when)
	if ev.Description != "" {
		fmt.Fprintf(w, "    %s\n", ev.Description)
	}
}

func printAccepted(w io.Writer, ev models.CandidateEvent, res submit.Result) {
	if res.Link != "" {
		fmt.Fprintf(w, "Created %q: %s\n", ev.Name, res.Link)
		return
	}
	fmt.Fprintf(w, "Created %q (id %s)\n", ev.Name, res.RemoteID)
}

// parseWhen reads a user-typed time in loc, or RFC 3339 with its own offset.
func parseWhen(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range whenLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q (use YYYY-MM-DD HH:MM)", s)
}

// prompter asks line-based questions.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) ask(label, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, _ := p.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func (p *prompter) confirm(question string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	answer := strings.ToLower(p.ask(question+" ("+hint+")", ""))
	if answer == "" {
		return def
	}
	return answer == "y" || answer == "yes"
}

// choose returns the first letter of the answer, or def. At end of input it
// returns "q".
func (p *prompter) choose(options, def string) string {
	fmt.Fprintf(p.out, "%s: ", options)
	line, err := p.in.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" {
		if err != nil {
			return "q"
		}
		return def
	}
	return line[:1]
}

// edit prompts for each field, keeping the current value on an empty answer.
// Typed times count as detected.
func (p *prompter) edit(ev models.CandidateEvent, loc *time.Location) (models.CandidateEvent, error) {
	ev.Name = p.ask("Name", ev.Name)
	ev.Description = p.ask("Description", ev.Description)

	const layout = "2006-01-02 15:04"
	for _, f := range []struct {
		label  string
		t      *time.Time
		parsed *bool
	}{
		{"Start", &ev.Start, &ev.StartParsed},
		{"End", &ev.End, &ev.EndParsed},
	} {
		current := f.t.In(loc).Format(layout)
		answer := p.ask(f.label, current)
		if answer == current {
			continue
		}
		t, err := parseWhen(answer, loc)
		if err != nil {
			return ev, err
		}
		*f.t = t
		*f.parsed = true
	}
	if !ev.ValidRange() {
		fmt.Fprintln(p.out, "Warning: end is not after start; the calendar will reject this event.")
	}
	return ev, nil
}
