package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/bpmnkit/internal/intake"
	"github.com/rendis/bpmnkit/internal/service"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// outputOptions are shared by the commands that can emit a BPMN document.
type outputOptions struct {
	out      string
	save     bool
	checksum bool
}

func (o *outputOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "write the document to this file instead of stdout")
	cmd.Flags().BoolVar(&o.save, "save", false, "archive the diagram")
	cmd.Flags().BoolVar(&o.checksum, "checksum", false, "write a <out>.sha256 file next to the document (requires --out)")
}

func newSynthCmd(a *app) *cobra.Command {
	var opts outputOptions
	cmd := &cobra.Command{
		Use:   "synth [spec.json]",
		Short: "Synthesize BPMN XML from a workflow spec",
		Long:  "Reads a WorkflowSpec JSON document from a file or stdin and writes the BPMN 2.0 XML.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			return a.synthesize(cmd, data, opts)
		},
	}
	opts.register(cmd)
	return cmd
}

func newParseCmd(a *app) *cobra.Command {
	var (
		opts  outputOptions
		synth bool
	)
	cmd := &cobra.Command{
		Use:   "parse [brief.md]",
		Short: "Read a free-text brief with section headers into a workflow spec",
		Long: `Reads a brief with headers such as "Process Name", "Participants",
"Activities" and "Decision Points" and prints the resulting spec as JSON.
With --synth the spec is synthesized straight away.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			svc, closeFn, err := a.openService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			parsed, result, err := svc.ParseSections(string(data))
			if err != nil {
				return err
			}
			for _, line := range parsed.Ignored {
				a.logger.Debug("line before first section ignored", "line", line)
			}
			return a.emitSpec(cmd, &parsed.Spec, result, synth, opts)
		},
	}
	cmd.Flags().BoolVar(&synth, "synth", false, "synthesize the parsed spec instead of printing it")
	opts.register(cmd)
	return cmd
}

func newExtractCmd(a *app) *cobra.Command {
	var (
		opts        outputOptions
		synth       bool
		program     string
		programFile string
		schemaFile  string
	)
	cmd := &cobra.Command{
		Use:   "extract [document.json]",
		Short: "Map an arbitrary JSON document onto a workflow spec with jq",
		Long: `Runs a jq program over a JSON document to produce a workflow spec. Without
--program a built-in mapping recognises common key names (name, steps, roles...).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if programFile != "" {
				if program != "" {
					return errors.New("--program and --program-file are mutually exclusive")
				}
				src, err := os.ReadFile(programFile)
				if err != nil {
					return fmt.Errorf("read program: %w", err)
				}
				program = string(src)
			}

			var doc any
			if err := json.Unmarshal(data, &doc); err != nil {
				return schema.NewError(schema.ErrCodeParse, "document is not valid JSON").WithCause(err)
			}
			req := intake.ExtractRequest{Document: doc, Program: program}
			if schemaFile != "" {
				if req.SourceSchema, err = os.ReadFile(schemaFile); err != nil {
					return fmt.Errorf("read schema: %w", err)
				}
			}

			svc, closeFn, err := a.openService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			spec, result, err := svc.Extract(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.emitSpec(cmd, spec, result, synth, opts)
		},
	}
	cmd.Flags().StringVarP(&program, "program", "p", "", "jq program producing the spec object")
	cmd.Flags().StringVar(&programFile, "program-file", "", "read the jq program from a file")
	cmd.Flags().StringVar(&schemaFile, "schema", "", "JSON Schema the document must satisfy")
	cmd.Flags().BoolVar(&synth, "synth", false, "synthesize the extracted spec instead of printing it")
	opts.register(cmd)
	return cmd
}

func newPreviewCmd(a *app) *cobra.Command {
	var (
		format    string
		diagramID string
	)
	cmd := &cobra.Command{
		Use:   "preview [spec.json]",
		Short: "Render a workflow spec or an archived diagram as Mermaid or ASCII",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := a.openService(cmd.Context(), diagramID != "")
			if err != nil {
				return err
			}
			defer closeFn()

			var text string
			if diagramID != "" {
				text, err = svc.PreviewDiagram(cmd.Context(), diagramID, format)
			} else {
				data, rErr := readInput(cmd, args)
				if rErr != nil {
					return rErr
				}
				var spec schema.WorkflowSpec
				if err = json.Unmarshal(data, &spec); err == nil {
					text, err = svc.Preview(spec, format)
				}
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", service.FormatMermaid, "output format: mermaid or ascii")
	cmd.Flags().StringVar(&diagramID, "diagram", "", "render an archived diagram instead of a spec")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	var checksums []string
	cmd := &cobra.Command{
		Use:   "verify <file.bpmn>...",
		Short: "Check BPMN documents for structural problems",
		Long: `Checks each document for broken references, unreachable nodes, missing
diagram shapes and duplicate ids. With --checksums the documents are also
compared against sha256sum-style checksum files, such as the .sha256 sidecars
written by synth and batch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sums manifest
			if len(checksums) > 0 {
				var err error
				if sums, err = loadManifests(checksums); err != nil {
					return err
				}
			}

			svc, closeFn, err := a.openService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				if !verifyFile(out, svc, path, sums) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed verification", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&checksums, "checksums", nil, "checksum files to compare the documents against (repeatable)")
	return cmd
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		outDir   string
		workers  int
		save     bool
		checksum bool
	)
	cmd := &cobra.Command{
		Use:   "batch <spec.json>...",
		Short: "Synthesize several workflow specs concurrently",
		Long: `Synthesizes every spec file into <out-dir>/<name>.bpmn, where name is the
spec file name without its extension. A failing spec does not stop the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]service.BatchItem, len(args))
			seen := make(map[string]string, len(args))
			for i, path := range args {
				name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				if prev, dup := seen[name]; dup {
					return fmt.Errorf("%s and %s would both write %s.bpmn", prev, path, name)
				}
				seen[name] = path

				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read spec: %w", err)
				}
				items[i] = service.BatchItem{Name: name, Spec: data}
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			svc, closeFn, err := a.openService(cmd.Context(), save)
			if err != nil {
				return err
			}
			defer closeFn()
			if save && !svc.ArchiveEnabled() {
				return service.ErrArchiveDisabled
			}

			batch, err := svc.SynthesizeBatch(cmd.Context(), service.BatchRequest{
				Items:   items,
				Save:    save,
				Workers: workers,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, r := range batch.Results {
				if r.Error != nil {
					fmt.Fprintf(out, "%s: error: %s\n", args[i], r.Error.Message)
					continue
				}
				a.warn(r.Synthesis.Warnings)
				dest := filepath.Join(outDir, r.Name+".bpmn")
				if err := os.WriteFile(dest, []byte(r.Synthesis.XML), 0o644); err != nil {
					return fmt.Errorf("write document: %w", err)
				}
				if checksum {
					if err := writeSidecar(dest); err != nil {
						return err
					}
				}
				line := fmt.Sprintf("%s: %s", args[i], dest)
				if r.Synthesis.DiagramID != "" {
					line += " (archived as " + r.Synthesis.DiagramID + ")"
				}
				fmt.Fprintln(out, line)
			}
			if batch.Failed > 0 {
				return fmt.Errorf("%d of %d specs failed", batch.Failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "d", ".", "directory the documents are written to")
	cmd.Flags().IntVarP(&workers, "workers", "w", service.DefaultBatchWorkers, "concurrent syntheses")
	cmd.Flags().BoolVar(&save, "save", false, "archive the diagrams")
	cmd.Flags().BoolVar(&checksum, "checksum", false, "write a .sha256 file next to each document")
	return cmd
}

// verifyFile prints the findings for one document and reports whether it
// passed.
func verifyFile(out io.Writer, svc *service.Service, path string, sums manifest) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", path, err)
		return false
	}

	ok := true
	if sums != nil {
		if problem := sums.check(path, data); problem != "" {
			fmt.Fprintf(out, "%s: %s\n", path, problem)
			ok = false
		}
	}

	result := svc.Verify(string(data))
	for _, issue := range result.Errors {
		fmt.Fprintf(out, "%s: error: %s\n", path, issue)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(out, "%s: warning: %s\n", path, issue)
	}
	if !result.Valid() {
		ok = false
	}
	if ok {
		fmt.Fprintf(out, "%s: ok\n", path)
	}
	return ok
}

// emitSpec prints a spec as JSON, or synthesizes it when synth is set.
func (a *app) emitSpec(cmd *cobra.Command, spec *schema.WorkflowSpec, result *schema.ValidationResult, synth bool, opts outputOptions) error {
	if synth {
		data, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		return a.synthesize(cmd, data, opts)
	}
	a.warn(result.Warnings)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(spec)
}

// synthesize runs the synthesizer over a spec document and writes the XML.
func (a *app) synthesize(cmd *cobra.Command, doc []byte, opts outputOptions) error {
	if opts.checksum && opts.out == "" {
		return errors.New("--checksum requires --out")
	}

	svc, closeFn, err := a.openService(cmd.Context(), opts.save)
	if err != nil {
		return err
	}
	defer closeFn()
	if opts.save && !svc.ArchiveEnabled() {
		return service.ErrArchiveDisabled
	}

	out, err := svc.SynthesizeDocument(cmd.Context(), doc, 0, opts.save)
	if err != nil {
		return err
	}
	a.warn(out.Warnings)
	if out.DiagramID != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "archived as %s\n", out.DiagramID)
	}

	if opts.out == "" {
		_, err = io.WriteString(cmd.OutOrStdout(), out.XML)
		return err
	}
	if err := os.WriteFile(opts.out, []byte(out.XML), 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if opts.checksum {
		return writeSidecar(opts.out)
	}
	return nil
}

func (a *app) warn(issues []schema.ValidationIssue) {
	for _, w := range issues {
		a.logger.Warn("spec warning", "path", w.Path, "message", w.Message)
	}
}
