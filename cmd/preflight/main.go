package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wudi/pdfpreflight/engine"
	"github.com/wudi/pdfpreflight/jsengine"
	"github.com/wudi/pdfpreflight/preflight"
	"github.com/wudi/pdfpreflight/render"
	"github.com/wudi/pdfpreflight/report"
	"github.com/wudi/pdfpreflight/store"
)

type options struct {
	pdfPath        string
	page           int
	budgetBytes    int64
	maxImagePixels int64
	timeoutMS      int
	groupMult      float64
	maskMult       float64
	opsScriptPath  string
	pageScriptPath string
	format         string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "preflight: %v\n", err)
		os.Exit(2)
	}
	code, err := run(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "preflight: %v\n", err)
		os.Exit(2)
	}
	os.Exit(code)
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: preflight [flags] <pdf>\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Exit codes: 0 render, 1 skip, 2 error.\n")
		flag.PrintDefaults()
	}
	page := flag.Int("page", 0, "Zero-based page to estimate")
	budget := flag.Int64("budget", 64<<20, "Decode budget in bytes")
	ceiling := flag.Int64("max-image-pixels", 0, "Per-image decoded pixel ceiling (0 disables)")
	timeoutMS := flag.Int("timeout-ms", 2000, "Operator list timeout in milliseconds")
	groupMult := flag.Float64("group-multiplier", 2, "Estimate multiplier when the page pushes transparency groups")
	maskMult := flag.Float64("mask-multiplier", 2, "Estimate multiplier when soft masks are present")
	opsScript := flag.String("ops-script", "", "JS file evaluating to the engine's operator name table")
	pageScript := flag.String("page-script", "", "JS file evaluating to a page object with getOperatorList/getViewport")
	format := flag.String("format", "text", "Output format: text, json, markdown, or html")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.pdfPath = flag.Arg(0)
	opts.page = *page
	opts.budgetBytes = *budget
	opts.maxImagePixels = *ceiling
	opts.timeoutMS = *timeoutMS
	opts.groupMult = *groupMult
	opts.maskMult = *maskMult
	opts.opsScriptPath = *opsScript
	opts.pageScriptPath = *pageScript
	opts.format = *format

	if opts.page < 0 {
		return options{}, fmt.Errorf("page must be >= 0")
	}
	switch opts.format {
	case "text", "json", "markdown", "html":
	default:
		return options{}, fmt.Errorf("unknown format %q", opts.format)
	}
	if (opts.opsScriptPath == "") != (opts.pageScriptPath == "") {
		return options{}, fmt.Errorf("-ops-script and -page-script must be supplied together")
	}
	return opts, nil
}

func run(opts options) (int, error) {
	data, err := os.ReadFile(opts.pdfPath)
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}

	info, err := render.Probe(data)
	if err != nil {
		return 0, err
	}
	if !info.PageExists(opts.page) {
		return 0, fmt.Errorf("page %d out of range, document has %d pages", opts.page, info.Pages)
	}

	cfg := preflight.Config{
		BudgetBytes:           opts.budgetBytes,
		MaxDecodedImagePixels: opts.maxImagePixels,
		Timeout:               time.Duration(opts.timeoutMS) * time.Millisecond,
		Multipliers: preflight.Multipliers{
			TransparencyGroup: opts.groupMult,
			SoftMask:          opts.maskMult,
		},
	}

	var pageHandle engine.PageHandle
	var table engine.OperatorTable
	if opts.pageScriptPath != "" {
		pageHandle, table, err = scriptedPage(opts)
		if err != nil {
			return 0, err
		}
	}

	d := preflight.Run(context.Background(), data, pageHandle, table, cfg)
	if err := emit(opts, data, info, d); err != nil {
		return 0, err
	}
	if d.Skip() {
		return 1, nil
	}
	return 0, nil
}

// scriptedPage loads both scripts into one VM so the page script can use
// bindings the operator table script set up.
func scriptedPage(opts options) (engine.PageHandle, engine.OperatorTable, error) {
	opsSrc, err := os.ReadFile(opts.opsScriptPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read ops script: %w", err)
	}
	pageSrc, err := os.ReadFile(opts.pageScriptPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read page script: %w", err)
	}

	vm := jsengine.New()
	table, err := vm.OperatorTable(context.Background(), string(opsSrc))
	if err != nil {
		return nil, nil, err
	}
	page, err := vm.Page(context.Background(), string(pageSrc))
	if err != nil {
		return nil, nil, err
	}
	return page, table, nil
}

func emit(opts options, data []byte, info render.DocInfo, d preflight.Decision) error {
	switch opts.format {
	case "json":
		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal decision: %w", err)
		}
		fmt.Printf("%s\n", out)
	case "markdown":
		fmt.Print(report.Markdown(summarize(opts, data, d)))
	case "html":
		html, err := report.HTML(summarize(opts, data, d))
		if err != nil {
			return err
		}
		fmt.Print(html)
	default:
		m := d.Metrics
		fmt.Printf("%s (%s)\n", d.Decision, d.Reason)
		fmt.Printf("pages=%d page=%d budget=%d estimate=%.0f\n", info.Pages, opts.page, m.BudgetBytes, m.EstimatedBytes)
		fmt.Printf("scan: dicts=%d parsed=%d maxPixels=%d sumPixels=%d softMask=%v group=%v uncertain=%v\n",
			m.Scan.ImageDictHits, m.Scan.ParsedDimsHits, m.Scan.MaxImagePixels, m.Scan.SumImagePixels,
			m.Scan.HasSoftMask, m.Scan.HasTransparencyGroup, m.Scan.Uncertain)
		if ops := m.Operators; ops != nil {
			fmt.Printf("ops: paint=%d xobject=%d inline=%d mask=%d group=%d len=%d timedOut=%v uncertain=%v\n",
				ops.PaintOps, ops.XObjectPaintOps, ops.InlinePaintOps, ops.MaskPaintOps,
				ops.TransparencyGroupOps, ops.OperatorListLength, ops.TimedOut, ops.Uncertain)
		}
		if m.PagePixels != nil {
			fmt.Printf("page pixels: %d\n", *m.PagePixels)
		}
	}
	return nil
}

func summarize(opts options, data []byte, d preflight.Decision) report.Summary {
	return report.Summary{
		DocHash:  store.HashDocument(data),
		Page:     opts.page,
		Decision: d,
	}
}
