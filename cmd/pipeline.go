package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nextlevelbuilder/routegen/internal/compile"
	"github.com/nextlevelbuilder/routegen/internal/faults"
	"github.com/nextlevelbuilder/routegen/internal/registry"
	"github.com/nextlevelbuilder/routegen/internal/validate"
)

// runPipeline is the shared loader -> compiler -> validator pass. On
// failure it prints findings and returns a nil document with the exit
// code; the caller decides whether anything gets written.
func runPipeline() (*compile.Document, *validate.Report, int) {
	graph, err := registry.Load(flagRegistry, flagPolicy)
	if err != nil {
		printError(err)
		return nil, nil, exitCodeFor(err)
	}

	doc, err := compile.Compile(graph, time.Now())
	if err != nil {
		printError(err)
		return nil, nil, exitCodeFor(err)
	}

	rep := validate.Run(doc, validate.Options{
		Sources:     graph.Sources,
		Prev:        previousMeta(flagOut),
		MaxTierDrop: maxTierDrop(graph),
	})
	printFindings(rep)
	if !rep.OK() {
		return doc, rep, exitValidation
	}
	return doc, rep, exitOK
}

// previousMeta reads the active artifact's meta block for the staleness
// check. Missing or unreadable artifacts just skip the check.
func previousMeta(path string) *compile.Meta {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	doc, err := compile.Decode(data)
	if err != nil {
		return nil
	}
	return &doc.Meta
}

func maxTierDrop(g *registry.SourceGraph) int {
	if g.Policy.Advisory != nil {
		return g.Policy.Advisory.MaxTierDrop
	}
	return 1
}

// exitCodeFor maps the error taxonomy onto the CLI contract: parse and
// environment failures are exit 2, everything validation-shaped is 1.
func exitCodeFor(err error) int {
	var parseErr *faults.ParseError
	var lockErr *faults.LockContentionError
	var pathErr *os.PathError
	if errors.As(err, &parseErr) || errors.As(err, &lockErr) || errors.As(err, &pathErr) {
		return exitIO
	}
	return exitValidation
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

func printFindings(rep *validate.Report) {
	for _, e := range rep.Errors {
		fmt.Fprintf(os.Stderr, "error: %v\n", e)
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
}
