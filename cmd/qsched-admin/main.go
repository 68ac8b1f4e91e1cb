// Command qsched-admin is an offline inspector for catalog YAML files: it
// loads a file the same way the Catalog Reconciler does (env substitution,
// __import__/__include__ resolution) and either lists the tasks it
// declares or runs a JMESPath query against the raw decoded document, so
// an operator can check a schedule_config expression before deploying it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/quickscheduler/qsched/internal/yamlconfig"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "qsched-admin:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: qsched-admin <list|query> -file <path> [-query <expr>]")
	}

	switch args[0] {
	case "list":
		return runList(args[1:])
	case "query":
		return runQuery(args[1:])
	default:
		return fmt.Errorf("unknown subcommand %q (want list or query)", args[0])
	}
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	file := fs.String("file", "", "path to a catalog YAML file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	cfg, err := yamlconfig.Load(*file)
	if err != nil {
		return err
	}

	var docs []taskSummary
	if err := cfg.DecodeTasks(&docs); err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(docs)
}

// taskSummary decodes just enough of a catalog task entry to summarize
// it; the full shape lives in internal/catalog's unexported taskDoc.
type taskSummary struct {
	Name    string `yaml:"name" json:"name"`
	Command string `yaml:"command" json:"command,omitempty"`
	Enabled *bool  `yaml:"enabled" json:"enabled,omitempty"`
	Schedule struct {
		Type string `yaml:"type" json:"type"`
	} `yaml:"schedule" json:"schedule"`
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	file := fs.String("file", "", "path to a catalog YAML file")
	expr := fs.String("query", "", "JMESPath expression, e.g. tasks[?schedule.type=='DAILY'].name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" || *expr == "" {
		return fmt.Errorf("-file and -query are required")
	}

	if _, err := jmespath.Compile(*expr); err != nil {
		return fmt.Errorf("invalid expression: %w", err)
	}

	cfg, err := yamlconfig.Load(*file)
	if err != nil {
		return err
	}

	result, err := jmespath.Search(*expr, cfg.Data())
	if err != nil {
		return fmt.Errorf("evaluate expression: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
