// Copyright (c) 2025 Julian Hill
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Julian Hill

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	eztools "github.com/julianghill/openrelik-worker-eztools"
	"github.com/julianghill/openrelik-worker-eztools/artifact"
	"github.com/julianghill/openrelik-worker-eztools/resultstore"
	"github.com/julianghill/openrelik-worker-eztools/spool"
)

func buildOrchestrator(config *eztools.Config) (*eztools.Orchestrator, artifact.Store) {
	fs := afero.NewOsFs()
	store := artifact.NewFileStore(fs, config.ArtifactRoot)
	stager := eztools.NewStager(fs, config.StagingDir, store)
	runner := eztools.NewRunner(config.CaptureLimit, config.GracePeriod.Duration, logger)
	normalizer := eztools.NewNormalizer(fs, logger)
	assembler := eztools.NewAssembler(store, config.SpillThreshold)

	orchestrator := eztools.NewOrchestrator(stager, runner, normalizer, assembler, logger)
	orchestrator.Timeout = config.ToolTimeout.Duration
	orchestrator.Overrides = config.ToolOverrides()
	return orchestrator, store
}

// runCommand is the worker loop: consume spooled tasks until interrupted.
func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the extraction worker loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := eztools.LoadConfig(afero.NewOsFs(), configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orchestrator, _ := buildOrchestrator(config)

			queue, err := spool.New(config.SpoolDir, logger)
			if err != nil {
				return err
			}

			var sink eztools.Sink = queue
			if config.ResultDB != "" {
				archive, err := resultstore.Open(config.ResultDB)
				if err != nil {
					return err
				}
				defer archive.Close() // nolint:errcheck
				sink = &archivingSink{queue: queue, archive: archive}
			}

			worker := eztools.NewWorker(orchestrator, queue, sink, config.Concurrency, logger)
			return worker.Run(ctx)
		},
	}
}

// onceCommand executes a single task descriptor file and prints the result.
func onceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "once [task.json]",
		Short: "Execute a single task descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := eztools.LoadConfig(afero.NewOsFs(), configPath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0]) // #nosec
			if err != nil {
				return err
			}
			task := eztools.TaskRequest{}
			if err := json.Unmarshal(data, &task); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orchestrator, _ := buildOrchestrator(config)
			result := orchestrator.Execute(ctx, task)

			encoded, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		},
	}
}

// toolsCommand lists the registered parsers.
func toolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered parsers",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, kind := range eztools.Kinds() {
				spec, err := eztools.Lookup(kind)
				if err != nil {
					return err
				}
				formats := make([]string, 0, len(spec.Formats))
				for name := range spec.Formats {
					formats = append(formats, name)
				}
				sort.Strings(formats)
				fmt.Printf("%-12s %s (%s)\n", kind, spec.Name, strings.Join(formats, "/"))
			}
			return nil
		},
	}
}

// resultsCommand queries the local result archive.
func resultsCommand() *cobra.Command {
	var db string
	var status string
	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "List archived task results",
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := resultstore.Open(db)
			if err != nil {
				return err
			}
			defer archive.Close() // nolint:errcheck

			summaries, err := archive.Summaries(status)
			if err != nil {
				return err
			}
			for _, summary := range summaries {
				fmt.Printf("%s  %-8s %-22s records=%d warnings=%d  %s\n",
					summary.InsertTime, summary.Status, summary.ToolName,
					summary.Records, summary.Warnings, summary.TaskID)
			}
			return nil
		},
	}
	resultsCmd.Flags().StringVar(&db, "db", "results.db", "path to the result archive")
	resultsCmd.Flags().StringVar(&status, "status", "", "filter by status")
	return resultsCmd
}

// archivingSink reports to the spool and additionally archives the result.
// Archive failures never block the report.
type archivingSink struct {
	queue   *spool.Spool
	archive *resultstore.Store
}

func (s *archivingSink) Report(ctx context.Context, result *eztools.TaskResult) error {
	if err := s.archive.Insert(result); err != nil {
		logger.Warn("could not archive result: " + err.Error())
	}
	return s.queue.Report(ctx, result)
}
