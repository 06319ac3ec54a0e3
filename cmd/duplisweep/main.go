// Command duplisweep is a minimal driver over the duplisweep library. It
// takes scan roots as positional arguments and everything else from the
// environment (envOr/envBool/envInt, in the style of
// fruitsalade/internal/config), then prints the resulting session as
// JSON to stdout. CLI flag parsing, config files, a TUI, and colored
// output are handled by other tools, not this one.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	duplisweep "github.com/duplisweep/duplisweep"
	"github.com/duplisweep/duplisweep/internal/dmerrors"
)

func main() {
	root := &cobra.Command{
		Use:   "duplisweep [roots...]",
		Short: "Find duplicate and similar files under one or more directories",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func run(cmd *cobra.Command, args []string) error {
	opts := duplisweep.Options{
		Roots:               args,
		ReferenceRoots:      splitList(envOr("DUPLISWEEP_REFERENCE_ROOTS", "")),
		Exact:               envBool("DUPLISWEEP_EXACT", true),
		SimilarImages:       envBool("DUPLISWEEP_SIMILAR_IMAGES", false),
		SimilarDocuments:    envBool("DUPLISWEEP_SIMILAR_DOCUMENTS", false),
		Paranoid:            envBool("DUPLISWEEP_PARANOID", false),
		MMap:                envBool("DUPLISWEEP_MMAP", false),
		CachePath:           envOr("DUPLISWEEP_CACHE_PATH", ""),
		IOThreads:           envInt("DUPLISWEEP_IO_THREADS", 0),
		SimilarityThreshold: envInt("DUPLISWEEP_SIMILARITY_THRESHOLD", 0),
		FollowSymlinks:      envBool("DUPLISWEEP_FOLLOW_SYMLINKS", false),
		IncludeHidden:       envBool("DUPLISWEEP_INCLUDE_HIDDEN", false),
		StrictMode:          envBool("DUPLISWEEP_STRICT", false),
		IgnorePatterns:      splitList(envOr("DUPLISWEEP_IGNORE_PATTERNS", "")),
		ToolVersion:         envOr("DUPLISWEEP_TOOL_VERSION", "dev"),
	}

	sess, err := duplisweep.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sess)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func exitCodeFor(err error) int {
	fmt.Fprintln(os.Stderr, err)
	var derr *dmerrors.Error
	if errors.As(err, &derr) {
		return derr.ExitCode()
	}
	return 1
}
