package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"hotsync/internal/issues"
	"hotsync/internal/resource"
	"hotsync/internal/update"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runMerge prints MergeList(earlier, later).
func runMerge(cmd *cobra.Command, args []string) error {
	earlier, err := readChunkList(args[0])
	if err != nil {
		return err
	}
	later, err := readChunkList(args[1])
	if err != nil {
		return err
	}

	merged, err := update.MergeList(earlier, later)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	logger.Debug("merged chunk lists",
		zap.Int("earlier_chunks", len(earlier.Chunks)),
		zap.Int("later_chunks", len(later.Chunks)),
		zap.Int("result_chunks", len(merged.Chunks)))

	return printJSON(merged)
}

func readChunkList(path string) (update.ChunkListUpdate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return update.ChunkListUpdate{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var u update.ChunkListUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return update.ChunkListUpdate{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return u, nil
}

// runKey prints the key for the resource described by the flags.
func runKey(cmd *cobra.Command, args []string) error {
	res, err := resourceFromFlags(keyPath, keyHeaders, keyEmptyHeaders)
	if err != nil {
		return err
	}
	fmt.Println(res.Key())
	return nil
}

func resourceFromFlags(path string, headers []string, emptyHeaders bool) (resource.Resource, error) {
	res := resource.Resource{Path: path}
	if len(headers) == 0 && !emptyHeaders {
		return res, nil
	}
	res.Headers = make(map[string]string, len(headers))
	for _, h := range headers {
		name, value, ok := strings.Cut(h, "=")
		if !ok || name == "" {
			return resource.Resource{}, fmt.Errorf("invalid header %q (want name=value)", h)
		}
		res.Headers[name] = value
	}
	return res, nil
}

// runIssues sorts the issue list in a JSON file and renders it.
func runIssues(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	var list []issues.Issue
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	issues.Sort(list)
	if issuesJSON {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No issues.")
		return nil
	}
	fmt.Print(issues.Render(list))
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
