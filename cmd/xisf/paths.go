package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const envXISFOutDir = "XISF_OUT_DIR"

// resolveConvertOut picks the output path for converting in. An explicit
// output wins; otherwise the file keeps its base name inside outDir, then
// $XISF_OUT_DIR, then ./out. The boolean reports whether the path was
// defaulted.
func resolveConvertOut(in, outFlag, outDir string) (string, bool, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		outPath := filepath.Clean(outFlag)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return "", false, err
		}
		return outPath, false, nil
	}

	base := filepath.Base(filepath.Clean(in))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", true, fmt.Errorf("invalid input file: %q", in)
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	dir := strings.TrimSpace(outDir)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(envXISFOutDir))
	}
	if dir == "" {
		dir = filepath.Join(".", "out")
	}

	outPath := filepath.Join(dir, stem+".xisf")
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", true, err
	}
	return outPath, true, nil
}

// parseIndices parses a comma separated list of image indices such as
// "0,2,5". An empty string selects nothing.
func parseIndices(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, item := range strings.Split(s, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil || i < 0 {
			return nil, fmt.Errorf("invalid image index %q", item)
		}
		out = append(out, i)
	}
	return out, nil
}
