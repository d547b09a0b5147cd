package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattermost/file-transcriber/cmd/transcriber/config"
	"github.com/mattermost/file-transcriber/cmd/transcriber/transcribe"
)

var (
	filenameSanitizationRE = regexp.MustCompile(`[\\:*?\"<>|\n\s/]`)
)

func sanitizeFilename(name string) string {
	return filenameSanitizationRE.ReplaceAllString(name, "_")
}

func outputStem(path string) (string, error) {
	base := filepath.Base(path)
	stem := sanitizeFilename(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" || stem == "." {
		return "", fmt.Errorf("invalid empty filename")
	}
	return stem, nil
}

// outputFilenames returns the name of the file each input's transcription is
// written to. Inputs sharing a stem get a numeric suffix, in input order, so
// that no two inputs write the same file. Names are compared case
// insensitively.
func outputFilenames(paths []string, format config.OutputFormat) ([]string, []error) {
	names := make([]string, len(paths))
	errs := make([]error, len(paths))
	used := make(map[string]bool, len(paths))

	for i, p := range paths {
		stem, err := outputStem(p)
		if err != nil {
			errs[i] = err
			continue
		}

		name := stem + format.Extension()
		for n := 1; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d%s", stem, n, format.Extension())
		}
		used[strings.ToLower(name)] = true
		names[i] = name
	}

	return names, errs
}

func (t *Transcriber) publishTranscription(fname string, tr transcribe.Transcription) (string, error) {
	outPath := filepath.Join(t.cfg.OutputDir, fname)
	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to open output file: %w", err)
	}
	defer f.Close()

	switch t.cfg.OutputFormat {
	case config.OutputFormatSRT:
		err = tr.SRT(f)
	case config.OutputFormatVTT:
		err = tr.WebVTT(f, t.cfg.OutputOptions.WebVTT)
	case config.OutputFormatText:
		err = tr.Text(f, t.cfg.OutputOptions.Text)
	default:
		err = fmt.Errorf("output format %q not implemented", t.cfg.OutputFormat)
	}
	if err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", t.cfg.OutputFormat, err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close output file: %w", err)
	}

	return outPath, nil
}
