package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const docxMimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

func newPandocRenderer(opts Options) renderFunc {
	return func(parent context.Context, html, title string) (*Result, error) {
		path, ok := lookupExecutable(opts.PandocPath, "pandoc")
		if !ok {
			return nil, fmt.Errorf("%w: pandoc not found", ErrDOCXDependencyMissing)
		}
		ctx, cancel := context.WithTimeout(parent, opts.Timeout)
		defer cancel()

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, path,
			"--from=html",
			"--to=docx",
			"--metadata", "title="+title,
			"--output=-",
		)
		cmd.Stdin = strings.NewReader(html)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, fmt.Errorf("pandoc exited %d: %s", exitErr.ExitCode(), firstLine(stderr.String()))
			}
			return nil, fmt.Errorf("run pandoc: %w", err)
		}

		return &Result{
			Data:     stdout.Bytes(),
			Filename: sanitizeFilename(title) + ".docx",
			MimeType: docxMimeType,
		}, nil
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
