package cmds

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-go-golems/chatwidget/pkg/upload"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
)

const maxUploadFiles = 2

type UploadCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*UploadCommand)(nil)

type UploadSettings struct {
	UploadURL string   `glazed:"upload-url"`
	TimeoutMs int      `glazed:"timeout-ms"`
	Files     []string `glazed:"files"`
}

func NewUploadCommand() (*UploadCommand, error) {
	return &UploadCommand{
		CommandDescription: cmds.NewCommandDescription(
			"upload",
			cmds.WithShort("Upload one or two PDF or JSON files to the ingestion endpoint"),
			cmds.WithFlags(
				fields.New("upload-url", fields.TypeString, fields.WithRequired(true),
					fields.WithHelp("URL receiving the multipart upload")),
				fields.New("timeout-ms", fields.TypeInteger, fields.WithDefault(60000),
					fields.WithHelp("Timeout of a single upload request")),
			),
			cmds.WithArguments(
				fields.New("files", fields.TypeStringList, fields.WithRequired(true),
					fields.WithHelp("Files to upload (at most two)")),
			),
		),
	}, nil
}

func (c *UploadCommand) RunIntoWriter(ctx context.Context, parsedLayers *values.Values, w io.Writer) error {
	s := &UploadSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	if len(s.Files) == 0 || len(s.Files) > maxUploadFiles {
		return errors.Errorf("expected 1 or %d files, got %d", maxUploadFiles, len(s.Files))
	}

	client := upload.NewClient(s.UploadURL, time.Duration(s.TimeoutMs)*time.Millisecond)
	failed := 0
	for _, path := range s.Files {
		res, err := client.File(ctx, path)
		var verr *upload.ValidationError
		switch {
		case errors.As(err, &verr):
			failed++
			if _, err := fmt.Fprintf(w, "%s: %s\n", path, verr.Message); err != nil {
				return errors.Wrap(err, "error writing to output")
			}
			continue
		case err != nil:
			return err
		}
		line := fmt.Sprintf("%s: uploaded", path)
		if !res.Success {
			failed++
			line = fmt.Sprintf("%s: %s", path, res.Message)
		} else if len(res.Data) > 0 {
			line += " " + string(res.Data)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return errors.Wrap(err, "error writing to output")
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d uploads failed", failed, len(s.Files))
	}
	return nil
}
