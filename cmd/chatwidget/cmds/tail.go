package cmds

import (
	"context"
	"fmt"
	"io"

	"github.com/go-go-golems/chatwidget/pkg/eventbus"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type TailCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*TailCommand)(nil)

type TailSettings struct {
	JSON bool `glazed:"json"`
}

func NewTailCommand() (*TailCommand, error) {
	redisSection, err := eventbus.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}
	return &TailCommand{
		CommandDescription: cmds.NewCommandDescription(
			"tail",
			cmds.WithShort("Follow widget events mirrored to a Redis stream"),
			cmds.WithLong("Reads new records from the stream chat sessions publish to with --redis-enabled."),
			cmds.WithFlags(
				fields.New("json", fields.TypeBool, fields.WithDefault(false),
					fields.WithHelp("Print raw JSON records")),
			),
			cmds.WithSections(redisSection),
		),
	}, nil
}

func (c *TailCommand) RunIntoWriter(ctx context.Context, parsedLayers *values.Values, w io.Writer) error {
	s := &TailSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	rs := eventbus.DefaultSettings()
	if err := parsedLayers.DecodeSectionInto(eventbus.SectionSlug, &rs); err != nil {
		return errors.Wrap(err, "init redis settings")
	}

	records, closer, err := eventbus.Tail(ctx, rs)
	if err != nil {
		return err
	}
	defer func() { _ = closer() }()
	log.Info().Str("component", "tail").Str("addr", rs.Addr).Str("topic", rs.Topic).Msg("following stream")

	for r := range records {
		if err := printRecord(w, r, s.JSON); err != nil {
			return errors.Wrap(err, "error writing to output")
		}
	}
	return nil
}

func printRecord(w io.Writer, r eventbus.Record, asJSON bool) error {
	if asJSON {
		b, err := r.Marshal()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	ts := r.At.Format("15:04:05.000")
	var err error
	switch r.Kind {
	case eventbus.RecordMessage:
		_, err = fmt.Fprintf(w, "%s %s [%s] %s: %s\n", ts, r.ConvID, r.Kind, r.Role, r.Content)
	case eventbus.RecordFragment:
		_, err = fmt.Fprintf(w, "%s %s [%s] %q\n", ts, r.ConvID, r.Kind, r.Content)
	case eventbus.RecordState:
		_, err = fmt.Fprintf(w, "%s %s [%s] %s\n", ts, r.ConvID, r.Kind, r.State)
	default:
		_, err = fmt.Fprintf(w, "%s %s [%s] %s %s\n", ts, r.ConvID, r.Kind, r.State, r.Content)
	}
	return err
}
