package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/chatwidget/pkg/transcript"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
)

type TranscriptListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &TranscriptListCommand{}

type TranscriptListSettings struct {
	TranscriptDB string `glazed:"transcript-db"`
	Limit        int    `glazed:"limit"`
	SinceMs      int    `glazed:"since-ms"`
}

const transcriptDBHelp = "SQLite transcript database"

func NewTranscriptListCommand() (*TranscriptListCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"list",
		cmds.WithShort("List conversations in the transcript store"),
		cmds.WithFlags(
			fields.New("transcript-db", fields.TypeString, fields.WithRequired(true),
				fields.WithHelp(transcriptDBHelp)),
			fields.New("limit", fields.TypeInteger, fields.WithDefault(200),
				fields.WithHelp("Limit number of conversations")),
			fields.New("since-ms", fields.TypeInteger, fields.WithDefault(0),
				fields.WithHelp("Only conversations active since this unix time in milliseconds")),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &TranscriptListCommand{CommandDescription: desc}, nil
}

func (c *TranscriptListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &TranscriptListSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	store, err := openIndex(s.TranscriptDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.ListConversations(ctx, s.Limit, int64(s.SinceMs))
	if err != nil {
		return err
	}
	for _, r := range records {
		row := types.NewRow(
			types.MRP("conv_id", r.ConvID),
			types.MRP("endpoint", r.Endpoint),
			types.MRP("messages", r.MessageCount),
			types.MRP("created_at", time.UnixMilli(r.CreatedAtMs).Format(time.RFC3339)),
			types.MRP("last_activity", time.UnixMilli(r.LastActivityMs).Format(time.RFC3339)),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type TranscriptShowCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &TranscriptShowCommand{}

type TranscriptShowSettings struct {
	TranscriptDB string `glazed:"transcript-db"`
	ConvID       string `glazed:"conv-id"`
}

func NewTranscriptShowCommand() (*TranscriptShowCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"show",
		cmds.WithShort("Print the messages of one conversation"),
		cmds.WithFlags(
			fields.New("transcript-db", fields.TypeString, fields.WithRequired(true),
				fields.WithHelp(transcriptDBHelp)),
		),
		cmds.WithArguments(
			fields.New("conv-id", fields.TypeString, fields.WithRequired(true),
				fields.WithHelp("Conversation id")),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &TranscriptShowCommand{CommandDescription: desc}, nil
}

func (c *TranscriptShowCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &TranscriptShowSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	store, err := openIndex(s.TranscriptDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	for m := range store.Conversation(ctx, s.ConvID) {
		row := types.NewRow(
			types.MRP("id", m.ID),
			types.MRP("role", string(m.Role)),
			types.MRP("content", m.Content),
			types.MRP("created_at", m.CreatedAt.Format(time.RFC3339)),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func openIndex(path string) (*transcript.SQLiteStore, error) {
	dsn, err := transcript.SQLiteDSNForFile(path)
	if err != nil {
		return nil, err
	}
	store, err := transcript.OpenSQLiteIndex(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open transcript store")
	}
	return store, nil
}
