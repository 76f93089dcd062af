package cmds

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/chatwidget/pkg/assembler"
	"github.com/go-go-golems/chatwidget/pkg/connection"
	"github.com/go-go-golems/chatwidget/pkg/eventbus"
	"github.com/go-go-golems/chatwidget/pkg/ui"
	"github.com/go-go-golems/chatwidget/pkg/widget"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	ModeAuto = "auto"
	ModeTUI  = "tui"
	ModeLine = "line"
)

// LogsToFile is set by the root command when --log-file is given. The TUI
// silences logging otherwise so the terminal stays readable.
var LogsToFile bool

type ChatCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*ChatCommand)(nil)

type ChatSettings struct {
	Endpoint     string `glazed:"endpoint"`
	Greeting     string `glazed:"greeting"`
	ProtocolFile string `glazed:"protocol-file"`
	Mode         string `glazed:"mode"`

	Socket SocketSettings
	Store  StoreSettings
	Redis  eventbus.Settings
}

func NewChatCommand() (*ChatCommand, error) {
	socketSection, err := NewSocketSection()
	if err != nil {
		return nil, errors.Wrap(err, "build socket section")
	}
	storeSection, err := NewStoreSection()
	if err != nil {
		return nil, errors.Wrap(err, "build store section")
	}
	redisSection, err := eventbus.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}

	desc := cmds.NewCommandDescription(
		"chat",
		cmds.WithShort("Chat with a remote bot over Socket.IO"),
		cmds.WithLong("Connects to the chat bot namespace given by --endpoint (or "+EndpointEnv+
			") and streams its replies. Uses a full screen UI on terminals and plain lines otherwise."),
		cmds.WithFlags(
			fields.New("endpoint", fields.TypeString, fields.WithShortFlag("e"),
				fields.WithHelp("Socket.IO namespace URL, e.g. wss://host/chat-bot")),
			fields.New("greeting", fields.TypeString, fields.WithDefault(widget.DefaultGreeting),
				fields.WithHelp("Agent greeting shown in a new transcript (empty disables it)")),
			fields.New("protocol-file", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("YAML file overriding event names and sentinel strings")),
			fields.New("mode", fields.TypeChoice, fields.WithChoices(ModeAuto, ModeTUI, ModeLine),
				fields.WithDefault(ModeAuto),
				fields.WithHelp("Front end: tui, line, or auto to pick by terminal")),
		),
		cmds.WithSections(socketSection, storeSection, redisSection),
	)
	return &ChatCommand{CommandDescription: desc}, nil
}

func (c *ChatCommand) RunIntoWriter(ctx context.Context, parsedLayers *values.Values, w io.Writer) error {
	s := &ChatSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init chat settings")
	}
	if err := parsedLayers.DecodeSectionInto(SocketSlug, &s.Socket); err != nil {
		return errors.Wrap(err, "init socket settings")
	}
	if err := parsedLayers.DecodeSectionInto(StoreSlug, &s.Store); err != nil {
		return errors.Wrap(err, "init store settings")
	}
	if err := parsedLayers.DecodeSectionInto(eventbus.SectionSlug, &s.Redis); err != nil {
		return errors.Wrap(err, "init redis settings")
	}

	endpoint := strings.TrimSpace(s.Endpoint)
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv(EndpointEnv))
	}
	if endpoint == "" {
		return errors.New("Socket URL is not defined: pass --endpoint or set " + EndpointEnv)
	}

	protocol := assembler.DefaultProtocol()
	if s.ProtocolFile != "" {
		p, err := assembler.LoadProtocol(s.ProtocolFile)
		if err != nil {
			return err
		}
		protocol = p
	}

	store, convID, err := s.Store.Open(endpoint)
	if err != nil {
		return errors.Wrap(err, "open transcript store")
	}
	defer func() { _ = store.Close() }()
	if convID == "" {
		convID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	useTUI := s.Mode == ModeTUI
	if s.Mode == ModeAuto {
		useTUI = isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
	}
	if useTUI && !LogsToFile {
		log.Logger = zerolog.Nop()
	}

	bus, err := eventbus.New(s.Redis, log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	mgr := connection.NewManager(s.Socket.Options())
	session, err := widget.NewSession(ctx, mgr, store, widget.Options{
		Greeting:  s.Greeting,
		Protocol:  protocol,
		ConvID:    convID,
		Publisher: bus,
	})
	if err != nil {
		return err
	}

	log.Info().Str("component", "chat").Str("endpoint", endpoint).Str("conv_id", convID).Bool("tui", useTUI).Msg("starting chat")
	if err := session.Start(ctx, endpoint); err != nil {
		return err
	}
	defer session.Stop()

	eg, ctx := errgroup.WithContext(ctx)
	if !s.Redis.Enabled {
		records, err := bus.Subscribe(ctx)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			for r := range records {
				log.Debug().Str("component", "mirror").Str("kind", string(r.Kind)).
					Str("role", r.Role).Str("state", r.State).Int("len", len(r.Content)).Msg("record")
			}
			return nil
		})
	}

	eg.Go(func() error {
		// the mirror logger ends with ctx
		defer stop()
		if !useTUI {
			return ui.NewLineMode(session, os.Stdin, w, termenv.Ascii).Run(ctx)
		}
		p := tea.NewProgram(ui.NewModel(ctx, session), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return errors.Wrap(err, "run chat ui")
		}
		return nil
	})

	return eg.Wait()
}
