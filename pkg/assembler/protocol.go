package assembler

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMessageEvent     = "message"
	DefaultResponseEvent    = "response"
	DefaultResponseEndEvent = "response_end"

	DefaultIgnorableFragment = "Relevant context retrieved and sent to OpenAI for processing."
	DefaultEndSentinel       = " - Response Ended"
)

// Protocol names the application events and the in-band control strings
// used by the remote agent. Fragments are compared verbatim.
type Protocol struct {
	MessageEvent       string   `yaml:"message_event"`
	ResponseEvent      string   `yaml:"response_event"`
	ResponseEndEvent   string   `yaml:"response_end_event"`
	IgnorableFragments []string `yaml:"ignorable_fragments"`
	EndSentinels       []string `yaml:"end_sentinels"`
}

func DefaultProtocol() Protocol {
	return Protocol{
		MessageEvent:       DefaultMessageEvent,
		ResponseEvent:      DefaultResponseEvent,
		ResponseEndEvent:   DefaultResponseEndEvent,
		IgnorableFragments: []string{DefaultIgnorableFragment},
		EndSentinels:       []string{DefaultEndSentinel},
	}
}

// LoadProtocol reads a YAML protocol file. Fields missing from the file keep
// their defaults; an explicit empty list disables that kind of sentinel.
func LoadProtocol(path string) (Protocol, error) {
	p := DefaultProtocol()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Protocol{}, errors.Wrapf(err, "read protocol file %s", path)
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Protocol{}, errors.Wrapf(err, "parse protocol file %s", path)
	}
	if err := p.Validate(); err != nil {
		return Protocol{}, errors.Wrapf(err, "protocol file %s", path)
	}
	return p, nil
}

func (p Protocol) Validate() error {
	if strings.TrimSpace(p.MessageEvent) == "" {
		return errors.New("message_event is empty")
	}
	if strings.TrimSpace(p.ResponseEvent) == "" {
		return errors.New("response_event is empty")
	}
	if p.ResponseEvent == p.ResponseEndEvent {
		return errors.New("response_event and response_end_event must differ")
	}
	return nil
}

func (p Protocol) isIgnorable(fragment string) bool {
	for _, s := range p.IgnorableFragments {
		if fragment == s {
			return true
		}
	}
	return false
}

func (p Protocol) isEndSentinel(fragment string) bool {
	for _, s := range p.EndSentinels {
		if fragment == s {
			return true
		}
	}
	return false
}

// ParseFragment extracts the text of a response payload. The agent sends
// {"message": "..."}; a bare JSON string is accepted too.
func ParseFragment(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", errors.New("response without payload")
	}
	var body struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Message == nil {
			return "", errors.New("response payload without message field")
		}
		return *body.Message, nil
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s, nil
	}
	return "", errors.Errorf("unsupported response payload %s", string(payload))
}
