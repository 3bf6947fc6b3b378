package scenario

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// TextList is a list of strings that also accepts a single string when
// decoded. Model output is inconsistent about which one it emits; anything
// else decodes to an empty list.
type TextList []string

func (l *TextList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = splitSingle(single)
		return nil
	}
	*l = TextList{}
	return nil
}

func (l *TextList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*l = list
	case yaml.ScalarNode:
		*l = splitSingle(value.Value)
	default:
		*l = TextList{}
	}
	return nil
}

// Join renders the list for a prompt, or fallback when empty.
func (l TextList) Join(sep, fallback string) string {
	if len(l) == 0 {
		return fallback
	}
	return strings.Join(l, sep)
}

func splitSingle(s string) TextList {
	s = strings.TrimSpace(s)
	if s == "" {
		return TextList{}
	}
	return TextList{s}
}
