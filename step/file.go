package step

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/xraph/courier/id"
)

// ParseTemplate decodes a TOML template:
//
//	id = "tpl_01h455vb4pex5vsknk084sn02q"
//	name = "welcome"
//
//	[[steps]]
//	type = "sms"
//	content = "Hi {{name}}"
//
//	[[steps]]
//	type = "delay"
//	metadata = { amount = 5, unit = "minutes" }
//
// A template without an id gets a new one.
func ParseTemplate(data []byte) (*Template, error) {
	var tpl Template
	if err := toml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("step: parse template: %w", err)
	}
	if tpl.ID.IsNil() {
		tpl.ID = id.NewTemplateID()
	}
	return &tpl, nil
}

// LoadTemplate reads and decodes a TOML template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("step: read template %s: %w", path, err)
	}
	return ParseTemplate(data)
}
