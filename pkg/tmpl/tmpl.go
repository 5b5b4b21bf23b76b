package tmpl

import (
	"bytes"
	"text/template"
)

func Render(name, text string, data interface{}) (string, error) {
	funcs := map[string]interface{}{}
	tpl := template.New(name).Option("missingkey=error").Funcs(funcs)
	tpl, err := tpl.Parse(text)
	if err != nil {
		return "", err
	}
	buf := &bytes.Buffer{}
	if err := tpl.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
