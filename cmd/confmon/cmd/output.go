package cmd

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	units "github.com/docker/go-units"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shortID = 12

var templateFuncs = template.FuncMap{
	"short": func(id string) string {
		if len(id) > shortID {
			return id[:shortID]
		}
		return id
	},
	"size": func(size uint64) string {
		return units.HumanSize(float64(size))
	},
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return units.HumanDuration(time.Since(t)) + " ago"
	},
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("2006-01-02 15:04:05")
	},
}

// lineTemplate parses the template of an output line, favoring the --template flag
func lineTemplate(name, defaultTemplate string) *template.Template {
	text := defaultTemplate
	if confmonFlags.core.Template != "" {
		text = confmonFlags.core.Template
	}
	t, err := template.New(name).Funcs(templateFuncs).Parse(text)
	if err != nil {
		wrapFatalln("invalid template", err)
		return nil
	}
	return t
}

// printItems writes a list of items in the requested output format
func printItems[T any](items []T, t *template.Template) error {
	switch confmonFlags.root.format {
	case formatYAML:
		out, err := yaml.Marshal(items)
		if err != nil {
			return err
		}
		outLogger.Print(string(out))
	case formatJSON:
		out, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return err
		}
		outLogger.Println(string(out))
	default:
		for _, item := range items {
			var buf bytes.Buffer
			if err := t.Execute(&buf, item); err != nil {
				return fmt.Errorf("executing template: %w", err)
			}
			outLogger.Println(buf.String())
		}
	}
	return nil
}

// printItem writes a single item in the requested output format
func printItem[T any](item T, t *template.Template) error {
	switch confmonFlags.root.format {
	case formatYAML:
		out, err := yaml.Marshal(item)
		if err != nil {
			return err
		}
		outLogger.Print(string(out))
		return nil
	case formatJSON:
		out, err := json.MarshalIndent(item, "", "  ")
		if err != nil {
			return err
		}
		outLogger.Println(string(out))
		return nil
	default:
		return printItems([]T{item}, t)
	}
}
