// Package configfile implements the optional line-oriented control-
// socket client script (spec §6) and a YAML convenience loader for job
// manifests, used by local development and the core's own test
// fixtures in place of hand-building a tagged tree.
package configfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nullhaven/overseerd/internal/value"
)

// Command is one parsed line of the configuration file: a verb plus its
// positional arguments, split the way a shell would split a command
// line (spec §6: "parsed as command-line invocations of the
// control-socket client").
type Command struct {
	Verb string
	Args []string
}

// Parse reads r line by line, skipping blank lines and lines whose
// first non-space character is '#'.
func Parse(r io.Reader) ([]Command, error) {
	var out []Command
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields, err := splitShellWords(line)
		if err != nil {
			return nil, fmt.Errorf("configfile: line %d: %w", lineNo, err)
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, Command{Verb: fields[0], Args: fields[1:]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// splitShellWords performs a minimal shell-style word split: whitespace
// separates words, and single or double quotes group a word containing
// whitespace. It does not support escapes or variable expansion, which
// the configuration file format never needs beyond quoting a path.
func splitShellWords(line string) ([]string, error) {
	var words []string
	var cur strings.Builder
	var quote rune
	inWord := false

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}

// ToVerbMessage turns a Command into the tagged-tree message the IPC
// dispatcher expects: a single-key mapping from verb to argument. Verbs
// taking no argument (shutdown, reload-ttys, batch-query) get a null
// argument. submit-job is not converted: it returns an error, and the
// caller opens the manifest path itself and loads it with
// LoadManifestYAML.
func (c Command) ToVerbMessage() (value.Value, error) {
	switch c.Verb {
	case "shutdown", "reload-ttys", "batch-query":
		return value.Map(map[string]value.Value{c.Verb: value.Null()}), nil
	case "submit-job":
		if len(c.Args) != 1 {
			return value.Null(), fmt.Errorf("configfile: submit-job requires exactly one manifest path")
		}
		return value.Null(), fmt.Errorf("configfile: submit-job manifest loading is the caller's responsibility (see LoadManifestYAML)")
	case "start-job", "stop-job", "remove-job", "get-job":
		if len(c.Args) != 1 {
			return value.Null(), fmt.Errorf("configfile: %s requires exactly one label argument", c.Verb)
		}
		return value.Map(map[string]value.Value{c.Verb: value.String(c.Args[0])}), nil
	case "batch-control":
		if len(c.Args) != 1 {
			return value.Null(), fmt.Errorf("configfile: batch-control requires a bool argument")
		}
		b, err := strconv.ParseBool(c.Args[0])
		if err != nil {
			return value.Null(), fmt.Errorf("configfile: batch-control: %w", err)
		}
		return value.Map(map[string]value.Value{c.Verb: value.Bool(b)}), nil
	default:
		return value.Null(), fmt.Errorf("configfile: unrecognized verb %q", c.Verb)
	}
}

// LoadManifestYAML reads a job manifest written as a literal YAML
// document and converts it into the tagged tree submit-job expects, the
// convenience path SPEC_FULL.md's ambient stack adds alongside the
// out-of-scope property-list reader.
func LoadManifestYAML(r io.Reader) (value.Value, error) {
	var doc map[string]any
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return value.Null(), fmt.Errorf("configfile: decode yaml manifest: %w", err)
	}
	return fromYAML(doc), nil
}

func fromYAML(v any) value.Value {
	switch t := v.(type) {
	case nil:
		return value.Null()
	case bool:
		return value.Bool(t)
	case int:
		return value.Int(int64(t))
	case int64:
		return value.Int(t)
	case float64:
		if t == float64(int64(t)) {
			return value.Int(int64(t))
		}
		return value.Float(t)
	case string:
		return value.String(t)
	case []any:
		items := make([]value.Value, len(t))
		for i, e := range t {
			items[i] = fromYAML(e)
		}
		return value.Array(items...)
	case map[string]any:
		m := make(map[string]value.Value, len(t))
		for k, e := range t {
			m[k] = fromYAML(e)
		}
		return value.Map(m)
	case map[any]any:
		m := make(map[string]value.Value, len(t))
		for k, e := range t {
			m[fmt.Sprintf("%v", k)] = fromYAML(e)
		}
		return value.Map(m)
	default:
		return value.String(fmt.Sprintf("%v", t))
	}
}
