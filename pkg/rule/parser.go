package rule

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError describes a failure while parsing a rule document.
type ParseError struct {
	// File is the source file, empty for in-memory documents.
	File string

	// Line is the 1-based line number when known, zero otherwise.
	Line int

	// Msg is the parse failure description.
	Msg string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	case e.File != "":
		return fmt.Sprintf("%s: %s", e.File, e.Msg)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	default:
		return e.Msg
	}
}

// Parser reads YAML rule documents. A document holds either a single rule
// or a "rules:" list; multi-document streams are supported.
type Parser struct{}

// NewParser creates a rule parser.
func NewParser() *Parser {
	return &Parser{}
}

// ruleDocument is the YAML envelope for a list-form document.
type ruleDocument struct {
	Rules []Rule `yaml:"rules"`
}

// Parse decodes one or more rules from YAML data.
func (p *Parser) Parse(data []byte) ([]Rule, error) {
	return p.parse(data, "")
}

// ParseFile decodes rules from a YAML file.
func (p *Parser) ParseFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return p.parse(data, path)
}

// ParseDir decodes every *.yaml / *.yml file in dir, sorted by name.
func (p *Parser) ParseDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules directory: %w", err)
	}
	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		parsed, err := p.ParseFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		rules = append(rules, parsed...)
	}
	return rules, nil
}

// ValidateSyntax checks that data is well-formed rule YAML without
// returning the parsed rules.
func (p *Parser) ValidateSyntax(data []byte) error {
	_, err := p.parse(data, "")
	return err
}

// ToYAML serializes a rule back to its document form.
func (p *Parser) ToYAML(r Rule) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("failed to encode rule %s: %w", r.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode rule %s: %w", r.ID, err)
	}
	return buf.Bytes(), nil
}

func (p *Parser) parse(data []byte, file string) ([]Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var rules []Rule
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapYAMLError(err, file)
		}
		parsed, err := decodeDocument(&node)
		if err != nil {
			return nil, wrapYAMLError(err, file)
		}
		rules = append(rules, parsed...)
	}
	if len(rules) == 0 {
		return nil, &ParseError{File: file, Msg: "document contains no rules"}
	}
	return rules, nil
}

// decodeDocument handles both the single-rule and "rules:" list forms.
func decodeDocument(node *yaml.Node) ([]Rule, error) {
	body := node
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		body = node.Content[0]
	}
	if body.Kind != yaml.MappingNode {
		return nil, &ParseError{Line: body.Line, Msg: "rule document must be a mapping"}
	}
	for i := 0; i < len(body.Content); i += 2 {
		if body.Content[i].Value == "rules" {
			var doc ruleDocument
			if err := body.Decode(&doc); err != nil {
				return nil, err
			}
			return doc.Rules, nil
		}
	}
	var r Rule
	if err := body.Decode(&r); err != nil {
		return nil, err
	}
	return []Rule{r}, nil
}

// wrapYAMLError converts yaml.v3 errors into ParseError, extracting line
// information from TypeErrors when available.
func wrapYAMLError(err error, file string) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		if pe.File == "" {
			pe.File = file
		}
		return pe
	}
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return &ParseError{File: file, Msg: strings.Join(typeErr.Errors, "; ")}
	}
	// yaml scanner errors embed "line N:" in the message
	msg := err.Error()
	line := 0
	if idx := strings.Index(msg, "line "); idx >= 0 {
		fmt.Sscanf(msg[idx:], "line %d:", &line)
	}
	return &ParseError{File: file, Line: line, Msg: strings.TrimPrefix(msg, "yaml: ")}
}
